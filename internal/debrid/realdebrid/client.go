// Package realdebrid binds the Real-Debrid REST API to debrid.Client.
package realdebrid

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/italolelis/debrid_streamer/internal/debrid"
	"github.com/italolelis/debrid_streamer/internal/logctx"
	"github.com/italolelis/debrid_streamer/internal/magnet"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "https://api.real-debrid.com/rest/1.0"

	defaultTimeout        = 15 * time.Second
	defaultRequestsPerMin = 250
	defaultBurst          = 5
	maxErrorBodySize      = 64 * 1024
)

// Client talks to Real-Debrid on behalf of one API key. It is safe for concurrent use.
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	limiter    *rate.Limiter
}

type options struct {
	baseURL   string
	timeout   time.Duration
	limiter   *rate.Limiter
	transport http.RoundTripper
	userAgent string
}

// Option configures a Client.
type Option func(*options)

// WithBaseURL points the client at another API root, e.g. a test server.
func WithBaseURL(u string) Option {
	return func(o *options) { o.baseURL = strings.TrimRight(u, "/") }
}

func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithLimiter shares a limiter between clients. Real-Debrid limits per account and per IP,
// so every client of one process should share the same limiter.
func WithLimiter(l *rate.Limiter) Option {
	return func(o *options) { o.limiter = l }
}

func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) { o.transport = rt }
}

func WithUserAgent(ua string) Option {
	return func(o *options) { o.userAgent = ua }
}

// NewLimiter returns a limiter allowing perMinute requests with the given burst.
func NewLimiter(perMinute, burst int) *rate.Limiter {
	if perMinute <= 0 {
		perMinute = defaultRequestsPerMin
	}

	if burst <= 0 {
		burst = defaultBurst
	}

	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), burst)
}

// New creates a client that authenticates every call with apiKey as a bearer token.
// The key is neither stored elsewhere nor validated; a bad key surfaces as a 401 ProviderError.
func New(apiKey string, opts ...Option) *Client {
	o := options{
		baseURL:   DefaultBaseURL,
		timeout:   defaultTimeout,
		transport: http.DefaultTransport,
		userAgent: "debrid_streamer",
	}

	for _, opt := range opts {
		opt(&o)
	}

	if o.limiter == nil {
		o.limiter = NewLimiter(defaultRequestsPerMin, defaultBurst)
	}

	return &Client{
		baseURL:   o.baseURL,
		userAgent: o.userAgent,
		limiter:   o.limiter,
		httpClient: &http.Client{
			Timeout: o.timeout,
			Transport: &oauth2.Transport{
				Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: apiKey, TokenType: "Bearer"}),
				Base:   otelhttp.NewTransport(o.transport),
			},
		},
	}
}

// NewFactory returns a debrid.ClientFactory building Real-Debrid clients with opts.
func NewFactory(opts ...Option) debrid.ClientFactory {
	return func(apiKey string) debrid.Client {
		return New(apiKey, opts...)
	}
}

// AddMagnet submits a magnet and returns the new torrent id.
func (c *Client) AddMagnet(ctx context.Context, m magnet.Magnet) (debrid.TorrentHandle, error) {
	form := url.Values{}
	form.Set("magnet", m.String())

	var resp addMagnetResponse
	if err := c.do(ctx, "add_magnet", http.MethodPost, "/torrents/addMagnet", form, &resp); err != nil {
		return "", err
	}

	if resp.ID == "" {
		return "", &debrid.ProviderError{Operation: "add_magnet", Message: "response did not include a torrent id"}
	}

	logctx.LoggerFromContext(ctx).DebugContext(ctx, "magnet added", "torrent_id", resp.ID, "info_hash", m.InfoHash())

	return debrid.TorrentHandle(resp.ID), nil
}

// SelectFiles tells Real-Debrid which files to fetch.
func (c *Client) SelectFiles(ctx context.Context, handle debrid.TorrentHandle, selector debrid.FileSelector) error {
	form := url.Values{}
	form.Set("files", selector.Encode())

	return c.do(ctx, "select_files", http.MethodPost, "/torrents/selectFiles/"+url.PathEscape(string(handle)), form, nil)
}

// TorrentInfo reads the current torrent state. It has no side effects.
func (c *Client) TorrentInfo(ctx context.Context, handle debrid.TorrentHandle) (*debrid.TorrentSnapshot, error) {
	var info torrentInfo
	if err := c.do(ctx, "torrent_info", http.MethodGet, "/torrents/info/"+url.PathEscape(string(handle)), nil, &info); err != nil {
		return nil, err
	}

	return info.toSnapshot(), nil
}

// UnrestrictLink resolves a hoster link into a direct download URL.
func (c *Client) UnrestrictLink(ctx context.Context, restricted string) (*debrid.UnrestrictedLink, error) {
	form := url.Values{}
	form.Set("link", restricted)

	var resp unrestrictResponse
	if err := c.do(ctx, "unrestrict_link", http.MethodPost, "/unrestrict/link", form, &resp); err != nil {
		return nil, err
	}

	if resp.Download == "" {
		return nil, &debrid.ProviderError{Operation: "unrestrict_link", Message: "response did not include a download url"}
	}

	return &debrid.UnrestrictedLink{
		Download:   resp.Download,
		Filename:   resp.Filename,
		MimeType:   resp.MimeType,
		Size:       resp.Filesize,
		Streamable: resp.Streamable == 1,
	}, nil
}

// do performs one call. A nil form sends no body; a nil out discards the response body.
func (c *Client) do(ctx context.Context, operation, method, path string, form url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &debrid.ProviderError{Operation: operation, Message: "rate limiter: " + err.Error(), Err: err}
	}

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", operation, err)
	}

	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &debrid.ProviderError{Operation: operation, Message: transportMessage(err), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(operation, resp)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)

		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &debrid.ProviderError{
			Operation:  operation,
			StatusCode: resp.StatusCode,
			Message:    "invalid response body",
			Err:        err,
		}
	}

	return nil
}

func decodeError(operation string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))

	pe := &debrid.ProviderError{
		Operation:  operation,
		StatusCode: resp.StatusCode,
		Message:    strings.TrimSpace(string(raw)),
	}

	var er errorResponse
	if err := json.Unmarshal(raw, &er); err == nil && er.Error != "" {
		pe.Message = er.Error
		pe.Code = er.ErrorCode
	}

	if pe.Message == "" {
		pe.Message = http.StatusText(resp.StatusCode)
	}

	return pe
}

func transportMessage(err error) string {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Err.Error()
	}

	return err.Error()
}
