// Package stream relays unrestricted download URLs to browsers that cannot fetch them
// directly because of CORS.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/debrid_streamer/internal/logctx"
	"github.com/italolelis/debrid_streamer/internal/stream/progress"
	"github.com/italolelis/debrid_streamer/internal/telemetry"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const progressInterval = int64(100 * 1024 * 1024) // 100MB

// ErrInvalidURL rejects anything but absolute http(s) URLs.
var ErrInvalidURL = errors.New("url must be an absolute http or https URL")

// relayedHeaders are copied from the upstream response.
var relayedHeaders = []string{
	"Content-Type",
	"Content-Length",
	"Content-Disposition",
	"Accept-Ranges",
	"Content-Range",
	"Last-Modified",
	"ETag",
}

// UpstreamError is returned when the upstream server answers with a non-2xx status.
type UpstreamError struct {
	StatusCode int
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream responded with status %d", e.StatusCode)
}

// Proxy fetches remote files on behalf of a client.
type Proxy struct {
	httpClient   *http.Client
	telemetry    *telemetry.Telemetry
	allowedHosts []string
	allowPrivate bool
}

// NewProxy creates a proxy. headerTimeout bounds the wait for upstream headers; the body
// itself is not time-limited. Upstreams are limited to DefaultAllowedHosts on public
// addresses unless opts say otherwise.
func NewProxy(headerTimeout time.Duration, tel *telemetry.Telemetry, opts ...Option) *Proxy {
	p := &Proxy{
		telemetry:    tel,
		allowedHosts: slices.Clone(DefaultAllowedHosts),
	}

	for _, opt := range opts {
		opt(p)
	}

	dialer := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second, Control: p.dialControl}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = headerTimeout
	transport.DialContext = dialer.DialContext

	p.httpClient = &http.Client{
		Transport: otelhttp.NewTransport(transport),
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return errors.New("stopped after 10 redirects")
			}

			return p.checkURL(req.URL)
		},
	}

	return p
}

// Open validates rawURL and requests it, forwarding rangeHeader when set. The caller must
// close the returned body.
func (p *Proxy) Open(ctx context.Context, rawURL, rangeHeader string) (*http.Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, ErrInvalidURL
	}

	if err := p.checkURL(u); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch upstream: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()

		return nil, &UpstreamError{StatusCode: resp.StatusCode}
	}

	return resp, nil
}

// Relay writes the upstream headers, status and body to w and returns the bytes copied.
func (p *Proxy) Relay(ctx context.Context, w http.ResponseWriter, resp *http.Response) (int64, error) {
	logger := logctx.LoggerFromContext(ctx)

	for _, h := range relayedHeaders {
		if v := resp.Header.Get(h); v != "" {
			w.Header().Set(h, v)
		}
	}

	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/octet-stream")
	}

	w.WriteHeader(resp.StatusCode)

	host := resp.Request.URL.Host

	pr := progress.NewReader(resp.Body, resp.ContentLength, progressInterval, func(read, total int64) {
		if total > 0 {
			logger.Debug("stream progress",
				"host", host,
				"streamed", humanize.Bytes(uint64(read)),
				"total", humanize.Bytes(uint64(total)),
				"percent", humanize.FtoaWithDigits(float64(read)*100/float64(total), 2))
		} else {
			logger.Debug("stream progress", "host", host, "streamed", humanize.Bytes(uint64(read)))
		}
	})

	n, err := io.Copy(w, pr)

	p.telemetry.RecordStreamBytes(ctx, n)

	if err != nil {
		return n, fmt.Errorf("failed to relay body: %w", err)
	}

	logger.Debug("stream finished", "host", host, "streamed", humanize.Bytes(uint64(n)))

	return n, nil
}
