// Package putio adapts the put.io cloud seedbox to debrid.Client.
package putio

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/italolelis/debrid_streamer/internal/debrid"
	"github.com/italolelis/debrid_streamer/internal/logctx"
	"github.com/italolelis/debrid_streamer/internal/magnet"
	"github.com/putdotio/go-putio"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
)

// linkPrefix marks restricted links minted by this adapter; put.io has no link concept of its own.
const linkPrefix = "putio:file/"

type Client struct {
	putioClient *putio.Client
}

// New creates a client authenticating with an OAuth token. A nil baseURL keeps the library default.
func New(token string, baseURL *url.URL) *Client {
	tokenSource := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	oauthClient := &http.Client{
		Transport: &oauth2.Transport{Source: tokenSource, Base: otelhttp.NewTransport(http.DefaultTransport)},
	}

	pc := putio.NewClient(oauthClient)
	if baseURL != nil {
		pc.BaseURL = baseURL
	}

	return &Client{putioClient: pc}
}

// NewFactory returns a debrid.ClientFactory for put.io. An empty baseURL keeps the library default.
func NewFactory(baseURL string) (debrid.ClientFactory, error) {
	var u *url.URL

	if baseURL != "" {
		var err error

		u, err = url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid put.io base url: %w", err)
		}
	}

	return func(token string) debrid.Client {
		return New(token, u)
	}, nil
}

// AddMagnet creates a put.io transfer in the account root.
func (c *Client) AddMagnet(ctx context.Context, m magnet.Magnet) (debrid.TorrentHandle, error) {
	logger := logctx.LoggerFromContext(ctx)

	t, err := c.putioClient.Transfers.Add(ctx, m.String(), 0, "")
	if err != nil {
		return "", translateError("add_magnet", err)
	}

	logger.DebugContext(ctx, "transfer added to put.io", "transfer_id", t.ID, "info_hash", m.InfoHash())

	return debrid.TorrentHandle(strconv.FormatInt(t.ID, 10)), nil
}

// SelectFiles only validates the handle: put.io always fetches the whole torrent.
func (c *Client) SelectFiles(ctx context.Context, handle debrid.TorrentHandle, selector debrid.FileSelector) error {
	if _, err := parseHandle(handle); err != nil {
		return err
	}

	return nil
}

// TorrentInfo reads the transfer and, once it completed, lists its files. Every file gets a
// restricted link so the snapshot keeps links aligned with files.
func (c *Client) TorrentInfo(ctx context.Context, handle debrid.TorrentHandle) (*debrid.TorrentSnapshot, error) {
	id, err := parseHandle(handle)
	if err != nil {
		return nil, err
	}

	t, err := c.putioClient.Transfers.Get(ctx, id)
	if err != nil {
		return nil, translateError("torrent_info", err)
	}

	snap := &debrid.TorrentSnapshot{
		ID:        handle,
		Name:      t.Name,
		Status:    mapStatus(t.Status),
		RawStatus: t.Status,
		Progress:  float64(t.PercentDone),
		Files:     []debrid.File{},
		Links:     []string{},
	}

	if snap.Status != debrid.StatusDownloaded || t.FileID == 0 {
		return snap, nil
	}

	files, err := c.getFilesRecursively(ctx, t.FileID, "")
	if err != nil {
		return nil, translateError("torrent_info", err)
	}

	for _, f := range files {
		f.Selected = true
		snap.Files = append(snap.Files, f)
		snap.Links = append(snap.Links, linkPrefix+strconv.FormatInt(f.ID, 10))
	}

	return snap, nil
}

// UnrestrictLink resolves a link minted by TorrentInfo into a put.io download URL.
func (c *Client) UnrestrictLink(ctx context.Context, restricted string) (*debrid.UnrestrictedLink, error) {
	if !strings.HasPrefix(restricted, linkPrefix) {
		return nil, &debrid.ProviderError{Operation: "unrestrict_link", StatusCode: http.StatusBadRequest, Message: "not a put.io link: " + restricted}
	}

	id, err := strconv.ParseInt(strings.TrimPrefix(restricted, linkPrefix), 10, 64)
	if err != nil {
		return nil, &debrid.ProviderError{Operation: "unrestrict_link", StatusCode: http.StatusBadRequest, Message: "invalid put.io file id", Err: err}
	}

	file, err := c.putioClient.Files.Get(ctx, id)
	if err != nil {
		return nil, translateError("unrestrict_link", err)
	}

	download, err := c.putioClient.Files.URL(ctx, id, false)
	if err != nil {
		return nil, translateError("unrestrict_link", err)
	}

	return &debrid.UnrestrictedLink{
		Download:   download,
		Filename:   file.Name,
		MimeType:   file.ContentType,
		Size:       file.Size,
		Streamable: strings.HasPrefix(file.ContentType, "audio/") || strings.HasPrefix(file.ContentType, "video/"),
	}, nil
}

func (c *Client) getFilesRecursively(ctx context.Context, parentID int64, basePath string) ([]debrid.File, error) {
	logger := logctx.LoggerFromContext(ctx).With("parent_id", parentID, "base_path", basePath)

	file, err := c.putioClient.Files.Get(ctx, parentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get file: %w", err)
	}

	if !file.IsDir() {
		return []debrid.File{{ID: file.ID, Path: path.Join("/", basePath, file.Name), Size: file.Size}}, nil
	}

	children, _, err := c.putioClient.Files.List(ctx, parentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}

	dir := path.Join(basePath, file.Name)

	var result []debrid.File

	for _, f := range children {
		if f.IsDir() {
			nested, err := c.getFilesRecursively(ctx, f.ID, dir)
			if err != nil {
				logger.ErrorContext(ctx, "failed to get nested files", "err", err)

				continue
			}

			result = append(result, nested...)

			continue
		}

		result = append(result, debrid.File{ID: f.ID, Path: path.Join("/", dir, f.Name), Size: f.Size})
	}

	return result, nil
}

func parseHandle(handle debrid.TorrentHandle) (int64, error) {
	id, err := strconv.ParseInt(string(handle), 10, 64)
	if err != nil || id <= 0 {
		return 0, &debrid.ProviderError{
			Operation:  "torrent_info",
			StatusCode: http.StatusNotFound,
			Message:    fmt.Sprintf("unknown put.io transfer %q", handle),
			Err:        err,
		}
	}

	return id, nil
}

func translateError(operation string, err error) error {
	pe := &debrid.ProviderError{Operation: operation, Message: err.Error(), Err: err}

	var apiErr *putio.ErrorResponse
	if errors.As(err, &apiErr) {
		if apiErr.Response != nil {
			pe.StatusCode = apiErr.Response.StatusCode
		}

		if apiErr.Message != "" {
			pe.Message = apiErr.Message
		}
	}

	return pe
}

func mapStatus(raw string) debrid.Status {
	switch strings.ToUpper(raw) {
	case "IN_QUEUE", "WAITING", "PREPARING_DOWNLOAD":
		return debrid.StatusSubmitted
	case "DOWNLOADING", "COMPLETING":
		return debrid.StatusDownloading
	case "COMPLETED", "SEEDING", "SEEDINGWAIT", "FINISHED":
		return debrid.StatusDownloaded
	case "ERROR":
		return debrid.StatusError
	default:
		return debrid.StatusDownloading
	}
}
