package rest

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/italolelis/debrid_streamer/internal/acquisition"
	"github.com/italolelis/debrid_streamer/internal/library"
	"github.com/italolelis/debrid_streamer/internal/search"
	"github.com/italolelis/debrid_streamer/internal/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSearcher struct {
	results []search.Release
	err     error
	query   string
}

func (f *fakeSearcher) Search(_ context.Context, query string) ([]search.Release, error) {
	f.query = query

	if query == "" {
		return nil, search.ErrEmptyQuery
	}

	return f.results, f.err
}

func get(t *testing.T, url string, headers map[string]string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	return resp
}

func TestHandleSearch(t *testing.T) {
	searcher := &fakeSearcher{results: []search.Release{
		{Title: "Artist - Album", InfoHash: "abc", Magnet: "magnet:?xt=urn:btih:abc", Seeds: 12, Provider: "apibay"},
	}}

	server := httptest.NewServer(NewRouter(Handlers{Search: NewSearchHandler(searcher)}, nil, []string{"*"}))
	defer server.Close()

	t.Run("results", func(t *testing.T) {
		resp := get(t, server.URL+"/search?q="+url.QueryEscape("artist album"), nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		body := decodeBody(t, resp)
		require.Len(t, body["results"], 1)
		assert.Equal(t, "artist album", searcher.query)
	})

	t.Run("empty query", func(t *testing.T) {
		resp := get(t, server.URL+"/search", nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestHandleSearch_NoResults(t *testing.T) {
	server := httptest.NewServer(NewRouter(Handlers{Search: NewSearchHandler(&fakeSearcher{})}, nil, nil))
	defer server.Close()

	resp := get(t, server.URL+"/search?q=nothing", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []any{}, decodeBody(t, resp)["results"])
}

func TestHandleSearch_AllProvidersDown(t *testing.T) {
	searcher := &fakeSearcher{err: errors.New("all search providers failed")}

	server := httptest.NewServer(NewRouter(Handlers{Search: NewSearchHandler(searcher)}, nil, nil))
	defer server.Close()

	resp := get(t, server.URL+"/search?q=album", nil)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestLibraryHandler(t *testing.T) {
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	repo := newMemoryRepository(
		library.Entry{
			InfoHash: "aaa", Name: "Miles Davis - Kind of Blue", Provider: "realdebrid", CreatedAt: now,
			Files: []acquisition.ResultFile{{Key: "01 So What.flac", URL: "https://dl/1"}},
		},
		library.Entry{InfoHash: "bbb", Name: "Daft Punk - Discovery", Provider: "putio", CreatedAt: now},
	)

	server := httptest.NewServer(NewRouter(Handlers{Library: NewLibraryHandler(repo)}, nil, nil))
	defer server.Close()

	t.Run("list", func(t *testing.T) {
		resp := get(t, server.URL+"/library", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Len(t, decodeBody(t, resp)["entries"], 2)
	})

	t.Run("filter", func(t *testing.T) {
		resp := get(t, server.URL+"/library?q=kind", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		entries := decodeBody(t, resp)["entries"].([]any)
		require.Len(t, entries, 1)
		assert.Equal(t, "aaa", entries[0].(map[string]any)["infoHash"])
	})

	t.Run("filter without match", func(t *testing.T) {
		resp := get(t, server.URL+"/library?q=zzzz", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, []any{}, decodeBody(t, resp)["entries"])
	})

	t.Run("get", func(t *testing.T) {
		resp := get(t, server.URL+"/library/bbb", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "Daft Punk - Discovery", decodeBody(t, resp)["name"])
	})

	t.Run("get unknown", func(t *testing.T) {
		resp := get(t, server.URL+"/library/ccc", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestHandleStream(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Range") == "bytes=0-3" {
			w.Header().Set("Content-Range", "bytes 0-3/10")
			w.Header().Set("Content-Type", "audio/flac")
			w.WriteHeader(http.StatusPartialContent)
			_, _ = w.Write([]byte("fLaC"))

			return
		}

		w.Header().Set("Content-Type", "audio/flac")
		_, _ = w.Write([]byte("fLaC-track"))
	}))
	defer upstream.Close()

	server := httptest.NewServer(NewRouter(Handlers{Stream: NewStreamHandler(
		stream.NewProxy(time.Second, nil, stream.WithAllowedHosts(), stream.WithPrivateNetworks()),
	)}, nil, []string{"*"}))
	defer server.Close()

	t.Run("full body", func(t *testing.T) {
		resp := get(t, server.URL+"/stream?url="+url.QueryEscape(upstream.URL+"/track.flac"), nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		data, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, "fLaC-track", string(data))
		assert.Equal(t, "audio/flac", resp.Header.Get("Content-Type"))
	})

	t.Run("range", func(t *testing.T) {
		resp := get(t, server.URL+"/stream?url="+url.QueryEscape(upstream.URL+"/track.flac"), map[string]string{
			"Range": "bytes=0-3",
		})
		require.Equal(t, http.StatusPartialContent, resp.StatusCode)
		assert.Equal(t, "bytes 0-3/10", resp.Header.Get("Content-Range"))
	})

	t.Run("rejects other schemes", func(t *testing.T) {
		resp := get(t, server.URL+"/stream?url="+url.QueryEscape("file:///etc/passwd"), nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestHandleStream_ForbiddenHosts(t *testing.T) {
	server := httptest.NewServer(NewRouter(Handlers{Stream: NewStreamHandler(stream.NewProxy(time.Second, nil))}, nil, nil))
	defer server.Close()

	for _, target := range []string{
		"http://169.254.169.254/latest/meta-data/",
		"http://127.0.0.1:6379/",
		"https://example.com/track.flac",
	} {
		resp := get(t, server.URL+"/stream?url="+url.QueryEscape(target), nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, target)
		assert.Equal(t, "upstream host is not allowed", decodeBody(t, resp)["error"], target)
	}
}

func TestHandleHealth(t *testing.T) {
	server := httptest.NewServer(NewRouter(Handlers{}, nil, nil))
	defer server.Close()

	resp := get(t, server.URL+"/healthz", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", decodeBody(t, resp)["status"])
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestRouter_MetricsDisabled(t *testing.T) {
	server := httptest.NewServer(NewRouter(Handlers{}, nil, nil))
	defer server.Close()

	resp := get(t, server.URL+"/metrics", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRouter_CORSPreflight(t *testing.T) {
	server := httptest.NewServer(NewRouter(Handlers{Search: NewSearchHandler(&fakeSearcher{})}, nil, []string{"https://player.example"}))
	defer server.Close()

	req, err := http.NewRequest(http.MethodOptions, server.URL+"/search?q=a", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://player.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "https://player.example", resp.Header.Get("Access-Control-Allow-Origin"))
}
