package realdebrid

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/italolelis/debrid_streamer/internal/debrid"
	"github.com/italolelis/debrid_streamer/internal/magnet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

const testKey = "test-api-key"

func newTestClient(serverURL string) *Client {
	return New(testKey, WithBaseURL(serverURL), WithLimiter(rate.NewLimiter(rate.Inf, 1)))
}

func requireAuthorized(t *testing.T, r *http.Request) {
	t.Helper()
	require.Equal(t, "Bearer "+testKey, r.Header.Get("Authorization"))
}

func mustMagnet(t *testing.T, raw string) magnet.Magnet {
	t.Helper()

	m, err := magnet.Parse(raw)
	require.NoError(t, err)

	return m
}

func TestAddMagnet(t *testing.T) {
	const raw = "magnet:?xt=urn:btih:ABC123&dn=Album"

	mux := http.NewServeMux()
	mux.HandleFunc("/torrents/addMagnet", func(w http.ResponseWriter, r *http.Request) {
		requireAuthorized(t, r)
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		require.NoError(t, r.ParseForm())
		require.Equal(t, raw, r.PostForm.Get("magnet"))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"id":"t1","uri":"https://api.real-debrid.com/rest/1.0/torrents/info/t1"}`)
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	handle, err := newTestClient(server.URL).AddMagnet(context.Background(), mustMagnet(t, raw))
	require.NoError(t, err)
	assert.Equal(t, debrid.TorrentHandle("t1"), handle)
}

func TestAddMagnet_Errors(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		body         string
		wantStatus   int
		wantCode     int
		wantMessage  string
		wantAuth     bool
		wantQuota    bool
		wantNotFound bool
	}{
		{
			name:        "bad token",
			status:      http.StatusUnauthorized,
			body:        `{"error":"bad_token","error_code":8}`,
			wantStatus:  401,
			wantCode:    8,
			wantMessage: "bad_token",
			wantAuth:    true,
		},
		{
			name:        "account locked",
			status:      http.StatusForbidden,
			body:        `{"error":"account_locked","error_code":14}`,
			wantStatus:  403,
			wantCode:    14,
			wantMessage: "account_locked",
			wantAuth:    true,
		},
		{
			name:        "too many active downloads",
			status:      http.StatusServiceUnavailable,
			body:        `{"error":"too_many_active_downloads","error_code":21}`,
			wantStatus:  503,
			wantCode:    21,
			wantMessage: "too_many_active_downloads",
			wantQuota:   true,
		},
		{
			name:        "plain text body",
			status:      http.StatusBadGateway,
			body:        "upstream exploded",
			wantStatus:  502,
			wantMessage: "upstream exploded",
		},
		{
			name:        "empty body",
			status:      http.StatusTooManyRequests,
			wantStatus:  429,
			wantMessage: "Too Many Requests",
			wantQuota:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer server.Close()

			_, err := newTestClient(server.URL).AddMagnet(context.Background(), mustMagnet(t, "magnet:?xt=urn:btih:abc"))
			require.Error(t, err)

			var pe *debrid.ProviderError
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, "add_magnet", pe.Operation)
			assert.Equal(t, tt.wantStatus, pe.StatusCode)
			assert.Equal(t, tt.wantCode, pe.Code)
			assert.Equal(t, tt.wantMessage, pe.Message)
			assert.Equal(t, tt.wantAuth, pe.IsAuth())
			assert.Equal(t, tt.wantQuota, pe.IsQuota())
			assert.Equal(t, tt.wantNotFound, pe.IsNotFound())
		})
	}
}

func TestAddMagnet_MissingID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"uri":"x"}`)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).AddMagnet(context.Background(), mustMagnet(t, "magnet:?xt=urn:btih:abc"))

	var pe *debrid.ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Contains(t, pe.Message, "torrent id")
}

func TestSelectFiles(t *testing.T) {
	tests := []struct {
		name      string
		selector  debrid.FileSelector
		wantFiles string
	}{
		{name: "all", selector: debrid.SelectAll(), wantFiles: "all"},
		{name: "subset", selector: debrid.SelectIDs(1, 3, 5), wantFiles: "1,3,5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var called atomic.Int32

			mux := http.NewServeMux()
			mux.HandleFunc("/torrents/selectFiles/t1", func(w http.ResponseWriter, r *http.Request) {
				called.Add(1)
				requireAuthorized(t, r)
				require.Equal(t, http.MethodPost, r.Method)
				require.NoError(t, r.ParseForm())
				require.Equal(t, tt.wantFiles, r.PostForm.Get("files"))

				w.WriteHeader(http.StatusNoContent)
			})

			server := httptest.NewServer(mux)
			defer server.Close()

			err := newTestClient(server.URL).SelectFiles(context.Background(), "t1", tt.selector)
			require.NoError(t, err)
			assert.EqualValues(t, 1, called.Load())
		})
	}
}

func TestSelectFiles_UnknownTorrent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":"unknown_ressource","error_code":7}`)
	}))
	defer server.Close()

	err := newTestClient(server.URL).SelectFiles(context.Background(), "nope", debrid.SelectAll())
	assert.True(t, debrid.IsNotFoundError(err))
}

const downloadedInfo = `{
	"id":"t1","filename":"Album","hash":"abc123","bytes":2048,"progress":100,
	"status":"downloaded",
	"files":[
		{"id":1,"path":"/a/01.flac","bytes":1024,"selected":1},
		{"id":2,"path":"/a/cover.jpg","bytes":10,"selected":0},
		{"id":3,"path":"/a/02.mp3","bytes":1014,"selected":1}
	],
	"links":["https://real-debrid.com/d/r1","https://real-debrid.com/d/r2"]
}`

func TestTorrentInfo(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/torrents/info/t1", func(w http.ResponseWriter, r *http.Request) {
		requireAuthorized(t, r)
		require.Equal(t, http.MethodGet, r.Method)

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, downloadedInfo)
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	snap, err := newTestClient(server.URL).TorrentInfo(context.Background(), "t1")
	require.NoError(t, err)

	assert.Equal(t, debrid.TorrentHandle("t1"), snap.ID)
	assert.Equal(t, "Album", snap.Name)
	assert.Equal(t, debrid.StatusDownloaded, snap.Status)
	assert.Equal(t, "downloaded", snap.RawStatus)
	assert.InDelta(t, 100.0, snap.Progress, 0.001)
	require.Len(t, snap.Files, 3)
	assert.Equal(t, debrid.File{ID: 1, Path: "/a/01.flac", Size: 1024, Selected: true}, snap.Files[0])
	assert.False(t, snap.Files[1].Selected)
	assert.True(t, snap.Ready())
	assert.True(t, snap.Aligned())
}

func TestTorrentInfo_IdempotentRead(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, downloadedInfo)
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	first, err := client.TorrentInfo(context.Background(), "t1")
	require.NoError(t, err)

	second, err := client.TorrentInfo(context.Background(), "t1")
	require.NoError(t, err)

	assert.EqualValues(t, 2, calls.Load())
	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.Progress, second.Progress)
	assert.Equal(t, first.Links, second.Links)
	assert.NotSame(t, first, second)
}

func TestTorrentInfo_NoLinksYet(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"t1","status":"magnet_conversion","progress":0,"files":[]}`)
	}))
	defer server.Close()

	snap, err := newTestClient(server.URL).TorrentInfo(context.Background(), "t1")
	require.NoError(t, err)

	assert.Equal(t, debrid.StatusSubmitted, snap.Status)
	assert.NotNil(t, snap.Links)
	assert.Empty(t, snap.Links)
	assert.False(t, snap.Ready())
}

func TestTorrentInfo_InvalidJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":`)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).TorrentInfo(context.Background(), "t1")

	var pe *debrid.ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "invalid response body", pe.Message)
	assert.Equal(t, http.StatusOK, pe.StatusCode)
}

func TestMapStatus(t *testing.T) {
	tests := map[string]debrid.Status{
		"magnet_error":            debrid.StatusError,
		"magnet_conversion":       debrid.StatusSubmitted,
		"waiting_files_selection": debrid.StatusFilesPending,
		"queued":                  debrid.StatusDownloading,
		"downloading":             debrid.StatusDownloading,
		"downloaded":              debrid.StatusDownloaded,
		"error":                   debrid.StatusError,
		"virus":                   debrid.StatusError,
		"compressing":             debrid.StatusDownloading,
		"uploading":               debrid.StatusDownloading,
		"dead":                    debrid.StatusError,
		"something_new":           debrid.StatusDownloading,
	}

	for raw, want := range tests {
		assert.Equal(t, want, mapStatus(raw), raw)
	}
}

func TestUnrestrictLink(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/unrestrict/link", func(w http.ResponseWriter, r *http.Request) {
		requireAuthorized(t, r)
		require.NoError(t, r.ParseForm())
		require.Equal(t, "https://real-debrid.com/d/r1", r.PostForm.Get("link"))

		fmt.Fprint(w, `{
			"id":"u1","filename":"01.flac","mimeType":"audio/flac","filesize":1024,
			"link":"https://real-debrid.com/d/r1","host":"real-debrid.com",
			"download":"https://dl/1","streamable":1
		}`)
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	link, err := newTestClient(server.URL).UnrestrictLink(context.Background(), "https://real-debrid.com/d/r1")
	require.NoError(t, err)

	assert.Equal(t, &debrid.UnrestrictedLink{
		Download:   "https://dl/1",
		Filename:   "01.flac",
		MimeType:   "audio/flac",
		Size:       1024,
		Streamable: true,
	}, link)
}

func TestUnrestrictLink_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantMsg string
	}{
		{name: "expired link", status: http.StatusServiceUnavailable, body: `{"error":"unavailable_file","error_code":24}`, wantMsg: "unavailable_file"},
		{name: "missing download", status: http.StatusOK, body: `{"filename":"x.flac"}`, wantMsg: "response did not include a download url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer server.Close()

			link, err := newTestClient(server.URL).UnrestrictLink(context.Background(), "r1")
			require.Error(t, err)
			assert.Nil(t, link)

			var pe *debrid.ProviderError
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, "unrestrict_link", pe.Operation)
			assert.Equal(t, tt.wantMsg, pe.Message)
		})
	}
}

func TestTransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	server.Close()

	_, err := newTestClient(server.URL).TorrentInfo(context.Background(), "t1")

	var pe *debrid.ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, 0, pe.StatusCode)
	assert.Equal(t, "torrent_info", pe.Operation)
}

func TestCanceledContext(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := New(testKey, WithBaseURL(server.URL), WithLimiter(rate.NewLimiter(rate.Limit(1), 1)))

	_, err := client.TorrentInfo(ctx, "t1")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls.Load())
}

func TestNewFactory(t *testing.T) {
	var seen []string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	factory := NewFactory(WithBaseURL(server.URL), WithLimiter(rate.NewLimiter(rate.Inf, 1)))

	require.NoError(t, factory("key-a").SelectFiles(context.Background(), "t1", debrid.SelectAll()))
	require.NoError(t, factory("key-b").SelectFiles(context.Background(), "t1", debrid.SelectAll()))

	assert.Equal(t, []string{"Bearer key-a", "Bearer key-b"}, seen)
}
