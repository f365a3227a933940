package search

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApibay_Search(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/q.php", r.URL.Path)
		assert.Equal(t, "miles davis", r.URL.Query().Get("q"))
		assert.Equal(t, "100", r.URL.Query().Get("cat"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"id":"1","name":"Miles Davis - Kind of Blue [FLAC]","info_hash":"AAAABBBBCCCCDDDDEEEEFFFF0000111122223333","leechers":"3","seeders":"120","size":"1073741824"},
			{"id":"2","name":"Miles Davis - Dead","info_hash":"1111111111111111111111111111111111111111","leechers":"0","seeders":"0","size":"100"},
			{"id":"3","name":"Miles Davis - Bitches Brew","info_hash":"2222222222222222222222222222222222222222","leechers":"1","seeders":"7","size":"524288000"}
		]`))
	}))
	defer server.Close()

	releases, err := NewApibay(server.URL, time.Second).Search(context.Background(), "miles davis")
	require.NoError(t, err)

	require.Len(t, releases, 2)

	first := releases[0]
	assert.Equal(t, "Miles Davis - Kind of Blue [FLAC]", first.Title)
	assert.Equal(t, "aaaabbbbccccddddeeeeffff0000111122223333", first.InfoHash)
	assert.Equal(t, 120, first.Seeds)
	assert.Equal(t, 3, first.Leeches)
	assert.Equal(t, int64(1073741824), first.SizeBytes)
	assert.Equal(t, "1.0 GiB", first.Size)
	assert.Equal(t, "apibay", first.Provider)
	assert.Contains(t, first.Magnet, "xt=urn:btih:AAAABBBBCCCCDDDDEEEEFFFF0000111122223333")
	assert.Contains(t, first.Magnet, "dn=Miles+Davis")

	assert.Equal(t, "Miles Davis - Bitches Brew", releases[1].Title)
}

func TestApibay_NoResults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"id":"0","name":"No results returned","info_hash":"0000000000000000000000000000000000000000","leechers":"0","seeders":"0","size":"0"}]`))
	}))
	defer server.Close()

	releases, err := NewApibay(server.URL, time.Second).Search(context.Background(), "nothing")
	require.NoError(t, err)
	assert.Empty(t, releases)
}

func TestApibay_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{name: "upstream failure", status: http.StatusBadGateway, body: "bad gateway", wantErr: "status 502"},
		{name: "invalid json", status: http.StatusOK, body: "<html>", wantErr: "decode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := NewApibay(server.URL, time.Second).Search(context.Background(), "q")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
