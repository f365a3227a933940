package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/italolelis/debrid_streamer/internal/acquisition"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscordNotifier_Notify(t *testing.T) {
	var got map[string]string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	err := NewDiscordNotifier(server.URL).Notify(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"content": "hello"}, got)
}

func TestDiscordNotifier_Errors(t *testing.T) {
	t.Run("missing webhook", func(t *testing.T) {
		err := (&DiscordNotifier{}).Notify(context.Background(), "hello")
		assert.EqualError(t, err, "webhook URL is not set")
	})

	t.Run("non-2xx", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer server.Close()

		err := NewDiscordNotifier(server.URL).Notify(context.Background(), "hello")
		assert.EqualError(t, err, "webhook failed with status 429")
	})
}

func TestAcquisitionMessages(t *testing.T) {
	res := &acquisition.Result{
		Name: "Artist - Album",
		Files: []acquisition.ResultFile{
			{Key: "01.flac", Size: 1 << 20},
			{Key: "02.flac", Size: 1 << 20},
		},
		Failed: 1,
	}

	assert.Equal(t, "✅ Acquisition finished: Artist - Album (2 files, 2.0 MiB), 1 links failed", AcquisitionFinished(res))

	msg := AcquisitionFailed("Artist - Album", &acquisition.AcquisitionTimeout{TorrentID: "t1", Attempts: 20})
	assert.Contains(t, msg, "❌ Acquisition failed for Artist - Album (timeout)")
}
