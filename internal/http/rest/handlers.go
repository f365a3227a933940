package rest

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/debrid_streamer/internal/library"
	"github.com/italolelis/debrid_streamer/internal/logctx"
	"github.com/italolelis/debrid_streamer/internal/search"
	"github.com/italolelis/debrid_streamer/internal/stream"
)

// Searcher finds releases; *search.Aggregator implements it.
type Searcher interface {
	Search(ctx context.Context, query string) ([]search.Release, error)
}

type SearchHandler struct {
	searcher Searcher
}

func NewSearchHandler(s Searcher) *SearchHandler {
	return &SearchHandler{searcher: s}
}

// HandleSearch answers GET /search?q=.
func (h *SearchHandler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	results, err := h.searcher.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		writeError(w, r, err)

		return
	}

	if results == nil {
		results = []search.Release{}
	}

	writeJSON(w, r, http.StatusOK, map[string]any{"results": results})
}

type LibraryHandler struct {
	repo library.Repository
}

func NewLibraryHandler(repo library.Repository) *LibraryHandler {
	return &LibraryHandler{repo: repo}
}

func (h *LibraryHandler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/", h.HandleList)
	r.Get("/{infoHash}", h.HandleGet)

	return r
}

// HandleList answers GET /library?q= with the entries matching q.
func (h *LibraryHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	entries, err := h.repo.List(r.Context())
	if err != nil {
		writeError(w, r, err)

		return
	}

	entries = library.Filter(entries, r.URL.Query().Get("q"))
	if entries == nil {
		entries = []library.Entry{}
	}

	writeJSON(w, r, http.StatusOK, map[string]any{"entries": entries})
}

func (h *LibraryHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	entry, err := h.repo.Get(r.Context(), chi.URLParam(r, "infoHash"))
	if err != nil {
		writeError(w, r, err)

		return
	}

	writeJSON(w, r, http.StatusOK, entry)
}

type StreamHandler struct {
	proxy *stream.Proxy
}

func NewStreamHandler(p *stream.Proxy) *StreamHandler {
	return &StreamHandler{proxy: p}
}

// HandleStream relays GET /stream?url= so the browser player can bypass CORS.
func (h *StreamHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	resp, err := h.proxy.Open(r.Context(), r.URL.Query().Get("url"), r.Header.Get("Range"))
	if err != nil {
		writeError(w, r, err)

		return
	}
	defer resp.Body.Close()

	// A track outlasts the server write timeout.
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
		logger.Debug("failed to clear write deadline", "err", err)
	}

	// Headers are already sent once Relay starts, so failures can only be logged.
	if _, err := h.proxy.Relay(r.Context(), w, resp); err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("stream interrupted", "err", err)
	}
}

// HandleHealth reports liveness.
func HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}
