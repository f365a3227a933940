package rest

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/italolelis/debrid_streamer/internal/acquisition"
	"github.com/italolelis/debrid_streamer/internal/debrid"
	"github.com/italolelis/debrid_streamer/internal/library"
	"github.com/italolelis/debrid_streamer/internal/logctx"
	"github.com/italolelis/debrid_streamer/internal/magnet"
	"github.com/italolelis/debrid_streamer/internal/notifier"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	maxRequestBody = magnet.MaxMetainfoSize*4/3 + 64*1024 // base64 metainfo plus envelope
	wsWriteTimeout = 5 * time.Second
)

// fileSelection decodes "all" or a list of file ids.
type fileSelection struct {
	debrid.FileSelector
}

func (s *fileSelection) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)

	if bytes.Equal(data, []byte("null")) {
		s.FileSelector = debrid.SelectAll()

		return nil
	}

	var word string
	if err := json.Unmarshal(data, &word); err == nil {
		if !strings.EqualFold(word, "all") {
			return fmt.Errorf("files must be \"all\" or a list of ids, got %q", word)
		}

		s.FileSelector = debrid.SelectAll()

		return nil
	}

	var ids []int64
	if err := json.Unmarshal(data, &ids); err != nil {
		return fmt.Errorf("files must be \"all\" or a list of ids: %w", err)
	}

	s.FileSelector = debrid.SelectIDs(ids...)

	return nil
}

// parseFileSelection reads the query-string form: "all", "" or "1,3,5".
func parseFileSelection(raw string) (debrid.FileSelector, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, "all") {
		return debrid.SelectAll(), nil
	}

	parts := strings.Split(raw, ",")
	ids := make([]int64, 0, len(parts))

	for _, p := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return debrid.FileSelector{}, &acquisition.InputError{Field: acquisition.FieldFiles, Reason: "invalid file id", Err: err}
		}

		ids = append(ids, id)
	}

	return debrid.SelectIDs(ids...), nil
}

type acquireRequest struct {
	Magnet   string        `json:"magnet" validate:"required_without=Metainfo,excluded_with=Metainfo"`
	Metainfo string        `json:"metainfo" validate:"omitempty,base64"`
	Files    fileSelection `json:"files"`
	Provider string        `json:"provider" validate:"omitempty,oneof=realdebrid putio"`
}

type acquireResponse struct {
	TorrentID  debrid.TorrentHandle     `json:"torrentId"`
	Name       string                   `json:"name"`
	InfoHash   string                   `json:"infoHash"`
	StreamURLs map[string]string        `json:"streamUrls"`
	Files      []acquisition.ResultFile `json:"files"`
	Failed     int                      `json:"failed"`
}

func newAcquireResponse(res *acquisition.Result) acquireResponse {
	return acquireResponse{
		TorrentID:  res.TorrentID,
		Name:       res.Name,
		InfoHash:   res.InfoHash,
		StreamURLs: res.StreamURLs(),
		Files:      res.Files,
		Failed:     res.Failed,
	}
}

type inspectResponse struct {
	TorrentID debrid.TorrentHandle `json:"torrentId"`
	Name      string               `json:"name"`
	InfoHash  string               `json:"infoHash"`
	Status    debrid.Status        `json:"status"`
	Progress  float64              `json:"progress"`
	Files     []debrid.File        `json:"files"`
	Links     []string             `json:"links"`
}

// Acquirer runs acquisitions; *acquisition.Orchestrator implements it.
type Acquirer interface {
	Acquire(ctx context.Context, req acquisition.Request) (*acquisition.Result, error)
	Inspect(ctx context.Context, req acquisition.Request) (*debrid.TorrentSnapshot, error)
}

type AcquireHandler struct {
	acquirers       map[string]Acquirer
	defaultProvider string
	repo            library.Repository
	notifier        notifier.Notifier
	validate        *validator.Validate
	allowedOrigins  []string
}

// NewAcquireHandler creates the acquisition endpoints. repo and notif may be nil.
func NewAcquireHandler(
	acquirers map[string]Acquirer,
	defaultProvider string,
	repo library.Repository,
	notif notifier.Notifier,
	allowedOrigins []string,
) *AcquireHandler {
	return &AcquireHandler{
		acquirers:       acquirers,
		defaultProvider: defaultProvider,
		repo:            repo,
		notifier:        notif,
		validate:        validator.New(),
		allowedOrigins:  allowedOrigins,
	}
}

func (h *AcquireHandler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Post("/", h.HandleAcquire)
	r.Post("/inspect", h.HandleInspect)
	r.Get("/ws", h.HandleWebSocket)

	return r
}

// HandleAcquire runs a whole acquisition and answers with the stream URLs.
func (h *AcquireHandler) HandleAcquire(w http.ResponseWriter, r *http.Request) {
	provider, req, err := h.decodeRequest(w, r)
	if err != nil {
		writeError(w, r, err)

		return
	}

	res, err := h.acquire(r.Context(), provider, req)
	if err != nil {
		writeError(w, r, err)

		return
	}

	writeJSON(w, r, http.StatusOK, newAcquireResponse(res))
}

// HandleInspect submits the magnet and answers with the file listing, without selecting.
func (h *AcquireHandler) HandleInspect(w http.ResponseWriter, r *http.Request) {
	provider, req, err := h.decodeRequest(w, r)
	if err != nil {
		writeError(w, r, err)

		return
	}

	acq, err := h.acquirer(provider)
	if err != nil {
		writeError(w, r, err)

		return
	}

	snapshot, err := acq.Inspect(r.Context(), req)
	if err != nil {
		writeError(w, r, err)

		return
	}

	writeJSON(w, r, http.StatusOK, inspectResponse{
		TorrentID: snapshot.ID,
		Name:      snapshot.Name,
		InfoHash:  snapshot.Hash,
		Status:    snapshot.Status,
		Progress:  snapshot.Progress,
		Files:     snapshot.Files,
		Links:     snapshot.Links,
	})
}

// HandleWebSocket streams acquisition events. Browsers cannot set headers on websockets, so
// the key may also come from the token query parameter.
func (h *AcquireHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())
	q := r.URL.Query()

	selector, err := parseFileSelection(q.Get("files"))
	if err != nil {
		writeError(w, r, err)

		return
	}

	apiKey := apiKeyFromRequest(r)
	if apiKey == "" {
		apiKey = q.Get("token")
	}

	req := acquisition.Request{Magnet: q.Get("magnet"), APIKey: apiKey, Selector: selector}

	provider := q.Get("provider")

	acq, err := h.acquirer(provider)
	if err != nil {
		writeError(w, r, err)

		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.originPatterns()})
	if err != nil {
		logger.Error("failed to accept websocket", "err", err)

		return
	}
	defer conn.Close(websocket.StatusInternalError, "closing")

	// CloseRead cancels ctx once the client goes away.
	ctx := conn.CloseRead(r.Context())

	send := func(v any) error {
		ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
		defer cancel()

		return wsjson.Write(ctx, conn, v)
	}

	req.Observer = func(e acquisition.Event) {
		if err := send(e); err != nil {
			logger.Debug("failed to send acquisition event", "err", err)
		}
	}

	res, err := h.runAcquisition(ctx, acq, h.providerName(provider), req)
	if err != nil {
		status, msg := FormatError(err)
		_ = send(map[string]any{"error": msg, "status": status})
		conn.Close(websocket.StatusNormalClosure, "acquisition failed")

		return
	}

	if err := send(map[string]any{"result": newAcquireResponse(res)}); err != nil {
		logger.Debug("failed to send acquisition result", "err", err)
	}

	conn.Close(websocket.StatusNormalClosure, "done")
}

func (h *AcquireHandler) decodeRequest(w http.ResponseWriter, r *http.Request) (string, acquisition.Request, error) {
	var body acquireRequest

	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&body); err != nil {
		return "", acquisition.Request{}, &acquisition.InputError{Field: "body", Reason: "invalid JSON", Err: err}
	}

	if err := h.validate.Struct(body); err != nil {
		return "", acquisition.Request{}, err
	}

	req := acquisition.Request{
		Magnet:   body.Magnet,
		APIKey:   apiKeyFromRequest(r),
		Selector: body.Files.FileSelector,
	}

	if body.Metainfo != "" {
		data, err := base64.StdEncoding.DecodeString(body.Metainfo)
		if err != nil {
			return "", acquisition.Request{}, &acquisition.InputError{
				Field: acquisition.FieldMetainfo, Reason: "invalid base64 encoding", Err: err,
			}
		}

		req.Metainfo = data
	}

	return body.Provider, req, nil
}

func (h *AcquireHandler) acquirer(provider string) (Acquirer, error) {
	name := h.providerName(provider)

	acq, ok := h.acquirers[name]
	if !ok {
		return nil, &acquisition.InputError{Field: "provider", Reason: fmt.Sprintf("provider %q is not configured", name)}
	}

	return acq, nil
}

func (h *AcquireHandler) providerName(provider string) string {
	if provider == "" {
		return h.defaultProvider
	}

	return provider
}

func (h *AcquireHandler) acquire(ctx context.Context, provider string, req acquisition.Request) (*acquisition.Result, error) {
	acq, err := h.acquirer(provider)
	if err != nil {
		return nil, err
	}

	return h.runAcquisition(ctx, acq, h.providerName(provider), req)
}

// runAcquisition acquires, then records the outcome in the library and the notifier.
func (h *AcquireHandler) runAcquisition(
	ctx context.Context, acq Acquirer, provider string, req acquisition.Request,
) (*acquisition.Result, error) {
	logger := logctx.LoggerFromContext(ctx).With("provider", provider)

	res, err := acq.Acquire(logctx.WithLogger(ctx, logger), req)

	var inputErr *acquisition.InputError
	if errors.As(err, &inputErr) {
		return nil, err
	}

	// Outlive the request so a disconnecting client does not drop the bookkeeping.
	bg := context.WithoutCancel(ctx)

	if err != nil {
		h.notify(bg, notifier.AcquisitionFailed(displayName(req), err))

		return nil, err
	}

	if h.repo != nil {
		if saveErr := h.repo.Save(bg, library.EntryFromResult(res, provider, time.Now())); saveErr != nil {
			logger.Error("failed to save library entry", "info_hash", res.InfoHash, "err", saveErr)
		}
	}

	h.notify(bg, notifier.AcquisitionFinished(res))

	return res, nil
}

func (h *AcquireHandler) notify(ctx context.Context, content string) {
	if h.notifier == nil {
		return
	}

	go func() {
		if err := h.notifier.Notify(ctx, content); err != nil {
			logctx.LoggerFromContext(ctx).Error("failed to send notification", "err", err)
		}
	}()
}

func (h *AcquireHandler) originPatterns() []string {
	var patterns []string

	for _, o := range h.allowedOrigins {
		// websocket matches hosts, not full origins.
		o = strings.TrimPrefix(strings.TrimPrefix(o, "https://"), "http://")
		patterns = append(patterns, o)
	}

	return patterns
}

func displayName(req acquisition.Request) string {
	if m, err := magnet.Parse(req.Magnet); err == nil {
		if m.DisplayName() != "" {
			return m.DisplayName()
		}

		return m.InfoHash()
	}

	return "torrent"
}
