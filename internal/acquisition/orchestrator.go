// Package acquisition drives a debrid provider from a magnet link to a set of directly
// fetchable file URLs.
package acquisition

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/italolelis/debrid_streamer/internal/debrid"
	"github.com/italolelis/debrid_streamer/internal/logctx"
	"github.com/italolelis/debrid_streamer/internal/magnet"
	"github.com/italolelis/debrid_streamer/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// State is a step of the acquisition state machine.
type State string

const (
	StateSubmitted     State = State(debrid.StatusSubmitted)
	StateFilesPending  State = State(debrid.StatusFilesPending)
	StateDownloading   State = State(debrid.StatusDownloading)
	StateDownloaded    State = State(debrid.StatusDownloaded)
	StateError         State = State(debrid.StatusError)
	StateUnrestricting State = "UNRESTRICTING"
	StateDone          State = "DONE"
	StateFailed        State = "FAILED"
)

// Event reports one transition or poll of an acquisition.
type Event struct {
	State     State                   `json:"state"`
	TorrentID debrid.TorrentHandle    `json:"torrentId,omitempty"`
	Attempt   int                     `json:"attempt,omitempty"`
	Snapshot  *debrid.TorrentSnapshot `json:"snapshot,omitempty"`
	Error     string                  `json:"error,omitempty"`
}

// Observer receives acquisition events synchronously, in order.
type Observer func(Event)

func (o Observer) emit(e Event) {
	if o != nil {
		o(e)
	}
}

// Request is a single acquisition. Exactly one of Magnet or Metainfo must be set.
type Request struct {
	Magnet   string
	Metainfo []byte
	APIKey   string
	Selector debrid.FileSelector
	Observer Observer
}

func (r Request) validate() (magnet.Magnet, error) {
	if strings.TrimSpace(r.APIKey) == "" {
		return magnet.Magnet{}, &InputError{Field: FieldAPIKey, Reason: "missing debrid API key"}
	}

	if err := r.Selector.Validate(); err != nil {
		return magnet.Magnet{}, &InputError{Field: FieldFiles, Reason: "invalid file selection", Err: err}
	}

	switch {
	case r.Magnet != "" && len(r.Metainfo) > 0:
		return magnet.Magnet{}, &InputError{Field: FieldMagnet, Reason: "magnet and metainfo are mutually exclusive"}
	case len(r.Metainfo) > 0:
		m, err := magnet.FromMetainfo(r.Metainfo)
		if err != nil {
			return magnet.Magnet{}, &InputError{Field: FieldMetainfo, Reason: "invalid torrent file", Err: err}
		}

		return m, nil
	case strings.TrimSpace(r.Magnet) == "":
		return magnet.Magnet{}, &InputError{Field: FieldMagnet, Reason: "missing magnet link"}
	default:
		m, err := magnet.Parse(r.Magnet)
		if err != nil {
			return magnet.Magnet{}, &InputError{Field: FieldMagnet, Reason: "invalid magnet link", Err: err}
		}

		return m, nil
	}
}

// ResultFile is one unrestricted file of a finished acquisition.
type ResultFile struct {
	Key        string `json:"key"`
	Path       string `json:"path"`
	Size       int64  `json:"size"`
	URL        string `json:"url"`
	MimeType   string `json:"mimeType,omitempty"`
	IsAudio    bool   `json:"isAudio"`
	IsArchive  bool   `json:"isArchive"`
	Streamable bool   `json:"streamable"`
}

// Result maps file basenames to their unrestricted links. Files holds the same entries in
// provider order. Failed counts links that could not be unrestricted.
type Result struct {
	TorrentID debrid.TorrentHandle               `json:"torrentId"`
	Name      string                             `json:"name"`
	InfoHash  string                             `json:"infoHash"`
	Links     map[string]debrid.UnrestrictedLink `json:"links"`
	Files     []ResultFile                       `json:"files"`
	Failed    int                                `json:"failed"`
}

// StreamURLs returns the key to download URL mapping.
func (r *Result) StreamURLs() map[string]string {
	urls := make(map[string]string, len(r.Links))
	for k, l := range r.Links {
		urls[k] = l.Download
	}

	return urls
}

// Config bounds the polling and unrestricting phases.
type Config struct {
	PollInterval          time.Duration
	MaxAttempts           int
	MaxParallelUnrestrict int
}

func DefaultConfig() Config {
	return Config{
		PollInterval:          2 * time.Second,
		MaxAttempts:           20,
		MaxParallelUnrestrict: 8,
	}
}

// Orchestrator runs acquisitions. It keeps no state between calls and is safe for
// concurrent use.
type Orchestrator struct {
	factory   debrid.ClientFactory
	cfg       Config
	telemetry *telemetry.Telemetry
}

// NewOrchestrator builds an orchestrator. Zero config fields take their defaults.
func NewOrchestrator(factory debrid.ClientFactory, cfg Config, tel *telemetry.Telemetry) *Orchestrator {
	def := DefaultConfig()

	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}

	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}

	if cfg.MaxParallelUnrestrict <= 0 {
		cfg.MaxParallelUnrestrict = def.MaxParallelUnrestrict
	}

	return &Orchestrator{factory: factory, cfg: cfg, telemetry: tel}
}

// Acquire submits the magnet, selects files, waits for the provider to finish and
// unrestricts every resulting link.
func (o *Orchestrator) Acquire(ctx context.Context, req Request) (*Result, error) {
	m, err := req.validate()
	if err != nil {
		o.telemetry.RecordAcquisition(ctx, Outcome(err), 0)

		return nil, err
	}

	start := time.Now()

	o.telemetry.IncrementActiveAcquisitions(ctx)
	defer o.telemetry.DecrementActiveAcquisitions(ctx)

	var result *Result

	err = o.telemetry.InstrumentOperation(ctx, "acquire", "orchestrator", func(ctx context.Context) error {
		var err error
		result, err = o.acquire(ctx, m, req)

		return err
	}, attribute.Bool("select_all", req.Selector.All()))

	o.telemetry.RecordAcquisition(ctx, Outcome(err), time.Since(start))

	if err != nil {
		req.Observer.emit(Event{State: StateFailed, Error: err.Error()})

		return nil, err
	}

	return result, nil
}

func (o *Orchestrator) acquire(ctx context.Context, m magnet.Magnet, req Request) (*Result, error) {
	logger := logctx.LoggerFromContext(ctx).With("info_hash", m.InfoHash())
	ctx = logctx.WithLogger(ctx, logger)
	client := o.factory(req.APIKey)

	logger.Info("adding magnet", "name", m.DisplayName())

	handle, err := client.AddMagnet(ctx, m)
	if err != nil {
		return nil, fmt.Errorf("adding magnet: %w", err)
	}

	logger = logger.With("torrent_id", handle)
	ctx = logctx.WithLogger(ctx, logger)

	req.Observer.emit(Event{State: StateSubmitted, TorrentID: handle})

	logger.Info("selecting files", "files", req.Selector.Encode())

	if err := client.SelectFiles(ctx, handle, req.Selector); err != nil {
		return nil, fmt.Errorf("selecting files: %w", err)
	}

	snapshot, err := o.poll(ctx, client, handle, (*debrid.TorrentSnapshot).Ready, req.Observer)
	if err != nil {
		return nil, err
	}

	req.Observer.emit(Event{State: StateUnrestricting, TorrentID: handle, Snapshot: snapshot})

	result := o.unrestrict(ctx, client, snapshot)
	result.InfoHash = m.InfoHash()

	if result.Name == "" {
		result.Name = m.DisplayName()
	}

	if len(result.Links) == 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		return nil, &NoLinksAvailable{TorrentID: handle, Attempted: len(snapshot.Links)}
	}

	logger.Info("acquisition finished", "files", len(result.Links), "failed", result.Failed)

	req.Observer.emit(Event{State: StateDone, TorrentID: handle, Snapshot: snapshot})

	return result, nil
}

// Inspect submits the magnet and waits until the provider lists the torrent files, without
// selecting or unrestricting anything.
func (o *Orchestrator) Inspect(ctx context.Context, req Request) (*debrid.TorrentSnapshot, error) {
	m, err := req.validate()
	if err != nil {
		return nil, err
	}

	var snapshot *debrid.TorrentSnapshot

	err = o.telemetry.InstrumentOperation(ctx, "inspect", "orchestrator", func(ctx context.Context) error {
		logger := logctx.LoggerFromContext(ctx).With("info_hash", m.InfoHash())
		ctx = logctx.WithLogger(ctx, logger)
		client := o.factory(req.APIKey)

		handle, err := client.AddMagnet(ctx, m)
		if err != nil {
			return fmt.Errorf("adding magnet: %w", err)
		}

		req.Observer.emit(Event{State: StateSubmitted, TorrentID: handle})

		snapshot, err = o.poll(ctx, client, handle, filesListed, req.Observer)

		return err
	})
	if err != nil {
		req.Observer.emit(Event{State: StateFailed, Error: err.Error()})

		return nil, err
	}

	return snapshot, nil
}

func filesListed(s *debrid.TorrentSnapshot) bool {
	return (s.Status == debrid.StatusFilesPending && len(s.Files) > 0) || s.Status == debrid.StatusDownloaded
}

// poll fetches the torrent at most MaxAttempts times, waiting PollInterval between
// attempts, until done accepts a snapshot.
func (o *Orchestrator) poll(
	ctx context.Context,
	client debrid.Client,
	handle debrid.TorrentHandle,
	done func(*debrid.TorrentSnapshot) bool,
	observer Observer,
) (*debrid.TorrentSnapshot, error) {
	logger := logctx.LoggerFromContext(ctx)

	var last *debrid.TorrentSnapshot

	for attempt := 1; attempt <= o.cfg.MaxAttempts; attempt++ {
		snapshot, err := client.TorrentInfo(ctx, handle)
		if err != nil {
			o.telemetry.RecordPollAttempts(ctx, attempt, "error")

			return nil, fmt.Errorf("polling torrent: %w", err)
		}

		last = snapshot

		logger.Debug("polled torrent",
			"attempt", attempt,
			"max_attempts", o.cfg.MaxAttempts,
			"status", snapshot.Status,
			"raw_status", snapshot.RawStatus,
			"progress", snapshot.Progress,
			"links", len(snapshot.Links),
		)

		observer.emit(Event{State: State(snapshot.Status), TorrentID: handle, Attempt: attempt, Snapshot: snapshot})

		if snapshot.Status == debrid.StatusError {
			o.telemetry.RecordPollAttempts(ctx, attempt, "error")

			return nil, &debrid.ProviderError{
				Operation: "torrent_status",
				Message:   fmt.Sprintf("provider reported torrent status %q", snapshot.RawStatus),
			}
		}

		if done(snapshot) {
			o.telemetry.RecordPollAttempts(ctx, attempt, "success")

			return snapshot, nil
		}

		if attempt == o.cfg.MaxAttempts {
			break
		}

		if err := wait(ctx, o.cfg.PollInterval); err != nil {
			o.telemetry.RecordPollAttempts(ctx, attempt, "canceled")

			return nil, err
		}
	}

	o.telemetry.RecordPollAttempts(ctx, o.cfg.MaxAttempts, "timeout")

	timeout := &AcquisitionTimeout{TorrentID: handle, Attempts: o.cfg.MaxAttempts}
	if last != nil {
		timeout.LastStatus = last.Status
		timeout.LastRawStatus = last.RawStatus
		timeout.LastProgress = last.Progress
	}

	logger.Warn("torrent not ready in time", "attempts", timeout.Attempts, "status", timeout.LastStatus)

	return nil, timeout
}

func wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// unrestrict resolves every link of the snapshot concurrently. A failing link is logged and
// counted; it never stops the others.
func (o *Orchestrator) unrestrict(ctx context.Context, client debrid.Client, snapshot *debrid.TorrentSnapshot) *Result {
	logger := logctx.LoggerFromContext(ctx)
	files := snapshot.SelectedFiles()

	if !snapshot.Aligned() {
		logger.Warn("links do not match selected files", "links", len(snapshot.Links), "files", len(files))
	}

	resolved := make([]*debrid.UnrestrictedLink, len(snapshot.Links))

	g := new(errgroup.Group)
	g.SetLimit(o.cfg.MaxParallelUnrestrict)

	for i, restricted := range snapshot.Links {
		g.Go(func() error {
			link, err := client.UnrestrictLink(ctx, restricted)
			if err == nil && link.Download == "" {
				err = errors.New("empty download url")
			}

			if err != nil {
				logger.Warn("failed to unrestrict link", "index", i, "err", err)
				o.telemetry.RecordUnrestrict(ctx, "error")

				return nil
			}

			o.telemetry.RecordUnrestrict(ctx, "success")
			resolved[i] = link

			return nil
		})
	}

	_ = g.Wait()

	result := &Result{
		TorrentID: snapshot.ID,
		Name:      snapshot.Name,
		Links:     make(map[string]debrid.UnrestrictedLink, len(resolved)),
		Files:     make([]ResultFile, 0, len(resolved)),
	}

	for i, link := range resolved {
		if link == nil {
			result.Failed++

			continue
		}

		var file debrid.File
		if i < len(files) {
			file = files[i]
		}

		key := uniqueKey(fileKey(file.Path, link.Filename, i), i, func(k string) bool {
			_, taken := result.Links[k]

			return taken
		})

		size := file.Size
		if size == 0 {
			size = link.Size
		}

		result.Links[key] = *link
		result.Files = append(result.Files, ResultFile{
			Key:        key,
			Path:       file.Path,
			Size:       size,
			URL:        link.Download,
			MimeType:   link.MimeType,
			IsAudio:    IsAudio(key),
			IsArchive:  IsArchive(key),
			Streamable: link.Streamable,
		})
	}

	return result
}
