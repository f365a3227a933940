// Package search fans a query out to torrent indexes and merges their releases.
package search

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/italolelis/debrid_streamer/internal/logctx"
	"github.com/italolelis/debrid_streamer/internal/telemetry"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultLimit   = 20
	DefaultTimeout = 30 * time.Second
)

// ErrEmptyQuery is returned for a blank query.
var ErrEmptyQuery = errors.New("search query is required")

// Release is one downloadable candidate found by an index.
type Release struct {
	Title     string `json:"title"`
	Magnet    string `json:"magnet"`
	InfoHash  string `json:"infoHash"`
	Seeds     int    `json:"seeds"`
	Leeches   int    `json:"leeches"`
	Size      string `json:"size"`
	SizeBytes int64  `json:"sizeBytes"`
	Provider  string `json:"provider"`
}

// Provider queries a single torrent index.
type Provider interface {
	Name() string
	Search(ctx context.Context, query string) ([]Release, error)
}

// Aggregator queries every provider concurrently. A failing provider is logged and skipped.
type Aggregator struct {
	providers []Provider
	limit     int
	timeout   time.Duration
	telemetry *telemetry.Telemetry
	inflight  singleflight.Group
}

func NewAggregator(tel *telemetry.Telemetry, limit int, providers ...Provider) *Aggregator {
	if limit <= 0 {
		limit = DefaultLimit
	}

	return &Aggregator{providers: providers, limit: limit, timeout: DefaultTimeout, telemetry: tel}
}

// Search returns at most limit releases ordered by seeds, de-duplicated by info hash.
// Identical concurrent queries share one fan-out.
func (a *Aggregator) Search(ctx context.Context, query string) ([]Release, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}

	ch := a.inflight.DoChan(strings.ToLower(query), func() (any, error) {
		// Detached from the first caller: the callers joining later keep their own deadlines.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
		defer cancel()

		return a.search(ctx, query)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}

		return slices.Clone(res.Val.([]Release)), nil
	}
}

func (a *Aggregator) search(ctx context.Context, query string) ([]Release, error) {
	logger := logctx.LoggerFromContext(ctx)

	perProvider := make([][]Release, len(a.providers))
	errs := make([]error, len(a.providers))

	var g errgroup.Group

	for i, p := range a.providers {
		g.Go(func() error {
			err := a.telemetry.InstrumentSearch(ctx, p.Name(), func(ctx context.Context) error {
				releases, err := p.Search(ctx, query)
				perProvider[i] = releases

				return err
			})
			if err != nil {
				logger.Warn("search provider failed", "provider", p.Name(), "err", err)

				errs[i] = fmt.Errorf("%s: %w", p.Name(), err)
			}

			return nil
		})
	}

	_ = g.Wait()

	if len(a.providers) > 0 && !slices.ContainsFunc(errs, func(err error) bool { return err == nil }) {
		return nil, fmt.Errorf("every search provider failed: %w", errors.Join(errs...))
	}

	merged := merge(perProvider)

	slices.SortStableFunc(merged, func(x, y Release) int {
		return cmp.Compare(y.Seeds, x.Seeds)
	})

	if len(merged) > a.limit {
		merged = merged[:a.limit]
	}

	logger.Debug("search finished", "query", query, "results", len(merged))

	return merged, nil
}

// merge keeps the first release seen for every info hash and drops releases without a magnet.
func merge(perProvider [][]Release) []Release {
	seen := make(map[string]struct{})

	var merged []Release

	for _, releases := range perProvider {
		for _, r := range releases {
			if r.Magnet == "" {
				continue
			}

			key := strings.ToLower(r.InfoHash)
			if key == "" {
				key = r.Magnet
			}

			if _, dup := seen[key]; dup {
				continue
			}

			seen[key] = struct{}{}
			merged = append(merged, r)
		}
	}

	return merged
}
