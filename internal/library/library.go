// Package library keeps the finished acquisitions so their links can be replayed until
// they expire.
package library

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/italolelis/debrid_streamer/internal/acquisition"
	"github.com/lithammer/fuzzysearch/fuzzy"
)

// ErrNotFound is returned when no entry exists for an info hash.
var ErrNotFound = errors.New("library entry not found")

// Entry is one finished acquisition.
type Entry struct {
	InfoHash  string                   `json:"infoHash"`
	TorrentID string                   `json:"torrentId"`
	Name      string                   `json:"name"`
	Provider  string                   `json:"provider"`
	Files     []acquisition.ResultFile `json:"files"`
	CreatedAt time.Time                `json:"createdAt"`
}

// Repository persists entries. Saving an info hash again replaces the previous entry.
type Repository interface {
	Save(ctx context.Context, e Entry) error
	Get(ctx context.Context, infoHash string) (Entry, error)
	List(ctx context.Context) ([]Entry, error)
	DeleteBefore(ctx context.Context, t time.Time) (int64, error)
}

// EntryFromResult builds the library entry of a finished acquisition.
func EntryFromResult(res *acquisition.Result, provider string, now time.Time) Entry {
	return Entry{
		InfoHash:  res.InfoHash,
		TorrentID: string(res.TorrentID),
		Name:      res.Name,
		Provider:  provider,
		Files:     slices.Clone(res.Files),
		CreatedAt: now.UTC(),
	}
}

// Filter returns the entries whose name or any file key fuzzy-matches query, best matches
// first. A blank query returns entries unchanged.
func Filter(entries []Entry, query string) []Entry {
	query = strings.TrimSpace(query)
	if query == "" {
		return entries
	}

	type ranked struct {
		entry Entry
		rank  int
	}

	var matches []ranked

	for _, e := range entries {
		if rank, ok := bestRank(query, e); ok {
			matches = append(matches, ranked{entry: e, rank: rank})
		}
	}

	slices.SortStableFunc(matches, func(a, b ranked) int {
		return cmp.Compare(a.rank, b.rank)
	})

	filtered := make([]Entry, len(matches))
	for i, m := range matches {
		filtered[i] = m.entry
	}

	return filtered
}

func bestRank(query string, e Entry) (int, bool) {
	best := fuzzy.RankMatchFold(query, e.Name)

	for _, f := range e.Files {
		r := fuzzy.RankMatchFold(query, f.Key)
		if r >= 0 && (best < 0 || r < best) {
			best = r
		}
	}

	return best, best >= 0
}
