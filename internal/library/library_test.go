package library

import (
	"testing"
	"time"

	"github.com/italolelis/debrid_streamer/internal/acquisition"
	"github.com/italolelis/debrid_streamer/internal/debrid"
	"github.com/stretchr/testify/assert"
)

func entry(name string, keys ...string) Entry {
	files := make([]acquisition.ResultFile, len(keys))
	for i, k := range keys {
		files[i] = acquisition.ResultFile{Key: k}
	}

	return Entry{InfoHash: name, Name: name, Files: files}
}

func names(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Name
	}

	return out
}

func TestFilter(t *testing.T) {
	entries := []Entry{
		entry("Pink Floyd - The Wall", "01 In The Flesh.flac"),
		entry("Miles Davis - Kind of Blue", "01 So What.flac", "02 Freddie Freeloader.flac"),
		entry("Radiohead - OK Computer", "06 Karma Police.mp3"),
	}

	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{name: "blank query keeps everything", query: " ", want: names(entries)},
		{name: "matches name case-insensitively", query: "pink", want: []string{"Pink Floyd - The Wall"}},
		{name: "matches file key", query: "karma", want: []string{"Radiohead - OK Computer"}},
		{name: "fuzzy subsequence", query: "mdavis", want: []string{"Miles Davis - Kind of Blue"}},
		{name: "no match", query: "zeppelin", want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, names(Filter(entries, tt.query)))
		})
	}
}

func TestFilter_RanksCloserMatchesFirst(t *testing.T) {
	entries := []Entry{
		entry("Blue Train (Remastered Deluxe Edition)"),
		entry("Blue"),
	}

	assert.Equal(t, []string{"Blue", "Blue Train (Remastered Deluxe Edition)"}, names(Filter(entries, "blue")))
}

func TestEntryFromResult(t *testing.T) {
	res := &acquisition.Result{
		TorrentID: debrid.TorrentHandle("t1"),
		Name:      "Album",
		InfoHash:  "abc123",
		Files:     []acquisition.ResultFile{{Key: "01.flac", URL: "https://dl/1"}},
	}

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))

	e := EntryFromResult(res, "realdebrid", now)

	assert.Equal(t, "abc123", e.InfoHash)
	assert.Equal(t, "t1", e.TorrentID)
	assert.Equal(t, "realdebrid", e.Provider)
	assert.Equal(t, time.UTC, e.CreatedAt.Location())
	assert.True(t, now.Equal(e.CreatedAt))

	res.Files[0].Key = "changed"
	assert.Equal(t, "01.flac", e.Files[0].Key)
}
