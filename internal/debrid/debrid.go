// Package debrid holds the data contracts shared by every debrid provider binding.
package debrid

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/italolelis/debrid_streamer/internal/magnet"
)

// TorrentHandle is the provider-assigned id of a remote torrent record.
type TorrentHandle string

// Status is the provider-independent torrent state.
type Status string

const (
	StatusSubmitted    Status = "SUBMITTED"
	StatusFilesPending Status = "FILES_PENDING"
	StatusDownloading  Status = "DOWNLOADING"
	StatusDownloaded   Status = "DOWNLOADED"
	StatusError        Status = "ERROR"
)

// File is one entry of a torrent's file listing.
type File struct {
	ID       int64  `json:"id"`
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	Selected bool   `json:"selected"`
}

// TorrentSnapshot is a point-in-time view of a remote torrent. It is replaced on every poll.
type TorrentSnapshot struct {
	ID        TorrentHandle `json:"id"`
	Name      string        `json:"name"`
	Hash      string        `json:"hash"`
	Status    Status        `json:"status"`
	RawStatus string        `json:"rawStatus"`
	Progress  float64       `json:"progress"`
	Files     []File        `json:"files"`
	Links     []string      `json:"links"`
}

// SelectedFiles returns the selected files in provider order. When the provider reports no
// selection flags at all every file is considered selected.
func (s *TorrentSnapshot) SelectedFiles() []File {
	selected := make([]File, 0, len(s.Files))

	for _, f := range s.Files {
		if f.Selected {
			selected = append(selected, f)
		}
	}

	if len(selected) == 0 {
		return append(selected, s.Files...)
	}

	return selected
}

// Ready reports whether the torrent finished and its restricted links are published.
func (s *TorrentSnapshot) Ready() bool {
	return s.Status == StatusDownloaded && len(s.Links) > 0
}

// Aligned reports whether links[i] can be paired with SelectedFiles()[i].
func (s *TorrentSnapshot) Aligned() bool {
	return len(s.Links) > 0 && len(s.Links) == len(s.SelectedFiles())
}

// UnrestrictedLink is a directly fetchable URL resolved from a restricted one.
type UnrestrictedLink struct {
	Download   string `json:"download"`
	Filename   string `json:"filename"`
	MimeType   string `json:"mimeType,omitempty"`
	Size       int64  `json:"size"`
	Streamable bool   `json:"streamable"`
}

// FileSelector chooses which files of a torrent the provider should fetch.
// The zero value selects every file.
type FileSelector struct {
	ids []int64
}

// SelectAll selects every file.
func SelectAll() FileSelector {
	return FileSelector{}
}

// SelectIDs selects the given provider file ids.
func SelectIDs(ids ...int64) FileSelector {
	cp := make([]int64, len(ids))
	copy(cp, ids)

	return FileSelector{ids: cp}
}

// All reports whether every file is selected.
func (s FileSelector) All() bool {
	return s.ids == nil
}

func (s FileSelector) IDs() []int64 {
	return append([]int64(nil), s.ids...)
}

// Validate rejects an explicit selection that is empty or holds non-positive ids.
func (s FileSelector) Validate() error {
	if s.All() {
		return nil
	}

	if len(s.ids) == 0 {
		return errors.New("file selection must not be empty")
	}

	for _, id := range s.ids {
		if id <= 0 {
			return fmt.Errorf("file id %d must be positive", id)
		}
	}

	return nil
}

// Encode renders the selector in the provider wire form: "all" or "1,3,5".
func (s FileSelector) Encode() string {
	if s.All() {
		return "all"
	}

	parts := make([]string, len(s.ids))
	for i, id := range s.ids {
		parts[i] = strconv.FormatInt(id, 10)
	}

	return strings.Join(parts, ",")
}

func (s FileSelector) String() string {
	return s.Encode()
}

// Client is a thin authenticated binding to a debrid provider. Each method performs one
// provider call and holds no retry or polling logic.
type Client interface {
	AddMagnet(ctx context.Context, m magnet.Magnet) (TorrentHandle, error)
	SelectFiles(ctx context.Context, handle TorrentHandle, selector FileSelector) error
	TorrentInfo(ctx context.Context, handle TorrentHandle) (*TorrentSnapshot, error)
	UnrestrictLink(ctx context.Context, restricted string) (*UnrestrictedLink, error)
}

// ClientFactory builds a client bound to a caller-supplied API key.
type ClientFactory func(apiKey string) Client
