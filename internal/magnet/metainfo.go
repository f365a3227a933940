package magnet

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"

	"github.com/zeebo/bencode"
)

// MaxMetainfoSize bounds accepted .torrent payloads.
const MaxMetainfoSize = 10 * 1024 * 1024

type metainfo struct {
	Announce     string             `bencode:"announce"`
	AnnounceList [][]string         `bencode:"announce-list"`
	Info         bencode.RawMessage `bencode:"info"`
}

type metainfoInfo struct {
	Name string `bencode:"name"`
}

// FromMetainfo converts .torrent file bytes into a magnet. The info hash is the
// SHA-1 of the raw bencoded info dictionary.
func FromMetainfo(data []byte) (Magnet, error) {
	if len(data) == 0 {
		return Magnet{}, &ParseError{Input: "metainfo", Reason: "torrent file is empty"}
	}

	if len(data) > MaxMetainfoSize {
		return Magnet{}, &ParseError{
			Input:  "metainfo",
			Reason: fmt.Sprintf("torrent file size %d bytes exceeds maximum %d bytes", len(data), MaxMetainfoSize),
		}
	}

	var mi metainfo
	if err := bencode.DecodeBytes(data, &mi); err != nil {
		return Magnet{}, &ParseError{Input: "metainfo", Reason: "invalid bencode structure", Err: err}
	}

	if len(mi.Info) == 0 {
		return Magnet{}, &ParseError{Input: "metainfo", Reason: "bencode missing required 'info' dictionary"}
	}

	var info metainfoInfo
	if err := bencode.DecodeBytes(mi.Info, &info); err != nil {
		return Magnet{}, &ParseError{Input: "metainfo", Reason: "info must be a dictionary", Err: err}
	}

	sum := sha1.Sum(mi.Info)

	trackers := make([]string, 0, 1+len(mi.AnnounceList))
	seen := make(map[string]struct{})

	add := func(tr string) {
		if _, ok := seen[tr]; ok || tr == "" {
			return
		}

		seen[tr] = struct{}{}
		trackers = append(trackers, tr)
	}

	add(mi.Announce)

	for _, tier := range mi.AnnounceList {
		for _, tr := range tier {
			add(tr)
		}
	}

	return New(hex.EncodeToString(sum[:]), info.Name, trackers...)
}
