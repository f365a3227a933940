// Package magnet parses and builds BitTorrent magnet URIs.
package magnet

import (
	"fmt"
	"net/url"
	"strings"
)

const (
	scheme     = "magnet:?"
	btihPrefix = "urn:btih:"
)

// ParseError reports why an input is not a usable magnet URI.
type ParseError struct {
	Input  string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid magnet link: %s", e.Reason)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Magnet is an immutable, validated magnet URI. It always carries a BitTorrent v1 info hash.
type Magnet struct {
	raw         string
	infoHash    string
	displayName string
	trackers    []string
}

// Parse validates raw and extracts the info hash, display name and trackers.
func Parse(raw string) (Magnet, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Magnet{}, &ParseError{Input: raw, Reason: "magnet link is empty"}
	}

	if len(raw) < len(scheme) || !strings.EqualFold(raw[:len(scheme)], scheme) {
		return Magnet{}, &ParseError{Input: raw, Reason: "must start with magnet:?"}
	}

	params, err := url.ParseQuery(raw[len(scheme):])
	if err != nil {
		return Magnet{}, &ParseError{Input: raw, Reason: "malformed query parameters", Err: err}
	}

	m := Magnet{raw: raw, displayName: params.Get("dn"), trackers: params["tr"]}

	for key, values := range params {
		// xt may be numbered (xt.1, xt.2) when a magnet lists several topics.
		if key != "xt" && !strings.HasPrefix(key, "xt.") {
			continue
		}

		for _, v := range values {
			if len(v) <= len(btihPrefix) || !strings.EqualFold(v[:len(btihPrefix)], btihPrefix) {
				continue
			}

			hash := v[len(btihPrefix):]
			if !isAlphanumeric(hash) {
				return Magnet{}, &ParseError{Input: raw, Reason: fmt.Sprintf("info hash %q contains invalid characters", hash)}
			}

			m.infoHash = strings.ToLower(hash)
		}
	}

	if m.infoHash == "" {
		return Magnet{}, &ParseError{Input: raw, Reason: "missing xt=urn:btih info hash"}
	}

	return m, nil
}

// New builds a magnet URI from an info hash, an optional display name and trackers.
func New(infoHash, displayName string, trackers ...string) (Magnet, error) {
	var b strings.Builder

	b.WriteString(scheme)
	b.WriteString("xt=")
	b.WriteString(btihPrefix)
	b.WriteString(infoHash)

	if displayName != "" {
		b.WriteString("&dn=")
		b.WriteString(url.QueryEscape(displayName))
	}

	for _, tr := range trackers {
		b.WriteString("&tr=")
		b.WriteString(url.QueryEscape(tr))
	}

	return Parse(b.String())
}

func (m Magnet) String() string {
	return m.raw
}

// InfoHash returns the lower-cased btih value.
func (m Magnet) InfoHash() string {
	return m.infoHash
}

func (m Magnet) DisplayName() string {
	return m.displayName
}

func (m Magnet) Trackers() []string {
	return append([]string(nil), m.trackers...)
}

// IsZero reports whether m was never successfully parsed.
func (m Magnet) IsZero() bool {
	return m.raw == ""
}

func isAlphanumeric(s string) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		default:
			return false
		}
	}

	return s != ""
}
