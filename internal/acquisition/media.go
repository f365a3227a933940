package acquisition

import (
	"path"
	"strconv"
	"strings"
)

var (
	audioExtensions = map[string]struct{}{
		".mp3": {}, ".flac": {}, ".wav": {}, ".m4a": {}, ".aac": {},
		".ogg": {}, ".opus": {}, ".wma": {}, ".alac": {},
	}
	archiveExtensions = map[string]struct{}{
		".rar": {}, ".zip": {},
	}
)

// IsAudio reports whether name carries a known audio extension.
func IsAudio(name string) bool {
	_, ok := audioExtensions[strings.ToLower(path.Ext(name))]

	return ok
}

// IsArchive reports whether name is a rar or zip archive.
func IsArchive(name string) bool {
	_, ok := archiveExtensions[strings.ToLower(path.Ext(name))]

	return ok
}

// fileKey derives the result key of the file at index: its basename, else the
// provider filename, else a synthetic track-<index>.
func fileKey(filePath, providerName string, index int) string {
	if base := basename(filePath); base != "" {
		return base
	}

	if base := basename(providerName); base != "" {
		return base
	}

	return "track-" + strconv.Itoa(index)
}

func basename(p string) string {
	p = strings.TrimRight(strings.ReplaceAll(p, "\\", "/"), "/")
	if p == "" {
		return ""
	}

	return path.Base(p)
}

// disambiguate appends -<index> before the extension of a key already taken.
// uniqueKey returns key, or a suffixed variant of it when taken reports it is in use.
func uniqueKey(key string, index int, taken func(string) bool) string {
	if !taken(key) {
		return key
	}

	candidate := disambiguate(key, index)
	for n := 2; taken(candidate); n++ {
		candidate = disambiguate(disambiguate(key, index), n)
	}

	return candidate
}

func disambiguate(key string, index int) string {
	ext := path.Ext(key)

	return strings.TrimSuffix(key, ext) + "-" + strconv.Itoa(index) + ext
}
