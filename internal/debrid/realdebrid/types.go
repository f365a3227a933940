package realdebrid

import "github.com/italolelis/debrid_streamer/internal/debrid"

// Torrent status strings as reported by /torrents/info.
const (
	statusMagnetError           = "magnet_error"
	statusMagnetConversion      = "magnet_conversion"
	statusWaitingFilesSelection = "waiting_files_selection"
	statusQueued                = "queued"
	statusDownloading           = "downloading"
	statusDownloaded            = "downloaded"
	statusError                 = "error"
	statusVirus                 = "virus"
	statusCompressing           = "compressing"
	statusUploading             = "uploading"
	statusDead                  = "dead"
)

type addMagnetResponse struct {
	ID  string `json:"id"`
	URI string `json:"uri"`
}

type torrentFile struct {
	ID       int64  `json:"id"`
	Path     string `json:"path"`
	Bytes    int64  `json:"bytes"`
	Selected int    `json:"selected"`
}

type torrentInfo struct {
	ID       string        `json:"id"`
	Filename string        `json:"filename"`
	Hash     string        `json:"hash"`
	Bytes    int64         `json:"bytes"`
	Progress float64       `json:"progress"`
	Status   string        `json:"status"`
	Files    []torrentFile `json:"files"`
	Links    []string      `json:"links"`
}

type unrestrictResponse struct {
	ID         string `json:"id"`
	Filename   string `json:"filename"`
	MimeType   string `json:"mimeType"`
	Filesize   int64  `json:"filesize"`
	Link       string `json:"link"`
	Host       string `json:"host"`
	Download   string `json:"download"`
	Streamable int    `json:"streamable"`
}

type errorResponse struct {
	Error     string `json:"error"`
	ErrorCode int    `json:"error_code"`
}

// mapStatus converts a Real-Debrid status string to the provider-independent status.
func mapStatus(raw string) debrid.Status {
	switch raw {
	case statusMagnetConversion:
		return debrid.StatusSubmitted
	case statusWaitingFilesSelection:
		return debrid.StatusFilesPending
	case statusQueued, statusDownloading, statusCompressing, statusUploading:
		return debrid.StatusDownloading
	case statusDownloaded:
		return debrid.StatusDownloaded
	case statusMagnetError, statusError, statusVirus, statusDead:
		return debrid.StatusError
	default:
		// Unknown statuses are treated as still in flight; the poll budget bounds them.
		return debrid.StatusDownloading
	}
}

func (t *torrentInfo) toSnapshot() *debrid.TorrentSnapshot {
	files := make([]debrid.File, len(t.Files))
	for i, f := range t.Files {
		files[i] = debrid.File{
			ID:       f.ID,
			Path:     f.Path,
			Size:     f.Bytes,
			Selected: f.Selected == 1,
		}
	}

	links := t.Links
	if links == nil {
		links = []string{}
	}

	return &debrid.TorrentSnapshot{
		ID:        debrid.TorrentHandle(t.ID),
		Name:      t.Filename,
		Hash:      t.Hash,
		Status:    mapStatus(t.Status),
		RawStatus: t.Status,
		Progress:  t.Progress,
		Files:     files,
		Links:     links,
	}
}
