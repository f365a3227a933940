package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/debrid_streamer/internal/magnet"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	DefaultApibayURL = "https://apibay.org"

	// apibayAudioCategory is the Pirate Bay "Audio" top-level category.
	apibayAudioCategory = "100"
	apibayNoResults     = "No results returned"
)

// Apibay searches The Pirate Bay JSON API.
type Apibay struct {
	baseURL    string
	httpClient *http.Client
}

func NewApibay(baseURL string, timeout time.Duration) *Apibay {
	if baseURL == "" {
		baseURL = DefaultApibayURL
	}

	return &Apibay{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (a *Apibay) Name() string {
	return "apibay"
}

// apibayRow mirrors q.php rows; every value is sent as a string.
type apibayRow struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	InfoHash string `json:"info_hash"`
	Leechers string `json:"leechers"`
	Seeders  string `json:"seeders"`
	Size     string `json:"size"`
}

func (a *Apibay) Search(ctx context.Context, query string) ([]Release, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("cat", apibayAudioCategory)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/q.php?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to query apibay: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("apibay returned status %d", resp.StatusCode)
	}

	var rows []apibayRow
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("failed to decode apibay response: %w", err)
	}

	releases := make([]Release, 0, len(rows))

	for _, row := range rows {
		if r, ok := row.release(); ok {
			releases = append(releases, r)
		}
	}

	return releases, nil
}

func (row apibayRow) release() (Release, bool) {
	if row.ID == "0" || row.Name == apibayNoResults || row.InfoHash == "" {
		return Release{}, false
	}

	seeds, _ := strconv.Atoi(row.Seeders)
	if seeds <= 0 {
		return Release{}, false
	}

	m, err := magnet.New(row.InfoHash, row.Name)
	if err != nil {
		return Release{}, false
	}

	leeches, _ := strconv.Atoi(row.Leechers)
	size, _ := strconv.ParseInt(row.Size, 10, 64)

	return Release{
		Title:     row.Name,
		Magnet:    m.String(),
		InfoHash:  m.InfoHash(),
		Seeds:     seeds,
		Leeches:   leeches,
		Size:      humanize.IBytes(uint64(max(size, 0))),
		SizeBytes: size,
		Provider:  "apibay",
	}, true
}
