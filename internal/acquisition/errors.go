package acquisition

import (
	"context"
	"errors"
	"fmt"

	"github.com/italolelis/debrid_streamer/internal/debrid"
)

// InputError rejects a request before any provider call is made.
type InputError struct {
	Field  string
	Reason string
	Err    error
}

func (e *InputError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid %s: %s: %v", e.Field, e.Reason, e.Err)
	}

	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *InputError) Unwrap() error {
	return e.Err
}

// MissingCredentials reports whether the request carried no API key.
func (e *InputError) MissingCredentials() bool {
	return e.Field == FieldAPIKey
}

// Request fields named by InputError.
const (
	FieldAPIKey   = "api_key"
	FieldMagnet   = "magnet"
	FieldMetainfo = "metainfo"
	FieldFiles    = "files"
)

// AcquisitionTimeout is returned when polling used its whole attempt budget without the
// torrent becoming ready. The provider reported no hard error.
type AcquisitionTimeout struct {
	TorrentID     debrid.TorrentHandle
	Attempts      int
	LastStatus    debrid.Status
	LastRawStatus string
	LastProgress  float64
}

func (e *AcquisitionTimeout) Error() string {
	return fmt.Sprintf("torrent %s not ready after %d attempts (status %s, progress %.0f%%)",
		e.TorrentID, e.Attempts, e.LastStatus, e.LastProgress)
}

// NoLinksAvailable is returned when the torrent finished but every unrestrict call failed.
type NoLinksAvailable struct {
	TorrentID debrid.TorrentHandle
	Attempted int
}

func (e *NoLinksAvailable) Error() string {
	return fmt.Sprintf("none of the %d links of torrent %s could be unrestricted", e.Attempted, e.TorrentID)
}

// Outcome labels err for metrics and notifications.
func Outcome(err error) string {
	var (
		inputErr    *InputError
		timeoutErr  *AcquisitionTimeout
		noLinksErr  *NoLinksAvailable
		providerErr *debrid.ProviderError
	)

	switch {
	case err == nil:
		return "success"
	case errors.As(err, &inputErr):
		return "invalid_input"
	case errors.As(err, &timeoutErr):
		return "timeout"
	case errors.As(err, &noLinksErr):
		return "no_links"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.As(err, &providerErr):
		switch {
		case providerErr.IsAuth():
			return "provider_auth"
		case providerErr.IsQuota():
			return "provider_quota"
		case providerErr.IsNotFound():
			return "provider_not_found"
		default:
			return "provider_error"
		}
	default:
		return "error"
	}
}
