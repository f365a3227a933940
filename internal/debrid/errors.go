package debrid

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
)

// Real-Debrid error_code values grouped by what the caller has to do about them.
var (
	authErrorCodes     = []int{8, 9, 10, 11, 12, 13, 14, 15, 22}
	quotaErrorCodes    = []int{5, 18, 21, 23, 34, 36}
	notFoundErrorCodes = []int{7}
)

// ProviderError is returned for any non-2xx provider response, for transport failures
// (StatusCode 0) and for a provider-reported torrent error status.
type ProviderError struct {
	Operation  string // add_magnet, select_files, torrent_info, unrestrict_link, torrent_status
	StatusCode int    // HTTP status code, 0 for non-HTTP errors
	Code       int    // provider specific error code, 0 if absent
	Message    string // provider message or body
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("debrid provider error during %s (HTTP %d): %s", e.Operation, e.StatusCode, e.Message)
	}

	return fmt.Sprintf("debrid provider error during %s: %s", e.Operation, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsAuth reports a rejected or insufficient API key.
func (e *ProviderError) IsAuth() bool {
	return e.StatusCode == http.StatusUnauthorized ||
		e.StatusCode == http.StatusForbidden ||
		slices.Contains(authErrorCodes, e.Code)
}

// IsQuota reports rate limiting or exhausted account quota.
func (e *ProviderError) IsQuota() bool {
	return e.StatusCode == http.StatusTooManyRequests ||
		slices.Contains(quotaErrorCodes, e.Code) ||
		strings.Contains(strings.ToLower(e.Message), "quota")
}

// IsNotFound reports an unknown torrent handle or link.
func (e *ProviderError) IsNotFound() bool {
	return e.StatusCode == http.StatusNotFound || slices.Contains(notFoundErrorCodes, e.Code)
}

// IsAuthError reports whether err wraps an authentication ProviderError.
func IsAuthError(err error) bool {
	var pe *ProviderError

	return errors.As(err, &pe) && pe.IsAuth()
}

// IsQuotaError reports whether err wraps a quota ProviderError.
func IsQuotaError(err error) bool {
	var pe *ProviderError

	return errors.As(err, &pe) && pe.IsQuota()
}

// IsNotFoundError reports whether err wraps a not-found ProviderError.
func IsNotFoundError(err error) bool {
	var pe *ProviderError

	return errors.As(err, &pe) && pe.IsNotFound()
}
