package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/italolelis/debrid_streamer/internal/acquisition"
	"github.com/italolelis/debrid_streamer/internal/debrid"
	"github.com/italolelis/debrid_streamer/internal/library"
	"github.com/italolelis/debrid_streamer/internal/logctx"
	"github.com/italolelis/debrid_streamer/internal/search"
	"github.com/italolelis/debrid_streamer/internal/stream"
)

type errorResponse struct {
	Error string `json:"error"`
}

// FormatError maps an error to its HTTP status and a user-facing message.
func FormatError(err error) (int, string) {
	var (
		inputErr      *acquisition.InputError
		timeoutErr    *acquisition.AcquisitionTimeout
		noLinksErr    *acquisition.NoLinksAvailable
		providerErr   *debrid.ProviderError
		upstreamErr   *stream.UpstreamError
		validationErr validator.ValidationErrors
	)

	switch {
	case errors.As(err, &inputErr):
		if inputErr.MissingCredentials() {
			return http.StatusUnauthorized, "missing debrid API key: send it as Authorization: Bearer <key>"
		}

		return http.StatusBadRequest, inputErr.Error()
	case errors.As(err, &validationErr):
		return http.StatusBadRequest, formatValidation(validationErr)
	case errors.Is(err, search.ErrEmptyQuery):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, stream.ErrInvalidURL):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, stream.ErrForbiddenHost):
		return http.StatusBadRequest, stream.ErrForbiddenHost.Error()
	case errors.Is(err, library.ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.As(err, &timeoutErr):
		return http.StatusGatewayTimeout, fmt.Sprintf(
			"the provider is still processing the torrent (status %s, %.0f%%), retry later",
			timeoutErr.LastStatus, timeoutErr.LastProgress,
		)
	case errors.As(err, &noLinksErr):
		return http.StatusBadGateway, "the torrent finished but none of its links could be unrestricted, retry the acquisition"
	case errors.As(err, &providerErr):
		return formatProviderError(providerErr)
	case errors.As(err, &upstreamErr):
		return http.StatusBadGateway, upstreamErr.Error()
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout, "request timed out"
	default:
		return http.StatusInternalServerError, "failed to process request"
	}
}

func formatProviderError(err *debrid.ProviderError) (int, string) {
	switch {
	case err.StatusCode == http.StatusForbidden:
		return http.StatusForbidden, "debrid provider access forbidden: " + err.Message
	case err.IsAuth():
		return http.StatusUnauthorized, "invalid debrid API key"
	case err.IsQuota():
		return http.StatusTooManyRequests, "debrid provider quota exceeded, retry later"
	case err.IsNotFound():
		return http.StatusNotFound, "debrid provider does not know this torrent or link"
	case err.Operation == "torrent_status":
		return http.StatusBadGateway, "the debrid provider failed to process the torrent: " + err.Message
	default:
		return http.StatusBadGateway, err.Error()
	}
}

func formatValidation(errs validator.ValidationErrors) string {
	parts := make([]string, 0, len(errs))
	for _, fe := range errs {
		parts = append(parts, fmt.Sprintf("%s: %s", strings.ToLower(fe.Field()), fe.Tag()))
	}

	return "validation failed: " + strings.Join(parts, ", ")
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logctx.LoggerFromContext(r.Context()).Error("failed to encode response", "err", err)
	}
}

// writeError logs err and writes the {"error": ...} body. Server-side failures log at
// error level, client-side ones at debug.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	logger := logctx.LoggerFromContext(r.Context())
	status, msg := FormatError(err)

	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "status", status, "err", err)
	} else {
		logger.Debug("request rejected", "status", status, "err", err)
	}

	writeJSON(w, r, status, errorResponse{Error: msg})
}
