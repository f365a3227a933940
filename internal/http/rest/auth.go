package rest

import (
	"net/http"
	"strings"
)

// APIKeyHeader is the alternative to an Authorization bearer token.
const APIKeyHeader = "X-RD-Key"

// apiKeyFromRequest reads the caller's debrid key. Keys are never stored server-side; an
// empty result is rejected by the orchestrator.
func apiKeyFromRequest(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		scheme, token, ok := strings.Cut(auth, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}

	return strings.TrimSpace(r.Header.Get(APIKeyHeader))
}
