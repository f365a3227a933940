package telemetry

import (
	"net/http"
	"time"

	"github.com/italolelis/debrid_streamer/internal/logctx"
)

// HTTPLogging logs every request, at ERROR for 5xx, WARN for 4xx and INFO otherwise.
func HTTPLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		logger := logctx.LoggerFromContext(ctx)
		start := time.Now()

		rec := newStatusRecorder(w)

		next.ServeHTTP(rec, r)

		attrs := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"bytes", rec.bytesWritten,
			"duration_ms", time.Since(start).Milliseconds(),
		}

		switch {
		case rec.status >= http.StatusInternalServerError:
			logger.ErrorContext(ctx, "http request completed", attrs...)
		case rec.status >= http.StatusBadRequest:
			logger.WarnContext(ctx, "http request completed", attrs...)
		default:
			logger.InfoContext(ctx, "http request completed", attrs...)
		}
	})
}
