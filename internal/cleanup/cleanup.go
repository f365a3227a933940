package cleanup

import (
	"context"
	"fmt"
	"time"

	"github.com/italolelis/debrid_streamer/internal/library"
	"github.com/italolelis/debrid_streamer/internal/logctx"
)

// PruneExpired deletes library entries older than keepFor. Unrestricted links are
// time-limited, so an old entry only holds dead URLs.
func PruneExpired(ctx context.Context, repo library.Repository, keepFor time.Duration) (int64, error) {
	logger := logctx.LoggerFromContext(ctx)

	cutoff := time.Now().Add(-keepFor)

	deleted, err := repo.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired entries: %w", err)
	}

	if deleted > 0 {
		logger.Info("deleted expired library entries", "count", deleted, "cutoff", cutoff.Format(time.RFC3339))
	}

	return deleted, nil
}

// Watch runs PruneExpired every interval until ctx is done.
func Watch(ctx context.Context, repo library.Repository, interval, keepFor time.Duration) {
	logger := logctx.LoggerFromContext(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("cleanup goroutine shutting down.")

			return
		case <-ticker.C:
			if _, err := PruneExpired(ctx, repo, keepFor); err != nil {
				logger.Error("failed to prune expired library entries", "err", err)
			}
		}
	}
}
