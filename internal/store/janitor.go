package store

import (
	"context"
	"log/slog"
	"time"
)

const defaultJanitorInterval = time.Hour

// RunJanitor deletes abandoned runs older than retention on every tick until
// ctx is done.
func RunJanitor(ctx context.Context, repo Repository, retention, interval time.Duration, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = defaultJanitorInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	logger.Info("Run janitor started", "interval", interval, "retention", retention)

	for {
		select {
		case <-ticker.C:
			cleanupAbandoned(ctx, repo, retention, logger)
		case <-ctx.Done():
			logger.Info("Run janitor shutting down", "reason", ctx.Err())
			return nil
		}
	}
}

func cleanupAbandoned(ctx context.Context, repo Repository, retention time.Duration, logger *slog.Logger) {
	var deleted int64
	err := withRetry(ctx, "cleanup abandoned runs", func() error {
		var err error
		deleted, err = repo.CleanupAbandonedRuns(ctx, retention)
		return err
	})
	if err != nil {
		if ctx.Err() == nil {
			logger.Error("Run janitor cleanup failed", "error", err)
		}
		return
	}
	if deleted > 0 {
		logger.Info("Run janitor deleted abandoned runs", "count", deleted)
	}
}
