package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const (
	maxWriteAttempts = 3
	baseWriteDelay   = 50 * time.Millisecond
)

// withRetry runs op, retrying SQLite lock conflicts with exponential
// backoff: 50ms, 100ms.
func withRetry(ctx context.Context, name string, op func() error) error {
	for i := 0; ; i++ {
		err := op()
		if err == nil {
			return nil
		}
		if !isConflict(err) {
			return err
		}
		if i == maxWriteAttempts-1 {
			return fmt.Errorf("%s failed after %d attempts: %w", name, maxWriteAttempts, err)
		}

		delay := baseWriteDelay * time.Duration(1<<i)
		slog.Debug("SQLite write conflict, retrying", "op", name, "attempt", i+1, "delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", name, ctx.Err())
		}
	}
}
