package utils

import (
	"context"
	"log/slog"
	"time"
)

// CleanupFunc performs one sweep and reports how many items it handled
type CleanupFunc func(ctx context.Context) (int, error)

// StartCleanupWorker runs fn immediately and then on every tick until ctx is
// cancelled. It blocks; callers start it in its own goroutine.
func StartCleanupWorker(ctx context.Context, name string, interval time.Duration, fn CleanupFunc) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("cleanup worker started", "worker", name, "interval", interval)

	runCleanup(ctx, name, fn)

	for {
		select {
		case <-ctx.Done():
			slog.Info("cleanup worker shutting down", "worker", name)
			return
		case <-ticker.C:
			runCleanup(ctx, name, fn)
		}
	}
}

func runCleanup(ctx context.Context, name string, fn CleanupFunc) {
	start := time.Now()
	handled, err := fn(ctx)
	duration := time.Since(start)

	if err != nil {
		slog.Error("cleanup failed", "worker", name, "error", err, "duration", duration)
		return
	}

	if handled > 0 {
		slog.Info("cleanup completed", "worker", name, "handled", handled, "duration", duration)
	} else {
		slog.Debug("cleanup completed", "worker", name, "handled", handled, "duration", duration)
	}
}
