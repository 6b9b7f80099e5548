package store

import (
	"context"
	"log/slog"
	"time"
)

const retentionInterval = 5 * time.Minute

// StartRetentionWorker runs a background goroutine that periodically removes
// incidents older than ttl. It stops when ctx is canceled.
func StartRetentionWorker(ctx context.Context, repo Repository, ttl time.Duration) {
	startRetentionWorker(ctx, repo, ttl, retentionInterval)
}

func startRetentionWorker(ctx context.Context, repo Repository, ttl, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Retention worker started", "interval", interval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				sweepIncidents(ctx, repo, ttl)
			case <-ctx.Done():
				slog.Info("Retention worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func sweepIncidents(ctx context.Context, repo Repository, ttl time.Duration) {
	deleted, err := repo.CleanupIncidents(ctx, ttl)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Error("Retention worker failed to clean up incidents", "error", err)
		return
	}
	if deleted > 0 {
		slog.Info("Retention worker removed expired incidents", "count", deleted)
	}
}
