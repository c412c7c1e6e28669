package store

import (
	"context"
	"log/slog"
	"time"
)

// StartTokenSweeper runs a background goroutine that periodically deletes
// expired bearer tokens until ctx is done.
func StartTokenSweeper(ctx context.Context, repo Repository, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Token sweeper started", "interval", interval)

		for {
			select {
			case <-ticker.C:
				deleted, err := repo.DeleteExpiredAuthTokens(ctx, time.Now())
				if err != nil {
					slog.Error("Token sweeper failed", "error", err)
					continue
				}
				if deleted > 0 {
					slog.Info("Token sweeper removed expired tokens", "count", deleted)
				}
			case <-ctx.Done():
				slog.Info("Token sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}
