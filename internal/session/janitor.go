package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/persona-companion/internal/store"
)

// JanitorInterval is how often idle conversations are swept.
const JanitorInterval = 5 * time.Minute

// StartJanitor runs a background goroutine that periodically deletes
// conversations idle for longer than ttl. The returned channel is closed once
// the goroutine has exited after ctx is cancelled.
func StartJanitor(ctx context.Context, repo store.Repository, ttl, interval time.Duration) <-chan struct{} {
	done := make(chan struct{})
	ticker := time.NewTicker(interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		slog.Info("Session janitor started", "interval", interval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				sweepExpiredSessions(ctx, repo, ttl)
			case <-ctx.Done():
				slog.Info("Session janitor shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
	return done
}

func sweepExpiredSessions(ctx context.Context, repo store.Repository, ttl time.Duration) {
	deleted, err := repo.CleanupExpiredSessions(ctx, ttl)
	if err != nil {
		if ctx.Err() != nil {
			slog.Debug("Session janitor interrupted", "error", err)
			return
		}
		slog.Error("Session janitor failed to clean up expired sessions", "error", err)
		return
	}
	if deleted > 0 {
		slog.Info("Session janitor removed idle sessions", "count", deleted)
	}
}
