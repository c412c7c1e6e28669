package capture

import (
	"context"
	"log/slog"
	"time"
)

// StartReaper runs a background goroutine that periodically ends sessions
// not seen for longer than ttl and frees slots of sessions that ended
// more than ttl ago.
func (m *Manager) StartReaper(ctx context.Context, ttl, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Capture reaper started", "interval", interval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				m.reap(ctx, ttl)
			case <-ctx.Done():
				slog.Info("Capture reaper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func (m *Manager) reap(ctx context.Context, ttl time.Duration) int {
	threshold := m.now().Add(-ttl)

	m.mu.Lock()
	var stale []*entry
	for key, e := range m.sessions {
		if e.lastSeen.Before(threshold) {
			stale = append(stale, e)
			delete(m.sessions, key)
		}
	}
	m.mu.Unlock()

	if len(stale) == 0 {
		return 0
	}

	m.logger.Info("Capture reaper found stale sessions", "count", len(stale))
	m.endAll(ctx, stale, ReasonIdle)
	return len(stale)
}
