// ABOUTME: Fan-out of a single event into every active session's mailbox.
// ABOUTME: Also runs the periodic server-status broadcast loop.

package broadcast

import (
	"context"
	"log/slog"
	"time"

	"github.com/2389/askdb-gateway/internal/event"
	"github.com/2389/askdb-gateway/internal/session"
)

// StatusSource produces the current server status for periodic broadcasts.
type StatusSource interface {
	ServerStatus() *event.ServerStatus
}

// Broadcaster pushes cross-session events into every live mailbox.
// Delivery is non-blocking; a slow session drops the event.
type Broadcaster struct {
	registry *session.Registry
	logger   *slog.Logger
}

// New creates a broadcaster over the given registry. Pass nil logger for the
// default.
func New(registry *session.Registry, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		registry: registry,
		logger:   logger.With("component", "broadcaster"),
	}
}

// Broadcast enqueues the event to every active session. Returns the number
// of sessions that accepted it.
func (b *Broadcaster) Broadcast(e *event.Event) int {
	sessions := b.registry.Snapshot()

	delivered := 0
	for _, s := range sessions {
		if err := b.registry.Enqueue(s.ID, e); err == nil {
			delivered++
		}
	}
	if len(sessions) > 0 {
		b.logger.Debug("broadcast event",
			"kind", e.Kind,
			"sessions", len(sessions),
			"delivered", delivered,
		)
	}
	return delivered
}

// RunStatusLoop broadcasts a status event on a fixed interval until the
// context is canceled. Intervals at or below zero disable the loop.
func (b *Broadcaster) RunStatusLoop(ctx context.Context, source StatusSource, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if b.registry.Count() == 0 {
				continue
			}
			b.Broadcast(&event.Event{
				Kind:      event.KindStatus,
				Timestamp: time.Now(),
				Status:    source.ServerStatus(),
			})
		}
	}
}
