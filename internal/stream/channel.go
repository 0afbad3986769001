// ABOUTME: Per-session delivery loop draining a mailbox onto a transport.
// ABOUTME: Emits heartbeats while idle and releases the session when the connection ends.

package stream

import (
	"context"
	"log/slog"
	"time"

	"github.com/2389/askdb-gateway/internal/event"
	"github.com/2389/askdb-gateway/internal/session"
)

// DefaultHeartbeatInterval is the idle timeout before a liveness marker is
// written to keep proxies and clients from dropping the connection.
const DefaultHeartbeatInterval = 30 * time.Second

// Transport is one client connection that events are written to.
type Transport interface {
	// Send writes one event to the client.
	Send(*event.Event) error
	// Heartbeat writes a liveness marker to the client.
	Heartbeat() error
}

// Channel drains one session's mailbox onto its transport in arrival order.
type Channel struct {
	registry  *session.Registry
	heartbeat time.Duration
	logger    *slog.Logger
}

// NewChannel creates a delivery channel. A zero heartbeat interval uses the
// default. Pass nil logger for the default.
func NewChannel(registry *session.Registry, heartbeat time.Duration, logger *slog.Logger) *Channel {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeatInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{
		registry:  registry,
		heartbeat: heartbeat,
		logger:    logger.With("component", "event-channel"),
	}
}

// Serve runs for the lifetime of one connection. It delivers mailbox events
// in FIFO order, writes a heartbeat when the mailbox stays empty past the
// heartbeat interval, and stops on the close marker, transport error, or
// context cancellation. The session is released from the registry on return.
func (c *Channel) Serve(ctx context.Context, sess *session.Session, transport Transport) error {
	defer c.registry.Release(sess.ID)

	logger := c.logger.With("session_id", sess.ID)
	timer := time.NewTimer(c.heartbeat)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("transport context done")
			return ctx.Err()

		case <-sess.Context().Done():
			// Session closed elsewhere (reaped or registry shutdown).
			// Drain anything already queued, then stop.
			c.drain(sess, transport)
			return nil

		case <-timer.C:
			if err := transport.Heartbeat(); err != nil {
				logger.Debug("heartbeat failed, closing", "error", err)
				return err
			}
			timer.Reset(c.heartbeat)

		case e := <-sess.Mailbox():
			if e.IsClose() {
				logger.Debug("close marker received")
				return nil
			}
			if err := transport.Send(e); err != nil {
				logger.Debug("transport send failed, closing", "error", err)
				return err
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(c.heartbeat)
		}
	}
}

// drain flushes already-queued events after the session context is canceled
// so a terminal event enqueued just before reaping still reaches the client.
func (c *Channel) drain(sess *session.Session, transport Transport) {
	for {
		select {
		case e := <-sess.Mailbox():
			if e.IsClose() {
				return
			}
			if err := transport.Send(e); err != nil {
				return
			}
		default:
			return
		}
	}
}
