// ABOUTME: Registry of live client sessions, keyed by session ID.
// ABOUTME: Creates sessions, routes enqueues, and reaps idle sessions on a fixed interval.

package session

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/askdb-gateway/internal/event"
)

// ErrSessionNotFound indicates the session was reaped or never existed.
// Enqueue failures with this error are non-fatal to the caller.
var ErrSessionNotFound = errors.New("session not found")

const (
	// DefaultMailboxSize bounds each session's event queue.
	DefaultMailboxSize = 256
	// DefaultIdleTimeout is how long a session may be inactive before reaping.
	DefaultIdleTimeout = 5 * time.Minute
	// DefaultReapInterval is how often the reap loop scans for idle sessions.
	DefaultReapInterval = time.Minute
)

// Options configures a Registry.
type Options struct {
	MailboxSize  int
	IdleTimeout  time.Duration
	ReapInterval time.Duration
}

func (o *Options) withDefaults() Options {
	out := Options{
		MailboxSize:  DefaultMailboxSize,
		IdleTimeout:  DefaultIdleTimeout,
		ReapInterval: DefaultReapInterval,
	}
	if o == nil {
		return out
	}
	if o.MailboxSize > 0 {
		out.MailboxSize = o.MailboxSize
	}
	if o.IdleTimeout > 0 {
		out.IdleTimeout = o.IdleTimeout
	}
	if o.ReapInterval > 0 {
		out.ReapInterval = o.ReapInterval
	}
	return out
}

// Registry coordinates all live sessions. CreateSession, Enqueue, and the
// reap loop all take the registry mutex; individual mailboxes are
// independently synchronized.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	opts     Options
	logger   *slog.Logger
	done     chan struct{}
	closed   bool
}

// NewRegistry creates a registry and starts its background reap loop.
// Pass nil logger for the default.
func NewRegistry(opts *Options, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		sessions: make(map[string]*Session),
		opts:     opts.withDefaults(),
		logger:   logger.With("component", "session-registry"),
		done:     make(chan struct{}),
	}
	go r.reapLoop()
	return r
}

// CreateSession allocates a session with an empty mailbox.
func (r *Registry) CreateSession(clientLabel string) *Session {
	s := newSession(uuid.New().String(), clientLabel, r.opts.MailboxSize)

	r.mu.Lock()
	r.sessions[s.ID] = s
	total := len(r.sessions)
	r.mu.Unlock()

	r.logger.Info("session created",
		"session_id", s.ID,
		"client_label", clientLabel,
		"total_sessions", total,
	)
	return s
}

// Get returns the session with the given ID.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Enqueue appends an event to the session's mailbox. Returns
// ErrSessionNotFound if the session was already reaped; the event is dropped
// and the caller continues. A full mailbox also drops the event, which is
// logged but not an error to the producer.
func (r *Registry) Enqueue(sessionID string, e *event.Event) error {
	r.mu.RLock()
	s, ok := r.sessions[sessionID]
	r.mu.RUnlock()

	if !ok {
		return ErrSessionNotFound
	}
	if !s.send(e) {
		if s.isClosed() {
			return ErrSessionNotFound
		}
		r.logger.Warn("mailbox full, dropping event",
			"session_id", sessionID,
			"kind", e.Kind,
		)
	}
	return nil
}

// Release closes a session and removes it from the registry. Called by the
// delivery loop when the transport ends, and by the reaper for idle sessions.
func (r *Registry) Release(sessionID string) {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	if ok {
		delete(r.sessions, sessionID)
	}
	total := len(r.sessions)
	r.mu.Unlock()

	if !ok {
		return
	}
	s.close()
	r.logger.Info("session released",
		"session_id", sessionID,
		"client_label", s.ClientLabel,
		"total_sessions", total,
	)
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Snapshot returns the live sessions for fan-out and status reporting.
func (r *Registry) Snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Reap closes and removes every session idle longer than the configured
// threshold. The close marker is pushed before removal so the delivery loop
// terminates its transport cleanly, and the session context is canceled so
// in-flight pipeline runs stop.
func (r *Registry) Reap() int {
	cutoff := time.Now().Add(-r.opts.IdleTimeout)

	r.mu.Lock()
	var idle []*Session
	for id, s := range r.sessions {
		if s.LastActive().Before(cutoff) {
			idle = append(idle, s)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, s := range idle {
		s.close()
		r.logger.Info("reaped idle session",
			"session_id", s.ID,
			"client_label", s.ClientLabel,
			"idle", time.Since(s.LastActive()).Round(time.Second),
		)
	}
	return len(idle)
}

func (r *Registry) reapLoop() {
	ticker := time.NewTicker(r.opts.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.Reap()
		case <-r.done:
			return
		}
	}
}

// Close stops the reap loop and closes every session. Safe to call multiple
// times.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.done)
	sessions := make([]*Session, 0, len(r.sessions))
	for id, s := range r.sessions {
		sessions = append(sessions, s)
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}
}
