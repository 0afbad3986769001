// ABOUTME: Represents a single connected client session and its private event mailbox.
// ABOUTME: The mailbox is a FIFO queue written by pipeline runs and drained by one delivery loop.

package session

import (
	"context"
	"sync"
	"time"

	"github.com/2389/askdb-gateway/internal/event"
)

// Session is one long-lived client connection. It exclusively owns its
// mailbox; many pipeline runs and the broadcaster may write to it, and
// exactly one delivery loop drains it.
type Session struct {
	ID          string
	ClientLabel string
	CreatedAt   time.Time

	mailbox chan *event.Event
	ctx     context.Context
	cancel  context.CancelFunc

	mu         sync.RWMutex
	lastActive time.Time
	closed     bool
}

func newSession(id, clientLabel string, mailboxSize int) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()
	return &Session{
		ID:          id,
		ClientLabel: clientLabel,
		CreatedAt:   now,
		mailbox:     make(chan *event.Event, mailboxSize),
		ctx:         ctx,
		cancel:      cancel,
		lastActive:  now,
	}
}

// Context returns a context that is canceled when the session is closed.
// Pipeline runs derive their own contexts from it so that reaping a session
// stops its in-flight work.
func (s *Session) Context() context.Context {
	return s.ctx
}

// Mailbox returns the receive side of the session's event queue.
// Only the session's delivery loop may drain it.
func (s *Session) Mailbox() <-chan *event.Event {
	return s.mailbox
}

// Touch updates the last-active timestamp.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()
}

// LastActive returns the time of the most recent inbound activity.
func (s *Session) LastActive() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActive
}

// send appends an event to the mailbox. Returns false if the session is
// closed or the mailbox is full. The read lock is held across the send so
// close cannot race with an in-flight enqueue.
func (s *Session) send(e *event.Event) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	select {
	case s.mailbox <- e:
		return true
	default:
		return false
	}
}

// close pushes the close marker, cancels the session context, and marks the
// session closed. Safe to call more than once.
func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	select {
	case s.mailbox <- event.Close():
	default:
		// Mailbox full: the delivery loop will still stop via the
		// canceled context.
	}
	s.cancel()
}

// isClosed reports whether close has been called.
func (s *Session) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}
