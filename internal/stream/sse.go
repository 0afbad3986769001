// ABOUTME: Server-Sent Events transport writing framed events to an HTTP response.
// ABOUTME: One SSE event per delivered Event; heartbeats are SSE comments.

package stream

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/2389/askdb-gateway/internal/event"
)

// SSEWriter implements Transport over an http.ResponseWriter. The writer
// must support flushing; PrepareSSE checks this before streaming starts.
type SSEWriter struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
}

// PrepareSSE sets the event-stream headers and returns an SSEWriter, or an
// error if the response writer does not support streaming.
func PrepareSSE(w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	return &SSEWriter{w: w, flusher: flusher}, nil
}

// Send writes one event as "event: <kind>\ndata: <json>\n\n" and flushes.
func (s *SSEWriter) Send(e *event.Event) error {
	data, err := e.Marshal()
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", e.Kind, data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// Heartbeat writes an SSE comment to detect dead connections.
func (s *SSEWriter) Heartbeat() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprint(s.w, ": heartbeat\n\n"); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
