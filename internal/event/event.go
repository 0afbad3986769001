// ABOUTME: Event types delivered to clients over a session's event stream.
// ABOUTME: Defines stage/terminal event payloads and the Sink emission capability.

package event

import (
	"time"

	"github.com/goccy/go-json"
)

// Kind identifies the type of an event on the wire.
type Kind string

const (
	// KindSession is the first event on a new stream, carrying the session ID.
	KindSession Kind = "session"
	// KindThinking reports model-facing work in progress.
	KindThinking Kind = "thinking"
	// KindProgress reports a stage transition with a progress percentage.
	KindProgress Kind = "progress"
	// KindPartial carries intermediate content before the final result.
	KindPartial Kind = "partial"
	// KindFinal carries the query result and terminates a run.
	KindFinal Kind = "final"
	// KindError carries a terminal error and terminates a run.
	KindError Kind = "error"
	// KindStatus is a server status broadcast, unrelated to any run.
	KindStatus Kind = "status"
)

// Terminal reports whether this kind ends a query run.
func (k Kind) Terminal() bool {
	return k == KindFinal || k == KindError
}

// Event is one unit of information delivered on a session stream.
// Events are immutable once created.
type Event struct {
	Kind      Kind      `json:"-"`
	RunID     string    `json:"run_id,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	Stage     string    `json:"stage,omitempty"`
	Message   string    `json:"message,omitempty"`
	Progress  int       `json:"progress"`
	Timestamp time.Time `json:"timestamp"`

	// Result is set on KindFinal events.
	Result *Result `json:"result,omitempty"`

	// Err is set on KindError events.
	Err *ErrorInfo `json:"error,omitempty"`

	// Status is set on KindStatus events.
	Status *ServerStatus `json:"status,omitempty"`

	// closeMarker terminates the delivery loop without being sent.
	closeMarker bool
}

// Result is the payload of a final event.
type Result struct {
	Question  string           `json:"question"`
	SQL       string           `json:"sql"`
	Columns   []string         `json:"columns"`
	Rows      []map[string]any `json:"rows"`
	RowCount  int              `json:"row_count"`
	TotalRows int              `json:"total_rows"`
	Truncated bool             `json:"truncated"`
	ElapsedMS int64            `json:"elapsed_ms"`
	Repairs   []RepairAttempt  `json:"repairs,omitempty"`
}

// ErrorInfo is the payload of a terminal error event.
type ErrorInfo struct {
	Type       string          `json:"type"`
	Message    string          `json:"message"`
	Confidence float64         `json:"confidence,omitempty"`
	Repairs    []RepairAttempt `json:"repairs,omitempty"`
}

// RepairAttempt records one failed execution and the correction tried next.
// Attempts are created by the repair loop and never mutated afterwards.
type RepairAttempt struct {
	Index       int    `json:"index"`
	FailingSQL  string `json:"failing_sql"`
	ErrorText   string `json:"error_text"`
	RepairedSQL string `json:"repaired_sql,omitempty"`
}

// ServerStatus is the payload of a periodic status broadcast.
type ServerStatus struct {
	ActiveSessions int   `json:"active_sessions"`
	ActiveRuns     int   `json:"active_runs"`
	UptimeSeconds  int64 `json:"uptime_seconds"`
}

// Close returns the distinguished close marker. It is never serialized; the
// delivery loop stops when it drains one from the mailbox.
func Close() *Event {
	return &Event{closeMarker: true}
}

// IsClose reports whether this event is the close marker.
func (e *Event) IsClose() bool {
	return e.closeMarker
}

// Marshal encodes the event payload as JSON.
func (e *Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Sink receives stage and terminal events from a pipeline run.
// All stages report through exactly this interface.
type Sink interface {
	Emit(*Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(*Event)

// Emit calls f(e).
func (f SinkFunc) Emit(e *Event) {
	f(e)
}

// Stage creates a stage transition event. The session ID is fixed here;
// events are never stamped after construction.
func Stage(sessionID, runID, stage, message string, progress int, kind Kind) *Event {
	return &Event{
		Kind:      kind,
		RunID:     runID,
		SessionID: sessionID,
		Stage:     stage,
		Message:   message,
		Progress:  progress,
		Timestamp: time.Now(),
	}
}

// Final creates the terminal success event for a run.
func Final(sessionID, runID string, result *Result) *Event {
	return &Event{
		Kind:      KindFinal,
		RunID:     runID,
		SessionID: sessionID,
		Stage:     "finalize",
		Progress:  100,
		Timestamp: time.Now(),
		Result:    result,
	}
}

// Error creates the terminal error event for a run.
func Error(sessionID, runID string, info *ErrorInfo) *Event {
	return &Event{
		Kind:      KindError,
		RunID:     runID,
		SessionID: sessionID,
		Stage:     "finalize",
		Message:   info.Message,
		Progress:  100,
		Timestamp: time.Now(),
		Err:       info,
	}
}
