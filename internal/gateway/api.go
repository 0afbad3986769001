// ABOUTME: HTTP API: SSE event streams, query submission, status, and health.

package gateway

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/2389/askdb-gateway/internal/auth"
	"github.com/2389/askdb-gateway/internal/event"
	"github.com/2389/askdb-gateway/internal/session"
	"github.com/2389/askdb-gateway/internal/stream"
)

func (g *Gateway) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /health/ready", g.handleReady)

	authed := auth.Middleware(g.verifier, g.authKeys())
	mux.Handle("GET /events", authed(http.HandlerFunc(g.handleEvents)))
	mux.Handle("POST /query", authed(http.HandlerFunc(g.handleQuery)))
	mux.Handle("GET /status", authed(http.HandlerFunc(g.handleStatus)))
	mux.Handle("GET /runs", authed(http.HandlerFunc(g.handleRecentRuns)))

	return mux
}

// authKeys exposes the store for API key verification only when auth is on.
func (g *Gateway) authKeys() auth.KeyStore {
	if g.verifier == nil {
		return nil
	}
	return g.store
}

// handleEvents opens a session and streams its events until the client
// disconnects or the session is reaped. The first event on the wire carries
// the session ID the client needs for /query.
func (g *Gateway) handleEvents(w http.ResponseWriter, r *http.Request) {
	transport, err := stream.PrepareSSE(w)
	if err != nil {
		g.sendJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	label := r.Header.Get("X-Client-Label")
	if label == "" {
		if id := auth.FromContext(r.Context()); id != nil {
			label = id.Name
		}
	}

	s := g.registry.CreateSession(label)
	g.logger.Info("session opened", "session_id", s.ID, "client_label", label)

	hello := &event.Event{
		Kind:      event.KindSession,
		SessionID: s.ID,
		Timestamp: time.Now(),
	}
	if err := transport.Send(hello); err != nil {
		g.registry.Release(s.ID)
		return
	}

	if err := g.channel.Serve(r.Context(), s, transport); err != nil {
		g.logger.Debug("session stream ended", "session_id", s.ID, "error", err)
	}
	g.logger.Info("session closed", "session_id", s.ID)
}

type queryRequest struct {
	SessionID string `json:"session_id"`
	Question  string `json:"question"`
}

type queryResponse struct {
	RunID string `json:"run_id"`
}

// handleQuery accepts a question for an open session and starts a pipeline
// run. The response only acknowledges the submission; results arrive on the
// session's event stream.
func (g *Gateway) handleQuery(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "reading request body")
		return
	}
	var req queryRequest
	if err := json.Unmarshal(body, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.SessionID == "" || strings.TrimSpace(req.Question) == "" {
		g.sendJSONError(w, http.StatusBadRequest, "session_id and question are required")
		return
	}

	s, ok := g.registry.Get(req.SessionID)
	if !ok {
		g.sendJSONError(w, http.StatusNotFound, "session not found")
		return
	}
	// Inbound activity: a session with queries in flight is not idle.
	s.Touch()

	runID := uuid.NewString()
	g.startRun(s, runID, strings.TrimSpace(req.Question))

	g.writeJSON(w, http.StatusAccepted, queryResponse{RunID: runID})
}

// startRun launches a pipeline run feeding the session's mailbox. The run
// inherits the session's context, so reaping the session cancels it.
func (g *Gateway) startRun(s *session.Session, runID, question string) {
	sink := event.SinkFunc(func(e *event.Event) {
		// A run still producing events keeps its session off the reaper's
		// list even when it outlasts the idle threshold.
		s.Touch()
		if err := g.registry.Enqueue(s.ID, e); err != nil {
			if errors.Is(err, session.ErrSessionNotFound) {
				g.logger.Debug("dropping event for closed session",
					"session_id", s.ID, "run_id", runID)
				return
			}
			g.logger.Warn("enqueueing event failed",
				"session_id", s.ID, "run_id", runID, "error", err)
		}
	})

	g.runs.Add(1)
	g.activeRuns.Add(1)
	go func() {
		defer g.runs.Done()
		defer g.activeRuns.Add(-1)

		g.logger.Info("run started", "run_id", runID, "session_id", s.ID)
		if err := g.pipeline.Execute(s.Context(), s.ID, runID, question, sink); err != nil {
			g.logger.Info("run failed", "run_id", runID, "error", err)
			return
		}
		g.logger.Info("run finished", "run_id", runID)
	}()
}

func (g *Gateway) handleStatus(w http.ResponseWriter, r *http.Request) {
	g.writeJSON(w, http.StatusOK, g.ServerStatus())
}

type runSummary struct {
	RunID      string    `json:"run_id"`
	Question   string    `json:"question"`
	SQL        string    `json:"sql,omitempty"`
	Status     string    `json:"status"`
	ErrorText  string    `json:"error,omitempty"`
	RowCount   int       `json:"row_count"`
	Repairs    int       `json:"repairs"`
	ElapsedMS  int64     `json:"elapsed_ms"`
	FinishedAt time.Time `json:"finished_at"`
}

func (g *Gateway) handleRecentRuns(w http.ResponseWriter, r *http.Request) {
	recs, err := g.store.RecentRuns(r.Context(), 50)
	if err != nil {
		g.sendJSONError(w, http.StatusInternalServerError, "listing runs failed")
		return
	}
	out := make([]runSummary, 0, len(recs))
	for _, rec := range recs {
		out = append(out, runSummary{
			RunID:      rec.RunID,
			Question:   rec.Question,
			SQL:        rec.SQL,
			Status:     rec.Status,
			ErrorText:  rec.ErrorText,
			RowCount:   rec.RowCount,
			Repairs:    rec.Repairs,
			ElapsedMS:  rec.Elapsed.Milliseconds(),
			FinishedAt: rec.FinishedAt,
		})
	}
	g.writeJSON(w, http.StatusOK, out)
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	g.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady reports readiness: the analytics database must answer a ping.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := g.dorisDB.PingContext(r.Context()); err != nil {
		g.writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"error":  err.Error(),
		})
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Warn("writing response failed", "error", err)
	}
}

func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.writeJSON(w, status, map[string]string{"error": message})
}
