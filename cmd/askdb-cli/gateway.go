// ABOUTME: Gateway API client for askdb-cli
// ABOUTME: Opens an event stream, submits questions, and parses SSE frames

package main

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
)

// EventType mirrors the gateway's SSE event names.
type EventType string

const (
	EventSession  EventType = "session"
	EventThinking EventType = "thinking"
	EventProgress EventType = "progress"
	EventFinal    EventType = "final"
	EventError    EventType = "error"
	EventStatus   EventType = "status"
)

// StreamEvent is one parsed frame from the gateway.
type StreamEvent struct {
	Type      EventType
	RunID     string       `json:"run_id"`
	SessionID string       `json:"session_id"`
	Stage     string       `json:"stage"`
	Message   string       `json:"message"`
	Progress  int          `json:"progress"`
	Result    *QueryResult `json:"result"`
	Err       *QueryError  `json:"error"`
}

// QueryResult is the payload of a final event.
type QueryResult struct {
	Question  string           `json:"question"`
	SQL       string           `json:"sql"`
	Columns   []string         `json:"columns"`
	Rows      []map[string]any `json:"rows"`
	RowCount  int              `json:"row_count"`
	TotalRows int              `json:"total_rows"`
	Truncated bool             `json:"truncated"`
	ElapsedMS int64            `json:"elapsed_ms"`
}

// QueryError is the payload of a terminal error event.
type QueryError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Client communicates with the askdb-gateway HTTP API.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		client:  &http.Client{},
	}
}

// Ask opens a session, submits the question, and streams events to the
// callback until the run's terminal event arrives. Returns the terminal
// event.
func (c *Client) Ask(ctx context.Context, question string, onEvent func(StreamEvent)) (*StreamEvent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/events", nil)
	if err != nil {
		return nil, fmt.Errorf("creating stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("X-Client-Label", "askdb-cli")
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("opening event stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.errorFromResponse(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 1<<20), 1<<20)

	hello, err := nextEvent(ctx, scanner)
	if err != nil {
		return nil, err
	}
	if hello.Type != EventSession || hello.SessionID == "" {
		return nil, fmt.Errorf("expected session handshake, got %q", hello.Type)
	}

	runID, err := c.submit(ctx, hello.SessionID, question)
	if err != nil {
		return nil, err
	}

	for {
		ev, err := nextEvent(ctx, scanner)
		if err != nil {
			return nil, err
		}
		if ev.RunID != runID && ev.Type != EventStatus {
			continue
		}
		if onEvent != nil {
			onEvent(*ev)
		}
		if ev.Type == EventFinal || ev.Type == EventError {
			return ev, nil
		}
	}
}

// submit POSTs the question for an open session and returns the run ID.
func (c *Client) submit(ctx context.Context, sessionID, question string) (string, error) {
	body, err := json.Marshal(map[string]string{
		"session_id": sessionID,
		"question":   question,
	})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/query", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("submitting question: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return "", c.errorFromResponse(resp)
	}

	var accepted struct {
		RunID string `json:"run_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&accepted); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	return accepted.RunID, nil
}

// GetJSON fetches a gateway endpoint and decodes the JSON response into v.
func (c *Client) GetJSON(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("requesting %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.errorFromResponse(resp)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func (c *Client) errorFromResponse(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	var errResp struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
		return fmt.Errorf("gateway error (%d): %s", resp.StatusCode, errResp.Error)
	}
	return fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}

// nextEvent reads frames until one complete event is assembled. SSE comments
// (heartbeats) are skipped.
func nextEvent(ctx context.Context, scanner *bufio.Scanner) (*StreamEvent, error) {
	var eventType EventType
	var dataLines []string

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		line := scanner.Text()

		if line == "" {
			if eventType != "" && len(dataLines) > 0 {
				var ev StreamEvent
				if err := json.Unmarshal([]byte(strings.Join(dataLines, "\n")), &ev); err != nil {
					return nil, fmt.Errorf("parsing event data: %w", err)
				}
				ev.Type = eventType
				return &ev, nil
			}
			eventType = ""
			dataLines = nil
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue // heartbeat comment
		}
		if strings.HasPrefix(line, "event:") {
			eventType = EventType(strings.TrimSpace(strings.TrimPrefix(line, "event:")))
			continue
		}
		if strings.HasPrefix(line, "data:") {
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading stream: %w", err)
	}
	return nil, fmt.Errorf("stream closed by gateway")
}
