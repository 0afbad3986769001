// ABOUTME: End-to-end pipeline tests with fake generator, executor, and metadata
// ABOUTME: source, covering stage ordering, repair bounds, and terminal events.

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/askdb-gateway/internal/db"
	"github.com/2389/askdb-gateway/internal/event"
	"github.com/2389/askdb-gateway/internal/examples"
	"github.com/2389/askdb-gateway/internal/metadata"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeGenerator returns scripted responses in order and counts calls.
type fakeGenerator struct {
	mu        sync.Mutex
	responses []string
	err       error
	calls     int
}

func (g *fakeGenerator) Complete(ctx context.Context, system, user string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.err != nil {
		return "", g.err
	}
	if len(g.responses) == 0 {
		return "", errors.New("fakeGenerator: out of responses")
	}
	resp := g.responses[0]
	g.responses = g.responses[1:]
	return resp, nil
}

func (g *fakeGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// fakeExecutor fails the first failures executions, then succeeds.
type fakeExecutor struct {
	mu       sync.Mutex
	failures int
	rows     []map[string]any
	calls    int
	queries  []string
}

func (e *fakeExecutor) Run(ctx context.Context, queryText string) (*db.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	e.queries = append(e.queries, queryText)
	if e.calls <= e.failures {
		return nil, fmt.Errorf("Unknown column 'bogus' in 'field list' (attempt %d)", e.calls)
	}
	return &db.Result{
		Columns: []string{"day", "orders"},
		Rows:    e.rows,
		Elapsed: 12 * time.Millisecond,
	}, nil
}

func (e *fakeExecutor) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// fakeSource serves a fixed two-table schema.
type fakeSource struct{}

func (fakeSource) Tables(ctx context.Context, database string) ([]string, error) {
	return []string{"orders", "customers"}, nil
}

func (fakeSource) Schema(ctx context.Context, database, table string) (string, error) {
	return fmt.Sprintf("TABLE %s.%s\n  id bigint NOT NULL\n  amount decimal -- order amount", database, table), nil
}

func (fakeSource) LastModified(ctx context.Context, database, table string) (time.Time, error) {
	return time.Time{}, nil
}

// collectSink records every emitted event in order.
type collectSink struct {
	mu     sync.Mutex
	events []*event.Event
}

func (s *collectSink) Emit(e *event.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *collectSink) all() []*event.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*event.Event(nil), s.events...)
}

func sqlResponse(query string) string {
	return "Sure, here is the query:\n```sql\n" + query + "\n```\n"
}

func newTestPipeline(t *testing.T, gen *fakeGenerator, exec *fakeExecutor, maxRetries int) *Pipeline {
	t.Helper()
	logger := testLogger()
	catalog := metadata.NewCatalog("shop", fakeSource{}, time.Hour, logger)
	index := examples.NewIndex(0)
	classifier := NewClassifier(catalog, gen, logger)
	return New(classifier, index, catalog, gen, exec, nil,
		Options{MaxRetries: maxRetries}, logger)
}

func stageNames(events []*event.Event) []string {
	var out []string
	for _, e := range events {
		if e.Kind == event.KindThinking || e.Kind == event.KindProgress {
			out = append(out, e.Stage)
		}
	}
	return out
}

func terminals(events []*event.Event) []*event.Event {
	var out []*event.Event
	for _, e := range events {
		if e.Kind.Terminal() {
			out = append(out, e)
		}
	}
	return out
}

func TestExecuteHappyPath(t *testing.T) {
	rows := []map[string]any{
		{"day": "2026-08-01", "orders": int64(42)},
		{"day": "2026-08-02", "orders": int64(57)},
	}
	gen := &fakeGenerator{responses: []string{
		sqlResponse("SELECT date(created_at) AS day, count(*) AS orders FROM orders GROUP BY day"),
	}}
	exec := &fakeExecutor{rows: rows}
	p := newTestPipeline(t, gen, exec, 3)

	sink := &collectSink{}
	err := p.Execute(context.Background(), "sess-1", "run-1", "How many orders per day last week?", sink)
	require.NoError(t, err)

	events := sink.all()
	assert.Equal(t, []string{
		"start", "classify", "retrieve_example", "load_metadata",
		"generate_query", "execute_with_repair",
	}, stageNames(events))

	terms := terminals(events)
	require.Len(t, terms, 1)
	final := terms[0]
	require.Equal(t, event.KindFinal, final.Kind)
	assert.Same(t, final, events[len(events)-1], "terminal must be the last event")

	require.NotNil(t, final.Result)
	assert.Equal(t, "run-1", final.RunID)
	for _, e := range events {
		assert.Equal(t, "sess-1", e.SessionID, "every event is stamped at construction")
	}
	assert.Equal(t, 2, final.Result.RowCount)
	assert.Equal(t, 2, final.Result.TotalRows)
	assert.False(t, final.Result.Truncated)
	assert.Equal(t, []string{"day", "orders"}, final.Result.Columns)
	assert.Empty(t, final.Result.Repairs)

	// Progress never decreases across the run.
	last := -1
	for _, e := range events {
		assert.GreaterOrEqual(t, e.Progress, last)
		last = e.Progress
	}
}

func TestExecuteRejectsRawCommands(t *testing.T) {
	gen := &fakeGenerator{}
	exec := &fakeExecutor{}
	p := newTestPipeline(t, gen, exec, 3)

	sink := &collectSink{}
	err := p.Execute(context.Background(), "sess-1", "run-2", "SHOW TABLES", sink)

	var classErr *ClassificationError
	require.ErrorAs(t, err, &classErr)

	events := sink.all()
	require.GreaterOrEqual(t, len(events), 3)
	assert.Equal(t, []string{"start", "classify"}, stageNames(events))

	terminal := events[len(events)-1]
	require.Equal(t, event.KindError, terminal.Kind)
	require.NotNil(t, terminal.Err)
	assert.Equal(t, "not_business_query", terminal.Err.Type)
	assert.Equal(t, 0.95, terminal.Err.Confidence)

	// The model and the database are never consulted for rejected input.
	assert.Zero(t, gen.callCount())
	assert.Zero(t, exec.callCount())
}

func TestExecuteRepairsFailingQuery(t *testing.T) {
	gen := &fakeGenerator{responses: []string{
		sqlResponse("SELECT bogus FROM orders"),
		sqlResponse("SELECT bogus2 FROM orders"),
		sqlResponse("SELECT amount FROM orders"),
	}}
	exec := &fakeExecutor{failures: 2, rows: []map[string]any{{"day": "x", "orders": int64(1)}}}
	p := newTestPipeline(t, gen, exec, 3)

	sink := &collectSink{}
	err := p.Execute(context.Background(), "sess-1", "run-3", "What is the total order revenue?", sink)
	require.NoError(t, err)

	events := sink.all()
	final := events[len(events)-1]
	require.Equal(t, event.KindFinal, final.Kind)
	require.NotNil(t, final.Result)

	repairs := final.Result.Repairs
	require.Len(t, repairs, 2)
	assert.Equal(t, 0, repairs[0].Index)
	assert.Equal(t, 1, repairs[1].Index)
	assert.Contains(t, repairs[0].ErrorText, "Unknown column")
	assert.NotEmpty(t, repairs[1].RepairedSQL)
	assert.Equal(t, "SELECT amount FROM orders", final.Result.SQL)
	assert.Equal(t, 3, exec.callCount())
}

func TestExecuteRepairExhaustion(t *testing.T) {
	gen := &fakeGenerator{responses: []string{
		sqlResponse("SELECT bogus FROM orders"),
		sqlResponse("SELECT bogus2 FROM orders"),
		sqlResponse("SELECT bogus3 FROM orders"),
	}}
	exec := &fakeExecutor{failures: 100}
	p := newTestPipeline(t, gen, exec, 3)

	sink := &collectSink{}
	err := p.Execute(context.Background(), "sess-1", "run-4", "What is the total order revenue?", sink)

	var exhausted *RepairExhaustedError
	require.ErrorAs(t, err, &exhausted)

	events := sink.all()
	terms := terminals(events)
	require.Len(t, terms, 1)
	terminal := terms[0]
	require.Equal(t, event.KindError, terminal.Kind)
	require.NotNil(t, terminal.Err)
	assert.Equal(t, "repair_exhausted", terminal.Err.Type)

	repairs := terminal.Err.Repairs
	require.Len(t, repairs, 3)
	for i, attempt := range repairs {
		assert.Equal(t, i, attempt.Index)
		assert.NotEmpty(t, attempt.FailingSQL)
		assert.NotEmpty(t, attempt.ErrorText)
	}
	// The retry budget bounds executions.
	assert.Equal(t, 3, exec.callCount())
}

func TestExecuteGenerationFailure(t *testing.T) {
	gen := &fakeGenerator{responses: []string{"I am not sure how to answer that."}}
	exec := &fakeExecutor{}
	p := newTestPipeline(t, gen, exec, 3)

	sink := &collectSink{}
	err := p.Execute(context.Background(), "sess-1", "run-5", "What is the total order revenue?", sink)

	var genErr *GenerationError
	require.ErrorAs(t, err, &genErr)

	events := sink.all()
	terminal := events[len(events)-1]
	require.Equal(t, event.KindError, terminal.Kind)
	assert.Equal(t, "sql_generation_failed", terminal.Err.Type)
	assert.Zero(t, exec.callCount())
}

func TestExecuteTruncatesLargeResults(t *testing.T) {
	rows := make([]map[string]any, 500)
	for i := range rows {
		rows[i] = map[string]any{"day": fmt.Sprintf("d%d", i), "orders": int64(i)}
	}
	gen := &fakeGenerator{responses: []string{sqlResponse("SELECT day, orders FROM daily")}}
	exec := &fakeExecutor{rows: rows}

	logger := testLogger()
	catalog := metadata.NewCatalog("shop", fakeSource{}, time.Hour, logger)
	index := examples.NewIndex(0)
	p := New(NewClassifier(catalog, gen, logger), index, catalog, gen, exec, nil,
		Options{MaxRetries: 3, MaxResultRows: 100}, logger)

	sink := &collectSink{}
	err := p.Execute(context.Background(), "sess-1", "run-6", "Show daily orders for the year", sink)
	require.NoError(t, err)

	final := sink.all()[len(sink.all())-1]
	require.Equal(t, event.KindFinal, final.Kind)
	assert.Equal(t, 100, final.Result.RowCount)
	assert.Len(t, final.Result.Rows, 100)
	assert.Equal(t, 500, final.Result.TotalRows)
	assert.True(t, final.Result.Truncated)
}

func TestExecuteCancelledRunEmitsTerminal(t *testing.T) {
	gen := &fakeGenerator{responses: []string{sqlResponse("SELECT 1 FROM orders")}}
	exec := &fakeExecutor{}
	p := newTestPipeline(t, gen, exec, 3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sink := &collectSink{}
	err := p.Execute(ctx, "sess-1", "run-7", "How many orders per day?", sink)
	require.Error(t, err)

	terms := terminals(sink.all())
	require.Len(t, terms, 1)
	assert.Equal(t, event.KindError, terms[0].Kind)
}

func TestExecuteAddsSolvedExampleToIndex(t *testing.T) {
	gen := &fakeGenerator{responses: []string{sqlResponse("SELECT count(*) FROM orders")}}
	exec := &fakeExecutor{rows: []map[string]any{{"day": "x", "orders": int64(9)}}}

	logger := testLogger()
	catalog := metadata.NewCatalog("shop", fakeSource{}, time.Hour, logger)
	index := examples.NewIndex(0)
	before := index.Len()
	rec := &memoryRecorder{}
	p := New(NewClassifier(catalog, gen, logger), index, catalog, gen, exec, rec,
		Options{MaxRetries: 3}, logger)

	sink := &collectSink{}
	err := p.Execute(context.Background(), "sess-1", "run-8", "How many orders were placed in total?", sink)
	require.NoError(t, err)

	assert.Equal(t, before+1, index.Len())
	require.Len(t, rec.runs, 1)
	assert.Equal(t, "success", rec.runs[0].Status)
	assert.Equal(t, "run-8", rec.runs[0].RunID)
	require.Len(t, rec.solved, 1)
	assert.Equal(t, "SELECT count(*) FROM orders", rec.solved[0].SQL)
}

type memoryRecorder struct {
	mu     sync.Mutex
	runs   []RunRecord
	solved []examples.Example
}

func (r *memoryRecorder) RecordRun(ctx context.Context, rec RunRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, rec)
	return nil
}

func (r *memoryRecorder) RecordSolvedExample(ctx context.Context, ex examples.Example) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.solved = append(r.solved, ex)
	return nil
}

func TestExtractQuery(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr string
	}{
		{
			name:  "single block",
			input: "Here you go:\n```sql\nSELECT 1 FROM t\n```",
			want:  "SELECT 1 FROM t",
		},
		{
			name:  "with clause",
			input: "```sql\nWITH x AS (SELECT 1) SELECT * FROM x\n```",
			want:  "WITH x AS (SELECT 1) SELECT * FROM x",
		},
		{
			name:    "no block",
			input:   "SELECT 1 FROM t",
			wantErr: "no fenced sql block",
		},
		{
			name:    "two blocks",
			input:   "```sql\nSELECT 1\n```\nor maybe\n```sql\nSELECT 2\n```",
			wantErr: "want exactly one",
		},
		{
			name:    "wrong statement",
			input:   "```sql\nDROP TABLE orders\n```",
			wantErr: "not a SELECT",
		},
		{
			name:    "empty block",
			input:   "```sql\n\n```",
			wantErr: "empty",
		},
		{
			name:  "ignores other languages",
			input: "```json\n{}\n```\n```sql\nSELECT 1 FROM t\n```",
			want:  "SELECT 1 FROM t",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := extractQuery(tt.input)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassifierCascade(t *testing.T) {
	logger := testLogger()
	catalog := metadata.NewCatalog("shop", fakeSource{}, time.Hour, logger)

	tests := []struct {
		name       string
		question   string
		inDomain   bool
		confidence float64
	}{
		{"sql command", "DESCRIBE orders", false, 0.95},
		{"ddl", "DROP TABLE customers", false, 0.95},
		{"strong keyword", "What was last month's revenue?", true, 0.9},
		{"schema vocabulary", "What is the average amount this week?", true, 0.8},
		{"two auxiliary", "Show me the monthly trend", true, 0.7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &fakeGenerator{err: errors.New("must not be called")}
			c := NewClassifier(catalog, gen, logger)
			inDomain, confidence := c.Classify(context.Background(), tt.question)
			assert.Equal(t, tt.inDomain, inDomain)
			assert.Equal(t, tt.confidence, confidence)
			assert.Zero(t, gen.callCount(), "lexical layers must decide without the model")
		})
	}
}

func TestClassifierModelFallback(t *testing.T) {
	logger := testLogger()
	catalog := metadata.NewCatalog("shop", fakeSource{}, time.Hour, logger)

	t.Run("model says no", func(t *testing.T) {
		gen := &fakeGenerator{responses: []string{
			"```json\n{\"is_data_question\": false, \"confidence\": 0.85}\n```",
		}}
		c := NewClassifier(catalog, gen, logger)
		inDomain, confidence := c.Classify(context.Background(), "tell me a joke")
		assert.False(t, inDomain)
		assert.Equal(t, 0.85, confidence)
		assert.Equal(t, 1, gen.callCount())
	})

	t.Run("model unreachable allows through", func(t *testing.T) {
		gen := &fakeGenerator{err: errors.New("connection refused")}
		c := NewClassifier(catalog, gen, logger)
		inDomain, confidence := c.Classify(context.Background(), "tell me a joke")
		assert.True(t, inDomain)
		assert.Equal(t, confidenceFallback, confidence)
	})

	t.Run("garbled verdict allows through", func(t *testing.T) {
		gen := &fakeGenerator{responses: []string{"maybe?"}}
		c := NewClassifier(catalog, gen, logger)
		inDomain, _ := c.Classify(context.Background(), "tell me a joke")
		assert.True(t, inDomain)
	})
}

func TestRepairLoopEmptyCorrectionFailsFast(t *testing.T) {
	// A correction identical to the failing statement is worthless; the loop
	// must stop instead of burning the remaining budget.
	gen := &fakeGenerator{responses: []string{sqlResponse("SELECT bogus FROM orders")}}
	exec := &fakeExecutor{failures: 100}
	loop := NewRepairLoop(exec, gen, 5, testLogger())

	_, err := loop.Run(context.Background(), "SELECT bogus FROM orders", "q", "schema")

	var exhausted *RepairExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Len(t, exhausted.Attempts, 1)
	assert.Empty(t, exhausted.Attempts[0].RepairedSQL)
	assert.Equal(t, 1, exec.callCount())
}

func TestRepairLoopStopsOnCancel(t *testing.T) {
	gen := &fakeGenerator{responses: []string{sqlResponse("SELECT a FROM t")}}
	exec := &fakeExecutor{failures: 100}
	loop := NewRepairLoop(exec, gen, 3, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := loop.Run(ctx, "SELECT bogus FROM orders", "q", "schema")
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, exec.callCount())
}

func TestGeneratePromptsIncludeExample(t *testing.T) {
	ex := &examples.Example{Question: "How many users signed up?", SQL: "SELECT count(*) FROM users"}
	_, user := generatePrompts("How many customers signed up today?", "TABLE shop.users", ex)
	assert.True(t, strings.Contains(user, ex.Question))
	assert.True(t, strings.Contains(user, ex.SQL))
	assert.True(t, strings.Contains(user, "TABLE shop.users"))
}
