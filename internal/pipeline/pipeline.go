// ABOUTME: Staged question-to-result pipeline: classify, retrieve, load metadata,
// ABOUTME: generate, execute-with-repair, finalize. One stage event per transition,
// ABOUTME: exactly one terminal event per run.

package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/2389/askdb-gateway/internal/db"
	"github.com/2389/askdb-gateway/internal/event"
	"github.com/2389/askdb-gateway/internal/examples"
	"github.com/2389/askdb-gateway/internal/llm"
	"github.com/2389/askdb-gateway/internal/metadata"
)

// DefaultMaxResultRows caps how many rows a terminal result carries to the
// client. The true count is still reported.
const DefaultMaxResultRows = 200

// Recorder persists finished runs and newly solved question/SQL pairs.
// Implementations must be safe for concurrent use.
type Recorder interface {
	RecordRun(ctx context.Context, rec RunRecord) error
	RecordSolvedExample(ctx context.Context, ex examples.Example) error
}

// RunRecord is the persistence shape of one finished run.
type RunRecord struct {
	RunID      string
	SessionID  string
	Question   string
	SQL        string
	Status     string // "success" or the error type
	ErrorText  string
	RowCount   int
	Repairs    int
	Elapsed    time.Duration
	FinishedAt time.Time
}

// Options tune a Pipeline. Zero values take defaults.
type Options struct {
	MaxRetries    int
	MaxResultRows int
}

// Pipeline turns a natural-language question into an executed query,
// reporting progress through a Sink. All dependencies are injected; a
// Pipeline is safe for concurrent runs.
type Pipeline struct {
	classifier *Classifier
	index      *examples.Index
	catalog    *metadata.Catalog
	generator  llm.Generator
	repair     *RepairLoop
	recorder   Recorder
	maxRows    int
	logger     *slog.Logger
}

func New(classifier *Classifier, index *examples.Index, catalog *metadata.Catalog,
	generator llm.Generator, executor db.Executor, recorder Recorder,
	opts Options, logger *slog.Logger) *Pipeline {

	if opts.MaxResultRows <= 0 {
		opts.MaxResultRows = DefaultMaxResultRows
	}
	return &Pipeline{
		classifier: classifier,
		index:      index,
		catalog:    catalog,
		generator:  generator,
		repair:     NewRepairLoop(executor, generator, opts.MaxRetries, logger),
		recorder:   recorder,
		maxRows:    opts.MaxResultRows,
		logger:     logger.With("component", "pipeline"),
	}
}

// Execute runs the full pipeline for one question. Exactly one terminal
// event (final or error) reaches the sink, even on panic-free early exits;
// cancelled runs emit an error terminal. The returned error mirrors the
// terminal for the caller's logging and is nil on success.
func (p *Pipeline) Execute(ctx context.Context, sessionID, runID, question string, sink event.Sink) error {
	started := time.Now()
	log := p.logger.With("run_id", runID)

	result, runErr := p.run(ctx, sessionID, runID, question, sink, log)

	if runErr != nil {
		sink.Emit(event.Error(sessionID, runID, errorInfo(runErr)))
	} else {
		sink.Emit(event.Final(sessionID, runID, result))
	}
	p.record(sessionID, runID, question, result, runErr, time.Since(started))
	return runErr
}

func (p *Pipeline) run(ctx context.Context, sessionID, runID, question string, sink event.Sink, log *slog.Logger) (*event.Result, error) {
	sink.Emit(event.Stage(sessionID, runID, "start", "Analyzing question", 5, event.KindThinking))

	sink.Emit(event.Stage(sessionID, runID, "classify", "Checking whether this is a data question", 10, event.KindThinking))
	inDomain, confidence := p.classifier.Classify(ctx, question)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !inDomain {
		return nil, &ClassificationError{Confidence: confidence}
	}
	log.Debug("question classified in domain", "confidence", confidence)

	sink.Emit(event.Stage(sessionID, runID, "retrieve_example", "Looking for similar solved questions", 25, event.KindProgress))
	var example *examples.Example
	if ex, score, ok := p.index.FindSimilar(question); ok {
		log.Debug("using solved example", "score", score, "example", ex.Question)
		example = &ex
	}

	sink.Emit(event.Stage(sessionID, runID, "load_metadata", "Loading table schemas", 35, event.KindProgress))
	tablesInfo, err := p.catalog.TablesInfo(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &CacheRefreshError{Err: err}
	}

	sink.Emit(event.Stage(sessionID, runID, "generate_query", "Writing the query", 65, event.KindThinking))
	system, user := generatePrompts(question, tablesInfo, example)
	raw, err := p.generator.Complete(ctx, system, user)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &GenerationError{Reason: err.Error()}
	}
	query, err := extractQuery(raw)
	if err != nil {
		return nil, err
	}

	sink.Emit(event.Stage(sessionID, runID, "execute_with_repair", "Running the query", 80, event.KindProgress))
	outcome, err := p.repair.Run(ctx, query, question, tablesInfo)
	if err != nil {
		return nil, err
	}

	return p.finalize(question, outcome), nil
}

// finalize shapes the execution outcome into the terminal payload,
// truncating oversized result sets.
func (p *Pipeline) finalize(question string, outcome *RepairOutcome) *event.Result {
	rows := outcome.Result.Rows
	total := len(rows)
	truncated := false
	if total > p.maxRows {
		rows = rows[:p.maxRows]
		truncated = true
	}
	return &event.Result{
		Question:  question,
		SQL:       outcome.FinalSQL,
		Columns:   outcome.Result.Columns,
		Rows:      rows,
		RowCount:  len(rows),
		TotalRows: total,
		Truncated: truncated,
		ElapsedMS: outcome.Result.Elapsed.Milliseconds(),
		Repairs:   outcome.Attempts,
	}
}

// record persists the run outcome and, on a clean success, feeds the solved
// pair back into the example index. Persistence failures are logged, never
// surfaced to the client.
func (p *Pipeline) record(sessionID, runID, question string, result *event.Result, runErr error, elapsed time.Duration) {
	if p.recorder == nil {
		return
	}

	// The session may already be gone; give persistence its own deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rec := RunRecord{
		RunID:      runID,
		SessionID:  sessionID,
		Question:   question,
		Elapsed:    elapsed,
		FinishedAt: time.Now(),
	}
	if runErr != nil {
		info := errorInfo(runErr)
		rec.Status = info.Type
		rec.ErrorText = info.Message
		rec.Repairs = len(info.Repairs)
	} else {
		rec.Status = "success"
		rec.SQL = result.SQL
		rec.RowCount = result.TotalRows
		rec.Repairs = len(result.Repairs)
	}
	if err := p.recorder.RecordRun(ctx, rec); err != nil {
		p.logger.Warn("recording run failed", "run_id", runID, "error", err)
	}

	if runErr == nil && result.TotalRows > 0 {
		ex := examples.Example{Question: question, SQL: result.SQL}
		p.index.Add(ex)
		if err := p.recorder.RecordSolvedExample(ctx, ex); err != nil {
			p.logger.Warn("recording solved example failed", "run_id", runID, "error", err)
		}
	}
}
