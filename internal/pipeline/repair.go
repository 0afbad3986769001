// ABOUTME: Bounded execute-and-repair loop for generated queries.
// ABOUTME: Each failure becomes a recorded attempt; the budget is total executions.

package pipeline

import (
	"context"
	"log/slog"
	"strings"

	"github.com/2389/askdb-gateway/internal/db"
	"github.com/2389/askdb-gateway/internal/event"
	"github.com/2389/askdb-gateway/internal/llm"
)

// DefaultMaxRetries bounds how many times a query may be executed before the
// run fails with the full attempt history.
const DefaultMaxRetries = 3

// RepairOutcome is a successful execution plus the attempts it took to get
// there. FinalSQL differs from the generated query when repairs fired.
type RepairOutcome struct {
	Result   *db.Result
	FinalSQL string
	Attempts []event.RepairAttempt
}

// RepairLoop drives execution of a generated query, asking the model to
// correct it after each failure. It is stateless across runs.
type RepairLoop struct {
	executor   db.Executor
	generator  llm.Generator
	maxRetries int
	logger     *slog.Logger
}

func NewRepairLoop(executor db.Executor, generator llm.Generator, maxRetries int, logger *slog.Logger) *RepairLoop {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &RepairLoop{
		executor:   executor,
		generator:  generator,
		maxRetries: maxRetries,
		logger:     logger.With("component", "repair-loop"),
	}
}

// Run executes the query, repairing it after each failure until it succeeds
// or the retry budget is spent. Attempts are recorded in order with
// contiguous indexes from zero. The returned error is a *RepairExhaustedError
// when the budget runs out, or the context error when cancelled.
func (r *RepairLoop) Run(ctx context.Context, query, question, tablesInfo string) (*RepairOutcome, error) {
	var attempts []event.RepairAttempt

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		result, err := r.executor.Run(ctx, query)
		if err == nil {
			return &RepairOutcome{Result: result, FinalSQL: query, Attempts: attempts}, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		attempt := event.RepairAttempt{
			Index:      len(attempts),
			FailingSQL: query,
			ErrorText:  err.Error(),
		}
		r.logger.Warn("query execution failed",
			"attempt", attempt.Index, "error", err)

		if len(attempts)+1 >= r.maxRetries {
			attempts = append(attempts, attempt)
			return nil, &RepairExhaustedError{Attempts: attempts}
		}

		repaired, fixErr := r.repair(ctx, query, question, tablesInfo, err.Error())
		if fixErr != nil || strings.TrimSpace(repaired) == "" || repaired == query {
			// No usable correction; burning more executions on the same
			// statement would not change the outcome.
			if fixErr != nil {
				r.logger.Warn("repair generation failed", "error", fixErr)
			}
			attempts = append(attempts, attempt)
			return nil, &RepairExhaustedError{Attempts: attempts}
		}

		attempt.RepairedSQL = repaired
		attempts = append(attempts, attempt)
		query = repaired
	}
}

func (r *RepairLoop) repair(ctx context.Context, failingSQL, question, tablesInfo, errorText string) (string, error) {
	system, user := repairPrompts(question, tablesInfo, failingSQL, errorText)
	raw, err := r.generator.Complete(ctx, system, user)
	if err != nil {
		return "", err
	}
	return extractQuery(raw)
}
