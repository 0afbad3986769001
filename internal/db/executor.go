// ABOUTME: Executor and MetadataSource collaborator interfaces plus database/sql implementations.
// ABOUTME: The wire driver stays external; any registered database/sql driver plugs in.

package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Result holds the outcome of one successful query execution.
type Result struct {
	Columns []string
	Rows    []map[string]any
	Elapsed time.Duration
}

// Executor runs one query against the analytics database. Errors carry a
// human-readable message suitable for feeding back to the generator.
type Executor interface {
	Run(ctx context.Context, queryText string) (*Result, error)
}

// MetadataSource exposes schema information for grounding query generation.
type MetadataSource interface {
	Tables(ctx context.Context, database string) ([]string, error)
	Schema(ctx context.Context, database, table string) (string, error)
	LastModified(ctx context.Context, database, table string) (time.Time, error)
}

// SQLExecutor implements Executor over a database/sql handle.
type SQLExecutor struct {
	db      *sql.DB
	timeout time.Duration
}

// NewSQLExecutor wraps an open database handle. A positive timeout bounds
// each query; zero leaves the caller's context deadline in charge.
func NewSQLExecutor(db *sql.DB, timeout time.Duration) *SQLExecutor {
	return &SQLExecutor{db: db, timeout: timeout}
}

// Run executes the query and scans all rows into maps keyed by column name.
func (e *SQLExecutor) Run(ctx context.Context, queryText string) (*Result, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	start := time.Now()

	rows, err := e.db.QueryContext(ctx, queryText)
	if err != nil {
		return nil, fmt.Errorf("executing query: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("reading columns: %w", err)
	}

	var out []map[string]any
	values := make([]any, len(columns))
	scanTargets := make([]any, len(columns))
	for i := range values {
		scanTargets[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = normalizeValue(values[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}

	return &Result{
		Columns: columns,
		Rows:    out,
		Elapsed: time.Since(start),
	}, nil
}

// normalizeValue converts driver byte slices to strings so results serialize
// as text rather than base64.
func normalizeValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
