// ABOUTME: SQLite persistence for query runs, solved examples, and API keys
// ABOUTME: using modernc.org/sqlite with automatic schema creation.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/2389/askdb-gateway/internal/examples"
	"github.com/2389/askdb-gateway/internal/pipeline"
)

// ErrNotFound is returned when a lookup matches nothing.
var ErrNotFound = errors.New("not found")

// Store persists gateway state in SQLite. Safe for concurrent use; the
// database handle serializes writers.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates a store at the given path, creating parent directories and
// the schema as needed. Use ":memory:" for an ephemeral store.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "store")

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite allows one writer; a single pooled connection avoids lock
	// contention and keeps ":memory:" databases from fragmenting per
	// connection.
	db.SetMaxOpenConns(1)

	// WAL mode for concurrent readers alongside the writer.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("store initialized", "path", path)
	return s, nil
}

func (s *Store) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS query_runs (
			run_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			question TEXT NOT NULL,
			sql_text TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			error_text TEXT NOT NULL DEFAULT '',
			row_count INTEGER NOT NULL DEFAULT 0,
			repairs INTEGER NOT NULL DEFAULT 0,
			elapsed_ms INTEGER NOT NULL DEFAULT 0,
			finished_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_query_runs_finished
			ON query_runs(finished_at);

		CREATE TABLE IF NOT EXISTS qa_examples (
			question TEXT PRIMARY KEY,
			sql_text TEXT NOT NULL,
			explanation TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS api_keys (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			key_hash TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			last_used_at DATETIME
		);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordRun persists one finished run.
func (s *Store) RecordRun(ctx context.Context, rec pipeline.RunRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO query_runs
			(run_id, session_id, question, sql_text, status, error_text,
			 row_count, repairs, elapsed_ms, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.SessionID, rec.Question, rec.SQL, rec.Status,
		rec.ErrorText, rec.RowCount, rec.Repairs, rec.Elapsed.Milliseconds(),
		rec.FinishedAt.UTC())
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}
	return nil
}

// RecordSolvedExample upserts a solved question/SQL pair. Re-solving a
// question replaces its stored query.
func (s *Store) RecordSolvedExample(ctx context.Context, ex examples.Example) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO qa_examples (question, sql_text, explanation, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(question) DO UPDATE SET
			sql_text = excluded.sql_text,
			explanation = excluded.explanation`,
		ex.Question, ex.SQL, ex.Explanation, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upserting example: %w", err)
	}
	return nil
}

// LoadExamples returns every stored solved example, oldest first, for
// seeding the in-memory index at startup.
func (s *Store) LoadExamples(ctx context.Context) ([]examples.Example, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT question, sql_text, explanation
		FROM qa_examples ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("loading examples: %w", err)
	}
	defer rows.Close()

	var out []examples.Example
	for rows.Next() {
		var ex examples.Example
		if err := rows.Scan(&ex.Question, &ex.SQL, &ex.Explanation); err != nil {
			return nil, fmt.Errorf("scanning example: %w", err)
		}
		out = append(out, ex)
	}
	return out, rows.Err()
}

// RecentRuns returns the most recently finished runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]pipeline.RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, session_id, question, sql_text, status, error_text,
		       row_count, repairs, elapsed_ms, finished_at
		FROM query_runs ORDER BY finished_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var out []pipeline.RunRecord
	for rows.Next() {
		var rec pipeline.RunRecord
		var elapsedMS int64
		if err := rows.Scan(&rec.RunID, &rec.SessionID, &rec.Question,
			&rec.SQL, &rec.Status, &rec.ErrorText, &rec.RowCount,
			&rec.Repairs, &elapsedMS, &rec.FinishedAt); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		rec.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		out = append(out, rec)
	}
	return out, rows.Err()
}
