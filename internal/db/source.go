// ABOUTME: information_schema-backed MetadataSource for MySQL-protocol warehouses.
// ABOUTME: Produces a textual schema blob (columns, comments) per table.

package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// InfoSchemaSource implements MetadataSource by querying information_schema.
type InfoSchemaSource struct {
	db *sql.DB
}

// NewInfoSchemaSource wraps an open database handle.
func NewInfoSchemaSource(db *sql.DB) *InfoSchemaSource {
	return &InfoSchemaSource{db: db}
}

// Tables lists the base tables of a database.
func (s *InfoSchemaSource) Tables(ctx context.Context, database string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT table_name FROM information_schema.tables
		 WHERE table_schema = ? AND table_type = 'BASE TABLE'
		 ORDER BY table_name`, database)
	if err != nil {
		return nil, fmt.Errorf("listing tables for %s: %w", database, err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning table name: %w", err)
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// Schema renders a table's columns, types, and comments as a text blob for
// prompt grounding.
func (s *InfoSchemaSource) Schema(ctx context.Context, database, table string) (string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT column_name, column_type, is_nullable, column_comment
		 FROM information_schema.columns
		 WHERE table_schema = ? AND table_name = ?
		 ORDER BY ordinal_position`, database, table)
	if err != nil {
		return "", fmt.Errorf("describing %s.%s: %w", database, table, err)
	}
	defer rows.Close()

	var b strings.Builder
	fmt.Fprintf(&b, "TABLE %s.%s\n", database, table)
	for rows.Next() {
		var name, colType, nullable string
		var comment sql.NullString
		if err := rows.Scan(&name, &colType, &nullable, &comment); err != nil {
			return "", fmt.Errorf("scanning column: %w", err)
		}
		fmt.Fprintf(&b, "  %s %s", name, colType)
		if nullable == "NO" {
			b.WriteString(" NOT NULL")
		}
		if comment.Valid && comment.String != "" {
			fmt.Fprintf(&b, " -- %s", comment.String)
		}
		b.WriteString("\n")
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	return b.String(), nil
}

// LastModified returns the table's update timestamp, falling back to the
// creation time when the engine does not track updates.
func (s *InfoSchemaSource) LastModified(ctx context.Context, database, table string) (time.Time, error) {
	var updated, created sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT update_time, create_time FROM information_schema.tables
		 WHERE table_schema = ? AND table_name = ?`, database, table).
		Scan(&updated, &created)
	if err != nil {
		return time.Time{}, fmt.Errorf("reading last-modified for %s.%s: %w", database, table, err)
	}
	if updated.Valid {
		return updated.Time, nil
	}
	if created.Valid {
		return created.Time, nil
	}
	return time.Time{}, nil
}
