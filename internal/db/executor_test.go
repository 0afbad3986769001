// ABOUTME: Tests for SQLExecutor row scanning over a real database/sql handle.
// ABOUTME: Uses an in-memory SQLite database standing in for the warehouse.

package db

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	handle, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	handle.SetMaxOpenConns(1)
	t.Cleanup(func() { handle.Close() })

	_, err = handle.Exec(`CREATE TABLE orders (id INTEGER PRIMARY KEY, customer TEXT, amount REAL)`)
	require.NoError(t, err)
	_, err = handle.Exec(`INSERT INTO orders (customer, amount) VALUES ('ada', 12.5), ('grace', 99.0)`)
	require.NoError(t, err)
	return handle
}

func TestSQLExecutorScansRows(t *testing.T) {
	exec := NewSQLExecutor(openTestDB(t), 0)

	res, err := exec.Run(context.Background(), "SELECT id, customer, amount FROM orders ORDER BY id")
	require.NoError(t, err)

	assert.Equal(t, []string{"id", "customer", "amount"}, res.Columns)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, "ada", res.Rows[0]["customer"])
	assert.Equal(t, "grace", res.Rows[1]["customer"])
	assert.GreaterOrEqual(t, res.Elapsed.Nanoseconds(), int64(0))
}

func TestSQLExecutorEmptyResult(t *testing.T) {
	exec := NewSQLExecutor(openTestDB(t), 0)

	res, err := exec.Run(context.Background(), "SELECT customer FROM orders WHERE amount > 1000")
	require.NoError(t, err)
	assert.Equal(t, []string{"customer"}, res.Columns)
	assert.Empty(t, res.Rows)
}

func TestSQLExecutorQueryError(t *testing.T) {
	exec := NewSQLExecutor(openTestDB(t), 0)

	_, err := exec.Run(context.Background(), "SELECT nope FROM missing_table")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "executing query")
}

func TestSQLExecutorEnforcesQueryTimeout(t *testing.T) {
	exec := NewSQLExecutor(openTestDB(t), time.Nanosecond)

	// The deadline is long expired by the time the driver sees the query;
	// a hung warehouse query must not outlive the configured bound.
	_, err := exec.Run(context.Background(), "SELECT id FROM orders")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSQLExecutorHonorsContext(t *testing.T) {
	exec := NewSQLExecutor(openTestDB(t), 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := exec.Run(ctx, "SELECT id FROM orders")
	assert.Error(t, err)
}
