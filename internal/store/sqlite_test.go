// ABOUTME: Store tests against in-memory SQLite covering runs, examples, and keys.

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/askdb-gateway/internal/examples"
	"github.com/2389/askdb-gateway/internal/pipeline"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndListRuns(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	recs := []pipeline.RunRecord{
		{
			RunID: "run-1", SessionID: "sess-1",
			Question: "How many orders yesterday?",
			SQL:      "SELECT count(*) FROM orders",
			Status:   "success", RowCount: 1,
			Elapsed: 40 * time.Millisecond, FinishedAt: time.Now().Add(-time.Minute),
		},
		{
			RunID: "run-2", SessionID: "sess-1",
			Question:  "SHOW TABLES",
			Status:    "not_business_query",
			ErrorText: "question is not a data query",
			FinishedAt: time.Now(),
		},
	}
	for _, rec := range recs {
		require.NoError(t, s.RecordRun(ctx, rec))
	}

	got, err := s.RecentRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "run-2", got[0].RunID, "newest first")
	assert.Equal(t, "not_business_query", got[0].Status)
	assert.Equal(t, "run-1", got[1].RunID)
	assert.Equal(t, 40*time.Millisecond, got[1].Elapsed)
}

func TestRecentRunsHonorsLimit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.RecordRun(ctx, pipeline.RunRecord{
			RunID: string(rune('a' + i)), SessionID: "s",
			Question: "q", Status: "success",
			FinishedAt: time.Now().Add(time.Duration(i) * time.Second),
		}))
	}

	got, err := s.RecentRuns(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestSolvedExampleUpsert(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ex := examples.Example{Question: "Total revenue?", SQL: "SELECT sum(amount) FROM orders"}
	require.NoError(t, s.RecordSolvedExample(ctx, ex))

	// Re-solving the same question replaces the stored query.
	ex.SQL = "SELECT sum(total) FROM orders"
	require.NoError(t, s.RecordSolvedExample(ctx, ex))

	loaded, err := s.LoadExamples(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "SELECT sum(total) FROM orders", loaded[0].SQL)
}

func TestAPIKeyLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	key := APIKey{
		ID: "key-1", Name: "reporting-bot",
		KeyHash: "$2a$10$fakehash", CreatedAt: time.Now(),
	}
	require.NoError(t, s.SaveAPIKey(ctx, key))

	got, err := s.APIKeyByName(ctx, "reporting-bot")
	require.NoError(t, err)
	assert.Equal(t, "key-1", got.ID)
	assert.Nil(t, got.LastUsedAt)

	require.NoError(t, s.TouchAPIKey(ctx, "key-1"))
	got, err = s.APIKeyByName(ctx, "reporting-bot")
	require.NoError(t, err)
	assert.NotNil(t, got.LastUsedAt)

	keys, err := s.ListAPIKeys(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, 1)

	require.NoError(t, s.DeleteAPIKey(ctx, "reporting-bot"))
	_, err = s.APIKeyByName(ctx, "reporting-bot")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeleteAPIKey(ctx, "reporting-bot"), ErrNotFound)
}

func TestDuplicateKeyNameRejected(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	key := APIKey{ID: "key-1", Name: "bot", KeyHash: "h", CreatedAt: time.Now()}
	require.NoError(t, s.SaveAPIKey(ctx, key))
	key.ID = "key-2"
	assert.Error(t, s.SaveAPIKey(ctx, key))
}
