// ABOUTME: Tests for the solved-example index: similarity scoring and lookup threshold.
// ABOUTME: Includes YAML file loading and concurrent-growth behavior.

package examples

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimilarityIdenticalText(t *testing.T) {
	score := Similarity("how many orders last week", "How many orders last week")
	assert.InDelta(t, 1.0, score, 0.001)
}

func TestSimilarityEmptyText(t *testing.T) {
	assert.Zero(t, Similarity("", "anything"))
	assert.Zero(t, Similarity("anything", ""))
}

func TestSimilarityUnrelatedText(t *testing.T) {
	score := Similarity("top products by revenue", "weather forecast for zurich")
	assert.Less(t, score, 0.5)
}

func TestSimilarityContainment(t *testing.T) {
	full := Similarity("daily order count", "show the daily order count per region")
	unrelated := Similarity("daily order count", "customer churn by cohort")
	assert.Greater(t, full, unrelated)
	assert.Greater(t, full, 0.5, "contained questions score at least the containment weight")
}

func TestFindSimilarMatchesNearDuplicate(t *testing.T) {
	ix := NewIndex(0)
	ix.Add(Example{
		Question: "How many users signed up last week?",
		SQL:      "SELECT COUNT(*) FROM users WHERE signup_date >= DATE_SUB(CURRENT_DATE(), INTERVAL 7 DAY)",
	})

	got, score, ok := ix.FindSimilar("How many users signed up last week?")
	require.True(t, ok)
	assert.Greater(t, score, DefaultThreshold)
	assert.Contains(t, got.SQL, "FROM users")
}

func TestFindSimilarBelowThreshold(t *testing.T) {
	ix := NewIndex(0)

	_, score, ok := ix.FindSimilar("completely unrelated astrophysics question about pulsars")
	assert.False(t, ok)
	assert.LessOrEqual(t, score, DefaultThreshold)
}

func TestNewIndexSeedsBuiltins(t *testing.T) {
	ix := NewIndex(0)
	assert.Equal(t, len(builtinSamples()), ix.Len())
}

func TestLoadFileMergesExamples(t *testing.T) {
	path := filepath.Join(t.TempDir(), "examples.yaml")
	content := `
- question: "Which store had the highest revenue yesterday?"
  sql: "SELECT store_id, SUM(amount) AS revenue FROM orders WHERE order_date = DATE_SUB(CURRENT_DATE(), INTERVAL 1 DAY) GROUP BY store_id ORDER BY revenue DESC LIMIT 1"
  tables: [orders]
- question: "How many refunds were issued this month?"
  sql: "SELECT COUNT(*) FROM refunds WHERE refund_date >= DATE_FORMAT(CURRENT_DATE(), '%Y-%m-01')"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	ix := NewIndex(0)
	before := ix.Len()
	require.NoError(t, ix.LoadFile(path))
	assert.Equal(t, before+2, ix.Len())

	got, _, ok := ix.FindSimilar("Which store had the highest revenue yesterday?")
	require.True(t, ok)
	assert.Equal(t, []string{"orders"}, got.Tables)
}

func TestLoadFileMissing(t *testing.T) {
	ix := NewIndex(0)
	assert.Error(t, ix.LoadFile(filepath.Join(t.TempDir(), "nope.yaml")))
}

func TestLoadFileMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("question: [unbalanced"), 0o644))

	ix := NewIndex(0)
	assert.Error(t, ix.LoadFile(path))
}

func TestConcurrentAddAndLookup(t *testing.T) {
	ix := NewIndex(0)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ix.Add(Example{Question: "total sales by region", SQL: "SELECT region, SUM(amount) FROM orders GROUP BY region"})
			ix.FindSimilar("total sales by region")
		}()
	}
	wg.Wait()

	assert.Equal(t, len(builtinSamples())+8, ix.Len())
}
