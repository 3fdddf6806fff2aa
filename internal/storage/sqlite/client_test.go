package sqlite

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lodeworks/backend/internal/storage/models"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()

	c, err := NewClient(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	require.NoError(t, c.InitSchema())

	return c
}

func TestSubmissionLifecycle(t *testing.T) {
	c := newTestClient(t)
	now := time.Now()

	sub := &models.Submission{
		Hash:        "abc123",
		Title:       "test submission",
		Contributor: "alice",
		RawText:     "body",
		WordCount:   1,
		Status:      models.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, c.InsertSubmission(sub))

	// Re-insert of the same hash is a silent no-op.
	require.NoError(t, c.InsertSubmission(sub))

	require.NoError(t, c.UpdateSubmissionStatus("abc123", models.StatusEvaluating, ""))

	sub.Status = models.StatusQualified
	sub.Novelty = 2000
	sub.Density = 2100
	sub.Coherence = 2050
	sub.Alignment = 2050
	sub.Composite = 8200
	sub.Final = 8200
	sub.RedundancyPercent = 4.5
	sub.QualifiedEpoch = 1
	sub.MetalWeights = map[models.Metal]float64{models.MetalGold: 0.5}
	sub.Embedding = []float32{0.1, -0.2, 0.3}
	sub.EmbeddingModel = "local-hash-v1"
	sub.EmbeddingSource = "fallback"
	sub.Point = &models.Point3D{X: 80, Y: 84, Z: 82}
	require.NoError(t, c.SaveEvaluation(sub))

	got, err := c.GetSubmission("abc123")
	require.NoError(t, err)
	assert.Equal(t, models.StatusQualified, got.Status)
	assert.Equal(t, 8200, got.Composite)
	assert.Equal(t, 4.5, got.RedundancyPercent)
	assert.Equal(t, map[models.Metal]float64{models.MetalGold: 0.5}, got.MetalWeights)
	assert.Equal(t, []float32{0.1, -0.2, 0.3}, got.Embedding)
	require.NotNil(t, got.Point)
	assert.Equal(t, 80.0, got.Point.X)
}

func TestGetSubmissionNotFound(t *testing.T) {
	c := newTestClient(t)

	_, err := c.GetSubmission("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestArchiveEntries(t *testing.T) {
	c := newTestClient(t)

	for _, hash := range []string{"h1", "h2", "h3"} {
		require.NoError(t, c.InsertArchiveEntry(&models.ArchiveEntry{
			Hash:      hash,
			Title:     "entry " + hash,
			Embedding: []float32{1, 2},
			Point:     &models.Point3D{X: 1},
			CreatedAt: time.Now(),
		}))
	}

	all, err := c.ListArchiveEntries()
	require.NoError(t, err)
	assert.Len(t, all, 3)

	some, err := c.GetArchiveEntriesByHashes([]string{"h1", "h3", "h9"})
	require.NoError(t, err)
	assert.Len(t, some, 2)

	none, err := c.GetArchiveEntriesByHashes(nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSeedPoolsIdempotent(t *testing.T) {
	c := newTestClient(t)
	balances := map[models.Metal]int64{models.MetalGold: 500}

	require.NoError(t, c.SeedPools(2, balances))

	pool, err := c.FindPoolWithBalance(models.MetalGold, 1)
	require.NoError(t, err)
	_, _, err = c.DebitPool(pool.ID, 100)
	require.NoError(t, err)

	// Re-seeding must not reset drained balances or the pointer.
	require.NoError(t, c.SeedPools(2, balances))

	pool, err = c.FindPoolWithBalance(models.MetalGold, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(400), pool.Balance)
}

func TestRebuildAggregateFromLedger(t *testing.T) {
	c := newTestClient(t)

	for i, amount := range []int64{100, 250} {
		_, err := c.InsertAllocation(&models.Allocation{
			SubmissionHash: "hash-r",
			Metal:          models.MetalSilver,
			Epoch:          1,
			Amount:         amount,
			BalanceBefore:  1000 - int64(i)*100,
			BalanceAfter:   900 - int64(i)*100,
			CreatedAt:      time.Now(),
		})
		require.NoError(t, err)
	}

	require.NoError(t, c.RebuildAggregate())

	agg, err := c.GetAggregate()
	require.NoError(t, err)
	assert.Equal(t, int64(350), agg.TotalAllocated)
	assert.Equal(t, int64(2), agg.AllocationCount)
	assert.Equal(t, int64(350), agg.PerMetal[models.MetalSilver])
}
