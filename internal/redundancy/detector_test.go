package redundancy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lodeworks/backend/internal/storage/models"
)

func archiveEntry(hash string, embedding []float32, point *models.Point3D) models.ArchiveEntry {
	return models.ArchiveEntry{
		Hash:      hash,
		Title:     "entry " + hash,
		Embedding: embedding,
		Point:     point,
	}
}

func TestDetectEmptyArchive(t *testing.T) {
	result := Detect([]float32{1, 0, 0}, &models.Point3D{X: 1}, nil)

	assert.Zero(t, result.Percent)
	assert.NotEmpty(t, result.Note)
	assert.Empty(t, result.TopMatches)
}

func TestDetectNearDuplicate(t *testing.T) {
	vec := []float32{0.5, 0.5, 0.1, 0.9}
	point := &models.Point3D{X: 10, Y: -4, Z: 3}

	archive := []models.ArchiveEntry{
		archiveEntry("dup", vec, point),
		archiveEntry("far", []float32{-0.5, 0.2, -0.9, 0.1}, &models.Point3D{X: -80, Y: 60, Z: -40}),
	}

	result := Detect(vec, point, archive)

	require.NotEmpty(t, result.TopMatches)
	assert.Equal(t, "dup", result.TopMatches[0].Hash)
	assert.InDelta(t, 1.0, result.MaxSimilarity, 1e-9, "identical vector and point are maximally similar")
	assert.InDelta(t, 100.0, result.Percent, 1e-9)
}

func TestDetectBounds(t *testing.T) {
	archive := []models.ArchiveEntry{
		archiveEntry("a", []float32{1, 0, 0}, &models.Point3D{X: 1}),
		archiveEntry("b", []float32{-1, 0, 0}, &models.Point3D{X: 500}),
	}

	// Opposed embedding: cosine is -1, combined similarity clamps at 0.
	result := Detect([]float32{-1, 0, 0}, &models.Point3D{X: -500}, archive)

	assert.GreaterOrEqual(t, result.Percent, 0.0)
	assert.LessOrEqual(t, result.Percent, 100.0)
	assert.GreaterOrEqual(t, result.MaxSimilarity, 0.0)
	assert.LessOrEqual(t, result.MaxSimilarity, 1.0)
}

func TestDetectTopMatchesCapped(t *testing.T) {
	vec := []float32{1, 0}
	archive := []models.ArchiveEntry{
		archiveEntry("a", []float32{1, 0}, nil),
		archiveEntry("b", []float32{0.9, 0.1}, nil),
		archiveEntry("c", []float32{0.5, 0.5}, nil),
		archiveEntry("d", []float32{0, 1}, nil),
	}

	result := Detect(vec, nil, archive)

	assert.Len(t, result.TopMatches, 3)
	assert.Equal(t, "a", result.TopMatches[0].Hash)
}

func TestDetectDimensionMismatchFallsBackToSpatial(t *testing.T) {
	// Provider vector (4 dims) against a fallback-sized archive vector
	// (3 dims): the embedding signal is absent and only the spatial
	// comparison contributes.
	point := &models.Point3D{X: 5, Y: 5, Z: 5}
	archive := []models.ArchiveEntry{
		archiveEntry("mismatch", []float32{1, 0, 0}, point),
	}

	result := Detect([]float32{1, 0, 0, 0}, point, archive)

	assert.InDelta(t, 1.0, result.MaxSimilarity, 1e-9, "identical points alone still give full similarity")
}

func TestDetectAllSignalsAbsent(t *testing.T) {
	archive := []models.ArchiveEntry{
		archiveEntry("bare", nil, nil),
	}

	result := Detect(nil, nil, archive)

	assert.Zero(t, result.MaxSimilarity)
	assert.Zero(t, result.Percent)
}

func TestSimilarityToPercentBands(t *testing.T) {
	cases := []struct {
		sim  float64
		want float64
	}{
		{0.0, 0},
		{0.15, 12.5},
		{0.3, 25},
		{0.45, 37.5},
		{0.6, 50},
		{0.7, 62.5},
		{0.8, 75},
		{0.9, 87.5},
		{1.0, 100},
	}

	for _, tc := range cases {
		assert.InDelta(t, tc.want, similarityToPercent(tc.sim), 1e-9, "sim=%.2f", tc.sim)
	}
}

func TestSimilarityToPercentContinuous(t *testing.T) {
	// The mapping must not jump at band boundaries.
	for _, boundary := range []float64{0.3, 0.6, 0.8} {
		below := similarityToPercent(boundary - 1e-9)
		at := similarityToPercent(boundary)
		assert.InDelta(t, at, below, 1e-6, "discontinuity at %.1f", boundary)
	}
}

func TestSpatialSimilarityDecay(t *testing.T) {
	origin := &models.Point3D{}

	near, ok := spatialSimilarity(origin, &models.Point3D{X: 1})
	require.True(t, ok)
	far, ok := spatialSimilarity(origin, &models.Point3D{X: 100})
	require.True(t, ok)

	assert.Greater(t, near, far)
	assert.Greater(t, far, 0.0)
}
