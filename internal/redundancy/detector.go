package redundancy

import (
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/lodeworks/backend/internal/storage/models"
	"github.com/lodeworks/backend/pkg/logger"
)

const (
	embeddingWeight = 0.7
	spatialWeight   = 0.3

	// spatialScaleFactor controls how fast point-distance similarity
	// decays: sim = exp(-distance/50).
	spatialScaleFactor = 50.0

	topMatchCount = 3
)

type Match struct {
	Hash       string
	Title      string
	Similarity float64
}

type Result struct {
	Percent       float64
	MaxSimilarity float64
	TopMatches    []Match
	Note          string
}

// similarityBands maps combined similarity onto a redundancy percentage
// through four linear segments, continuous at every boundary.
var similarityBands = []struct {
	simLow, simHigh float64
	pctLow, pctHigh float64
}{
	{0.0, 0.3, 0, 25},
	{0.3, 0.6, 25, 50},
	{0.6, 0.8, 50, 75},
	{0.8, 1.0, 75, 100},
}

// Detect compares a new submission against the archive and returns a
// bounded redundancy percentage with the ranked nearest neighbors. It
// never fails the caller: degraded signals fall back to whatever
// comparison remains possible.
func Detect(newVector []float32, newPoint *models.Point3D, archive []models.ArchiveEntry) Result {
	if len(archive) == 0 {
		return Result{
			Percent: 0,
			Note:    "first submission: archive is empty, nothing to compare against",
		}
	}

	matches := make([]Match, 0, len(archive))
	for _, entry := range archive {
		sim := combinedSimilarity(newVector, newPoint, &entry)
		matches = append(matches, Match{
			Hash:       entry.Hash,
			Title:      entry.Title,
			Similarity: sim,
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})

	maxSim := matches[0].Similarity
	if len(matches) > topMatchCount {
		matches = matches[:topMatchCount]
	}

	percent := similarityToPercent(maxSim)

	logger.Debug("Redundancy detected",
		zap.Float64("max_similarity", maxSim),
		zap.Float64("percent", percent),
		zap.Int("archive_size", len(archive)),
	)

	return Result{
		Percent:       percent,
		MaxSimilarity: maxSim,
		TopMatches:    matches,
	}
}

func combinedSimilarity(newVector []float32, newPoint *models.Point3D, entry *models.ArchiveEntry) float64 {
	embSim, embOK := embeddingSimilarity(newVector, entry.Embedding)
	spatSim, spatOK := spatialSimilarity(newPoint, entry.Point)

	var sim float64
	switch {
	case embOK && spatOK:
		sim = embeddingWeight*embSim + spatialWeight*spatSim
	case embOK:
		sim = embSim
	case spatOK:
		sim = spatSim
	default:
		return 0
	}

	return clamp01(sim)
}

func embeddingSimilarity(a, b []float32) (float64, bool) {
	// Dimension mismatch (e.g. provider vs fallback vectors) degrades
	// this signal to absent rather than poisoning the comparison.
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0, false
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0, false
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB)), true
}

func spatialSimilarity(a, b *models.Point3D) (float64, bool) {
	if a == nil || b == nil {
		return 0, false
	}

	dx := a.X - b.X
	dy := a.Y - b.Y
	dz := a.Z - b.Z
	distance := math.Sqrt(dx*dx + dy*dy + dz*dz)

	return math.Exp(-distance / spatialScaleFactor), true
}

func similarityToPercent(sim float64) float64 {
	sim = clamp01(sim)

	for _, band := range similarityBands {
		if sim <= band.simHigh {
			fraction := (sim - band.simLow) / (band.simHigh - band.simLow)
			return band.pctLow + fraction*(band.pctHigh-band.pctLow)
		}
	}

	return 100
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
