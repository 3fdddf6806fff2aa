package vector

import (
	"github.com/lodeworks/backend/internal/storage/models"
)

// ProjectionScale bounds each axis of the similarity space.
const ProjectionScale = 100.0

const maxDimensionScore = 2500.0

// DimensionScores carries the three evaluation dimensions that drive
// the score-based projection path.
type DimensionScores struct {
	Novelty   int
	Density   int
	Coherence int
}

// Project maps a submission into the shared 3D similarity space. When
// dimension scores are available the position is evaluation-driven; an
// unscored submission is positioned from three regions of its embedding
// so a point is always computable.
func Project(embedding []float32, scores *DimensionScores) models.Point3D {
	if scores != nil {
		return models.Point3D{
			X: float64(scores.Novelty) / maxDimensionScore * ProjectionScale,
			Y: float64(scores.Density) / maxDimensionScore * ProjectionScale,
			Z: float64(scores.Coherence) / maxDimensionScore * ProjectionScale,
		}
	}

	return projectEmbedding(embedding)
}

func projectEmbedding(embedding []float32) models.Point3D {
	if len(embedding) < 3 {
		return models.Point3D{}
	}

	min, max := embedding[0], embedding[0]
	for _, v := range embedding {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}

	third := len(embedding) / 3
	regions := [3][]float32{
		embedding[:third],
		embedding[third : 2*third],
		embedding[2*third:],
	}

	var coords [3]float64
	for i, region := range regions {
		var sum float64
		for _, v := range region {
			sum += float64(v)
		}
		mean := sum / float64(len(region))

		// min/max-normalize the region mean into [-1, 1], then scale.
		normalized := 0.0
		if max > min {
			normalized = 2*(mean-float64(min))/float64(max-min) - 1
		}
		coords[i] = normalized * ProjectionScale
	}

	return models.Point3D{X: coords[0], Y: coords[1], Z: coords[2]}
}
