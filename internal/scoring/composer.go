package scoring

import (
	"math"

	"go.uber.org/zap"

	"github.com/lodeworks/backend/pkg/logger"
)

const (
	MaxDimensionScore = 2500
	MaxComposite      = 10000

	// Redundancy in [9.2, 19.2] signals beneficial overlap with prior
	// work and is rewarded instead of penalized.
	SweetSpotLow    = 9.2
	SweetSpotHigh   = 19.2
	SweetSpotCenter = 14.2

	// Penalty ramp: zero at 30%, maximum at 98%+ (near-duplicate).
	PenaltyStart      = 30.0
	PenaltyCeiling    = 98.0
	MaxPenaltyPercent = 95.0
)

// Policy owns the qualification thresholds. The composer only ever
// consults it with the unpenalized composite score.
type Policy interface {
	QualifyEpoch(score int) int
	IsQualifiedForEpoch(score, density int) bool
	IsEpochOpen(epoch int) bool
}

type Result struct {
	Composite        int
	Final            int
	QualifiedEpoch   int
	TierBonusApplied bool
	PenaltyPercent   float64
}

type Composer struct {
	policy Policy
}

func NewComposer(policy Policy) *Composer {
	return &Composer{policy: policy}
}

// Compose combines the four dimension scores into a composite, applies
// the redundancy bonus/penalty curve to produce the final score, and
// selects the qualification epoch from the unpenalized composite. The
// dimension scores themselves are never modified.
func (c *Composer) Compose(novelty, density, coherence, alignment int, redundancyPercent float64) Result {
	composite := clampDimension(novelty) + clampDimension(density) +
		clampDimension(coherence) + clampDimension(alignment)

	result := Result{
		Composite:      composite,
		Final:          composite,
		QualifiedEpoch: c.policy.QualifyEpoch(composite),
	}

	switch {
	case redundancyPercent >= SweetSpotLow && redundancyPercent <= SweetSpotHigh:
		result.Final = int(math.Round(float64(composite) * (1 + redundancyPercent/100)))
		result.TierBonusApplied = true

	case redundancyPercent >= PenaltyStart:
		penalty := penaltyPercent(redundancyPercent)
		result.PenaltyPercent = penalty
		result.Final = int(math.Round(float64(composite) * (1 - penalty/100)))
	}

	logger.Debug("Score composed",
		zap.Int("composite", result.Composite),
		zap.Int("final", result.Final),
		zap.Float64("redundancy", redundancyPercent),
		zap.Bool("bonus", result.TierBonusApplied),
	)

	return result
}

// penaltyPercent ramps quadratically: gentle just past 30% redundancy,
// steep approaching the 98% near-duplicate ceiling.
func penaltyPercent(redundancy float64) float64 {
	if redundancy < PenaltyStart {
		return 0
	}
	if redundancy >= PenaltyCeiling {
		return MaxPenaltyPercent
	}

	fraction := (redundancy - PenaltyStart) / (PenaltyCeiling - PenaltyStart)
	return MaxPenaltyPercent * fraction * fraction
}

// ScoreFraction converts a final score into the allocation fraction,
// capped at 1 because the sweet-spot bonus can push past MaxComposite.
func ScoreFraction(final int) float64 {
	if final <= 0 {
		return 0
	}
	fraction := float64(final) / float64(MaxComposite)
	if fraction > 1 {
		return 1
	}
	return fraction
}

func clampDimension(score int) int {
	if score < 0 {
		return 0
	}
	if score > MaxDimensionScore {
		return MaxDimensionScore
	}
	return score
}
