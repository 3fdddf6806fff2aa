package scoring

// LadderPolicy qualifies submissions against a fixed threshold ladder:
// thresholds[0] is the bar for epoch 1, thresholds[1] for epoch 2, and
// so on. A score below every rung does not qualify (epoch 0).
type LadderPolicy struct {
	thresholds   []int
	minDensity   int
	currentEpoch func() int
}

func NewLadderPolicy(thresholds []int, minDensity int, currentEpoch func() int) *LadderPolicy {
	return &LadderPolicy{
		thresholds:   thresholds,
		minDensity:   minDensity,
		currentEpoch: currentEpoch,
	}
}

func (p *LadderPolicy) QualifyEpoch(score int) int {
	for i, threshold := range p.thresholds {
		if score >= threshold {
			return i + 1
		}
	}
	return 0
}

func (p *LadderPolicy) IsQualifiedForEpoch(score, density int) bool {
	if p.QualifyEpoch(score) == 0 {
		return false
	}
	return density >= p.minDensity
}

// IsEpochOpen reports whether an epoch is at or ahead of the global
// pointer. Qualification itself is independent of openness.
func (p *LadderPolicy) IsEpochOpen(epoch int) bool {
	if p.currentEpoch == nil {
		return true
	}
	return epoch >= p.currentEpoch()
}
