package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lodeworks/backend/internal/storage/models"
)

func TestParseEvaluationScored(t *testing.T) {
	content := `{"novelty": 2000, "density": 2100, "coherence": 2050, "alignment": 2050,
		"metals": {"gold": 0.5, "silver": 0.3, "copper": 0.1},
		"classification": "strong", "reasoning": "dense and original"}`

	outcome := parseEvaluation(content)

	require.Equal(t, OutcomeScored, outcome.Kind)
	require.NotNil(t, outcome.Scores)
	assert.Equal(t, 2000, outcome.Scores.Novelty)
	assert.Equal(t, 2100, outcome.Scores.Density)
	assert.Equal(t, 0.5, outcome.Scores.Metals[models.MetalGold])
	assert.Equal(t, "strong", outcome.Scores.Classification)
}

func TestParseEvaluationFencedJSON(t *testing.T) {
	content := "Here is my evaluation:\n```json\n" +
		`{"novelty": 100, "density": 600, "coherence": 700, "alignment": 800, "metals": {}}` +
		"\n```\nLet me know if you need more."

	outcome := parseEvaluation(content)

	require.Equal(t, OutcomeScored, outcome.Kind)
	assert.Equal(t, 100, outcome.Scores.Novelty)
}

func TestParseEvaluationClampsScores(t *testing.T) {
	content := `{"novelty": 99999, "density": -50, "coherence": 2500, "alignment": 1}`

	outcome := parseEvaluation(content)

	require.Equal(t, OutcomeScored, outcome.Kind)
	assert.Equal(t, MaxDimensionScore, outcome.Scores.Novelty)
	assert.Equal(t, 0, outcome.Scores.Density)
	assert.Equal(t, 2500, outcome.Scores.Coherence)
}

func TestParseEvaluationZeroScores(t *testing.T) {
	content := `{"novelty": 0, "density": 0, "coherence": 0, "alignment": 0}`

	outcome := parseEvaluation(content)

	assert.Equal(t, OutcomeZeroScores, outcome.Kind)
	assert.Nil(t, outcome.Scores)
	assert.NotEmpty(t, outcome.Reason)
}

func TestParseEvaluationMalformed(t *testing.T) {
	for _, content := range []string{
		"I cannot evaluate this submission.",
		`{"novelty": "high"}`,
		"",
	} {
		outcome := parseEvaluation(content)
		assert.Equal(t, OutcomeMalformed, outcome.Kind, "content: %q", content)
		assert.Nil(t, outcome.Scores)
	}
}

func TestParseEvaluationFiltersMetals(t *testing.T) {
	content := `{"novelty": 1, "density": 1, "coherence": 1, "alignment": 1,
		"metals": {"GOLD": 0.4, "platinum": 0.9, "silver": 0, "copper": -0.2}}`

	outcome := parseEvaluation(content)

	require.Equal(t, OutcomeScored, outcome.Kind)
	assert.Equal(t, map[models.Metal]float64{models.MetalGold: 0.4}, outcome.Scores.Metals)
}

func TestExtractJSON(t *testing.T) {
	assert.Equal(t, `{"a": 1}`, extractJSON("prefix {\"a\": 1} suffix"))
	assert.Equal(t, `{"a": {"b": 2}}`, extractJSON(`{"a": {"b": 2}}`))
	assert.Equal(t, "no braces here", extractJSON("no braces here"))
}
