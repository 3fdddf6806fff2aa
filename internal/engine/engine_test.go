package engine

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lodeworks/backend/internal/allocation"
	"github.com/lodeworks/backend/internal/audit"
	"github.com/lodeworks/backend/internal/ledger"
	"github.com/lodeworks/backend/internal/llm"
	"github.com/lodeworks/backend/internal/scoring"
	"github.com/lodeworks/backend/internal/storage/models"
	"github.com/lodeworks/backend/internal/storage/sqlite"
	"github.com/lodeworks/backend/internal/vector"
	"github.com/lodeworks/backend/pkg/utils"
)

type stubEvaluator struct {
	outcome *llm.EvaluationOutcome
	err     error
	calls   int
}

func (s *stubEvaluator) EvaluateSubmission(ctx context.Context, text, title, category string) (*llm.EvaluationOutcome, error) {
	s.calls++
	return s.outcome, s.err
}

func scoredOutcome(novelty, density, coherence, alignment int) *llm.EvaluationOutcome {
	return &llm.EvaluationOutcome{
		Kind: llm.OutcomeScored,
		Scores: &llm.Evaluation{
			Novelty:   novelty,
			Density:   density,
			Coherence: coherence,
			Alignment: alignment,
			Metals: map[models.Metal]float64{
				models.MetalGold:   0.5,
				models.MetalSilver: 0.3,
			},
			Classification: "strong",
		},
	}
}

func newTestEngine(t *testing.T, evaluator Evaluator) (*Engine, *sqlite.Client) {
	t.Helper()

	db, err := sqlite.NewClient(filepath.Join(t.TempDir(), "engine.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.InitSchema())
	require.NoError(t, db.SeedPools(3, map[models.Metal]int64{
		models.MetalGold:   1000,
		models.MetalSilver: 1000,
		models.MetalCopper: 1000,
	}))

	poolLedger := ledger.New(db)
	policy := scoring.NewLadderPolicy([]int{8000, 6500, 5000, 3500}, 500, func() int {
		epoch, err := poolLedger.CurrentEpoch()
		if err != nil {
			return 0
		}
		return epoch
	})
	recorder := audit.NewRecorder(db)
	allocator := allocation.NewOrchestrator(db, poolLedger, recorder, nil)

	eng := New(Config{
		DB:        db,
		Evaluator: evaluator,
		Embedder:  vector.NewEmbedder(nil, nil, 64),
		Composer:  scoring.NewComposer(policy),
		Policy:    policy,
		Allocator: allocator,
		Recorder:  recorder,
	})

	return eng, db
}

func TestEvaluateQualifiedSubmission(t *testing.T) {
	evaluator := &stubEvaluator{outcome: scoredOutcome(2000, 2100, 2050, 2050)}
	eng, db := newTestEngine(t, evaluator)

	report, err := eng.Evaluate(context.Background(), IntakeRequest{
		Title:       "Novel analysis",
		Contributor: "alice",
		Text:        "A long and substantive body of original analysis.",
	})
	require.NoError(t, err)

	assert.Equal(t, models.StatusQualified, report.Status)
	assert.Equal(t, 8200, report.Composite)
	assert.Equal(t, 8200, report.Final, "first submission sees an empty archive, no redundancy")
	assert.Equal(t, 1, report.QualifiedEpoch)
	assert.True(t, report.EpochOpen)
	assert.Equal(t, string(vector.SourceFallback), report.EmbeddingSource)

	sub, err := db.GetSubmission(report.Hash)
	require.NoError(t, err)
	assert.Equal(t, models.StatusQualified, sub.Status)
	assert.NotEmpty(t, sub.Embedding)
	require.NotNil(t, sub.Point)

	// The evaluated submission joins the comparison archive.
	entries, err := db.ListArchiveEntries()
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestEvaluateUnqualifiedLowScore(t *testing.T) {
	evaluator := &stubEvaluator{outcome: scoredOutcome(800, 800, 800, 800)}
	eng, _ := newTestEngine(t, evaluator)

	report, err := eng.Evaluate(context.Background(), IntakeRequest{Text: "thin content"})
	require.NoError(t, err)

	assert.Equal(t, models.StatusUnqualified, report.Status)
	assert.Equal(t, 3200, report.Composite)
	assert.Zero(t, report.QualifiedEpoch)
}

func TestEvaluateDensityFloor(t *testing.T) {
	// High everywhere except density, which sits under the floor.
	evaluator := &stubEvaluator{outcome: scoredOutcome(2500, 400, 2500, 2500)}
	eng, _ := newTestEngine(t, evaluator)

	report, err := eng.Evaluate(context.Background(), IntakeRequest{Text: "sparse but flashy"})
	require.NoError(t, err)

	assert.Equal(t, models.StatusUnqualified, report.Status)
	assert.Equal(t, 7900, report.Composite)
}

func TestEvaluateZeroScoresIsEvaluationFailed(t *testing.T) {
	evaluator := &stubEvaluator{outcome: &llm.EvaluationOutcome{
		Kind:   llm.OutcomeZeroScores,
		Reason: "all scores are 0",
	}}
	eng, db := newTestEngine(t, evaluator)

	report, err := eng.Evaluate(context.Background(), IntakeRequest{Text: "anything at all"})
	require.NoError(t, err)

	assert.Equal(t, models.StatusEvaluationFailed, report.Status)
	assert.Equal(t, "all scores are 0", report.Diagnostic)

	sub, err := db.GetSubmission(report.Hash)
	require.NoError(t, err)
	assert.Equal(t, models.StatusEvaluationFailed, sub.Status)

	// A failed evaluation never enters the archive.
	entries, err := db.ListArchiveEntries()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestEvaluateEvaluatorErrorFailsClosed(t *testing.T) {
	evaluator := &stubEvaluator{err: errors.New("api timeout")}
	eng, db := newTestEngine(t, evaluator)

	report, err := eng.Evaluate(context.Background(), IntakeRequest{Text: "content that cannot be judged"})
	require.NoError(t, err, "transport errors terminate the pipeline, not the request")

	assert.Equal(t, models.StatusUnqualified, report.Status)
	assert.Contains(t, report.Diagnostic, "evaluator call failed")

	sub, err := db.GetSubmission(report.Hash)
	require.NoError(t, err)
	assert.Equal(t, models.StatusUnqualified, sub.Status)
	assert.NotEmpty(t, sub.EvaluationError)
}

func TestEvaluateDuplicateReturnsExistingReport(t *testing.T) {
	evaluator := &stubEvaluator{outcome: scoredOutcome(2000, 2000, 2000, 2000)}
	eng, _ := newTestEngine(t, evaluator)

	first, err := eng.Evaluate(context.Background(), IntakeRequest{Text: "identical submission text"})
	require.NoError(t, err)

	// Cosmetic formatting differences hash to the same submission.
	second, err := eng.Evaluate(context.Background(), IntakeRequest{Text: "  Identical   SUBMISSION text "})
	require.NoError(t, err)

	assert.Equal(t, first.Hash, second.Hash)
	assert.Equal(t, first.Composite, second.Composite)
	assert.Equal(t, 1, evaluator.calls, "the duplicate is answered from storage")
}

func TestEvaluateRedundantResubmissionPenalized(t *testing.T) {
	evaluator := &stubEvaluator{outcome: scoredOutcome(2000, 2000, 2000, 2000)}
	eng, _ := newTestEngine(t, evaluator)

	first, err := eng.Evaluate(context.Background(), IntakeRequest{Text: "alpha beta gamma delta epsilon zeta eta theta iota kappa lambda mu"})
	require.NoError(t, err)
	assert.Equal(t, first.Composite, first.Final)

	// Same dimension scores place the near-copy at the same point in
	// space, so the spatial signal reports full similarity, and the
	// shared leading tokens correlate the fallback vectors.
	second, err := eng.Evaluate(context.Background(), IntakeRequest{Text: "alpha beta gamma delta epsilon zeta eta theta with different closing words"})
	require.NoError(t, err)

	assert.NotEqual(t, first.Hash, second.Hash)
	assert.Greater(t, second.RedundancyPercent, 0.0)
	require.NotEmpty(t, second.TopMatches)
	assert.Equal(t, first.Hash, second.TopMatches[0].Hash)
}

func TestEvaluateResumesStrandedSubmission(t *testing.T) {
	evaluator := &stubEvaluator{outcome: scoredOutcome(2000, 2100, 2050, 2050)}
	eng, db := newTestEngine(t, evaluator)

	// A crash between the evaluating transition and the evaluator call
	// leaves a non-terminal record behind.
	text := "work interrupted mid evaluation"
	hash := utils.ContentHash(normalizeText(text))
	now := time.Now()
	require.NoError(t, db.InsertSubmission(&models.Submission{
		Hash:      hash,
		Title:     "stranded",
		RawText:   text,
		Status:    models.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}))
	require.NoError(t, db.UpdateSubmissionStatus(hash, models.StatusEvaluating, ""))

	// Re-submitting the same text must re-run the pipeline, not echo the
	// stuck record.
	report, err := eng.Evaluate(context.Background(), IntakeRequest{Title: "stranded", Text: text})
	require.NoError(t, err)

	assert.Equal(t, hash, report.Hash)
	assert.Equal(t, 1, evaluator.calls)
	assert.Equal(t, models.StatusQualified, report.Status)

	sub, err := db.GetSubmission(hash)
	require.NoError(t, err)
	assert.Equal(t, models.StatusQualified, sub.Status)
}

func TestEvaluateEmptyText(t *testing.T) {
	eng, _ := newTestEngine(t, &stubEvaluator{})

	_, err := eng.Evaluate(context.Background(), IntakeRequest{Text: "   "})
	assert.Error(t, err)
}

func TestRegisterQualifiedSubmission(t *testing.T) {
	evaluator := &stubEvaluator{outcome: scoredOutcome(2000, 2100, 2050, 2050)}
	eng, db := newTestEngine(t, evaluator)
	ctx := context.Background()

	report, err := eng.Evaluate(ctx, IntakeRequest{Text: "qualified work", Contributor: "carol"})
	require.NoError(t, err)
	require.Equal(t, models.StatusQualified, report.Status)

	result, err := eng.Register(ctx, report.Hash)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRegistered, result.Status)
	assert.Empty(t, result.AllocationError)
	assert.NotEmpty(t, result.Allocations)

	sub, err := db.GetSubmission(report.Hash)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRegistered, sub.Status)
}

func TestRegisterIdempotent(t *testing.T) {
	evaluator := &stubEvaluator{outcome: scoredOutcome(2000, 2100, 2050, 2050)}
	eng, db := newTestEngine(t, evaluator)
	ctx := context.Background()

	report, err := eng.Evaluate(ctx, IntakeRequest{Text: "registered twice"})
	require.NoError(t, err)

	first, err := eng.Register(ctx, report.Hash)
	require.NoError(t, err)
	second, err := eng.Register(ctx, report.Hash)
	require.NoError(t, err)

	assert.Equal(t, len(first.Allocations), len(second.Allocations))

	// The retried registration must not debit again.
	allocations, err := db.AllocationsForSubmission(report.Hash)
	require.NoError(t, err)
	assert.Len(t, allocations, len(first.Allocations))
}

func TestRegisterRejectsUnqualified(t *testing.T) {
	evaluator := &stubEvaluator{outcome: scoredOutcome(500, 500, 500, 500)}
	eng, _ := newTestEngine(t, evaluator)
	ctx := context.Background()

	report, err := eng.Evaluate(ctx, IntakeRequest{Text: "weak submission"})
	require.NoError(t, err)
	require.Equal(t, models.StatusUnqualified, report.Status)

	_, err = eng.Register(ctx, report.Hash)
	assert.Error(t, err)
}

func TestRegisterUnknownHash(t *testing.T) {
	eng, _ := newTestEngine(t, &stubEvaluator{})

	_, err := eng.Register(context.Background(), "no-such-hash")
	assert.ErrorIs(t, err, sqlite.ErrNotFound)
}

func TestNormalizeTextStripsMarkup(t *testing.T) {
	input := `<html><head><script>alert(1)</script></head>
		<body><nav>menu</nav><p>The   actual
		content.</p><footer>legal</footer></body></html>`

	assert.Equal(t, "The actual content.", normalizeText(input))
}

func TestNormalizeTextPlain(t *testing.T) {
	assert.Equal(t, "plain text body", normalizeText("  plain   text\n\nbody "))
	assert.Equal(t, "", normalizeText("   \n\t "))
}
