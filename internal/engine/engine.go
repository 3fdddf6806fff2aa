package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lodeworks/backend/internal/allocation"
	"github.com/lodeworks/backend/internal/audit"
	"github.com/lodeworks/backend/internal/llm"
	"github.com/lodeworks/backend/internal/metrics"
	"github.com/lodeworks/backend/internal/redundancy"
	"github.com/lodeworks/backend/internal/scoring"
	"github.com/lodeworks/backend/internal/storage/models"
	"github.com/lodeworks/backend/internal/storage/sqlite"
	"github.com/lodeworks/backend/internal/vector"
	"github.com/lodeworks/backend/internal/vector/milvus"
	"github.com/lodeworks/backend/pkg/logger"
	"github.com/lodeworks/backend/pkg/utils"
)

// Evaluator is the external AI scoring collaborator.
type Evaluator interface {
	EvaluateSubmission(ctx context.Context, text, title, category string) (*llm.EvaluationOutcome, error)
}

// ArchiveIndex narrows the redundancy comparison to the nearest archive
// candidates. Optional; without it the detector scans the full archive.
type ArchiveIndex interface {
	SearchCandidates(ctx context.Context, embedding []float32, topK int) ([]milvus.Candidate, error)
	Insert(ctx context.Context, vectors []milvus.ArchiveVector) error
}

type Engine struct {
	db           *sqlite.Client
	evaluator    Evaluator
	embedder     *vector.Embedder
	composer     *scoring.Composer
	policy       scoring.Policy
	allocator    *allocation.Orchestrator
	recorder     *audit.Recorder
	archiveIndex ArchiveIndex
	candidateK   int
}

type Config struct {
	DB           *sqlite.Client
	Evaluator    Evaluator
	Embedder     *vector.Embedder
	Composer     *scoring.Composer
	Policy       scoring.Policy
	Allocator    *allocation.Orchestrator
	Recorder     *audit.Recorder
	ArchiveIndex ArchiveIndex
	CandidateK   int
}

func New(cfg Config) *Engine {
	candidateK := cfg.CandidateK
	if candidateK <= 0 {
		candidateK = 50
	}

	return &Engine{
		db:           cfg.DB,
		evaluator:    cfg.Evaluator,
		embedder:     cfg.Embedder,
		composer:     cfg.Composer,
		policy:       cfg.Policy,
		allocator:    cfg.Allocator,
		recorder:     cfg.Recorder,
		archiveIndex: cfg.ArchiveIndex,
		candidateK:   candidateK,
	}
}

type IntakeRequest struct {
	Title       string
	Category    string
	Contributor string
	Text        string
}

type EvaluationReport struct {
	Hash              string
	Status            models.SubmissionStatus
	Novelty           int
	Density           int
	Coherence         int
	Alignment         int
	Composite         int
	Final             int
	RedundancyPercent float64
	TopMatches        []redundancy.Match
	QualifiedEpoch    int
	EpochOpen         bool
	TierBonusApplied  bool
	MetalWeights      map[models.Metal]float64
	EmbeddingSource   string
	Diagnostic        string
}

// Evaluate runs the full pipeline for one submission: intake, external
// evaluation, redundancy detection, score composition, and the
// qualification decision. Terminal states are always reached; an
// unexpected failure lands in unqualified (fail-closed), an evaluator
// malfunction in evaluation_failed.
func (e *Engine) Evaluate(ctx context.Context, req IntakeRequest) (*EvaluationReport, error) {
	start := time.Now()

	text := normalizeText(req.Text)
	if text == "" {
		return nil, fmt.Errorf("submission text is empty after normalization")
	}

	hash := utils.ContentHash(text)

	existing, err := e.db.GetSubmission(hash)
	if err == nil {
		if existing.Status.Terminal() {
			logger.Info("Submission already known",
				zap.String("hash", hash),
				zap.String("status", string(existing.Status)),
			)
			return reportFromSubmission(existing, e.policy), nil
		}
		// Non-terminal record: a previous run was interrupted before
		// reaching a verdict. Re-run the pipeline; the insert below is a
		// no-op for the existing row.
		logger.Warn("Resuming stranded submission",
			zap.String("hash", hash),
			zap.String("status", string(existing.Status)),
		)
	}

	now := time.Now()
	sub := &models.Submission{
		Hash:        hash,
		Title:       req.Title,
		Category:    req.Category,
		Contributor: req.Contributor,
		RawText:     text,
		WordCount:   len(vector.Tokenize(text)),
		Status:      models.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := e.db.InsertSubmission(sub); err != nil {
		return nil, err
	}
	if existing == nil {
		e.recorder.Record(hash, audit.EventSubmissionReceived, string(models.StatusPending), map[string]interface{}{
			"title":      req.Title,
			"category":   req.Category,
			"word_count": sub.WordCount,
		})
	}

	e.transition(hash, models.StatusEvaluating, "")

	report, err := e.runEvaluation(ctx, sub)
	if err != nil {
		// Fail-closed: any unexpected evaluation error terminates in
		// unqualified with the error recorded.
		logger.Error("Evaluation failed unexpectedly",
			zap.String("hash", hash),
			zap.Error(err),
		)
		e.transition(hash, models.StatusUnqualified, err.Error())
		report = &EvaluationReport{
			Hash:       hash,
			Status:     models.StatusUnqualified,
			Diagnostic: err.Error(),
		}
	}

	metrics.SubmissionsTotal.WithLabelValues(string(report.Status)).Inc()
	metrics.EvaluationDuration.WithLabelValues(string(report.Status)).Observe(time.Since(start).Seconds())

	return report, nil
}

func (e *Engine) runEvaluation(ctx context.Context, sub *models.Submission) (*EvaluationReport, error) {
	outcome, err := e.evaluator.EvaluateSubmission(ctx, sub.RawText, sub.Title, sub.Category)
	if err != nil {
		return nil, fmt.Errorf("evaluator call failed: %w", err)
	}

	if outcome.Kind != llm.OutcomeScored {
		// Distinct terminal state: the evaluator malfunctioned, the
		// submission was not judged weak.
		e.transition(sub.Hash, models.StatusEvaluationFailed, outcome.Reason)
		return &EvaluationReport{
			Hash:       sub.Hash,
			Status:     models.StatusEvaluationFailed,
			Diagnostic: outcome.Reason,
		}, nil
	}

	eval := outcome.Scores

	// Vectorization is best-effort enrichment; the embedder is total and
	// never blocks qualification.
	embedding := e.embedder.Embed(ctx, sub.RawText)
	if embedding.Source == vector.SourceFallback {
		metrics.EmbeddingFallbackTotal.Inc()
	}

	point := vector.Project(embedding.Vector, &vector.DimensionScores{
		Novelty:   eval.Novelty,
		Density:   eval.Density,
		Coherence: eval.Coherence,
	})

	archive, err := e.loadArchive(ctx, embedding.Vector)
	if err != nil {
		return nil, fmt.Errorf("failed to load archive: %w", err)
	}

	redResult := redundancy.Detect(embedding.Vector, &point, archive)
	metrics.RedundancyPercent.Observe(redResult.Percent)

	composed := e.composer.Compose(eval.Novelty, eval.Density, eval.Coherence, eval.Alignment, redResult.Percent)

	qualified := composed.QualifiedEpoch > 0 && e.policy.IsQualifiedForEpoch(composed.Composite, eval.Density)
	status := models.StatusUnqualified
	if qualified {
		status = models.StatusQualified
	}

	sub.Status = status
	sub.Novelty = eval.Novelty
	sub.Density = eval.Density
	sub.Coherence = eval.Coherence
	sub.Alignment = eval.Alignment
	sub.Composite = composed.Composite
	sub.Final = composed.Final
	sub.RedundancyPercent = redResult.Percent
	sub.QualifiedEpoch = composed.QualifiedEpoch
	sub.MetalWeights = eval.Metals
	sub.Embedding = embedding.Vector
	sub.EmbeddingModel = embedding.ModelID
	sub.EmbeddingSource = string(embedding.Source)
	sub.Point = &point

	if err := e.db.SaveEvaluation(sub); err != nil {
		return nil, fmt.Errorf("failed to persist evaluation: %w", err)
	}

	e.recorder.Record(sub.Hash, audit.EventStatusTransition, string(status), map[string]interface{}{
		"composite":       composed.Composite,
		"final":           composed.Final,
		"redundancy":      redResult.Percent,
		"qualified_epoch": composed.QualifiedEpoch,
		"bonus":           composed.TierBonusApplied,
		"classification":  eval.Classification,
	})

	e.archiveSubmission(ctx, sub)

	return &EvaluationReport{
		Hash:              sub.Hash,
		Status:            status,
		Novelty:           eval.Novelty,
		Density:           eval.Density,
		Coherence:         eval.Coherence,
		Alignment:         eval.Alignment,
		Composite:         composed.Composite,
		Final:             composed.Final,
		RedundancyPercent: redResult.Percent,
		TopMatches:        redResult.TopMatches,
		QualifiedEpoch:    composed.QualifiedEpoch,
		EpochOpen:         e.policy.IsEpochOpen(composed.QualifiedEpoch),
		TierBonusApplied:  composed.TierBonusApplied,
		MetalWeights:      eval.Metals,
		EmbeddingSource:   string(embedding.Source),
		Diagnostic:        redResult.Note,
	}, nil
}

// loadArchive returns the comparison set: the index's nearest candidates
// when available, the full archive otherwise. Index failures degrade to
// the full scan.
func (e *Engine) loadArchive(ctx context.Context, embedding []float32) ([]models.ArchiveEntry, error) {
	if e.archiveIndex != nil {
		candidates, err := e.archiveIndex.SearchCandidates(ctx, embedding, e.candidateK)
		if err == nil {
			if len(candidates) == 0 {
				// An empty index means nothing to compare yet, but only
				// trust it against what storage holds.
				return e.db.ListArchiveEntries()
			}
			hashes := make([]string, len(candidates))
			for i, c := range candidates {
				hashes[i] = c.Hash
			}
			return e.db.GetArchiveEntriesByHashes(hashes)
		}
		logger.Warn("Archive index search failed, scanning full archive", zap.Error(err))
	}

	return e.db.ListArchiveEntries()
}

// archiveSubmission appends an evaluated submission to the read-only
// comparison archive. Failures are logged but never fail evaluation.
func (e *Engine) archiveSubmission(ctx context.Context, sub *models.Submission) {
	entry := &models.ArchiveEntry{
		Hash:      sub.Hash,
		Title:     sub.Title,
		Embedding: sub.Embedding,
		Point:     sub.Point,
		Novelty:   sub.Novelty,
		Density:   sub.Density,
		Coherence: sub.Coherence,
		Alignment: sub.Alignment,
		CreatedAt: time.Now(),
	}

	if err := e.db.InsertArchiveEntry(entry); err != nil {
		logger.Warn("Failed to insert archive entry", zap.Error(err))
		return
	}

	// Only provider-backed vectors go into the shared index; fallback
	// vectors have a different dimensionality and are not comparable.
	if e.archiveIndex != nil && sub.EmbeddingSource == string(vector.SourceProvider) {
		err := e.archiveIndex.Insert(ctx, []milvus.ArchiveVector{{
			Hash:      sub.Hash,
			Title:     sub.Title,
			Embedding: sub.Embedding,
			Timestamp: time.Now(),
		}})
		if err != nil {
			logger.Warn("Failed to index archive vector", zap.Error(err))
		}
	}
}

type RegistrationResult struct {
	Hash            string
	Status          models.SubmissionStatus
	Allocations     []models.Allocation
	AllocationError string
}

// Register anchors a qualified submission and triggers allocation. It is
// the only externally-triggered re-entry into the ledger. Registration
// is complete once the status transition lands; an allocation failure is
// recorded for a later retry, which the orchestrator's idempotency makes
// safe.
func (e *Engine) Register(ctx context.Context, hash string) (*RegistrationResult, error) {
	sub, err := e.db.GetSubmission(hash)
	if err != nil {
		return nil, err
	}

	switch sub.Status {
	case models.StatusQualified:
		e.transition(hash, models.StatusRegistered, "")
	case models.StatusRegistered:
		// Retried registration; allocation below is idempotent.
	default:
		return nil, fmt.Errorf("submission %s is %s, only qualified submissions can register", hash, sub.Status)
	}

	result := &RegistrationResult{
		Hash:   hash,
		Status: models.StatusRegistered,
	}

	allocations, err := e.allocator.Allocate(
		ctx,
		hash,
		sub.Contributor,
		sub.MetalWeights,
		scoring.ScoreFraction(sub.Final),
		sub.QualifiedEpoch,
	)
	if err != nil {
		// Registration stands; allocation can be retried later.
		logger.Error("Allocation failed after registration",
			zap.String("hash", hash),
			zap.Error(err),
		)
		result.AllocationError = err.Error()
		return result, nil
	}

	result.Allocations = allocations
	return result, nil
}

func (e *Engine) GetSubmission(hash string) (*models.Submission, error) {
	return e.db.GetSubmission(hash)
}

func (e *Engine) transition(hash string, status models.SubmissionStatus, diagnostic string) {
	if err := e.db.UpdateSubmissionStatus(hash, status, diagnostic); err != nil {
		logger.Error("Failed to update submission status",
			zap.String("hash", hash),
			zap.String("status", string(status)),
			zap.Error(err),
		)
	}

	payload := map[string]interface{}{}
	if diagnostic != "" {
		payload["diagnostic"] = diagnostic
	}
	e.recorder.Record(hash, audit.EventStatusTransition, string(status), payload)
}

func reportFromSubmission(sub *models.Submission, policy scoring.Policy) *EvaluationReport {
	return &EvaluationReport{
		Hash:              sub.Hash,
		Status:            sub.Status,
		Novelty:           sub.Novelty,
		Density:           sub.Density,
		Coherence:         sub.Coherence,
		Alignment:         sub.Alignment,
		Composite:         sub.Composite,
		Final:             sub.Final,
		RedundancyPercent: sub.RedundancyPercent,
		QualifiedEpoch:    sub.QualifiedEpoch,
		EpochOpen:         policy.IsEpochOpen(sub.QualifiedEpoch),
		MetalWeights:      sub.MetalWeights,
		EmbeddingSource:   sub.EmbeddingSource,
		Diagnostic:        sub.EvaluationError,
	}
}
