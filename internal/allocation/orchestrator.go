package allocation

import (
	"context"
	"errors"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/lodeworks/backend/internal/audit"
	"github.com/lodeworks/backend/internal/ledger"
	"github.com/lodeworks/backend/internal/metrics"
	"github.com/lodeworks/backend/internal/storage/models"
	"github.com/lodeworks/backend/internal/storage/sqlite"
	"github.com/lodeworks/backend/pkg/logger"
)

// TokenomicsCache invalidates the aggregate read cache after a write.
type TokenomicsCache interface {
	InvalidateTokenomics(ctx context.Context) error
}

// Orchestrator turns a qualified score into per-metal pool debits and
// append-only allocation records. A metal whose pools are exhausted or
// whose share rounds to zero is skipped silently; partial allocation
// across metals is expected and correct.
type Orchestrator struct {
	db       *sqlite.Client
	ledger   *ledger.Ledger
	recorder *audit.Recorder
	cache    TokenomicsCache
}

func NewOrchestrator(db *sqlite.Client, l *ledger.Ledger, recorder *audit.Recorder, cache TokenomicsCache) *Orchestrator {
	return &Orchestrator{
		db:       db,
		ledger:   l,
		recorder: recorder,
		cache:    cache,
	}
}

// Allocate debits each weighted metal's first non-empty pool at or after
// the qualified epoch. It is idempotent per submission: existing
// allocations cause the whole call to be a no-op returning the prior
// records, so a retried registration never double-allocates.
func (o *Orchestrator) Allocate(ctx context.Context, submissionHash, contributor string, metalWeights map[models.Metal]float64, scoreFraction float64, qualifiedEpoch int) ([]models.Allocation, error) {
	existing, err := o.db.HasAllocations(submissionHash)
	if err != nil {
		return nil, err
	}
	if existing {
		logger.Info("Allocations already exist, skipping",
			zap.String("submission", submissionHash),
		)
		return o.db.AllocationsForSubmission(submissionHash)
	}

	var allocations []models.Allocation

	// Metals are independent; iterate in a fixed order for determinism.
	for _, metal := range models.AllMetals {
		weight := metalWeights[metal]
		if weight <= 0 {
			continue
		}

		allocation, skipped := o.allocateMetal(ctx, submissionHash, contributor, metal, weight, scoreFraction, qualifiedEpoch)
		if skipped != "" {
			o.recorder.Record(submissionHash, audit.EventAllocationSkipped, string(metal), map[string]interface{}{
				"metal":  metal,
				"reason": skipped,
			})
			continue
		}
		if allocation != nil {
			allocations = append(allocations, *allocation)
		}
	}

	if o.cache != nil {
		if err := o.cache.InvalidateTokenomics(ctx); err != nil {
			logger.Warn("Failed to invalidate tokenomics cache", zap.Error(err))
		}
	}

	return allocations, nil
}

func (o *Orchestrator) allocateMetal(ctx context.Context, submissionHash, contributor string, metal models.Metal, weight, scoreFraction float64, qualifiedEpoch int) (*models.Allocation, string) {
	var (
		pool          *models.MetalPool
		amount        int64
		balanceBefore int64
		balanceAfter  int64
	)

	// A debit can lose a race against a concurrent allocation that
	// drained the pool after our lookup. The loser re-scans from the same
	// epoch and recomputes against the fresh balance.
	minEpoch := qualifiedEpoch
	for attempt := 0; ; attempt++ {
		if attempt >= 3 {
			return nil, "pool contention"
		}

		var err error
		pool, err = o.ledger.FindPoolWithBalance(metal, minEpoch)
		if err != nil {
			logger.Error("Failed to locate pool",
				zap.String("metal", string(metal)),
				zap.Error(err),
			)
			return nil, "pool lookup failed"
		}
		if pool == nil {
			logger.Info("No pool with balance for metal",
				zap.String("metal", string(metal)),
				zap.Int("min_epoch", minEpoch),
			)
			return nil, "all pools exhausted"
		}

		amount = int64(math.Floor(scoreFraction * float64(pool.Balance) * weight))
		if amount <= 0 || amount > pool.Balance {
			return nil, "amount out of range"
		}

		balanceBefore, balanceAfter, err = o.ledger.Debit(pool, amount)
		if errors.Is(err, sqlite.ErrInsufficientBalance) {
			minEpoch = pool.Epoch
			continue
		}
		if err != nil {
			logger.Error("Debit failed",
				zap.String("metal", string(metal)),
				zap.Int64("amount", amount),
				zap.Error(err),
			)
			return nil, "debit failed"
		}
		break
	}

	allocation := models.Allocation{
		SubmissionHash: submissionHash,
		Contributor:    contributor,
		Metal:          metal,
		Epoch:          pool.Epoch,
		Amount:         amount,
		BalanceBefore:  balanceBefore,
		BalanceAfter:   balanceAfter,
		CreatedAt:      time.Now(),
	}

	id, err := o.db.InsertAllocation(&allocation)
	if err != nil {
		// The debit committed but the record write failed; surface loudly.
		logger.Error("Failed to record allocation after debit",
			zap.String("submission", submissionHash),
			zap.String("metal", string(metal)),
			zap.Error(err),
		)
		return nil, "record write failed"
	}
	allocation.ID = id

	if err := o.db.AddToAggregate(metal, amount); err != nil {
		logger.Warn("Failed to update tokenomics aggregate", zap.Error(err))
	}

	metrics.AllocationsTotal.WithLabelValues(string(metal)).Inc()
	metrics.AllocationAmount.WithLabelValues(string(metal)).Add(float64(amount))

	o.recorder.Record(submissionHash, audit.EventAllocation, string(metal), map[string]interface{}{
		"metal":          metal,
		"epoch":          pool.Epoch,
		"amount":         amount,
		"balance_before": balanceBefore,
		"balance_after":  balanceAfter,
	})

	if err := o.ledger.AdvanceGlobalEpochIfDepleted(pool.Epoch, balanceAfter); err != nil {
		logger.Warn("Epoch advancement check failed", zap.Error(err))
	}

	return &allocation, ""
}
