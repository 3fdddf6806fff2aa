package ledger

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/lodeworks/backend/internal/metrics"
	"github.com/lodeworks/backend/internal/storage/models"
	"github.com/lodeworks/backend/internal/storage/sqlite"
	"github.com/lodeworks/backend/pkg/logger"
)

// Ledger owns all pool-balance mutation and the global epoch pointer.
// Every debit funnels through the storage layer's conditional update,
// so a balance can never go negative regardless of caller concurrency.
type Ledger struct {
	db *sqlite.Client
}

func New(db *sqlite.Client) *Ledger {
	return &Ledger{db: db}
}

// FindPoolWithBalance returns the first pool for the metal at or after
// minEpoch with a positive balance, or nil when every pool is exhausted.
func (l *Ledger) FindPoolWithBalance(metal models.Metal, minEpoch int) (*models.MetalPool, error) {
	pool, err := l.db.FindPoolWithBalance(metal, minEpoch)
	if errors.Is(err, sqlite.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return pool, nil
}

// Debit decrements the pool balance. It fails without mutation when the
// amount is non-positive or exceeds the current balance.
func (l *Ledger) Debit(pool *models.MetalPool, amount int64) (balanceBefore, balanceAfter int64, err error) {
	balanceBefore, balanceAfter, err = l.db.DebitPool(pool.ID, amount)
	if err != nil {
		return 0, 0, err
	}

	metrics.PoolBalance.WithLabelValues(string(pool.Metal), fmt.Sprintf("%d", pool.Epoch)).Set(float64(balanceAfter))

	return balanceBefore, balanceAfter, nil
}

func (l *Ledger) CurrentEpoch() (int, error) {
	return l.db.GetEpochPointer()
}

// AdvanceGlobalEpochTo moves the pointer forward only; a request at or
// behind the current pointer is a no-op.
func (l *Ledger) AdvanceGlobalEpochTo(epoch int) error {
	advanced, err := l.db.AdvanceEpochPointerTo(epoch)
	if err != nil {
		return err
	}

	if advanced {
		metrics.EpochPointer.Set(float64(epoch))
		logger.Info("Global epoch advanced", zap.Int("epoch", epoch))
	}

	return nil
}

// AdvanceGlobalEpochIfDepleted advances the pointer after a debit that
// emptied a pool in the currently open epoch, once no metal at that
// epoch has balance left. Calling it again after advancement is a no-op.
func (l *Ledger) AdvanceGlobalEpochIfDepleted(epoch int, newBalance int64) error {
	if newBalance != 0 {
		return nil
	}

	current, err := l.db.GetEpochPointer()
	if err != nil {
		return err
	}
	if epoch != current {
		return nil
	}

	hasBalance, err := l.db.EpochHasBalance(current)
	if err != nil {
		return err
	}
	if hasBalance {
		return nil
	}

	next, err := l.db.NextEpochWithBalance(current)
	if err != nil {
		return err
	}
	if next == 0 {
		logger.Warn("All pools beyond current epoch are exhausted", zap.Int("epoch", current))
		return nil
	}

	return l.AdvanceGlobalEpochTo(next)
}

func (l *Ledger) Pools() ([]models.MetalPool, error) {
	return l.db.ListPools()
}
