package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/lodeworks/backend/internal/ledger"
	"github.com/lodeworks/backend/internal/storage/models"
	"github.com/lodeworks/backend/internal/storage/sqlite"
	"github.com/lodeworks/backend/pkg/logger"
)

// AggregateCache is the optional read-through cache for totals.
type AggregateCache interface {
	GetTokenomics(ctx context.Context) (*models.TokenomicsAggregate, bool, error)
	SetTokenomics(ctx context.Context, agg *models.TokenomicsAggregate) error
}

type TokenomicsHandler struct {
	db     *sqlite.Client
	ledger *ledger.Ledger
	cache  AggregateCache
}

func NewTokenomicsHandler(db *sqlite.Client, l *ledger.Ledger, cache AggregateCache) *TokenomicsHandler {
	return &TokenomicsHandler{
		db:     db,
		ledger: l,
		cache:  cache,
	}
}

func (h *TokenomicsHandler) GetTokenomics(c *fiber.Ctx) error {
	if h.cache != nil {
		if agg, ok, err := h.cache.GetTokenomics(c.Context()); err == nil && ok {
			return c.JSON(aggregateResponse(agg, true))
		}
	}

	agg, err := h.db.GetAggregate()
	if err != nil {
		logger.Error("Failed to get tokenomics aggregate", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to get tokenomics",
		})
	}

	if h.cache != nil {
		if err := h.cache.SetTokenomics(c.Context(), agg); err != nil {
			logger.Debug("Failed to cache tokenomics aggregate", zap.Error(err))
		}
	}

	return c.JSON(aggregateResponse(agg, false))
}

func aggregateResponse(agg *models.TokenomicsAggregate, cached bool) fiber.Map {
	return fiber.Map{
		"total_allocated":  agg.TotalAllocated,
		"allocation_count": agg.AllocationCount,
		"per_metal":        agg.PerMetal,
		"updated_at":       agg.UpdatedAt.Unix(),
		"cached":           cached,
	}
}

func (h *TokenomicsHandler) GetEpoch(c *fiber.Ctx) error {
	current, err := h.ledger.CurrentEpoch()
	if err != nil {
		logger.Error("Failed to get epoch pointer", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to get epoch",
		})
	}

	pools, err := h.ledger.Pools()
	if err != nil {
		logger.Error("Failed to list pools", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list pools",
		})
	}

	poolViews := make([]fiber.Map, 0, len(pools))
	for _, p := range pools {
		poolViews = append(poolViews, fiber.Map{
			"metal":           p.Metal,
			"epoch":           p.Epoch,
			"balance":         p.Balance,
			"initial_balance": p.InitialBalance,
		})
	}

	return c.JSON(fiber.Map{
		"current_epoch": current,
		"pools":         poolViews,
	})
}
