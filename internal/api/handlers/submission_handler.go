package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/lodeworks/backend/internal/engine"
	"github.com/lodeworks/backend/internal/storage/sqlite"
	"github.com/lodeworks/backend/pkg/logger"
)

type SubmissionHandler struct {
	engine *engine.Engine
}

func NewSubmissionHandler(eng *engine.Engine) *SubmissionHandler {
	return &SubmissionHandler{engine: eng}
}

func (h *SubmissionHandler) Evaluate(c *fiber.Ctx) error {
	var req struct {
		Title       string `json:"title"`
		Category    string `json:"category"`
		Contributor string `json:"contributor"`
		Text        string `json:"text"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Text == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Text is required",
		})
	}
	if req.Title == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Title is required",
		})
	}

	report, err := h.engine.Evaluate(c.Context(), engine.IntakeRequest{
		Title:       req.Title,
		Category:    req.Category,
		Contributor: req.Contributor,
		Text:        req.Text,
	})
	if err != nil {
		logger.Error("Failed to evaluate submission", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to evaluate submission",
		})
	}

	return c.JSON(fiber.Map{
		"hash":               report.Hash,
		"status":             report.Status,
		"novelty":            report.Novelty,
		"density":            report.Density,
		"coherence":          report.Coherence,
		"alignment":          report.Alignment,
		"composite":          report.Composite,
		"final":              report.Final,
		"redundancy_percent": report.RedundancyPercent,
		"top_matches":        report.TopMatches,
		"qualified_epoch":    report.QualifiedEpoch,
		"epoch_open":         report.EpochOpen,
		"tier_bonus_applied": report.TierBonusApplied,
		"metal_weights":      report.MetalWeights,
		"embedding_source":   report.EmbeddingSource,
		"diagnostic":         report.Diagnostic,
	})
}

func (h *SubmissionHandler) Get(c *fiber.Ctx) error {
	hash := c.Params("hash")
	if hash == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "hash is required",
		})
	}

	sub, err := h.engine.GetSubmission(hash)
	if errors.Is(err, sqlite.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Submission not found",
		})
	}
	if err != nil {
		logger.Error("Failed to get submission", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to get submission",
		})
	}

	return c.JSON(fiber.Map{
		"hash":               sub.Hash,
		"title":              sub.Title,
		"category":           sub.Category,
		"contributor":        sub.Contributor,
		"status":             sub.Status,
		"novelty":            sub.Novelty,
		"density":            sub.Density,
		"coherence":          sub.Coherence,
		"alignment":          sub.Alignment,
		"composite":          sub.Composite,
		"final":              sub.Final,
		"redundancy_percent": sub.RedundancyPercent,
		"qualified_epoch":    sub.QualifiedEpoch,
		"metal_weights":      sub.MetalWeights,
		"word_count":         sub.WordCount,
		"created_at":         sub.CreatedAt.Unix(),
		"updated_at":         sub.UpdatedAt.Unix(),
	})
}

func (h *SubmissionHandler) Register(c *fiber.Ctx) error {
	hash := c.Params("hash")
	if hash == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "hash is required",
		})
	}

	result, err := h.engine.Register(c.Context(), hash)
	if errors.Is(err, sqlite.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Submission not found",
		})
	}
	if err != nil {
		logger.Error("Failed to register submission", zap.Error(err))
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"hash":             result.Hash,
		"status":           result.Status,
		"allocations":      result.Allocations,
		"allocation_error": result.AllocationError,
	})
}
