package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/lodeworks/backend/internal/audit"
	"github.com/lodeworks/backend/pkg/logger"
)

type EventsHandler struct {
	recorder *audit.Recorder
}

func NewEventsHandler(recorder *audit.Recorder) *EventsHandler {
	return &EventsHandler{recorder: recorder}
}

func (h *EventsHandler) List(c *fiber.Ctx) error {
	limit, _ := strconv.Atoi(c.Query("limit", "50"))

	events, err := h.recorder.Recent(limit)
	if err != nil {
		logger.Error("Failed to list audit events", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list events",
		})
	}

	return c.JSON(fiber.Map{
		"events": events,
	})
}

// HandleStream pushes every audit event to the websocket client as it
// is recorded.
func (h *EventsHandler) HandleStream(c *websocket.Conn) {
	logger.Info("Audit stream connection established")

	events, cancel := h.recorder.Subscribe()
	defer cancel()
	defer c.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case event := <-events:
			msg := struct {
				ID             string `json:"id"`
				SubmissionHash string `json:"submission_hash"`
				EventType      string `json:"event_type"`
				Status         string `json:"status"`
				Payload        string `json:"payload"`
				CreatedAt      int64  `json:"created_at"`
			}{
				ID:             event.ID,
				SubmissionHash: event.SubmissionHash,
				EventType:      event.EventType,
				Status:         event.Status,
				Payload:        event.Payload,
				CreatedAt:      event.CreatedAt.Unix(),
			}

			if err := c.WriteJSON(msg); err != nil {
				logger.Debug("Audit stream write failed", zap.Error(err))
				return
			}
		case <-done:
			logger.Info("Audit stream connection closed")
			return
		}
	}
}
