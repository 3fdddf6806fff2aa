package audit

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lodeworks/backend/internal/metrics"
	"github.com/lodeworks/backend/internal/storage/models"
	"github.com/lodeworks/backend/internal/storage/sqlite"
	"github.com/lodeworks/backend/pkg/logger"
)

const (
	EventSubmissionReceived = "submission_received"
	EventStatusTransition   = "status_transition"
	EventAllocation         = "allocation"
	EventAllocationSkipped  = "allocation_skipped"
	EventEpochAdvanced      = "epoch_advanced"
)

// Recorder appends immutable events to the audit log and fans them out
// to live subscribers. Events are never mutated or deleted.
type Recorder struct {
	db *sqlite.Client

	mu          sync.RWMutex
	subscribers map[chan models.AuditEvent]struct{}
}

func NewRecorder(db *sqlite.Client) *Recorder {
	return &Recorder{
		db:          db,
		subscribers: make(map[chan models.AuditEvent]struct{}),
	}
}

// Record persists one event. Payload is marshalled to JSON; a payload
// that cannot be marshalled is recorded with an empty body rather than
// losing the event.
func (r *Recorder) Record(submissionHash, eventType, status string, payload interface{}) {
	body := ""
	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			body = string(data)
		} else {
			logger.Warn("Failed to marshal audit payload", zap.Error(err))
		}
	}

	event := models.AuditEvent{
		ID:             uuid.New().String(),
		SubmissionHash: submissionHash,
		EventType:      eventType,
		Status:         status,
		Payload:        body,
		CreatedAt:      time.Now(),
	}

	if err := r.db.InsertAuditEvent(&event); err != nil {
		logger.Error("Failed to persist audit event",
			zap.String("event_type", eventType),
			zap.String("submission", submissionHash),
			zap.Error(err),
		)
		return
	}

	metrics.AuditEventsTotal.WithLabelValues(eventType).Inc()

	r.broadcast(event)
}

func (r *Recorder) broadcast(event models.AuditEvent) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for ch := range r.subscribers {
		select {
		case ch <- event:
		default:
			// Slow subscriber; drop rather than block the pipeline.
		}
	}
}

// Subscribe returns a channel of live events and a cancel function that
// must be called when the subscriber goes away.
func (r *Recorder) Subscribe() (<-chan models.AuditEvent, func()) {
	ch := make(chan models.AuditEvent, 64)

	r.mu.Lock()
	r.subscribers[ch] = struct{}{}
	r.mu.Unlock()

	// The channel is deliberately left open after unsubscribe: a
	// concurrent broadcast may still be selecting on it.
	cancel := func() {
		r.mu.Lock()
		delete(r.subscribers, ch)
		r.mu.Unlock()
	}

	return ch, cancel
}

func (r *Recorder) Recent(limit int) ([]models.AuditEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	return r.db.ListAuditEvents(limit)
}
