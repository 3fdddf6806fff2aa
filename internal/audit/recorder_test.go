package audit

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lodeworks/backend/internal/storage/sqlite"
)

func newTestRecorder(t *testing.T) *Recorder {
	t.Helper()

	db, err := sqlite.NewClient(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.InitSchema())

	return NewRecorder(db)
}

func TestRecordPersistsEvent(t *testing.T) {
	r := newTestRecorder(t)

	r.Record("hash-1", EventSubmissionReceived, "pending", map[string]interface{}{"title": "first"})
	r.Record("hash-1", EventStatusTransition, "evaluating", nil)

	events, err := r.Recent(10)
	require.NoError(t, err)
	require.Len(t, events, 2)

	types := make(map[string]string)
	for _, e := range events {
		assert.NotEmpty(t, e.ID)
		assert.Equal(t, "hash-1", e.SubmissionHash)
		types[e.EventType] = e.Payload
	}
	assert.Contains(t, types[EventSubmissionReceived], "first")
	assert.Contains(t, types, EventStatusTransition)
}

func TestSubscribeReceivesLiveEvents(t *testing.T) {
	r := newTestRecorder(t)

	ch, cancel := r.Subscribe()
	defer cancel()

	r.Record("hash-2", EventAllocation, "gold", map[string]interface{}{"amount": 420})

	select {
	case event := <-ch:
		assert.Equal(t, EventAllocation, event.EventType)
		assert.Equal(t, "hash-2", event.SubmissionHash)
	case <-time.After(time.Second):
		t.Fatal("expected a broadcast event")
	}
}

func TestSubscribeCancelStopsDelivery(t *testing.T) {
	r := newTestRecorder(t)

	ch, cancel := r.Subscribe()
	cancel()

	r.Record("hash-3", EventEpochAdvanced, "", nil)

	select {
	case <-ch:
		t.Fatal("cancelled subscriber must not receive events")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRecentDefaultLimit(t *testing.T) {
	r := newTestRecorder(t)
	r.Record("hash-4", EventStatusTransition, "qualified", nil)

	events, err := r.Recent(0)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}
