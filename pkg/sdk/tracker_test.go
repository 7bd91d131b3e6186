package sdk

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intentlabs/intent-telemetry/pkg/domain"
	"github.com/intentlabs/intent-telemetry/pkg/storage"
)

type fakeProbe struct{}

func (fakeProbe) URL() string          { return "https://app.example.com/checkout" }
func (fakeProbe) PageTitle() string    { return "Checkout" }
func (fakeProbe) Viewport() (int, int) { return 1280, 800 }
func (fakeProbe) UserAgent() string    { return "test-agent/1.0" }
func (fakeProbe) TouchEnabled() bool   { return false }

type recordingSender struct {
	mu      sync.Mutex
	batches [][]domain.TelemetryEvent
	fail    bool
}

func (s *recordingSender) Send(_ context.Context, events []domain.TelemetryEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return false
	}
	batch := make([]domain.TelemetryEvent, len(events))
	copy(batch, events)
	s.batches = append(s.batches, batch)
	return true
}

func (s *recordingSender) allEvents() []domain.TelemetryEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var events []domain.TelemetryEvent
	for _, batch := range s.batches {
		events = append(events, batch...)
	}
	return events
}

func newTestTracker(t *testing.T, cfg Config, store storage.Store) (*Tracker, *recordingSender) {
	t.Helper()
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = time.Hour // periodic flushes off; tests flush explicitly
	}
	if store == nil {
		store = storage.NewMemoryStore()
	}
	sender := &recordingSender{}
	tracker, err := NewTracker(cfg, fakeProbe{}, store, WithSender(sender))
	require.NoError(t, err)
	t.Cleanup(func() { tracker.Close() })
	return tracker, sender
}

func TestTrack_DeliversInCollectionOrder(t *testing.T) {
	tracker, sender := newTestTracker(t, Config{BatchSize: 100}, nil)

	for i := 0; i < 5; i++ {
		require.True(t, tracker.Track(domain.EventActionClick, map[string]any{"n": i}))
	}
	tracker.Flush(context.Background())

	events := sender.allEvents()
	require.Len(t, events, 5)
	for i, event := range events {
		assert.Equal(t, int64(i+1), event.SequenceNumber)
		assert.Equal(t, tracker.SessionID(), event.SessionID)
	}
}

func TestTrack_BatchSizeTriggersFlush(t *testing.T) {
	tracker, sender := newTestTracker(t, Config{BatchSize: 2}, nil)

	tracker.Track(domain.EventActionClick, nil)
	tracker.Track(domain.EventActionClick, nil)
	tracker.Track(domain.EventActionClick, nil)
	// Synchronize with the worker without forcing an extra delivery of the
	// third event.
	drained := make(chan struct{})
	tracker.scheduler.submit(func() { close(drained) })
	<-drained

	sender.mu.Lock()
	defer sender.mu.Unlock()
	require.Len(t, sender.batches, 1)
	assert.Len(t, sender.batches[0], 2)
}

func TestTrack_InvalidTypeDroppedSilently(t *testing.T) {
	tracker, sender := newTestTracker(t, Config{BatchSize: 100}, nil)

	assert.True(t, tracker.Track(domain.EventType("bogus.type"), nil), "queued, then dropped in the pipeline")
	tracker.Flush(context.Background())
	assert.Empty(t, sender.allEvents())
}

func TestClose_FlushesRemainingEvents(t *testing.T) {
	store := storage.NewMemoryStore()
	sender := &recordingSender{}
	tracker, err := NewTracker(Config{BatchSize: 100, FlushInterval: time.Hour}, fakeProbe{}, store, WithSender(sender))
	require.NoError(t, err)

	tracker.Track(domain.EventActionClick, nil)
	tracker.Track(domain.EventActionInput, nil)
	require.NoError(t, tracker.Close())

	assert.Len(t, sender.allEvents(), 2, "teardown flush delivers buffered events")
	assert.False(t, tracker.Track(domain.EventActionClick, nil), "closed tracker accepts nothing")
}

func TestSubscribe_ObservesCollectedEvents(t *testing.T) {
	tracker, _ := newTestTracker(t, Config{BatchSize: 100}, nil)

	var mu sync.Mutex
	var seen []domain.EventType
	sub := tracker.Subscribe(func(event domain.TelemetryEvent) {
		mu.Lock()
		seen = append(seen, event.Type)
		mu.Unlock()
	})

	tracker.Track(domain.EventActionClick, nil)
	tracker.Track(domain.EventActionSubmit, nil)
	tracker.Flush(context.Background())

	mu.Lock()
	assert.Equal(t, []domain.EventType{domain.EventActionClick, domain.EventActionSubmit}, seen)
	mu.Unlock()

	// After cancellation the observer sees nothing further. Cancel is
	// idempotent.
	sub.Cancel()
	sub.Cancel()

	tracker.Track(domain.EventActionClick, nil)
	tracker.Flush(context.Background())

	mu.Lock()
	assert.Len(t, seen, 2)
	mu.Unlock()
}

func TestOptOut_StopsTrackingAndPersists(t *testing.T) {
	store := storage.NewMemoryStore()
	tracker, sender := newTestTracker(t, Config{BatchSize: 100}, store)

	require.NoError(t, tracker.SetOptOut(context.Background(), true))
	assert.True(t, tracker.OptedOut())
	assert.False(t, tracker.Track(domain.EventActionClick, nil))

	tracker.Flush(context.Background())
	assert.Empty(t, sender.allEvents())

	value, ok, err := store.Get(context.Background(), OptOutStorageKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "true", value)
}

func TestOptOut_HonouredAcrossRestarts(t *testing.T) {
	store := storage.NewMemoryStore()

	first, _ := newTestTracker(t, Config{BatchSize: 100}, store)
	require.NoError(t, first.SetOptOut(context.Background(), true))
	require.NoError(t, first.Close())

	second, _ := newTestTracker(t, Config{BatchSize: 100}, store)
	assert.True(t, second.OptedOut(), "persisted opt-out applies to new instances")

	require.NoError(t, second.SetOptOut(context.Background(), false))
	assert.True(t, second.Track(domain.EventActionClick, nil))
}

func TestEndSession_RotatesSessionID(t *testing.T) {
	tracker, sender := newTestTracker(t, Config{BatchSize: 100}, nil)

	tracker.Track(domain.EventSessionStart, nil)
	oldSession := tracker.SessionID()

	tracker.EndSession()
	tracker.Flush(context.Background())

	newSession := tracker.SessionID()
	assert.NotEqual(t, oldSession, newSession)

	events := sender.allEvents()
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, domain.EventSessionEnd, last.Type)
	assert.Equal(t, oldSession, last.SessionID)

	// The next event starts the new session at sequence one.
	tracker.Track(domain.EventSessionStart, nil)
	tracker.Flush(context.Background())
	events = sender.allEvents()
	last = events[len(events)-1]
	assert.Equal(t, newSession, last.SessionID)
	assert.Equal(t, int64(1), last.SequenceNumber)
}

func TestScheduler_RunsTasksInSubmissionOrder(t *testing.T) {
	s := newScheduler(16)

	var mu sync.Mutex
	var order []int
	for i := 0; i < 10; i++ {
		i := i
		require.True(t, s.submit(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}))
	}
	s.close()

	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, order)
}

func TestScheduler_SubmitAfterCloseFails(t *testing.T) {
	s := newScheduler(1)
	s.close()
	assert.False(t, s.submit(func() {}))

	// Second close is a no-op.
	s.close()
}
