package buffer

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/intentlabs/intent-telemetry/pkg/domain"
	"github.com/intentlabs/intent-telemetry/pkg/storage"
)

// fakeSender records delivered batches and can be programmed to fail the
// first N attempts.
type fakeSender struct {
	mu        sync.Mutex
	failFirst int
	attempts  int
	batches   [][]domain.TelemetryEvent
}

func (s *fakeSender) Send(_ context.Context, events []domain.TelemetryEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if s.attempts <= s.failFirst {
		return false
	}
	batch := make([]domain.TelemetryEvent, len(events))
	copy(batch, events)
	s.batches = append(s.batches, batch)
	return true
}

func (s *fakeSender) delivered() []domain.TelemetryEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []domain.TelemetryEvent
	for _, batch := range s.batches {
		all = append(all, batch...)
	}
	return all
}

func (s *fakeSender) batchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

func event(id string, seq int64) domain.TelemetryEvent {
	return domain.TelemetryEvent{
		SchemaVersion:  domain.SchemaVersion,
		Type:           domain.EventActionClick,
		EventID:        id,
		SessionID:      "session-1",
		Timestamp:      time.Now().UTC(),
		SequenceNumber: seq,
		Data:           map[string]any{},
	}
}

func TestAdd_SizeThresholdTriggersOneFlush(t *testing.T) {
	sender := &fakeSender{}
	b := New(Config{MaxBatchSize: 2}, sender, nil, nil)
	ctx := context.Background()

	b.Add(ctx, event("e1", 1))
	b.Add(ctx, event("e2", 2))
	b.Add(ctx, event("e3", 3))

	assert.Equal(t, 1, sender.batchCount(), "exactly one automatic flush")
	assert.Equal(t, 1, b.Len(), "one event still queued")
	delivered := sender.delivered()
	require.Len(t, delivered, 2)
	assert.Equal(t, "e1", delivered[0].EventID)
	assert.Equal(t, "e2", delivered[1].EventID)
}

func TestFlush_EmptyIsNoOp(t *testing.T) {
	sender := &fakeSender{}
	b := New(Config{}, sender, nil, nil)

	b.Flush(context.Background())

	assert.Equal(t, 0, sender.batchCount())
	assert.Equal(t, StateIdle, b.State())
}

func TestStateMachineTransitions(t *testing.T) {
	sender := &fakeSender{}
	b := New(Config{MaxBatchSize: 100}, sender, nil, nil)
	ctx := context.Background()

	assert.Equal(t, StateIdle, b.State())

	b.Add(ctx, event("e1", 1))
	assert.Equal(t, StateAccumulating, b.State())

	b.Flush(ctx)
	assert.Equal(t, StateIdle, b.State())
}

func TestFlushFailure_RequeuesInOriginalOrder(t *testing.T) {
	sender := &fakeSender{failFirst: 1}
	b := New(Config{MaxBatchSize: 100}, sender, nil, nil)
	ctx := context.Background()

	b.Add(ctx, event("e1", 1))
	b.Add(ctx, event("e2", 2))

	b.Flush(ctx)
	assert.Equal(t, StateAccumulating, b.State(), "failure returns to accumulating")
	assert.Equal(t, 2, b.Len())

	// New events land behind the re-queued ones.
	b.Add(ctx, event("e3", 3))
	b.Flush(ctx)

	delivered := sender.delivered()
	require.Len(t, delivered, 3)
	assert.Equal(t, []string{"e1", "e2", "e3"}, []string{
		delivered[0].EventID, delivered[1].EventID, delivered[2].EventID,
	})
}

// If transmission fails N times and then succeeds, the sender ultimately
// receives every event exactly once in original relative order.
func TestRequeueInvariantProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		numEvents := rapid.IntRange(1, 40).Draw(t, "num_events")
		failures := rapid.IntRange(0, 5).Draw(t, "failures")

		sender := &fakeSender{failFirst: failures}
		b := New(Config{MaxBatchSize: numEvents + 1}, sender, nil, nil)
		ctx := context.Background()

		for i := 0; i < numEvents; i++ {
			b.Add(ctx, event(fmt.Sprintf("e%d", i), int64(i+1)))
		}

		for i := 0; i <= failures; i++ {
			b.Flush(ctx)
		}

		delivered := sender.delivered()
		require.Len(t, delivered, numEvents)
		for i, got := range delivered {
			assert.Equal(t, fmt.Sprintf("e%d", i), got.EventID)
		}
		assert.Equal(t, 0, b.Len())
	})
}

func TestPersistence_ReloadOnConstruction(t *testing.T) {
	store := storage.NewMemoryStore()
	sender := &fakeSender{}
	ctx := context.Background()

	first := New(Config{MaxBatchSize: 100, Persist: true}, sender, store, nil)
	first.Add(ctx, event("e1", 1))
	first.Add(ctx, event("e2", 2))

	// Simulated page reload: a new buffer over the same store picks up the
	// un-flushed queue.
	second := New(Config{MaxBatchSize: 100, Persist: true}, sender, store, nil)
	assert.Equal(t, 2, second.Len())
	assert.Equal(t, StateAccumulating, second.State())

	second.Flush(ctx)
	delivered := sender.delivered()
	require.Len(t, delivered, 2)
	assert.Equal(t, "e1", delivered[0].EventID)
}

func TestPersistence_SizeCapEvictsOldestHalf(t *testing.T) {
	store := storage.NewMemoryStore()
	sender := &fakeSender{}
	// Cap low enough that ~4 events overflow it.
	b := New(Config{MaxBatchSize: 100, Persist: true, MaxStorageBytes: 700}, sender, store, nil)
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		b.Add(ctx, event(fmt.Sprintf("e%d", i), int64(i+1)))
	}

	assert.Less(t, b.Len(), 8, "oldest events evicted under size cap")
	assert.Greater(t, b.Len(), 0)

	// Whatever survived must be the newest suffix, still in order.
	b.Flush(ctx)
	delivered := sender.delivered()
	require.NotEmpty(t, delivered)
	last := delivered[len(delivered)-1]
	assert.Equal(t, "e7", last.EventID)
	for i := 1; i < len(delivered); i++ {
		assert.Greater(t, delivered[i].SequenceNumber, delivered[i-1].SequenceNumber)
	}
}

func TestPersistence_StoreFailureIsNotFatal(t *testing.T) {
	store := storage.NewMemoryStore()
	require.NoError(t, store.Close()) // every Set will now fail
	sender := &fakeSender{}
	b := New(Config{MaxBatchSize: 100, Persist: true}, sender, store, nil)
	ctx := context.Background()

	b.Add(ctx, event("e1", 1))
	assert.Equal(t, 1, b.Len(), "buffering continues in-memory-only")

	b.Flush(ctx)
	assert.Len(t, sender.delivered(), 1)
}

func TestRun_TeardownForcesFlush(t *testing.T) {
	sender := &fakeSender{}
	b := New(Config{MaxBatchSize: 100, FlushInterval: time.Hour}, sender, nil, nil)
	bctx := context.Background()

	b.Add(bctx, event("e1", 1))

	runCtx, cancel := context.WithCancel(bctx)
	done := make(chan struct{})
	go func() {
		b.Run(runCtx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	assert.Len(t, sender.delivered(), 1, "teardown flush delivered queued events")
}
