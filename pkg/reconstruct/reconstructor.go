// Package reconstruct regroups arriving event batches into coherent,
// ordered session timelines.
//
// Order across batches is not guaranteed: batches may arrive delayed,
// duplicated by client retries, or interleaved across concurrent tabs that
// share one session id. Ingestion therefore deduplicates by event id and
// every read re-sorts by sequence number, so reconstruction is correct
// regardless of arrival order.
package reconstruct

import (
	"sort"
	"sync"
	"time"

	"github.com/intentlabs/intent-telemetry/pkg/domain"
)

// accumulator collects events for one session. Each accumulator has its
// own lock so sessions ingest fully in parallel.
type accumulator struct {
	mu         sync.Mutex
	events     []domain.TelemetryEvent
	seen       map[string]struct{}
	lastIngest time.Time
}

// Reconstructor accumulates batches keyed by session id. Safe for
// concurrent ingestion, including concurrent batches for the same session.
type Reconstructor struct {
	mu       sync.RWMutex
	sessions map[string]*accumulator
	now      func() time.Time
}

// Option configures a Reconstructor.
type Option func(*Reconstructor)

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(r *Reconstructor) { r.now = now }
}

// New creates an empty Reconstructor.
func New(opts ...Option) *Reconstructor {
	r := &Reconstructor{
		sessions: make(map[string]*accumulator),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// IngestResult reports what a single batch contributed.
type IngestResult struct {
	// Received is the number of events in the batch.
	Received int
	// Processed is the number of events actually appended; duplicates of
	// already-seen event ids are skipped, so a retried batch never
	// double-counts.
	Processed int
}

// Ingest appends a batch's events to their per-session accumulators.
// Duplicate and out-of-order batches are tolerated by design and are never
// an error.
func (r *Reconstructor) Ingest(batch domain.EventBatch) IngestResult {
	result := IngestResult{Received: len(batch.Events)}
	now := r.now()

	for _, event := range batch.Events {
		if event.SessionID == "" || event.EventID == "" {
			continue
		}
		acc := r.accumulatorFor(event.SessionID)

		acc.mu.Lock()
		if _, dup := acc.seen[event.EventID]; !dup {
			acc.seen[event.EventID] = struct{}{}
			acc.events = append(acc.events, event)
			result.Processed++
		}
		acc.lastIngest = now
		acc.mu.Unlock()
	}
	return result
}

func (r *Reconstructor) accumulatorFor(sessionID string) *accumulator {
	r.mu.RLock()
	acc, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if ok {
		return acc
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if acc, ok = r.sessions[sessionID]; ok {
		return acc
	}
	acc = &accumulator{seen: make(map[string]struct{})}
	r.sessions[sessionID] = acc
	return acc
}

// Session materializes a consistent snapshot of a session's ordered,
// deduplicated timeline. The second return value is false when the session
// id has never been seen. The snapshot is a copy: later ingestion never
// mutates it.
func (r *Reconstructor) Session(sessionID string) (*Session, bool) {
	r.mu.RLock()
	acc, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}

	acc.mu.Lock()
	events := make([]domain.TelemetryEvent, len(acc.events))
	copy(events, acc.events)
	lastIngest := acc.lastIngest
	acc.mu.Unlock()

	sortEvents(events)
	return &Session{
		SessionID:  sessionID,
		Events:     events,
		lastIngest: lastIngest,
	}, true
}

// SessionIDs returns the known session ids, sorted for deterministic
// iteration.
func (r *Reconstructor) SessionIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Totals returns the session count and the total number of distinct events
// across all sessions.
func (r *Reconstructor) Totals() (sessions, events int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, acc := range r.sessions {
		acc.mu.Lock()
		events += len(acc.events)
		acc.mu.Unlock()
	}
	return len(r.sessions), events
}

// sortEvents orders by sequence number; ties (possible when concurrent
// tabs share a session id) break on timestamp, then event id, keeping
// reads deterministic.
func sortEvents(events []domain.TelemetryEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if a.SequenceNumber != b.SequenceNumber {
			return a.SequenceNumber < b.SequenceNumber
		}
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		return a.EventID < b.EventID
	})
}
