// Package buffer implements the client-side FIFO event queue with durable
// snapshotting and flush triggering.
//
// Flush fires on three triggers: the size threshold is reached on append,
// the periodic timer elapses, or a forced flush is requested on teardown.
// Delivery failure re-queues events at the head of the queue in their
// original relative order, so data is delayed rather than lost. The one
// exception is the storage size-cap eviction, which is an explicit lossy
// degradation.
package buffer

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/intentlabs/intent-telemetry/pkg/domain"
	"github.com/intentlabs/intent-telemetry/pkg/storage"
)

// Defaults for Config fields left zero.
const (
	DefaultMaxBatchSize    = 50
	DefaultFlushInterval   = 30 * time.Second
	DefaultStorageKey      = "intent_telemetry.buffer"
	DefaultMaxStorageBytes = 256 * 1024
)

// Sender delivers a flushed batch of events. A false return means delivery
// failed after all retries and the caller re-queues the events; the sender
// performs no persistence of its own.
type Sender interface {
	Send(ctx context.Context, events []domain.TelemetryEvent) bool
}

// State is the buffer's lifecycle state.
type State string

// Buffer states.
const (
	StateIdle         State = "idle"
	StateAccumulating State = "accumulating"
	StateFlushing     State = "flushing"
)

// Config controls buffering behaviour.
type Config struct {
	// MaxBatchSize triggers a flush when the queue reaches this length.
	MaxBatchSize int
	// FlushInterval triggers a periodic flush of whatever is queued.
	FlushInterval time.Duration
	// Persist enables durable snapshotting of the queue after every Add.
	Persist bool
	// StorageKey is the durable store key holding the serialized queue.
	StorageKey string
	// MaxStorageBytes caps the serialized snapshot size. When exceeded the
	// buffer discards its oldest half and retries.
	MaxStorageBytes int
}

func (c *Config) applyDefaults() {
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = DefaultMaxBatchSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = DefaultFlushInterval
	}
	if c.StorageKey == "" {
		c.StorageKey = DefaultStorageKey
	}
	if c.MaxStorageBytes <= 0 {
		c.MaxStorageBytes = DefaultMaxStorageBytes
	}
}

// Buffer is a FIFO queue of enriched events. Safe for concurrent use,
// though the client scheduler serializes access in practice.
type Buffer struct {
	cfg    Config
	sender Sender
	store  storage.Store
	logger *slog.Logger

	mu    sync.Mutex
	queue []domain.TelemetryEvent
	state State
}

// New constructs a Buffer. If persistence is enabled, any previously
// persisted (un-flushed) queue is reloaded so a page reload never silently
// drops buffered-but-unsent events.
func New(cfg Config, sender Sender, store storage.Store, logger *slog.Logger) *Buffer {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	b := &Buffer{
		cfg:    cfg,
		sender: sender,
		store:  store,
		logger: logger,
		state:  StateIdle,
	}

	if cfg.Persist && store != nil {
		b.restore()
	}
	return b
}

// State returns the current lifecycle state.
func (b *Buffer) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Len returns the number of queued events.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Add appends an event to the queue, snapshots the queue to durable
// storage, and flushes if the size threshold is reached.
func (b *Buffer) Add(ctx context.Context, event domain.TelemetryEvent) {
	b.mu.Lock()
	b.queue = append(b.queue, event)
	if b.state == StateIdle {
		b.state = StateAccumulating
	}
	b.persistLocked(ctx)
	shouldFlush := len(b.queue) >= b.cfg.MaxBatchSize && b.state != StateFlushing
	b.mu.Unlock()

	if shouldFlush {
		b.Flush(ctx)
	}
}

// Flush delivers the whole queue as one batch. It is a no-op when the
// queue is empty or a flush is already in progress: once a flush begins it
// runs to exhaustion before the next can start, so a buffer never has two
// concurrent flushes.
func (b *Buffer) Flush(ctx context.Context) {
	b.mu.Lock()
	if b.state == StateFlushing || len(b.queue) == 0 {
		b.mu.Unlock()
		return
	}
	events := b.queue
	b.queue = nil
	b.state = StateFlushing
	b.mu.Unlock()

	delivered := b.sender.Send(ctx, events)

	b.mu.Lock()
	if delivered {
		if len(b.queue) == 0 {
			b.state = StateIdle
		} else {
			b.state = StateAccumulating
		}
	} else {
		// Re-prepend in original relative order; events added during the
		// failed flush stay behind them.
		requeued := make([]domain.TelemetryEvent, 0, len(events)+len(b.queue))
		requeued = append(requeued, events...)
		requeued = append(requeued, b.queue...)
		b.queue = requeued
		b.state = StateAccumulating
		b.logger.Warn("flush failed, events re-queued",
			"count", len(events),
			"queued", len(b.queue),
		)
	}
	b.persistLocked(ctx)
	b.mu.Unlock()
}

// Run flushes on the configured interval until ctx is cancelled, then
// performs one forced teardown flush.
func (b *Buffer) Run(ctx context.Context) {
	ticker := time.NewTicker(b.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Forced flush on teardown; use a fresh context since ctx is
			// already cancelled.
			teardownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			b.Flush(teardownCtx)
			cancel()
			return
		case <-ticker.C:
			b.Flush(ctx)
		}
	}
}

// restore reloads a previously persisted queue.
func (b *Buffer) restore() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	raw, ok, err := b.store.Get(ctx, b.cfg.StorageKey)
	if err != nil {
		b.logger.Warn("failed to read persisted buffer", "error", err)
		return
	}
	if !ok || raw == "" {
		return
	}

	var events []domain.TelemetryEvent
	if err := json.Unmarshal([]byte(raw), &events); err != nil {
		b.logger.Warn("discarding corrupt persisted buffer", "error", err)
		return
	}
	if len(events) == 0 {
		return
	}

	b.queue = events
	b.state = StateAccumulating
	b.logger.Info("restored persisted buffer", "count", len(events))
}

// persistLocked snapshots the queue to the durable store. Storage failures
// are logged, never fatal: buffering continues in-memory-only for the
// cycle. When the snapshot exceeds the size cap the buffer discards its
// oldest half and retries, preferring lossy degradation over silent
// corruption.
func (b *Buffer) persistLocked(ctx context.Context) {
	if !b.cfg.Persist || b.store == nil {
		return
	}

	data, err := json.Marshal(b.queue)
	if err != nil {
		b.logger.Warn("failed to serialize buffer snapshot", "error", err)
		return
	}

	for len(data) > b.cfg.MaxStorageBytes && len(b.queue) > 0 {
		dropped := (len(b.queue) + 1) / 2
		b.queue = b.queue[dropped:]
		b.logger.Warn("buffer snapshot over size cap, dropped oldest events",
			"dropped", dropped,
			"remaining", len(b.queue),
		)
		if data, err = json.Marshal(b.queue); err != nil {
			b.logger.Warn("failed to serialize buffer snapshot", "error", err)
			return
		}
	}

	if err := b.store.Set(ctx, b.cfg.StorageKey, string(data)); err != nil {
		b.logger.Warn("failed to persist buffer snapshot", "error", err)
	}
}
