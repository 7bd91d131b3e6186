// Package sdk assembles the client pipeline into a Tracker: capture,
// privacy filtering, durable buffering, and retrying transmission behind
// one explicit instance.
//
// There is no package-level singleton. The host application constructs a
// Tracker, hands it around, and calls Close when done; construction and
// teardown are explicit calls with no hidden global state.
package sdk

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/intentlabs/intent-telemetry/pkg/buffer"
	"github.com/intentlabs/intent-telemetry/pkg/collector"
	"github.com/intentlabs/intent-telemetry/pkg/domain"
	"github.com/intentlabs/intent-telemetry/pkg/privacy"
	"github.com/intentlabs/intent-telemetry/pkg/storage"
	"github.com/intentlabs/intent-telemetry/pkg/transmit"
)

// OptOutStorageKey holds the persisted opt-out flag: the literal string
// "true" or "false", overwritten wholesale.
const OptOutStorageKey = "intent_telemetry.optout"

// Config is the full client-side configuration surface.
type Config struct {
	// Endpoint receives batch POSTs.
	Endpoint string
	// BatchSize triggers a flush when the buffer reaches this length.
	BatchSize int
	// FlushInterval triggers periodic flushes.
	FlushInterval time.Duration
	// MaxRetries, RetryDelay, and BackoffMultiplier shape transmission
	// retry behaviour.
	MaxRetries        int
	RetryDelay        time.Duration
	BackoffMultiplier float64
	// RequestTimeout bounds each transmission attempt.
	RequestTimeout time.Duration
	// Persist enables durable buffering across restarts.
	Persist bool
	// MaxStorageBytes caps the persisted buffer snapshot.
	MaxStorageBytes int
	// Privacy configures the PII filter.
	Privacy privacy.Config
	// QueueDepth bounds the task scheduler. Zero selects the default.
	QueueDepth int
}

// Tracker is one client pipeline instance. All collection work runs on a
// single-worker scheduler, so events are processed strictly in the order
// they were tracked.
type Tracker struct {
	collector   *collector.Collector
	buffer      *buffer.Buffer
	store       storage.Store
	scheduler   *scheduler
	logger      *slog.Logger
	cancelRun   context.CancelFunc
	runFinished chan struct{}

	mu          sync.Mutex
	subscribers map[int]func(domain.TelemetryEvent)
	nextSubID   int
	optedOut    bool
	closed      bool
}

// Option configures a Tracker.
type Option func(*trackerOptions)

type trackerOptions struct {
	logger *slog.Logger
	sender buffer.Sender
}

// WithLogger sets the logger shared by all pipeline stages.
func WithLogger(logger *slog.Logger) Option {
	return func(o *trackerOptions) { o.logger = logger }
}

// WithSender replaces the HTTP transmitter. Used by tests.
func WithSender(sender buffer.Sender) Option {
	return func(o *trackerOptions) { o.sender = sender }
}

// NewTracker builds and starts a Tracker. The probe supplies environment
// context; store holds the durable buffer snapshot and the opt-out flag.
// A previously persisted opt-out takes effect immediately.
func NewTracker(cfg Config, probe collector.EnvironmentProbe, store storage.Store, opts ...Option) (*Tracker, error) {
	options := trackerOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&options)
	}

	filter, err := privacy.NewFilter(cfg.Privacy)
	if err != nil {
		return nil, err
	}

	sender := options.sender
	if sender == nil {
		sender = transmit.New(transmit.Config{
			Endpoint:          cfg.Endpoint,
			MaxRetries:        cfg.MaxRetries,
			RetryDelay:        cfg.RetryDelay,
			BackoffMultiplier: cfg.BackoffMultiplier,
			RequestTimeout:    cfg.RequestTimeout,
		}, transmit.WithLogger(options.logger))
	}

	t := &Tracker{
		collector: collector.New(filter, probe, collector.WithLogger(options.logger)),
		store:     store,
		logger:    options.logger,
		buffer: buffer.New(buffer.Config{
			MaxBatchSize:    cfg.BatchSize,
			FlushInterval:   cfg.FlushInterval,
			Persist:         cfg.Persist,
			MaxStorageBytes: cfg.MaxStorageBytes,
		}, sender, store, options.logger),
		scheduler:   newScheduler(cfg.QueueDepth),
		subscribers: make(map[int]func(domain.TelemetryEvent)),
		runFinished: make(chan struct{}),
	}
	t.optedOut = t.readOptOut()

	runCtx, cancel := context.WithCancel(context.Background())
	t.cancelRun = cancel
	go func() {
		defer close(t.runFinished)
		t.buffer.Run(runCtx)
	}()

	return t, nil
}

// Track captures one event. It returns false when the event was not queued
// for collection: the tracker is closed, the user opted out, or the
// scheduler is saturated. Validation failures inside the pipeline drop the
// event silently; tracking must never crash the host application.
func (t *Tracker) Track(eventType domain.EventType, data map[string]any) bool {
	t.mu.Lock()
	if t.closed || t.optedOut {
		t.mu.Unlock()
		return false
	}
	t.mu.Unlock()

	return t.scheduler.submit(func() {
		event, ok := t.collector.Collect(eventType, data)
		if !ok {
			return
		}
		t.notify(*event)
		t.buffer.Add(context.Background(), *event)
	})
}

// Subscription is a handle to an event observer. Cancel detaches the
// observer; it is safe to call more than once and after Close.
type Subscription struct {
	cancel func()
	once   sync.Once
}

// Cancel detaches the subscription.
func (s *Subscription) Cancel() {
	s.once.Do(s.cancel)
}

// Subscribe registers an observer for every successfully collected event.
// Handlers run on the scheduler worker, in collection order; slow handlers
// delay the pipeline, not the host. The returned handle must be cancelled
// by the caller, though Close detaches all remaining subscriptions anyway.
func (t *Tracker) Subscribe(handler func(domain.TelemetryEvent)) *Subscription {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.nextSubID
	t.nextSubID++
	if !t.closed {
		t.subscribers[id] = handler
	}

	return &Subscription{cancel: func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.subscribers, id)
	}}
}

func (t *Tracker) notify(event domain.TelemetryEvent) {
	t.mu.Lock()
	handlers := make([]func(domain.TelemetryEvent), 0, len(t.subscribers))
	for _, h := range t.subscribers {
		handlers = append(handlers, h)
	}
	t.mu.Unlock()

	for _, h := range handlers {
		h(event)
	}
}

// SessionID returns the current session id.
func (t *Tracker) SessionID() string {
	return t.collector.SessionID()
}

// EndSession emits a session.end event, flushes, and rotates to a fresh
// session id with the sequence counter reset.
func (t *Tracker) EndSession() {
	t.Track(domain.EventSessionEnd, nil)
	t.scheduler.submit(func() {
		t.buffer.Flush(context.Background())
		t.collector.ResetSession()
	})
}

// Flush forces a delivery attempt of everything queued and waits for it to
// complete or for ctx to expire.
func (t *Tracker) Flush(ctx context.Context) {
	done := make(chan struct{})
	submitted := t.scheduler.submit(func() {
		defer close(done)
		t.buffer.Flush(ctx)
	})
	if !submitted {
		return
	}
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// SetOptOut persists the user's tracking preference. Opting out stops new
// events immediately; events already buffered still flush on Close.
func (t *Tracker) SetOptOut(ctx context.Context, optOut bool) error {
	t.mu.Lock()
	t.optedOut = optOut
	t.mu.Unlock()

	if t.store == nil {
		return nil
	}
	value := "false"
	if optOut {
		value = "true"
	}
	return t.store.Set(ctx, OptOutStorageKey, value)
}

// OptedOut reports the current tracking preference.
func (t *Tracker) OptedOut() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.optedOut
}

func (t *Tracker) readOptOut() bool {
	if t.store == nil {
		return false
	}
	value, ok, err := t.store.Get(context.Background(), OptOutStorageKey)
	if err != nil {
		t.logger.Warn("Failed to read opt-out flag, assuming opted in", "error", err)
		return false
	}
	return ok && value == "true"
}

// Close drains the scheduler, performs a final teardown flush, and
// detaches all subscriptions. The tracker accepts no events afterwards.
// Safe to call more than once.
func (t *Tracker) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.subscribers = make(map[int]func(domain.TelemetryEvent))
	t.mu.Unlock()

	t.scheduler.close()
	t.cancelRun()
	<-t.runFinished
	return nil
}
