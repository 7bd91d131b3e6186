// Package transmit delivers event batches to the ingest endpoint with
// bounded retries and exponential backoff.
//
// The transmitter performs no persistence of its own: a false return from
// Send means every attempt was exhausted and the buffer re-queues the
// events. That split keeps delivery and durability cleanly separated.
package transmit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/intentlabs/intent-telemetry/pkg/domain"
)

// Defaults for Config fields left zero.
const (
	DefaultMaxRetries        = 3
	DefaultRetryDelay        = 1000 * time.Millisecond
	DefaultBackoffMultiplier = 2.0
	DefaultRequestTimeout    = 10 * time.Second
)

// Config controls delivery behaviour.
type Config struct {
	// Endpoint is the full URL of the batch ingest route.
	Endpoint string
	// MaxRetries is the number of additional attempts after the first.
	MaxRetries int
	// RetryDelay is the base backoff sleep before the first retry.
	RetryDelay time.Duration
	// BackoffMultiplier grows the sleep between consecutive retries.
	BackoffMultiplier float64
	// RequestTimeout bounds each individual attempt; an expired attempt is
	// aborted and treated as a retryable failure.
	RequestTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	} else if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.BackoffMultiplier <= 0 {
		c.BackoffMultiplier = DefaultBackoffMultiplier
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
}

// Transmitter packages events into batch envelopes and posts them.
type Transmitter struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Transmitter.
type Option func(*Transmitter)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(t *Transmitter) { t.client = client }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transmitter) { t.logger = logger }
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(t *Transmitter) { t.now = now }
}

// New constructs a Transmitter for the configured endpoint.
func New(cfg Config, opts ...Option) *Transmitter {
	cfg.applyDefaults()
	t := &Transmitter{
		cfg:    cfg,
		client: &http.Client{},
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Send wraps events into a fresh batch envelope and attempts delivery.
// Returns false only after all attempts are exhausted.
func (t *Transmitter) Send(ctx context.Context, events []domain.TelemetryEvent) bool {
	if len(events) == 0 {
		return true
	}

	batch := domain.EventBatch{
		SchemaVersion: domain.SchemaVersion,
		BatchID:       uuid.NewString(),
		Timestamp:     t.now().UTC(),
		Events:        events,
	}
	payload, err := json.Marshal(batch)
	if err != nil {
		t.logger.Error("failed to serialize batch", "batch_id", batch.BatchID, "error", err)
		return false
	}

	for attempt := 0; attempt <= t.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(t.cfg.RetryDelay, t.cfg.BackoffMultiplier, attempt)
			select {
			case <-ctx.Done():
				t.logger.Warn("transmission cancelled", "batch_id", batch.BatchID)
				return false
			case <-time.After(delay):
			}
		}

		if err := t.post(ctx, payload); err != nil {
			t.logger.Warn("batch delivery attempt failed",
				"batch_id", batch.BatchID,
				"attempt", attempt+1,
				"error", err,
			)
			continue
		}

		t.logger.Debug("batch delivered",
			"batch_id", batch.BatchID,
			"events", len(events),
			"attempts", attempt+1,
		)
		return true
	}

	t.logger.Warn("batch delivery exhausted all attempts",
		"batch_id", batch.BatchID,
		"events", len(events),
	)
	return false
}

// post performs one bounded delivery attempt. The timeout aborts only this
// in-flight call; scheduled retries proceed independently.
func (t *Transmitter) post(ctx context.Context, payload []byte) error {
	attemptCtx, cancel := context.WithTimeout(ctx, t.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, t.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("post batch: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

// backoffDelay computes retryDelay * multiplier^(attempt-1), giving the
// 1s, 2s, 4s progression under defaults.
func backoffDelay(base time.Duration, multiplier float64, attempt int) time.Duration {
	delay := float64(base)
	for i := 1; i < attempt; i++ {
		delay *= multiplier
	}
	return time.Duration(delay)
}
