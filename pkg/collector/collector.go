// Package collector stamps and enriches raw interactions into
// schema-compliant telemetry events.
package collector

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/intentlabs/intent-telemetry/pkg/domain"
	"github.com/intentlabs/intent-telemetry/pkg/privacy"
)

// Device type breakpoints on viewport width, in CSS pixels.
const (
	mobileMaxWidth = 768
	tabletMaxWidth = 1024
)

// EnvironmentProbe supplies the raw client environment at enrichment time.
// It is a capability parameter so the collector is testable without a real
// browser host.
type EnvironmentProbe interface {
	URL() string
	PageTitle() string
	Viewport() (width, height int)
	UserAgent() string
	TouchEnabled() bool
}

// Collector owns the current session identity and the per-session sequence
// counter. Safe for concurrent use.
type Collector struct {
	filter *privacy.Filter
	probe  EnvironmentProbe
	logger *slog.Logger
	now    func() time.Time

	mu           sync.Mutex
	sessionID    string
	sequence     int64
	sessionStart time.Time
}

// Option configures a Collector.
type Option func(*Collector)

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(c *Collector) { c.now = now }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Collector) { c.logger = logger }
}

// New creates a Collector with a fresh session identity.
func New(filter *privacy.Filter, probe EnvironmentProbe, opts ...Option) *Collector {
	c := &Collector{
		filter: filter,
		probe:  probe,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.sessionID = uuid.NewString()
	c.sessionStart = c.now()
	return c
}

// SessionID returns the current session identifier.
func (c *Collector) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// SessionStart returns when the current session began.
func (c *Collector) SessionStart() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionStart
}

// ResetSession regenerates the session id and resets the sequence counter.
// Used when a session explicitly ends and a new one begins.
func (c *Collector) ResetSession() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = uuid.NewString()
	c.sequence = 0
	c.sessionStart = c.now()
	return c.sessionID
}

// Collect builds a fully enriched event from a raw payload, routes it
// through the privacy filter and validates it. The second return value is
// false when validation fails: the event is dropped, never raised as an
// error, because per-event loss must not crash the host application.
func (c *Collector) Collect(eventType domain.EventType, rawData map[string]any) (*domain.TelemetryEvent, bool) {
	c.mu.Lock()
	c.sequence++
	seq := c.sequence
	sessionID := c.sessionID
	c.mu.Unlock()

	event := &domain.TelemetryEvent{
		SchemaVersion:  domain.SchemaVersion,
		Type:           eventType,
		EventID:        uuid.NewString(),
		SessionID:      sessionID,
		Timestamp:      c.now().UTC(),
		SequenceNumber: seq,
		Context:        c.captureContext(),
		Data:           c.filter.FilterObject(rawData),
	}
	if event.Data == nil {
		event.Data = map[string]any{}
	}

	if err := validate(event); err != nil {
		c.logger.Debug("dropping invalid event",
			"type", eventType,
			"reason", err,
		)
		return nil, false
	}
	return event, true
}

// captureContext snapshots the client environment. The device type is a
// presentation heuristic derived from viewport breakpoints.
func (c *Collector) captureContext() domain.EventContext {
	width, height := c.probe.Viewport()

	ctx := domain.EventContext{
		URL:       c.filter.SanitizeURL(c.probe.URL()),
		PageTitle: c.filter.FilterString(c.probe.PageTitle()),
		Viewport:  domain.Viewport{Width: width, Height: height},
		Device: domain.DeviceInfo{
			Type:         deviceType(width),
			TouchEnabled: c.probe.TouchEnabled(),
		},
		UserAgent: c.filter.FilterString(c.probe.UserAgent()),
	}

	if c.filter.Strict() {
		ctx.PageTitle = ""
		ctx.UserAgent = ""
	}
	return ctx
}

func deviceType(width int) string {
	switch {
	case width < mobileMaxWidth:
		return "mobile"
	case width < tabletMaxWidth:
		return "tablet"
	default:
		return "desktop"
	}
}
