package domain

import "time"

// SchemaVersion is the wire schema carried by every event and batch envelope.
const SchemaVersion = "1.0.0"

// EventType identifies the shape of an event's Data payload.
type EventType string

// Event types, grouped by category. The Data map of an event is a tagged
// union keyed by this type.
const (
	// Session lifecycle
	EventSessionStart  EventType = "session.start"
	EventSessionResume EventType = "session.resume"
	EventSessionPause  EventType = "session.pause"
	EventSessionEnd    EventType = "session.end"

	// Navigation
	EventViewTransition    EventType = "view.transition"
	EventNavigationBack    EventType = "navigation.back"
	EventNavigationForward EventType = "navigation.forward"

	// Interaction
	EventActionClick  EventType = "action.click"
	EventActionSubmit EventType = "action.submit"
	EventActionFocus  EventType = "action.focus"
	EventActionBlur   EventType = "action.blur"
	EventActionInput  EventType = "action.input"

	// Performance
	EventPerformanceLoad    EventType = "performance.load"
	EventPerformanceLatency EventType = "performance.latency"

	// Friction indicators
	EventFrictionRapidClick         EventType = "friction.rapid_click"
	EventFrictionNavigationReversal EventType = "friction.navigation_reversal"
	EventFrictionError              EventType = "friction.error"
	EventFrictionFormAbandonment    EventType = "friction.form_abandonment"
)

// Valid reports whether t is one of the known event types.
func (t EventType) Valid() bool {
	switch t {
	case EventSessionStart, EventSessionResume, EventSessionPause, EventSessionEnd,
		EventViewTransition, EventNavigationBack, EventNavigationForward,
		EventActionClick, EventActionSubmit, EventActionFocus, EventActionBlur, EventActionInput,
		EventPerformanceLoad, EventPerformanceLatency,
		EventFrictionRapidClick, EventFrictionNavigationReversal,
		EventFrictionError, EventFrictionFormAbandonment:
		return true
	}
	return false
}

// IsFriction reports whether t is a friction-indicator type.
func (t EventType) IsFriction() bool {
	switch t {
	case EventFrictionRapidClick, EventFrictionNavigationReversal,
		EventFrictionError, EventFrictionFormAbandonment:
		return true
	}
	return false
}

// IsInteraction reports whether t counts as a direct user interaction.
func (t EventType) IsInteraction() bool {
	switch t {
	case EventActionClick, EventActionSubmit, EventActionInput:
		return true
	}
	return false
}

// Viewport holds the client viewport dimensions at capture time.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// DeviceInfo describes the client device class. The type is derived from
// viewport breakpoints and is a presentation heuristic, not an identity
// signal.
type DeviceInfo struct {
	Type         string `json:"type"`
	TouchEnabled bool   `json:"touchEnabled"`
}

// EventContext is the environment snapshot attached to an event at
// enrichment time. Immutable once attached.
type EventContext struct {
	URL       string     `json:"url,omitempty"`
	PageTitle string     `json:"pageTitle,omitempty"`
	Viewport  Viewport   `json:"viewport"`
	Device    DeviceInfo `json:"device"`
	UserAgent string     `json:"userAgent,omitempty"`
}

// TelemetryEvent is a single timestamped, sequenced record of client
// activity.
//
// SequenceNumber is strictly increasing within a session for events from a
// single collector instance. EventID is globally unique. Data carries the
// type-specific payload.
type TelemetryEvent struct {
	SchemaVersion  string         `json:"schemaVersion"`
	Type           EventType      `json:"type"`
	EventID        string         `json:"eventId"`
	SessionID      string         `json:"sessionId"`
	Timestamp      time.Time      `json:"timestamp"`
	SequenceNumber int64          `json:"sequenceNumber"`
	Context        EventContext   `json:"context"`
	Data           map[string]any `json:"data"`
}

// EventBatch is the unit of transmission and of server-side validation.
// Events keep the order they were collected in.
type EventBatch struct {
	SchemaVersion string           `json:"schemaVersion"`
	BatchID       string           `json:"batchId"`
	Timestamp     time.Time        `json:"timestamp"`
	Events        []TelemetryEvent `json:"events"`
}

// BatchAck is the server response to an accepted batch.
type BatchAck struct {
	Received  int        `json:"received"`
	Processed int        `json:"processed"`
	Stats     IngestInfo `json:"stats"`
}

// IngestInfo summarises reconstruction-store totals after an ingest.
type IngestInfo struct {
	Sessions int `json:"sessions"`
	Events   int `json:"events"`
}
