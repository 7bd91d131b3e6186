package reconstruct

import (
	"time"

	"github.com/intentlabs/intent-telemetry/pkg/domain"
)

// Session is a read-only snapshot of one reconstructed session: events
// deduplicated by event id and sorted by sequence number. Derived metrics
// are computed lazily on read, never maintained during ingestion.
//
// A session is materially complete only when a session.end event is
// present; otherwise callers must treat the snapshot as a possibly
// still-open session.
type Session struct {
	SessionID string
	Events    []domain.TelemetryEvent

	lastIngest time.Time
}

// StartTime returns the timestamp of the first event in sequence order.
func (s *Session) StartTime() time.Time {
	if len(s.Events) == 0 {
		return time.Time{}
	}
	return s.Events[0].Timestamp
}

// EndTime returns the timestamp of the last event in sequence order.
func (s *Session) EndTime() time.Time {
	if len(s.Events) == 0 {
		return time.Time{}
	}
	return s.Events[len(s.Events)-1].Timestamp
}

// Duration is the span between the first and last event.
func (s *Session) Duration() time.Duration {
	if len(s.Events) == 0 {
		return 0
	}
	return s.EndTime().Sub(s.StartTime())
}

// EventCount is the number of distinct events observed for the session.
func (s *Session) EventCount() int {
	return len(s.Events)
}

// Complete reports whether a session.end event has been observed.
func (s *Session) Complete() bool {
	for _, event := range s.Events {
		if event.Type == domain.EventSessionEnd {
			return true
		}
	}
	return false
}

// IdleSince returns when the session last received a batch. Callers apply
// their own reconstruction-timeout policy on top of this; the core does
// not expire sessions.
func (s *Session) IdleSince() time.Time {
	return s.lastIngest
}

// EventsByType returns the session's events of the given type, in
// sequence order.
func (s *Session) EventsByType(eventType domain.EventType) []domain.TelemetryEvent {
	var matched []domain.TelemetryEvent
	for _, event := range s.Events {
		if event.Type == eventType {
			matched = append(matched, event)
		}
	}
	return matched
}

// NavigationPath returns the ordered list of view.transition targets.
func (s *Session) NavigationPath() []string {
	var path []string
	for _, event := range s.Events {
		if event.Type != domain.EventViewTransition {
			continue
		}
		if to, ok := event.Data["to"].(string); ok && to != "" {
			path = append(path, to)
		}
	}
	return path
}

// Summary derives the session-level metrics.
func (s *Session) Summary() domain.SessionSummary {
	summary := domain.SessionSummary{
		SessionID:  s.SessionID,
		StartTime:  s.StartTime(),
		EndTime:    s.EndTime(),
		DurationMs: s.Duration().Milliseconds(),
		EventCount: s.EventCount(),
		Complete:   s.Complete(),
	}
	for _, event := range s.Events {
		switch {
		case event.Type == domain.EventViewTransition:
			summary.PageViews++
		case event.Type.IsInteraction():
			summary.Interactions++
		case event.Type.IsFriction():
			summary.FrictionEvents++
		}
	}
	return summary
}
