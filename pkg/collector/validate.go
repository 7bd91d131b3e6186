package collector

import (
	"errors"
	"fmt"

	"github.com/intentlabs/intent-telemetry/pkg/domain"
)

// validate checks structural completeness of an enriched event: required
// base fields present, timestamp set, numeric viewport and a device
// descriptor in the context.
func validate(event *domain.TelemetryEvent) error {
	if event.SchemaVersion == "" {
		return errors.New("missing schema version")
	}
	if !event.Type.Valid() {
		return fmt.Errorf("unknown event type %q", event.Type)
	}
	if event.EventID == "" {
		return errors.New("missing event id")
	}
	if event.SessionID == "" {
		return errors.New("missing session id")
	}
	if event.Timestamp.IsZero() {
		return errors.New("missing timestamp")
	}
	if event.SequenceNumber <= 0 {
		return errors.New("sequence number must be positive")
	}
	if event.Context.Viewport.Width < 0 || event.Context.Viewport.Height < 0 {
		return errors.New("viewport dimensions must be non-negative")
	}
	if event.Context.Device.Type == "" {
		return errors.New("missing device descriptor")
	}
	return nil
}
