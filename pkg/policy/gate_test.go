package policy

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intentlabs/intent-telemetry/pkg/domain"
)

func gateBatch(events ...domain.TelemetryEvent) domain.EventBatch {
	return domain.EventBatch{
		SchemaVersion: domain.SchemaVersion,
		BatchID:       "batch-1",
		Events:        events,
	}
}

func gateEvent(eventType domain.EventType, sessionID string) domain.TelemetryEvent {
	return domain.TelemetryEvent{
		Type:      eventType,
		EventID:   "event-1",
		SessionID: sessionID,
	}
}

func TestGate_DefaultsAdmitValidBatch(t *testing.T) {
	gate, err := NewGate(context.Background(), GateOptions{})
	require.NoError(t, err)

	decision, err := gate.Admit(context.Background(), gateBatch(
		gateEvent(domain.EventActionClick, "s1"),
		gateEvent(domain.EventSessionEnd, "s1"),
	))
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Empty(t, decision.Reasons)
}

func TestGate_RejectsOversizedBatch(t *testing.T) {
	gate, err := NewGate(context.Background(), GateOptions{
		Limits: Limits{MaxBatchEvents: 2},
	})
	require.NoError(t, err)

	decision, err := gate.Admit(context.Background(), gateBatch(
		gateEvent(domain.EventActionClick, "s1"),
		gateEvent(domain.EventActionClick, "s1"),
		gateEvent(domain.EventActionClick, "s1"),
	))
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	require.Len(t, decision.Reasons, 1)
	assert.Equal(t, "batch of 3 events exceeds limit 2", decision.Reasons[0])
}

func TestGate_RestrictsEventTypes(t *testing.T) {
	gate, err := NewGate(context.Background(), GateOptions{
		Limits: Limits{AllowedTypes: []string{string(domain.EventActionClick)}},
	})
	require.NoError(t, err)

	decision, err := gate.Admit(context.Background(), gateBatch(
		gateEvent(domain.EventActionClick, "s1"),
		gateEvent(domain.EventFrictionError, "s1"),
	))
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	require.Len(t, decision.Reasons, 1)
	assert.Contains(t, decision.Reasons[0], `"friction.error"`)
}

func TestGate_RequireSession(t *testing.T) {
	gate, err := NewGate(context.Background(), GateOptions{
		Limits: Limits{RequireSession: true},
	})
	require.NoError(t, err)

	decision, err := gate.Admit(context.Background(), gateBatch(
		gateEvent(domain.EventActionClick, ""),
	))
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Contains(t, decision.Reasons, "event missing session id")
}

func TestGate_ReasonsSortedAndDistinct(t *testing.T) {
	gate, err := NewGate(context.Background(), GateOptions{
		Limits: Limits{
			MaxBatchEvents: 1,
			RequireSession: true,
		},
	})
	require.NoError(t, err)

	decision, err := gate.Admit(context.Background(), gateBatch(
		gateEvent(domain.EventActionClick, ""),
		gateEvent(domain.EventActionClick, ""),
	))
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, []string{
		"batch of 2 events exceeds limit 1",
		"event missing session id",
	}, decision.Reasons)
}

func TestGate_CustomModule(t *testing.T) {
	const module = `package intent.ingest

default decision := {"allow": false, "reasons": ["closed for maintenance"]}
`
	gate, err := NewGate(context.Background(), GateOptions{Module: module})
	require.NoError(t, err)

	decision, err := gate.Admit(context.Background(), gateBatch(gateEvent(domain.EventActionClick, "s1")))
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, []string{"closed for maintenance"}, decision.Reasons)
}

func TestGate_InvalidModuleFailsConstruction(t *testing.T) {
	_, err := NewGate(context.Background(), GateOptions{Module: "package broken\n\ndecision :="})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "policy:")
}

func TestGate_MalformedDecisionIsAnError(t *testing.T) {
	const module = `package intent.ingest

decision := {"verdict": "maybe"}
`
	gate, err := NewGate(context.Background(), GateOptions{Module: module})
	require.NoError(t, err)

	_, err = gate.Admit(context.Background(), gateBatch(gateEvent(domain.EventActionClick, "s1")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "allow")
}

func TestGate_EmptyBatchAdmitted(t *testing.T) {
	gate, err := NewGate(context.Background(), GateOptions{})
	require.NoError(t, err)

	decision, err := gate.Admit(context.Background(), gateBatch())
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestGate_DefaultCeilingApplies(t *testing.T) {
	gate, err := NewGate(context.Background(), GateOptions{})
	require.NoError(t, err)

	events := make([]domain.TelemetryEvent, defaultMaxBatchEvents+1)
	for i := range events {
		events[i] = domain.TelemetryEvent{
			Type:      domain.EventActionClick,
			EventID:   fmt.Sprintf("event-%d", i),
			SessionID: "s1",
		}
	}

	decision, err := gate.Admit(context.Background(), gateBatch(events...))
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
}
