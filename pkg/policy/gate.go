// Package policy gates batch ingestion with Rego-evaluated admission rules.
//
// Operators tune admission (batch ceilings, permitted event types) by
// supplying their own Rego module; the built-in module covers the common
// limits. A gate decision rejects whole batches before reconstruction, so
// it runs on every ingest and keeps its evaluation state prepared up front.
package policy

import (
	"context"
	"errors"
	"fmt"
	"strings"

	//nolint:staticcheck // OPA v1 migration pending
	"github.com/open-policy-agent/opa/ast"
	//nolint:staticcheck // OPA v1 migration pending
	"github.com/open-policy-agent/opa/rego"

	"github.com/intentlabs/intent-telemetry/pkg/domain"
)

// Limits parameterize the built-in admission module.
type Limits struct {
	// MaxBatchEvents caps the number of events in one batch. Zero selects
	// the default.
	MaxBatchEvents int
	// AllowedTypes restricts admissible event types. Empty admits every
	// valid type.
	AllowedTypes []string
	// RequireSession rejects events without a session id.
	RequireSession bool
}

const defaultMaxBatchEvents = 500

// GateOptions control gate construction.
type GateOptions struct {
	// Entrypoint is the decision path inside the module. Defaults to
	// "intent/ingest/decision".
	Entrypoint string
	// Module overrides the built-in Rego module.
	Module string
	// Limits feed the module as input. Ignored fields are harmless for
	// custom modules that do not read them.
	Limits Limits
}

const defaultEntrypoint = "intent/ingest/decision"

// defaultModule is the built-in admission policy. Decisions are an object
// with an "allow" boolean and a sorted "reasons" array.
const defaultModule = `package intent.ingest

default decision := {"allow": true, "reasons": []}

decision := {"allow": false, "reasons": sort(violations)} if {
	count(violations) > 0
}

violations contains msg if {
	input.event_count > input.limits.max_batch_events
	msg := sprintf("batch of %v events exceeds limit %v", [input.event_count, input.limits.max_batch_events])
}

violations contains msg if {
	count(input.limits.allowed_types) > 0
	some event in input.events
	not event.type in input.limits.allowed_types
	msg := sprintf("event type %q not admitted", [event.type])
}

violations contains msg if {
	input.limits.require_session
	some event in input.events
	event.session_id == ""
	msg := "event missing session id"
}
`

// Decision is the outcome of admitting one batch.
type Decision struct {
	Allowed bool
	Reasons []string
}

// Gate evaluates the admission policy for incoming batches. Safe for
// concurrent use after construction.
type Gate struct {
	prepared rego.PreparedEvalQuery
	limits   Limits
}

// NewGate compiles the admission module and prepares its decision query.
// Syntax errors in a custom module surface here, not at ingest time.
func NewGate(ctx context.Context, opts GateOptions) (*Gate, error) {
	entry := strings.TrimSpace(opts.Entrypoint)
	if entry == "" {
		entry = defaultEntrypoint
	}
	source := opts.Module
	if source == "" {
		source = defaultModule
	}
	limits := opts.Limits
	if limits.MaxBatchEvents <= 0 {
		limits.MaxBatchEvents = defaultMaxBatchEvents
	}

	module, err := ast.ParseModuleWithOpts("ingest.rego", source, ast.ParserOptions{RegoVersion: ast.RegoV1})
	if err != nil {
		return nil, fmt.Errorf("policy: parse rego module: %w", err)
	}

	query := "data." + strings.ReplaceAll(entry, "/", ".")
	prepared, err := rego.New(
		rego.Query(query),
		rego.ParsedModule(module),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("policy: compile rego module: %w", err)
	}

	return &Gate{prepared: prepared, limits: limits}, nil
}

// Admit evaluates the policy against a batch. A missing or empty decision
// defaults to allow; malformed decisions are errors so a broken custom
// module fails loudly rather than silently admitting everything.
func (g *Gate) Admit(ctx context.Context, batch domain.EventBatch) (Decision, error) {
	events := make([]map[string]any, len(batch.Events))
	for i, event := range batch.Events {
		events[i] = map[string]any{
			"type":       string(event.Type),
			"event_id":   event.EventID,
			"session_id": event.SessionID,
		}
	}

	input := map[string]any{
		"batch_id":    batch.BatchID,
		"event_count": len(batch.Events),
		"events":      events,
		"limits": map[string]any{
			"max_batch_events": g.limits.MaxBatchEvents,
			"allowed_types":    g.limits.AllowedTypes,
			"require_session":  g.limits.RequireSession,
		},
	}

	results, err := g.prepared.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return Decision{}, fmt.Errorf("policy: evaluate admission: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return Decision{Allowed: true}, nil
	}

	payload, ok := results[0].Expressions[0].Value.(map[string]any)
	if !ok {
		return Decision{}, fmt.Errorf("policy: unexpected decision type %T", results[0].Expressions[0].Value)
	}
	return parseDecision(payload)
}

func parseDecision(payload map[string]any) (Decision, error) {
	allowed, ok := payload["allow"].(bool)
	if !ok {
		return Decision{}, errors.New(`policy: decision missing boolean "allow"`)
	}

	var reasons []string
	if raw, ok := payload["reasons"].([]any); ok {
		for _, entry := range raw {
			if reason, ok := entry.(string); ok {
				reasons = append(reasons, reason)
			}
		}
	}
	return Decision{Allowed: allowed, Reasons: reasons}, nil
}
