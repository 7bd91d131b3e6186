package domain

import "errors"

// Common domain errors.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrBatchRejected   = errors.New("batch rejected by ingest policy")
	ErrInvalidBatch    = errors.New("invalid event batch")
	ErrStoreClosed     = errors.New("store is closed")
)

// ErrorResponse is the standard JSON error model returned by the HTTP API.
// It avoids exposing sensitive details while keeping a stable
// machine-readable code.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	TraceID string `json:"trace_id,omitempty"`
}
