package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/intentlabs/intent-telemetry/pkg/domain"
	"github.com/intentlabs/intent-telemetry/pkg/telemetry"
)

const serviceName = "intent-telemetry"

// Version is stamped at build time via -ldflags.
var Version = "dev"

// liveUpdate is the message broadcast on the /live feed after each
// admitted batch.
type liveUpdate struct {
	Type       string   `json:"type"`
	BatchID    string   `json:"batchId"`
	SessionIDs []string `json:"sessionIds"`
	Processed  int      `json:"processed"`
}

// sessionRollup is one row of the all-sessions insight summary.
type sessionRollup struct {
	SessionID         string  `json:"sessionId"`
	DurationMs        int64   `json:"durationMs"`
	EventCount        int     `json:"eventCount"`
	FrictionPatterns  int     `json:"frictionPatterns"`
	PrimaryIntent     string  `json:"primaryIntent,omitempty"`
	TopRecommendation string  `json:"topRecommendation,omitempty"`
	ConfidenceScore   float64 `json:"confidenceScore"`
	Complete          bool    `json:"complete"`
	Idle              bool    `json:"idle"`
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		s.writeError(w, r, http.StatusNotFound, "not_found", "unknown endpoint")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"service": serviceName,
		"version": Version,
		"endpoints": []string{
			"/health",
			"/metrics",
			"/live",
			"/api/v1/events/batch",
			"/api/v1/events/stats",
			"/api/v1/insights",
			"/api/v1/insights/{sessionId}",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	sessions, events := s.reconstructor.Totals()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":   "healthy",
		"sessions": sessions,
		"events":   events,
		"uptime_s": int(time.Since(s.startedAt).Seconds()),
	})
}

// handleBatch is the ingest endpoint. Admission order is fixed: decode,
// schema check, policy gate, then reconstruction. Duplicate batches ack
// successfully with zero processed, so client retries converge.
func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "use POST")
		return
	}

	var batch domain.EventBatch
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		s.metrics.RecordBatch("malformed", 0)
		s.writeError(w, r, http.StatusBadRequest, "invalid_batch", "malformed JSON: "+err.Error())
		return
	}
	if batch.SchemaVersion != domain.SchemaVersion {
		s.metrics.RecordBatch("schema_mismatch", 0)
		s.writeError(w, r, http.StatusBadRequest, "invalid_batch",
			"unsupported schema version "+batch.SchemaVersion)
		return
	}
	if batch.BatchID == "" {
		s.metrics.RecordBatch("malformed", 0)
		s.writeError(w, r, http.StatusBadRequest, "invalid_batch", "missing batchId")
		return
	}

	if gate := s.admissionGate(); gate != nil {
		decision, err := gate.Admit(r.Context(), batch)
		if err != nil {
			s.logger.Error("Admission gate evaluation failed", "batch_id", batch.BatchID, "error", err)
			s.metrics.RecordBatch("gate_error", 0)
			s.writeError(w, r, http.StatusInternalServerError, "internal_error", "admission evaluation failed")
			return
		}
		if !decision.Allowed {
			s.logger.Warn("Batch rejected by admission policy",
				"batch_id", batch.BatchID,
				"reasons", decision.Reasons)
			s.metrics.RecordBatch("rejected", 0)
			s.metrics.RecordDroppedEvents("policy", len(batch.Events))
			s.writeError(w, r, http.StatusUnprocessableEntity, "batch_rejected",
				strings.Join(decision.Reasons, "; "))
			return
		}
	}

	result := s.reconstructor.Ingest(batch)

	if s.store != nil {
		// Write-behind: archive failure degrades durability, not ingestion.
		if _, err := s.store.ArchiveBatch(r.Context(), batch); err != nil {
			s.logger.Error("Failed to archive batch", "batch_id", batch.BatchID, "error", err)
		}
	}

	sessions, events := s.reconstructor.Totals()
	s.metrics.RecordBatch("accepted", result.Processed)
	s.metrics.RecordDroppedEvents("duplicate", result.Received-result.Processed)
	s.metrics.SetActiveSessions(sessions)
	telemetry.RecordBatchMetrics(r.Context(), telemetry.BatchMetrics{
		Status:    "accepted",
		Received:  result.Received,
		Processed: result.Processed,
		Dropped:   result.Received - result.Processed,
	})

	s.hub.BroadcastJSON(liveUpdate{
		Type:       "batch.ingested",
		BatchID:    batch.BatchID,
		SessionIDs: batchSessionIDs(batch),
		Processed:  result.Processed,
	})

	s.logger.Debug("Batch ingested",
		"batch_id", batch.BatchID,
		"received", result.Received,
		"processed", result.Processed)

	s.writeJSON(w, http.StatusOK, domain.BatchAck{
		Received:  result.Received,
		Processed: result.Processed,
		Stats:     domain.IngestInfo{Sessions: sessions, Events: events},
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "use GET")
		return
	}
	sessions, events := s.reconstructor.Totals()
	s.writeJSON(w, http.StatusOK, domain.IngestInfo{Sessions: sessions, Events: events})
}

// handleInsight serves GET /api/v1/insights/{sessionId}.
func (s *Server) handleInsight(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "use GET")
		return
	}
	sessionID := strings.TrimPrefix(r.URL.Path, "/api/v1/insights/")
	if sessionID == "" || strings.Contains(sessionID, "/") {
		s.writeError(w, r, http.StatusNotFound, "not_found", "unknown endpoint")
		return
	}

	session, ok := s.reconstructor.Session(sessionID)
	if !ok {
		s.metrics.RecordInsightRequest("not_found", 0)
		s.writeError(w, r, http.StatusNotFound, "session_not_found",
			"no events recorded for session "+sessionID)
		return
	}

	start := time.Now()
	summary := s.generator.Generate(r.Context(), session)
	elapsed := time.Since(start)
	s.metrics.RecordInsightRequest("ok", elapsed)
	patternTypes := make([]string, 0, len(summary.FrictionPatterns))
	for _, pattern := range summary.FrictionPatterns {
		s.metrics.RecordFrictionPattern(string(pattern.PatternType))
		patternTypes = append(patternTypes, string(pattern.PatternType))
	}
	telemetry.RecordInsightMetrics(r.Context(), elapsed, patternTypes)

	s.writeJSON(w, http.StatusOK, summary)
}

// handleInsightSummaries serves GET /api/v1/insights: one rollup row per
// known session, in sorted session-id order.
func (s *Server) handleInsightSummaries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "use GET")
		return
	}

	rollups := []sessionRollup{}
	for _, sessionID := range s.reconstructor.SessionIDs() {
		session, ok := s.reconstructor.Session(sessionID)
		if !ok {
			continue
		}
		summary := s.generator.Generate(r.Context(), session)

		rollup := sessionRollup{
			SessionID:        sessionID,
			DurationMs:       summary.Session.DurationMs,
			EventCount:       summary.Session.EventCount,
			FrictionPatterns: len(summary.FrictionPatterns),
			ConfidenceScore:  summary.ConfidenceScore,
			Complete:         summary.Session.Complete,
		}
		if s.cfg.SessionIdleTimeout > 0 {
			rollup.Idle = time.Since(session.IdleSince()) > s.cfg.SessionIdleTimeout
		}
		if len(summary.IntentHypotheses) > 0 {
			rollup.PrimaryIntent = summary.IntentHypotheses[0].Hypothesis
		}
		if len(summary.Recommendations) > 0 {
			rollup.TopRecommendation = summary.Recommendations[0]
		}
		rollups = append(rollups, rollup)
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"sessions": rollups,
		"count":    len(rollups),
	})
}

func batchSessionIDs(batch domain.EventBatch) []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, event := range batch.Events {
		if event.SessionID == "" {
			continue
		}
		if _, ok := seen[event.SessionID]; ok {
			continue
		}
		seen[event.SessionID] = struct{}{}
		ids = append(ids, event.SessionID)
	}
	return ids
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	resp := domain.ErrorResponse{Code: code, Message: message}
	if span := trace.SpanFromContext(r.Context()); span.SpanContext().HasTraceID() {
		resp.TraceID = span.SpanContext().TraceID().String()
	}
	s.writeJSON(w, status, resp)
}
