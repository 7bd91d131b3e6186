// Package archive persists admitted batches to SQLite so reconstructed
// state survives server restarts. The in-memory reconstructor stays the
// source of truth for reads; the archive is a write-behind durable log that
// can rehydrate it on startup.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/intentlabs/intent-telemetry/pkg/domain"

	_ "modernc.org/sqlite"
)

// Archive stores telemetry events in a local SQLite database. Safe for
// concurrent use; database/sql serializes access.
type Archive struct {
	db *sql.DB
}

// Open creates or opens the archive database at dbPath.
func Open(dbPath string) (*Archive, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("archive: create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("archive: open sqlite: %w", err)
	}

	a := &Archive{db: db}
	if err := a.ensureSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

func (a *Archive) ensureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS events (
  event_id TEXT PRIMARY KEY,
  session_id TEXT NOT NULL,
  batch_id TEXT NOT NULL,
  type TEXT NOT NULL,
  sequence_number INTEGER NOT NULL,
  timestamp TEXT NOT NULL,
  context TEXT NOT NULL,
  data TEXT NOT NULL,
  archived_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_session ON events (session_id, sequence_number);
`
	if _, err := a.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("archive: create events table: %w", err)
	}
	return nil
}

// ArchiveBatch appends a batch's events inside one transaction. Events whose
// ids were already archived are skipped, so retried batches stay idempotent.
// Returns the number of newly archived events.
func (a *Archive) ArchiveBatch(ctx context.Context, batch domain.EventBatch) (int, error) {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("archive: begin tx: %w", err)
	}
	defer tx.Rollback()

	const stmt = `
INSERT INTO events (event_id, session_id, batch_id, type, sequence_number, timestamp, context, data, archived_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(event_id) DO NOTHING;
`
	archivedAt := time.Now().UTC().Format(time.RFC3339Nano)
	inserted := 0
	for _, event := range batch.Events {
		if event.EventID == "" || event.SessionID == "" {
			continue
		}
		contextJSON, err := json.Marshal(event.Context)
		if err != nil {
			return 0, fmt.Errorf("archive: marshal context: %w", err)
		}
		dataJSON, err := json.Marshal(event.Data)
		if err != nil {
			return 0, fmt.Errorf("archive: marshal data: %w", err)
		}

		result, err := tx.ExecContext(ctx, stmt,
			event.EventID,
			event.SessionID,
			batch.BatchID,
			string(event.Type),
			event.SequenceNumber,
			event.Timestamp.UTC().Format(time.RFC3339Nano),
			string(contextJSON),
			string(dataJSON),
			archivedAt,
		)
		if err != nil {
			return 0, fmt.Errorf("archive: insert event: %w", err)
		}
		if n, err := result.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("archive: commit: %w", err)
	}
	return inserted, nil
}

// SessionEvents returns a session's archived events in sequence order.
func (a *Archive) SessionEvents(ctx context.Context, sessionID string) ([]domain.TelemetryEvent, error) {
	const query = `
SELECT event_id, session_id, type, sequence_number, timestamp, context, data
FROM events WHERE session_id = ? ORDER BY sequence_number, timestamp, event_id;
`
	rows, err := a.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("archive: query session events: %w", err)
	}
	defer rows.Close()

	var events []domain.TelemetryEvent
	for rows.Next() {
		var (
			event       domain.TelemetryEvent
			eventType   string
			timestamp   string
			contextJSON string
			dataJSON    string
		)
		if err := rows.Scan(&event.EventID, &event.SessionID, &eventType, &event.SequenceNumber, &timestamp, &contextJSON, &dataJSON); err != nil {
			return nil, fmt.Errorf("archive: scan event: %w", err)
		}
		event.SchemaVersion = domain.SchemaVersion
		event.Type = domain.EventType(eventType)
		if event.Timestamp, err = time.Parse(time.RFC3339Nano, timestamp); err != nil {
			return nil, fmt.Errorf("archive: parse timestamp: %w", err)
		}
		if err := json.Unmarshal([]byte(contextJSON), &event.Context); err != nil {
			return nil, fmt.Errorf("archive: unmarshal context: %w", err)
		}
		if err := json.Unmarshal([]byte(dataJSON), &event.Data); err != nil {
			return nil, fmt.Errorf("archive: unmarshal data: %w", err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// SessionIDs returns every archived session id, sorted.
func (a *Archive) SessionIDs(ctx context.Context) ([]string, error) {
	rows, err := a.db.QueryContext(ctx, `SELECT DISTINCT session_id FROM events ORDER BY session_id;`)
	if err != nil {
		return nil, fmt.Errorf("archive: query session ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("archive: scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Totals returns the archived session and event counts.
func (a *Archive) Totals(ctx context.Context) (sessions, events int, err error) {
	row := a.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT session_id), COUNT(*) FROM events;`)
	if err := row.Scan(&sessions, &events); err != nil {
		return 0, 0, fmt.Errorf("archive: count events: %w", err)
	}
	return sessions, events, nil
}

// Replay streams every archived batch grouping back to the callback, one
// session at a time, in sequence order. Used to rehydrate the reconstructor
// after a restart.
func (a *Archive) Replay(ctx context.Context, fn func(domain.EventBatch) error) error {
	ids, err := a.SessionIDs(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		events, err := a.SessionEvents(ctx, id)
		if err != nil {
			return err
		}
		batch := domain.EventBatch{
			SchemaVersion: domain.SchemaVersion,
			BatchID:       "replay-" + id,
			Timestamp:     time.Now().UTC(),
			Events:        events,
		}
		if err := fn(batch); err != nil {
			return fmt.Errorf("archive: replay session %s: %w", id, err)
		}
	}
	return nil
}

// Close releases the underlying database handle.
func (a *Archive) Close() error {
	return a.db.Close()
}
