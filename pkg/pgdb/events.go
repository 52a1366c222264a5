package pgdb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/paperflow/pipeline/pkg/models"
)

// EventRepo persists the durable event log that backs pg_notify delivery:
// publishers insert here and NOTIFY in the same transaction (persist-then-
// notify), so a consumer that misses the NOTIFY can still replay by run id.
type EventRepo struct {
	db *sql.DB
}

// Events returns the event repository.
func (c *Client) Events() *EventRepo { return &EventRepo{db: c.db} }

// PersistAndNotify inserts an event row and issues pg_notify on the given
// channel in a single transaction, so a crash between the two never leaves
// a notification without a durable event to back it.
func (r *EventRepo) PersistAndNotify(ctx context.Context, runID models.RunID, kind string, payload []byte, channel string) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("pgdb: begin event tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var id int64
	if err := tx.QueryRowContext(ctx, `
		INSERT INTO events (run_id, kind, payload) VALUES ($1, $2, $3) RETURNING id`,
		string(runID), kind, payload).Scan(&id); err != nil {
		return 0, fmt.Errorf("pgdb: inserting event: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, channel, string(runID)); err != nil {
		return 0, fmt.Errorf("pgdb: pg_notify: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("pgdb: committing event: %w", err)
	}
	return id, nil
}

// ListSince replays events for a run starting after afterID, used by
// wait_for/status consumers that connect after missing a NOTIFY.
func (r *EventRepo) ListSince(ctx context.Context, runID models.RunID, afterID int64) ([]RawEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, kind, payload, created_at
		FROM events WHERE run_id = $1 AND id > $2
		ORDER BY id ASC`, string(runID), afterID)
	if err != nil {
		return nil, fmt.Errorf("pgdb: listing events: %w", err)
	}
	defer rows.Close()

	var out []RawEvent
	for rows.Next() {
		var e RawEvent
		if err := rows.Scan(&e.ID, &e.Kind, &e.Payload, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// RawEvent is an undecoded row from the events table; callers unmarshal
// Payload into the typed struct matching Kind.
type RawEvent struct {
	ID        int64
	Kind      string
	Payload   []byte
	CreatedAt time.Time
}
