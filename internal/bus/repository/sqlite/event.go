package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/agentchatbus/agentchatbus/internal/bus/models"
	"github.com/agentchatbus/agentchatbus/internal/common/errdefs"
)

// EventsSince returns events with id strictly greater than afterID in
// ascending id order, bounded by limit. Consumers checkpoint the highest id
// they saw and pass it back; no per-consumer cursor lives server-side.
func (r *Repository) EventsSince(ctx context.Context, afterID int64, limit int) ([]*models.Event, error) {
	rows, err := r.ro.QueryContext(ctx, `
		SELECT id, event_type, thread_id, payload, created_at
		FROM events WHERE id > ? ORDER BY id ASC LIMIT ?
	`, afterID, limit)
	if err != nil {
		return nil, errdefs.Storef("events_since", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*models.Event
	for rows.Next() {
		event := &models.Event{}
		var threadID, payload sql.NullString
		if err := rows.Scan(&event.ID, &event.EventType, &threadID, &payload, &event.CreatedAt); err != nil {
			return nil, errdefs.Storef("events_since", err)
		}
		event.ThreadID = threadID.String
		if payload.Valid && payload.String != "" {
			_ = json.Unmarshal([]byte(payload.String), &event.Payload)
		}
		result = append(result, event)
	}
	return result, rows.Err()
}

// LatestEventID returns the highest event id, or 0 when the log is empty.
func (r *Repository) LatestEventID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	err := r.ro.QueryRowContext(ctx, `SELECT MAX(id) FROM events`).Scan(&id)
	if err != nil {
		return 0, errdefs.Storef("latest_event_id", err)
	}
	return id.Int64, nil
}

// PruneEvents deletes event rows older than maxAge and reports how many went.
func (r *Repository) PruneEvents(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	result, err := r.db.ExecContext(ctx, `DELETE FROM events WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, errdefs.Storef("events_prune", err)
	}
	deleted, _ := result.RowsAffected()
	return deleted, nil
}
