package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/agentchatbus/agentchatbus/internal/bus/models"
	"github.com/agentchatbus/agentchatbus/internal/common/errdefs"
)

// CreateThread inserts a new thread with status "discuss" and records a
// thread.new event in the same transaction. If another thread already holds
// the topic the insert loses to the unique index and the existing thread is
// returned instead; created reports which case happened.
func (r *Repository) CreateThread(ctx context.Context, topic string, metadata map[string]interface{}, systemPrompt string) (*models.Thread, bool, error) {
	thread := &models.Thread{
		ID:           uuid.New().String(),
		Topic:        topic,
		Status:       models.ThreadStatusDiscuss,
		CreatedAt:    time.Now().UTC(),
		Metadata:     metadata,
		SystemPrompt: systemPrompt,
	}

	meta, err := json.Marshal(metadata)
	if err != nil {
		meta = []byte("{}")
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, false, errdefs.Storef("thread_create", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO threads (id, topic, status, created_at, summary, metadata, system_prompt)
		VALUES (?, ?, ?, ?, '', ?, ?)
	`, thread.ID, thread.Topic, thread.Status, thread.CreatedAt, string(meta), thread.SystemPrompt)
	if err != nil {
		_ = tx.Rollback()
		if isUniqueViolation(err) {
			existing, getErr := r.GetThreadByTopic(ctx, topic)
			if getErr != nil {
				return nil, false, getErr
			}
			return existing, false, nil
		}
		return nil, false, errdefs.Storef("thread_create", err)
	}

	if err := insertEvent(ctx, tx, models.EventThreadNew, thread.ID, map[string]interface{}{
		"thread_id": thread.ID,
		"topic":     thread.Topic,
	}); err != nil {
		_ = tx.Rollback()
		return nil, false, errdefs.Storef("thread_create", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, errdefs.Storef("thread_create", err)
	}
	return thread, true, nil
}

// GetThread retrieves a thread by ID.
func (r *Repository) GetThread(ctx context.Context, id string) (*models.Thread, error) {
	return r.getThread(ctx, `SELECT id, topic, status, created_at, closed_at, summary, metadata, system_prompt
		FROM threads WHERE id = ?`, id)
}

// GetThreadByTopic retrieves the newest thread holding a topic.
func (r *Repository) GetThreadByTopic(ctx context.Context, topic string) (*models.Thread, error) {
	return r.getThread(ctx, `SELECT id, topic, status, created_at, closed_at, summary, metadata, system_prompt
		FROM threads WHERE topic = ? ORDER BY created_at DESC LIMIT 1`, topic)
}

func (r *Repository) getThread(ctx context.Context, query string, arg interface{}) (*models.Thread, error) {
	row := r.ro.QueryRowContext(ctx, query, arg)
	thread, err := scanThread(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errdefs.NotFoundf("thread not found: %v", arg)
	}
	if err != nil {
		return nil, errdefs.Storef("thread_get", err)
	}
	return thread, nil
}

// ListThreads returns threads ordered by created_at descending. When status
// is set the listing filters to exactly that status; otherwise archived
// threads are excluded unless includeArchived is set.
func (r *Repository) ListThreads(ctx context.Context, status string, includeArchived bool) ([]*models.Thread, error) {
	query := `SELECT id, topic, status, created_at, closed_at, summary, metadata, system_prompt FROM threads`
	var args []interface{}
	switch {
	case status != "":
		query += ` WHERE status = ?`
		args = append(args, status)
	case !includeArchived:
		query += ` WHERE status != ?`
		args = append(args, models.ThreadStatusArchived)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.ro.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errdefs.Storef("thread_list", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*models.Thread
	for rows.Next() {
		thread, err := scanThread(rows)
		if err != nil {
			return nil, errdefs.Storef("thread_list", err)
		}
		result = append(result, thread)
	}
	return result, rows.Err()
}

// SetThreadState updates a thread's status and records a thread.state event.
// Transitions into or out of "archived" additionally record the matching
// archive event. State validity is the caller's concern.
func (r *Repository) SetThreadState(ctx context.Context, id, state string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errdefs.Storef("thread_set_state", err)
	}

	result, err := tx.ExecContext(ctx, `UPDATE threads SET status = ? WHERE id = ?`, state, id)
	if err != nil {
		_ = tx.Rollback()
		return errdefs.Storef("thread_set_state", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		_ = tx.Rollback()
		return errdefs.NotFoundf("thread not found: %s", id)
	}

	if err := insertEvent(ctx, tx, models.EventThreadState, id, map[string]interface{}{
		"thread_id": id,
		"state":     state,
	}); err != nil {
		_ = tx.Rollback()
		return errdefs.Storef("thread_set_state", err)
	}
	if state == string(models.ThreadStatusArchived) {
		if err := insertEvent(ctx, tx, models.EventThreadArchived, id, map[string]interface{}{
			"thread_id": id,
		}); err != nil {
			_ = tx.Rollback()
			return errdefs.Storef("thread_set_state", err)
		}
	}

	return tx.Commit()
}

// CloseThread sets status "closed", refreshing closed_at and summary even if
// the thread was already closed.
func (r *Repository) CloseThread(ctx context.Context, id, summary string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errdefs.Storef("thread_close", err)
	}

	now := time.Now().UTC()
	result, err := tx.ExecContext(ctx, `
		UPDATE threads SET status = ?, closed_at = ?, summary = ? WHERE id = ?
	`, models.ThreadStatusClosed, now, summary, id)
	if err != nil {
		_ = tx.Rollback()
		return errdefs.Storef("thread_close", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		_ = tx.Rollback()
		return errdefs.NotFoundf("thread not found: %s", id)
	}

	if err := insertEvent(ctx, tx, models.EventThreadClosed, id, map[string]interface{}{
		"thread_id": id,
		"summary":   summary,
	}); err != nil {
		_ = tx.Rollback()
		return errdefs.Storef("thread_close", err)
	}
	return tx.Commit()
}

// ArchiveThread moves a thread to "archived".
func (r *Repository) ArchiveThread(ctx context.Context, id string) error {
	return r.transitionThread(ctx, id, models.ThreadStatusArchived, models.EventThreadArchived)
}

// UnarchiveThread moves a thread back to "discuss".
func (r *Repository) UnarchiveThread(ctx context.Context, id string) error {
	return r.transitionThread(ctx, id, models.ThreadStatusDiscuss, models.EventThreadUnarchived)
}

func (r *Repository) transitionThread(ctx context.Context, id string, status models.ThreadStatus, eventType string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errdefs.Storef("thread_transition", err)
	}

	result, err := tx.ExecContext(ctx, `UPDATE threads SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		_ = tx.Rollback()
		return errdefs.Storef("thread_transition", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		_ = tx.Rollback()
		return errdefs.NotFoundf("thread not found: %s", id)
	}

	if err := insertEvent(ctx, tx, eventType, id, map[string]interface{}{"thread_id": id}); err != nil {
		_ = tx.Rollback()
		return errdefs.Storef("thread_transition", err)
	}
	return tx.Commit()
}

// DeleteThread removes a thread and all of its messages in one transaction
// and returns a receipt with the deleted message count.
func (r *Repository) DeleteThread(ctx context.Context, id string) (*models.DeleteReceipt, error) {
	thread, err := r.GetThread(ctx, id)
	if err != nil {
		return nil, err
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, errdefs.Storef("thread_delete", err)
	}

	var count int64
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE thread_id = ?`, id).Scan(&count); err != nil {
		_ = tx.Rollback()
		return nil, errdefs.Storef("thread_delete", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE thread_id = ?`, id); err != nil {
		_ = tx.Rollback()
		return nil, errdefs.Storef("thread_delete", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM threads WHERE id = ?`, id); err != nil {
		_ = tx.Rollback()
		return nil, errdefs.Storef("thread_delete", err)
	}

	receipt := &models.DeleteReceipt{ThreadID: id, Topic: thread.Topic, MessageCount: count}
	if err := insertEvent(ctx, tx, models.EventThreadDeleted, id, map[string]interface{}{
		"thread_id":     id,
		"topic":         thread.Topic,
		"message_count": count,
	}); err != nil {
		_ = tx.Rollback()
		return nil, errdefs.Storef("thread_delete", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, errdefs.Storef("thread_delete", err)
	}
	return receipt, nil
}

// LatestSeq returns the highest message seq in a thread, or 0 if it has none.
func (r *Repository) LatestSeq(ctx context.Context, threadID string) (int64, error) {
	var seq sql.NullInt64
	err := r.ro.QueryRowContext(ctx, `SELECT MAX(seq) FROM messages WHERE thread_id = ?`, threadID).Scan(&seq)
	if err != nil {
		return 0, errdefs.Storef("latest_seq", err)
	}
	return seq.Int64, nil
}

// ExpiredThread pairs a discuss thread with its last activity time for the
// inactivity sweeper.
type ExpiredThread struct {
	Thread       *models.Thread
	LastActivity time.Time
}

// FindExpiredDiscussThreads returns threads still in "discuss" whose latest
// message (or creation, when empty) is older than cutoff. Only discuss
// threads are swept; other states reflect deliberate agent intent.
func (r *Repository) FindExpiredDiscussThreads(ctx context.Context, cutoff time.Time) ([]ExpiredThread, error) {
	rows, err := r.ro.QueryContext(ctx, `
		SELECT t.id, t.topic, t.status, t.created_at, t.closed_at, t.summary, t.metadata, t.system_prompt,
			COALESCE(MAX(m.created_at), t.created_at) AS last_activity
		FROM threads t
		LEFT JOIN messages m ON m.thread_id = t.id
		WHERE t.status = ?
		GROUP BY t.id
		HAVING last_activity < ?
	`, models.ThreadStatusDiscuss, cutoff)
	if err != nil {
		return nil, errdefs.Storef("thread_sweep", err)
	}
	defer func() { _ = rows.Close() }()

	var result []ExpiredThread
	for rows.Next() {
		thread := &models.Thread{}
		var closedAt sql.NullTime
		var summary, metadata, systemPrompt sql.NullString
		var lastActivityRaw string
		if err := rows.Scan(&thread.ID, &thread.Topic, &thread.Status, &thread.CreatedAt,
			&closedAt, &summary, &metadata, &systemPrompt, &lastActivityRaw); err != nil {
			return nil, errdefs.Storef("thread_sweep", err)
		}
		applyThreadNullables(thread, closedAt, summary, metadata, systemPrompt)
		result = append(result, ExpiredThread{
			Thread:       thread,
			LastActivity: parseStoredTime(lastActivityRaw),
		})
	}
	return result, rows.Err()
}

// parseStoredTime parses a timestamp read from a computed column, where the
// driver cannot infer the type and hands back the stored text.
func parseStoredTime(s string) time.Time {
	for _, layout := range []string{
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02 15:04:05",
		time.RFC3339Nano,
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// TimeoutThread closes an inactive thread and records a thread.timeout event.
func (r *Repository) TimeoutThread(ctx context.Context, thread *models.Thread, lastActivity time.Time, timeoutMinutes int) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errdefs.Storef("thread_timeout", err)
	}

	now := time.Now().UTC()
	summary := fmt.Sprintf("Auto-closed after %d minutes of inactivity", timeoutMinutes)
	result, err := tx.ExecContext(ctx, `
		UPDATE threads SET status = ?, closed_at = ?, summary = ? WHERE id = ? AND status = ?
	`, models.ThreadStatusClosed, now, summary, thread.ID, models.ThreadStatusDiscuss)
	if err != nil {
		_ = tx.Rollback()
		return errdefs.Storef("thread_timeout", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		// Raced with an explicit state change; nothing to do.
		_ = tx.Rollback()
		return nil
	}

	if err := insertEvent(ctx, tx, models.EventThreadTimeout, thread.ID, map[string]interface{}{
		"thread_id":       thread.ID,
		"topic":           thread.Topic,
		"last_activity":   lastActivity.Format(time.RFC3339),
		"timeout_minutes": timeoutMinutes,
		"closed_at":       now.Format(time.RFC3339),
	}); err != nil {
		_ = tx.Rollback()
		return errdefs.Storef("thread_timeout", err)
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanThread(row rowScanner) (*models.Thread, error) {
	thread := &models.Thread{}
	var closedAt sql.NullTime
	var summary, metadata, systemPrompt sql.NullString
	if err := row.Scan(&thread.ID, &thread.Topic, &thread.Status, &thread.CreatedAt,
		&closedAt, &summary, &metadata, &systemPrompt); err != nil {
		return nil, err
	}
	applyThreadNullables(thread, closedAt, summary, metadata, systemPrompt)
	return thread, nil
}

func applyThreadNullables(thread *models.Thread, closedAt sql.NullTime, summary, metadata, systemPrompt sql.NullString) {
	if closedAt.Valid {
		thread.ClosedAt = &closedAt.Time
	}
	thread.Summary = summary.String
	thread.SystemPrompt = systemPrompt.String
	if metadata.Valid && metadata.String != "" {
		_ = json.Unmarshal([]byte(metadata.String), &thread.Metadata)
	}
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
