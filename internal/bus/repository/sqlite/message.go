package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/agentchatbus/agentchatbus/internal/bus/models"
	"github.com/agentchatbus/agentchatbus/internal/common/errdefs"
)

// truncated caps event payload content at 200 characters so fan-out rows
// stay small. Storage keeps the full text.
func truncated(content string) string {
	const max = 200
	runes := []rune(content)
	if len(runes) <= max {
		return content
	}
	return string(runes[:max])
}

// InsertMessage writes a message row that already carries its allocated seq.
// In the same transaction it records the msg.new event and, when the author
// resolved to a registered agent, bumps that agent's activity to msg_post.
func (r *Repository) InsertMessage(ctx context.Context, msg *models.Message) error {
	meta, err := json.Marshal(msg.Metadata)
	if err != nil {
		meta = []byte("{}")
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errdefs.Storef("msg_post", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, thread_id, author, author_id, author_name, role, content, seq, created_at, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.ThreadID, msg.Author, msg.AuthorID, msg.AuthorName, msg.Role, msg.Content, msg.Seq, msg.CreatedAt, string(meta))
	if err != nil {
		_ = tx.Rollback()
		return errdefs.Storef("msg_post", err)
	}

	if msg.AuthorID != "" {
		_, err = tx.ExecContext(ctx, `
			UPDATE agents SET last_activity = ?, last_activity_time = ? WHERE id = ?
		`, models.ActivityMsgPost, msg.CreatedAt, msg.AuthorID)
		if err != nil {
			_ = tx.Rollback()
			return errdefs.Storef("msg_post", err)
		}
	}

	if err := insertEvent(ctx, tx, models.EventMsgNew, msg.ThreadID, map[string]interface{}{
		"msg_id":    msg.ID,
		"thread_id": msg.ThreadID,
		"author":    msg.Author,
		"author_id": msg.AuthorID,
		"role":      string(msg.Role),
		"seq":       msg.Seq,
		"content":   truncated(msg.Content),
	}); err != nil {
		_ = tx.Rollback()
		return errdefs.Storef("msg_post", err)
	}

	return tx.Commit()
}

// ListMessages returns stored messages with seq > afterSeq in ascending seq
// order, bounded by limit. The synthetic system-prompt row is the service
// layer's concern; this only ever returns stored rows.
func (r *Repository) ListMessages(ctx context.Context, threadID string, afterSeq int64, limit int) ([]*models.Message, error) {
	rows, err := r.ro.QueryContext(ctx, `
		SELECT id, thread_id, author, author_id, author_name, role, content, seq, created_at, metadata
		FROM messages
		WHERE thread_id = ? AND seq > ?
		ORDER BY seq ASC
		LIMIT ?
	`, threadID, afterSeq, limit)
	if err != nil {
		return nil, errdefs.Storef("msg_list", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, errdefs.Storef("msg_list", err)
		}
		result = append(result, msg)
	}
	return result, rows.Err()
}

// CountRecentMessages counts messages by the given author scope inside the
// rate limit window. Scope is the agent id when the author resolved to an
// agent, otherwise the raw author string.
func (r *Repository) CountRecentMessages(ctx context.Context, byAgentID bool, key string, since time.Time) (int, error) {
	column := "author"
	if byAgentID {
		column = "author_id"
	}
	var count int
	err := r.ro.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE `+column+` = ? AND created_at > ?`,
		key, since,
	).Scan(&count)
	if err != nil {
		return 0, errdefs.Storef("rate_check", err)
	}
	return count, nil
}

// BackdateThreadActivity rewrites the timestamps of a thread and its messages.
// Used by tests and maintenance tooling to simulate idle conversations.
func (r *Repository) BackdateThreadActivity(ctx context.Context, threadID string, to time.Time) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errdefs.Storef("backdate", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE threads SET created_at = ? WHERE id = ?`, to, threadID); err != nil {
		_ = tx.Rollback()
		return errdefs.Storef("backdate", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE messages SET created_at = ? WHERE thread_id = ?`, to, threadID); err != nil {
		_ = tx.Rollback()
		return errdefs.Storef("backdate", err)
	}
	return tx.Commit()
}

func scanMessage(row rowScanner) (*models.Message, error) {
	msg := &models.Message{}
	var authorID, metadata sql.NullString
	if err := row.Scan(&msg.ID, &msg.ThreadID, &msg.Author, &authorID, &msg.AuthorName,
		&msg.Role, &msg.Content, &msg.Seq, &msg.CreatedAt, &metadata); err != nil {
		return nil, err
	}
	msg.AuthorID = authorID.String
	if metadata.Valid && metadata.String != "" {
		_ = json.Unmarshal([]byte(metadata.String), &msg.Metadata)
	}
	return msg, nil
}
