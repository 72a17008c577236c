// Package sqlite provides SQLite-based repository implementations for the bus.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	commonsqlite "github.com/agentchatbus/agentchatbus/internal/common/sqlite"
)

// Repository provides SQLite-based bus storage operations.
type Repository struct {
	db     *sqlx.DB // writer
	ro     *sqlx.DB // reader (read-only pool)
	ownsDB bool
}

// NewWithDB creates a new SQLite repository with existing database connections (shared ownership).
func NewWithDB(writer, reader *sqlx.DB) (*Repository, error) {
	return newRepository(writer, reader, false)
}

func newRepository(writer, reader *sqlx.DB, ownsDB bool) (*Repository, error) {
	repo := &Repository{db: writer, ro: reader, ownsDB: ownsDB}
	if err := repo.initSchema(); err != nil {
		if ownsDB {
			if closeErr := writer.Close(); closeErr != nil {
				return nil, fmt.Errorf("failed to close database after schema error: %w", closeErr)
			}
		}
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return repo, nil
}

// Close closes the database connection
func (r *Repository) Close() error {
	if !r.ownsDB {
		return nil
	}
	return r.db.Close()
}

// DB returns the underlying sql.DB instance for shared access
func (r *Repository) DB() *sql.DB {
	return r.db.DB
}

// initSchema creates the database tables if they don't exist
func (r *Repository) initSchema() error {
	if err := r.initCoreSchema(); err != nil {
		return err
	}
	if err := r.runMigrations(); err != nil {
		return err
	}
	if err := r.ensureTopicUniqueIndex(); err != nil {
		return err
	}
	return r.ensureIndexes()
}

func (r *Repository) initCoreSchema() error {
	_, err := r.db.Exec(`
	CREATE TABLE IF NOT EXISTS threads (
		id TEXT PRIMARY KEY,
		topic TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'discuss',
		created_at TIMESTAMP NOT NULL,
		closed_at TIMESTAMP,
		summary TEXT DEFAULT '',
		metadata TEXT DEFAULT '{}',
		system_prompt TEXT DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		thread_id TEXT NOT NULL REFERENCES threads(id),
		author TEXT NOT NULL,
		author_id TEXT DEFAULT '',
		author_name TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL DEFAULT 'user',
		content TEXT NOT NULL,
		seq INTEGER NOT NULL,
		created_at TIMESTAMP NOT NULL,
		metadata TEXT DEFAULT '{}'
	);

	CREATE TABLE IF NOT EXISTS seq_counter (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		val INTEGER NOT NULL DEFAULT 0
	);
	INSERT OR IGNORE INTO seq_counter (id, val) VALUES (1, 0);

	CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		alias_source TEXT NOT NULL DEFAULT 'auto',
		ide TEXT NOT NULL DEFAULT '',
		model TEXT NOT NULL DEFAULT '',
		description TEXT DEFAULT '',
		capabilities TEXT DEFAULT '[]',
		registered_at TIMESTAMP NOT NULL,
		last_heartbeat TIMESTAMP NOT NULL,
		last_activity TEXT NOT NULL DEFAULT 'registered',
		last_activity_time TIMESTAMP,
		token TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_type TEXT NOT NULL,
		thread_id TEXT,
		payload TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);
	`)
	return err
}

// runMigrations applies idempotent column additions for databases created by
// earlier schema versions.
func (r *Repository) runMigrations() error {
	migrations := []struct {
		table, column, definition string
	}{
		{"threads", "system_prompt", "TEXT DEFAULT ''"},
		{"threads", "summary", "TEXT DEFAULT ''"},
		{"messages", "author_id", "TEXT DEFAULT ''"},
		{"messages", "author_name", "TEXT NOT NULL DEFAULT ''"},
		{"agents", "ide", "TEXT NOT NULL DEFAULT ''"},
		{"agents", "model", "TEXT NOT NULL DEFAULT ''"},
		{"agents", "display_name", "TEXT NOT NULL DEFAULT ''"},
		{"agents", "alias_source", "TEXT NOT NULL DEFAULT 'auto'"},
		{"agents", "last_activity", "TEXT NOT NULL DEFAULT 'registered'"},
		{"agents", "last_activity_time", "TIMESTAMP"},
	}
	for _, m := range migrations {
		if err := commonsqlite.EnsureColumn(r.db, m.table, m.column, m.definition); err != nil {
			return fmt.Errorf("migration %s.%s: %w", m.table, m.column, err)
		}
	}
	return nil
}

// ensureTopicUniqueIndex de-duplicates threads sharing a topic (keeping the
// newest row by created_at) and then creates the unique index that makes
// thread creation idempotent by topic.
func (r *Repository) ensureTopicUniqueIndex() error {
	tx, err := r.db.Beginx()
	if err != nil {
		return err
	}

	// Reassign messages from duplicate rows to the survivor, then drop the
	// duplicates. rowid breaks created_at ties deterministically.
	_, err = tx.Exec(`
		UPDATE messages SET thread_id = (
			SELECT t2.id FROM threads t2
			WHERE t2.topic = (SELECT topic FROM threads WHERE id = messages.thread_id)
			ORDER BY t2.created_at DESC, t2.rowid DESC LIMIT 1
		)
	`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	_, err = tx.Exec(`
		DELETE FROM threads WHERE id NOT IN (
			SELECT id FROM (
				SELECT id, ROW_NUMBER() OVER (
					PARTITION BY topic ORDER BY created_at DESC, rowid DESC
				) AS rn FROM threads
			) WHERE rn = 1
		)
	`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	if _, err = tx.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_threads_topic_unique ON threads(topic)`); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (r *Repository) ensureIndexes() error {
	_, err := r.db.Exec(`
	CREATE INDEX IF NOT EXISTS idx_messages_thread_seq ON messages(thread_id, seq);
	CREATE INDEX IF NOT EXISTS idx_messages_author_created ON messages(author_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_threads_status ON threads(status);
	CREATE INDEX IF NOT EXISTS idx_events_created_at ON events(created_at);
	`)
	return err
}

// insertEvent writes a fan-out event row inside the caller's transaction so
// that the event becomes visible only together with the mutation it records.
func insertEvent(ctx context.Context, tx *sqlx.Tx, eventType, threadID string, payload map[string]interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		body = []byte("{}")
	}
	var tid interface{}
	if threadID != "" {
		tid = threadID
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO events (event_type, thread_id, payload, created_at)
		VALUES (?, ?, ?, ?)
	`, eventType, tid, string(body), time.Now().UTC())
	return err
}
