package sqlite

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agentchatbus/agentchatbus/internal/bus/models"
	"github.com/agentchatbus/agentchatbus/internal/common/errdefs"
)

// RegisterAgent creates a new agent identity. The machine name is
// "{ide} ({model})" with the lowest free numeric suffix >= 2 appended when
// the base name is taken, so identical clients stay distinguishable. The
// returned agent carries its capability token; callers must not re-expose it
// in listings.
func (r *Repository) RegisterAgent(ctx context.Context, ide, model, description string, capabilities []string, displayName string) (*models.Agent, error) {
	if ide == "" {
		ide = "Unknown IDE"
	}
	if model == "" {
		model = "Unknown Model"
	}

	token, err := generateToken()
	if err != nil {
		return nil, errdefs.Storef("agent_register", err)
	}

	now := time.Now().UTC()
	agent := &models.Agent{
		ID:               uuid.New().String(),
		IDE:              ide,
		Model:            model,
		Description:      description,
		Capabilities:     capabilities,
		RegisteredAt:     now,
		LastHeartbeat:    now,
		LastActivity:     models.ActivityRegistered,
		LastActivityTime: &now,
		Token:            token,
	}
	if displayName != "" {
		agent.DisplayName = displayName
		agent.AliasSource = models.AliasSourceUser
	} else {
		agent.DisplayName = fmt.Sprintf("%s %s %s", ide, model, agent.ID[:4])
		agent.AliasSource = models.AliasSourceAuto
	}

	caps, err := json.Marshal(capabilities)
	if err != nil {
		caps = []byte("[]")
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, errdefs.Storef("agent_register", err)
	}

	// Name disambiguation happens inside the write transaction; the single
	// writer connection serializes concurrent registrations.
	baseName := fmt.Sprintf("%s (%s)", ide, model)
	name, err := nextFreeName(ctx, tx, baseName)
	if err != nil {
		_ = tx.Rollback()
		return nil, errdefs.Storef("agent_register", err)
	}
	agent.Name = name

	_, err = tx.ExecContext(ctx, `
		INSERT INTO agents (id, name, display_name, alias_source, ide, model, description, capabilities,
			registered_at, last_heartbeat, last_activity, last_activity_time, token)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, agent.ID, agent.Name, agent.DisplayName, agent.AliasSource, agent.IDE, agent.Model,
		agent.Description, string(caps), agent.RegisteredAt, agent.LastHeartbeat,
		agent.LastActivity, agent.LastActivityTime, agent.Token)
	if err != nil {
		_ = tx.Rollback()
		return nil, errdefs.Storef("agent_register", err)
	}

	if err := insertEvent(ctx, tx, models.EventAgentOnline, "", map[string]interface{}{
		"agent_id": agent.ID,
		"name":     agent.Name,
		"ide":      agent.IDE,
		"model":    agent.Model,
	}); err != nil {
		_ = tx.Rollback()
		return nil, errdefs.Storef("agent_register", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, errdefs.Storef("agent_register", err)
	}
	agent.IsOnline = true
	return agent, nil
}

func nextFreeName(ctx context.Context, tx queryer, baseName string) (string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT name FROM agents WHERE name = ? OR name LIKE ?`,
		baseName, baseName+" %")
	if err != nil {
		return "", err
	}
	defer func() { _ = rows.Close() }()

	existing := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return "", err
		}
		existing[name] = true
	}
	if err := rows.Err(); err != nil {
		return "", err
	}

	if !existing[baseName] {
		return baseName, nil
	}
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s %d", baseName, n)
		if !existing[candidate] {
			return candidate, nil
		}
	}
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

// GetAgent retrieves an agent by ID, token included. heartbeatTimeout drives
// the is_online derivation.
func (r *Repository) GetAgent(ctx context.Context, id string, heartbeatTimeout time.Duration) (*models.Agent, error) {
	row := r.ro.QueryRowContext(ctx, `
		SELECT id, name, display_name, alias_source, ide, model, description, capabilities,
			registered_at, last_heartbeat, last_activity, last_activity_time, token
		FROM agents WHERE id = ?
	`, id)
	agent, err := scanAgent(row, heartbeatTimeout)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errdefs.NotFoundf("agent not found: %s", id)
	}
	if err != nil {
		return nil, errdefs.Storef("agent_get", err)
	}
	return agent, nil
}

// ListAgents returns all agents ordered by registration time.
func (r *Repository) ListAgents(ctx context.Context, heartbeatTimeout time.Duration) ([]*models.Agent, error) {
	rows, err := r.ro.QueryContext(ctx, `
		SELECT id, name, display_name, alias_source, ide, model, description, capabilities,
			registered_at, last_heartbeat, last_activity, last_activity_time, token
		FROM agents ORDER BY registered_at
	`)
	if err != nil {
		return nil, errdefs.Storef("agent_list", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*models.Agent
	for rows.Next() {
		agent, err := scanAgent(rows, heartbeatTimeout)
		if err != nil {
			return nil, errdefs.Storef("agent_list", err)
		}
		result = append(result, agent)
	}
	return result, rows.Err()
}

// HeartbeatAgent validates the token and refreshes last_heartbeat plus the
// heartbeat activity marker.
func (r *Repository) HeartbeatAgent(ctx context.Context, id, token string) error {
	if err := r.checkToken(ctx, id, token); err != nil {
		return err
	}
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		UPDATE agents SET last_heartbeat = ?, last_activity = ?, last_activity_time = ? WHERE id = ?
	`, now, models.ActivityHeartbeat, now, id)
	if err != nil {
		return errdefs.Storef("agent_heartbeat", err)
	}
	return nil
}

// ResumeAgent revives a previously registered identity: token-gated, keeps
// name and alias, refreshes the heartbeat, and records both the online and
// resume events.
func (r *Repository) ResumeAgent(ctx context.Context, id, token string, heartbeatTimeout time.Duration) (*models.Agent, error) {
	if err := r.checkToken(ctx, id, token); err != nil {
		return nil, err
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, errdefs.Storef("agent_resume", err)
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		UPDATE agents SET last_heartbeat = ?, last_activity = ?, last_activity_time = ? WHERE id = ?
	`, now, models.ActivityResume, now, id)
	if err != nil {
		_ = tx.Rollback()
		return nil, errdefs.Storef("agent_resume", err)
	}

	for _, eventType := range []string{models.EventAgentOnline, models.EventAgentResume} {
		if err := insertEvent(ctx, tx, eventType, "", map[string]interface{}{"agent_id": id}); err != nil {
			_ = tx.Rollback()
			return nil, errdefs.Storef("agent_resume", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, errdefs.Storef("agent_resume", err)
	}

	return r.GetAgent(ctx, id, heartbeatTimeout)
}

// UnregisterAgent records the offline event but keeps the row so the agent
// can resume later. The identity goes offline naturally once heartbeats stop.
func (r *Repository) UnregisterAgent(ctx context.Context, id, token string) error {
	if err := r.checkToken(ctx, id, token); err != nil {
		return err
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errdefs.Storef("agent_unregister", err)
	}
	if err := insertEvent(ctx, tx, models.EventAgentOffline, "", map[string]interface{}{"agent_id": id}); err != nil {
		_ = tx.Rollback()
		return errdefs.Storef("agent_unregister", err)
	}
	return tx.Commit()
}

// MarkMsgWait records msg_wait activity without touching last_heartbeat;
// blocking on new messages is not a keep-alive.
func (r *Repository) MarkMsgWait(ctx context.Context, id, token string) error {
	if err := r.checkToken(ctx, id, token); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE agents SET last_activity = ?, last_activity_time = ? WHERE id = ?
	`, models.ActivityMsgWait, time.Now().UTC(), id)
	if err != nil {
		return errdefs.Storef("agent_mark_wait", err)
	}
	return nil
}

// SetAgentAlias stores a user-provided display name.
func (r *Repository) SetAgentAlias(ctx context.Context, id, token, displayName string) error {
	if err := r.checkToken(ctx, id, token); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE agents SET display_name = ?, alias_source = ? WHERE id = ?
	`, displayName, models.AliasSourceUser, id)
	if err != nil {
		return errdefs.Storef("agent_set_alias", err)
	}
	return nil
}

// EmitTyping records an agent.typing event. Typing state is transient; only
// the event row exists.
func (r *Repository) EmitTyping(ctx context.Context, agentID, threadID string, typing bool) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errdefs.Storef("agent_typing", err)
	}
	if err := insertEvent(ctx, tx, models.EventAgentTyping, threadID, map[string]interface{}{
		"agent_id":  agentID,
		"thread_id": threadID,
		"typing":    typing,
	}); err != nil {
		_ = tx.Rollback()
		return errdefs.Storef("agent_typing", err)
	}
	return tx.Commit()
}

// checkToken verifies the agent's capability token. The error is identical
// for an unknown id and a wrong token.
func (r *Repository) checkToken(ctx context.Context, id, token string) error {
	var stored string
	err := r.ro.QueryRowContext(ctx, `SELECT token FROM agents WHERE id = ?`, id).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return errdefs.ErrAuthFailed
	}
	if err != nil {
		return errdefs.Storef("token_check", err)
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(token)) != 1 {
		return errdefs.ErrAuthFailed
	}
	return nil
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func scanAgent(row rowScanner, heartbeatTimeout time.Duration) (*models.Agent, error) {
	agent := &models.Agent{}
	var description, capabilities sql.NullString
	var lastActivityTime sql.NullTime
	if err := row.Scan(&agent.ID, &agent.Name, &agent.DisplayName, &agent.AliasSource,
		&agent.IDE, &agent.Model, &description, &capabilities,
		&agent.RegisteredAt, &agent.LastHeartbeat, &agent.LastActivity,
		&lastActivityTime, &agent.Token); err != nil {
		return nil, err
	}
	agent.Description = description.String
	if capabilities.Valid && capabilities.String != "" {
		_ = json.Unmarshal([]byte(capabilities.String), &agent.Capabilities)
	}
	if lastActivityTime.Valid {
		agent.LastActivityTime = &lastActivityTime.Time
	}
	agent.IsOnline = time.Since(agent.LastHeartbeat) < heartbeatTimeout
	return agent, nil
}
