package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/agentchatbus/agentchatbus/internal/bus/models"
)

// RegisterAgent creates a new agent identity. The returned agent includes the
// capability token; it must only be shown to the registering caller.
func (s *Service) RegisterAgent(ctx context.Context, ide, model, description string, capabilities []string, displayName string) (*models.Agent, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	agent, err := s.repo.RegisterAgent(ctx, ide, model, description, capabilities, displayName)
	if err != nil {
		return nil, err
	}
	s.logger.Info("agent registered",
		zap.String("agent_id", agent.ID),
		zap.String("name", agent.Name))
	s.publishEvent(ctx, models.EventAgentOnline, map[string]interface{}{
		"agent_id": agent.ID,
		"name":     agent.Name,
		"ide":      agent.IDE,
		"model":    agent.Model,
	})
	return agent, nil
}

// GetAgent returns a single agent with derived online state.
func (s *Service) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	return s.repo.GetAgent(ctx, id, s.cfg.Bus.HeartbeatTimeoutDuration())
}

// ListAgents returns all agents. Tokens are stripped; listings never expose
// other agents' credentials.
func (s *Service) ListAgents(ctx context.Context) ([]*models.Agent, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	agents, err := s.repo.ListAgents(ctx, s.cfg.Bus.HeartbeatTimeoutDuration())
	if err != nil {
		return nil, err
	}
	for _, agent := range agents {
		agent.Token = ""
	}
	return agents, nil
}

// HeartbeatAgent refreshes an agent's presence window.
func (s *Service) HeartbeatAgent(ctx context.Context, id, token string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	return s.repo.HeartbeatAgent(ctx, id, token)
}

// ResumeAgent revives a previously registered identity after a client
// restart, keeping its name, alias and token.
func (s *Service) ResumeAgent(ctx context.Context, id, token string) (*models.Agent, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	agent, err := s.repo.ResumeAgent(ctx, id, token, s.cfg.Bus.HeartbeatTimeoutDuration())
	if err != nil {
		return nil, err
	}
	s.logger.Info("agent resumed",
		zap.String("agent_id", agent.ID),
		zap.String("name", agent.Name))
	s.publishEvent(ctx, models.EventAgentResume, map[string]interface{}{
		"agent_id": agent.ID,
		"name":     agent.Name,
	})
	return agent, nil
}

// UnregisterAgent marks an agent offline. The row survives so resume keeps
// working until the agent is pruned.
func (s *Service) UnregisterAgent(ctx context.Context, id, token string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	if err := s.repo.UnregisterAgent(ctx, id, token); err != nil {
		return err
	}
	s.publishEvent(ctx, models.EventAgentOffline, map[string]interface{}{"agent_id": id})
	return nil
}

// SetAgentAlias stores a caller-chosen display name for an agent.
func (s *Service) SetAgentAlias(ctx context.Context, id, token, displayName string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	return s.repo.SetAgentAlias(ctx, id, token, displayName)
}

// SetAgentTyping broadcasts a typing indicator; nothing is persisted beyond
// the event row.
func (s *Service) SetAgentTyping(ctx context.Context, agentID, threadID string, typing bool) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	if err := s.repo.EmitTyping(ctx, agentID, threadID, typing); err != nil {
		return err
	}
	s.publishEvent(ctx, models.EventAgentTyping, map[string]interface{}{
		"agent_id":  agentID,
		"thread_id": threadID,
		"typing":    typing,
	})
	return nil
}
