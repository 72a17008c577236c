package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agentchatbus/agentchatbus/internal/bus/models"
	"github.com/agentchatbus/agentchatbus/internal/bus/sysprompt"
	"github.com/agentchatbus/agentchatbus/internal/common/errdefs"
)

const eventContentLimit = 200

// PostMessage appends a message to a thread. Policy checks run before the
// seq is allocated, so a rejected post leaves the store untouched.
func (s *Service) PostMessage(ctx context.Context, threadID, author, content, role string, metadata map[string]interface{}) (*models.Message, error) {
	if strings.TrimSpace(author) == "" {
		return nil, errdefs.InvalidInputf("author must not be empty")
	}
	if role == "" {
		role = string(models.RoleUser)
	}
	if !models.ValidMessageRole(role) {
		return nil, errdefs.InvalidInputf("unknown message role %q", role)
	}

	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	thread, err := s.repo.GetThread(ctx, threadID)
	if err != nil {
		return nil, err
	}

	// When the author string is a registered agent id, the stored author
	// becomes the agent's machine name and the id moves to author_id.
	msg := &models.Message{
		ID:         uuid.New().String(),
		ThreadID:   thread.ID,
		Author:     author,
		AuthorName: author,
		Role:       models.MessageRole(role),
		Content:    content,
		CreatedAt:  time.Now().UTC(),
		Metadata:   metadata,
	}
	byAgentID := false
	rateKey := author
	if agent, err := s.repo.GetAgent(ctx, author, s.cfg.Bus.HeartbeatTimeoutDuration()); err == nil {
		msg.AuthorID = agent.ID
		msg.Author = agent.Name
		msg.AuthorName = agent.EffectiveName()
		byAgentID = true
		rateKey = agent.ID
	} else if !errors.Is(err, errdefs.ErrNotFound) {
		return nil, err
	}

	if err := s.rateLimiter.Check(ctx, byAgentID, rateKey); err != nil {
		return nil, err
	}
	if err := s.contentFilter.Check(content); err != nil {
		return nil, err
	}

	seq, err := s.repo.NextSeq(ctx)
	if err != nil {
		return nil, err
	}
	msg.Seq = seq

	if err := s.repo.InsertMessage(ctx, msg); err != nil {
		return nil, err
	}

	s.logger.Debug("message posted",
		zap.String("thread_id", thread.ID),
		zap.String("author", msg.Author),
		zap.Int64("seq", msg.Seq))
	s.publishEvent(ctx, models.EventMsgNew, map[string]interface{}{
		"msg_id":    msg.ID,
		"thread_id": msg.ThreadID,
		"author":    msg.Author,
		"author_id": msg.AuthorID,
		"role":      string(msg.Role),
		"seq":       msg.Seq,
		"content":   truncateContent(msg.Content),
	})
	return msg, nil
}

// ListMessages returns stored messages with seq > afterSeq. When reading from
// the beginning with prompt inclusion on, a synthetic system message at seq 0
// carries the composed system prompt; it is never stored and does not count
// against limit.
func (s *Service) ListMessages(ctx context.Context, threadID string, afterSeq int64, limit int, includeSystemPrompt bool) ([]*models.Message, error) {
	if afterSeq < 0 {
		return nil, errdefs.InvalidInputf("after_seq must not be negative")
	}
	// An explicit limit of 0 means no stored rows; only a negative value
	// falls back to the default page size.
	if limit < 0 {
		limit = 100
	}

	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	thread, err := s.repo.GetThread(ctx, threadID)
	if err != nil {
		return nil, err
	}

	msgs, err := s.repo.ListMessages(ctx, threadID, afterSeq, limit)
	if err != nil {
		return nil, err
	}

	if includeSystemPrompt && afterSeq == 0 {
		synthetic := &models.Message{
			ID:         "system-prompt",
			ThreadID:   thread.ID,
			Author:     "system",
			AuthorName: "System",
			Role:       models.RoleSystem,
			Content:    sysprompt.Compose(thread.SystemPrompt),
			Seq:        0,
			CreatedAt:  thread.CreatedAt,
		}
		msgs = append([]*models.Message{synthetic}, msgs...)
	}
	return msgs, nil
}

// WaitMessages blocks until messages with seq > afterSeq appear, or timeout
// elapses. When credentials are present the caller's activity is recorded as
// msg_wait, best effort. The result is empty on natural timeout, never an
// error.
func (s *Service) WaitMessages(ctx context.Context, threadID string, afterSeq int64, timeout time.Duration, agentID, token string) ([]*models.Message, error) {
	if afterSeq < 0 {
		return nil, errdefs.InvalidInputf("after_seq must not be negative")
	}
	maxWait := s.cfg.Bus.WaitTimeoutDuration()
	if timeout < 0 || (maxWait > 0 && timeout > maxWait) {
		timeout = maxWait
	}

	if agentID != "" && token != "" {
		markCtx, cancel := s.opCtx(ctx)
		if err := s.repo.MarkMsgWait(markCtx, agentID, token); err != nil {
			s.logger.Debug("failed to record msg_wait activity",
				zap.String("agent_id", agentID),
				zap.Error(err))
		}
		cancel()
	}

	// Verify the thread exists up front so a bad id fails fast instead of
	// polling into the timeout.
	checkCtx, cancel := s.opCtx(ctx)
	_, err := s.repo.GetThread(checkCtx, threadID)
	cancel()
	if err != nil {
		return nil, err
	}

	return s.waiter.Wait(ctx, threadID, afterSeq, timeout)
}

func truncateContent(content string) string {
	runes := []rune(content)
	if len(runes) > eventContentLimit {
		return string(runes[:eventContentLimit])
	}
	return content
}
