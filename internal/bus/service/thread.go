package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/agentchatbus/agentchatbus/internal/bus/models"
	"github.com/agentchatbus/agentchatbus/internal/common/errdefs"
)

// CreateThread creates a thread for a topic, or returns the existing thread
// when the topic is already taken. The boolean reports whether a new row was
// inserted.
func (s *Service) CreateThread(ctx context.Context, topic string, metadata map[string]interface{}, systemPrompt string) (*models.Thread, bool, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, false, errdefs.InvalidInputf("topic must not be empty")
	}

	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	thread, created, err := s.repo.CreateThread(ctx, topic, metadata, systemPrompt)
	if err != nil {
		return nil, false, err
	}
	if created {
		s.logger.Info("thread created",
			zap.String("thread_id", thread.ID),
			zap.String("topic", thread.Topic))
		s.publishEvent(ctx, models.EventThreadNew, map[string]interface{}{
			"thread_id": thread.ID,
			"topic":     thread.Topic,
			"status":    string(thread.Status),
		})
	}
	return thread, created, nil
}

// GetThread returns a thread by id.
func (s *Service) GetThread(ctx context.Context, id string) (*models.Thread, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	return s.repo.GetThread(ctx, id)
}

// ListThreads lists threads newest-first. Archived threads are hidden unless
// requested by status or includeArchived.
func (s *Service) ListThreads(ctx context.Context, status string, includeArchived bool) ([]*models.Thread, error) {
	if status != "" && !models.ValidThreadStatus(status) {
		return nil, errdefs.InvalidInputf("unknown thread status %q", status)
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	return s.repo.ListThreads(ctx, status, includeArchived)
}

// SetThreadState transitions a thread to a new state.
func (s *Service) SetThreadState(ctx context.Context, id, state string) error {
	if !models.ValidThreadStatus(state) {
		return errdefs.InvalidInputf("unknown thread status %q", state)
	}

	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	if err := s.repo.SetThreadState(ctx, id, state); err != nil {
		return err
	}
	s.publishEvent(ctx, models.EventThreadState, map[string]interface{}{
		"thread_id": id,
		"status":    state,
	})
	if state == string(models.ThreadStatusArchived) {
		s.publishEvent(ctx, models.EventThreadArchived, map[string]interface{}{"thread_id": id})
	}
	return nil
}

// CloseThread closes a thread. Re-closing refreshes closed_at and summary.
func (s *Service) CloseThread(ctx context.Context, id, summary string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	if err := s.repo.CloseThread(ctx, id, summary); err != nil {
		return err
	}
	s.publishEvent(ctx, models.EventThreadClosed, map[string]interface{}{
		"thread_id": id,
		"summary":   summary,
		"closed_at": time.Now().UTC().Format(time.RFC3339),
	})
	return nil
}

// ArchiveThread hides a thread from default listings.
func (s *Service) ArchiveThread(ctx context.Context, id string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	if err := s.repo.ArchiveThread(ctx, id); err != nil {
		return err
	}
	s.publishEvent(ctx, models.EventThreadArchived, map[string]interface{}{"thread_id": id})
	return nil
}

// UnarchiveThread returns an archived thread to the discuss state.
func (s *Service) UnarchiveThread(ctx context.Context, id string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	if err := s.repo.UnarchiveThread(ctx, id); err != nil {
		return err
	}
	s.publishEvent(ctx, models.EventThreadUnarchived, map[string]interface{}{"thread_id": id})
	return nil
}

// DeleteThread removes a thread and all of its messages in one transaction
// and returns a receipt of what was destroyed.
func (s *Service) DeleteThread(ctx context.Context, id string) (*models.DeleteReceipt, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	receipt, err := s.repo.DeleteThread(ctx, id)
	if err != nil {
		return nil, err
	}
	s.logger.Info("thread deleted",
		zap.String("thread_id", receipt.ThreadID),
		zap.String("topic", receipt.Topic),
		zap.Int64("message_count", receipt.MessageCount))
	s.publishEvent(ctx, models.EventThreadDeleted, map[string]interface{}{
		"thread_id":     receipt.ThreadID,
		"topic":         receipt.Topic,
		"message_count": receipt.MessageCount,
	})
	return receipt, nil
}

// LatestSeq returns the highest message seq in a thread, 0 when empty.
func (s *Service) LatestSeq(ctx context.Context, threadID string) (int64, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	return s.repo.LatestSeq(ctx, threadID)
}
