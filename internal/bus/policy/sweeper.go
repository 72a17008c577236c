package policy

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/agentchatbus/agentchatbus/internal/bus/models"
	sqliterepo "github.com/agentchatbus/agentchatbus/internal/bus/repository/sqlite"
	"github.com/agentchatbus/agentchatbus/internal/common/logger"
	eventbus "github.com/agentchatbus/agentchatbus/internal/events/bus"
)

// Sweeper auto-closes discussion threads that have gone quiet. Only the
// "discuss" state is swept; any other state reflects deliberate agent intent
// and is left alone.
type Sweeper struct {
	repo           *sqliterepo.Repository
	bus            eventbus.EventBus
	logger         *logger.Logger
	timeoutMinutes int
	interval       time.Duration
}

func NewSweeper(repo *sqliterepo.Repository, bus eventbus.EventBus, log *logger.Logger, timeoutMinutes int, interval time.Duration) *Sweeper {
	return &Sweeper{
		repo:           repo,
		bus:            bus,
		logger:         log,
		timeoutMinutes: timeoutMinutes,
		interval:       interval,
	}
}

// Start launches the sweep loop. A timeout of 0 disables sweeping entirely.
func (s *Sweeper) Start(ctx context.Context) {
	if s.timeoutMinutes <= 0 {
		s.logger.Info("thread inactivity sweep disabled")
		return
	}
	ticker := time.NewTicker(s.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.RunOnce(ctx)
			}
		}
	}()
	s.logger.Info("thread inactivity sweep started",
		zap.Int("timeout_minutes", s.timeoutMinutes),
		zap.Duration("interval", s.interval))
}

// RunOnce performs a single sweep pass and returns how many threads it closed.
func (s *Sweeper) RunOnce(ctx context.Context) int {
	cutoff := time.Now().UTC().Add(-time.Duration(s.timeoutMinutes) * time.Minute)
	expired, err := s.repo.FindExpiredDiscussThreads(ctx, cutoff)
	if err != nil {
		s.logger.Error("sweep: failed to list expired threads", zap.Error(err))
		return 0
	}

	closed := 0
	for _, candidate := range expired {
		if err := s.repo.TimeoutThread(ctx, candidate.Thread, candidate.LastActivity, s.timeoutMinutes); err != nil {
			s.logger.Warn("sweep: failed to close thread",
				zap.String("thread_id", candidate.Thread.ID),
				zap.Error(err))
			continue
		}
		closed++
		s.logger.Info("sweep: closed inactive thread",
			zap.String("thread_id", candidate.Thread.ID),
			zap.String("topic", candidate.Thread.Topic))
		s.publishTimeout(ctx, candidate)
	}
	return closed
}

func (s *Sweeper) publishTimeout(ctx context.Context, candidate sqliterepo.ExpiredThread) {
	if s.bus == nil {
		return
	}
	event := eventbus.NewEvent(models.EventThreadTimeout, "sweeper", map[string]interface{}{
		"thread_id":       candidate.Thread.ID,
		"topic":           candidate.Thread.Topic,
		"last_activity":   candidate.LastActivity.Format(time.RFC3339),
		"timeout_minutes": s.timeoutMinutes,
	})
	if err := s.bus.Publish(ctx, eventbus.Subject(models.EventThreadTimeout), event); err != nil {
		s.logger.Warn("sweep: failed to publish timeout event", zap.Error(err))
	}
}
