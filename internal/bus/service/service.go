// Package service is the facade over the bus core: it validates input,
// enforces policy, bounds every store operation with a timeout, and publishes
// change notifications after the durable write commits.
package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/agentchatbus/agentchatbus/internal/bus/policy"
	sqliterepo "github.com/agentchatbus/agentchatbus/internal/bus/repository/sqlite"
	"github.com/agentchatbus/agentchatbus/internal/bus/waiter"
	"github.com/agentchatbus/agentchatbus/internal/common/config"
	"github.com/agentchatbus/agentchatbus/internal/common/logger"
	eventbus "github.com/agentchatbus/agentchatbus/internal/events/bus"
)

// Service coordinates the thread registry, message store, agent registry and
// policy engine behind a single API used by the HTTP, websocket and MCP
// surfaces.
type Service struct {
	repo          *sqliterepo.Repository
	eventBus      eventbus.EventBus
	logger        *logger.Logger
	cfg           *config.Config
	rateLimiter   *policy.RateLimiter
	contentFilter *policy.ContentFilter
	waiter        *waiter.Coordinator
}

// NewService creates the bus service.
func NewService(repo *sqliterepo.Repository, eventBus eventbus.EventBus, log *logger.Logger, cfg *config.Config) *Service {
	return &Service{
		repo:          repo,
		eventBus:      eventBus,
		logger:        log,
		cfg:           cfg,
		rateLimiter:   policy.NewRateLimiter(repo, cfg.Policy.RateLimit),
		contentFilter: policy.NewContentFilter(cfg.Policy.ContentFilter),
		waiter:        waiter.New(repo, eventBus, log),
	}
}

// Repo exposes the repository for background jobs wired in main.
func (s *Service) Repo() *sqliterepo.Repository {
	return s.repo
}

// opCtx bounds a store operation with the configured per-request timeout.
func (s *Service) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := s.cfg.Database.OpTimeoutDuration()
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

// publishEvent fans a committed mutation out to live subscribers. The durable
// event row is already part of the mutation's transaction; this is the
// best-effort notification path.
func (s *Service) publishEvent(ctx context.Context, eventType string, data map[string]interface{}) {
	if s.eventBus == nil {
		return
	}
	event := eventbus.NewEvent(eventType, "bus", data)
	if err := s.eventBus.Publish(ctx, eventbus.Subject(eventType), event); err != nil {
		s.logger.Warn("failed to publish event",
			zap.String("event_type", eventType),
			zap.Error(err))
	}
}
