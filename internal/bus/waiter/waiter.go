// Package waiter implements the long-poll primitive: block until a thread
// grows past a sequence cursor, or a timeout fires.
package waiter

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/agentchatbus/agentchatbus/internal/bus/models"
	sqliterepo "github.com/agentchatbus/agentchatbus/internal/bus/repository/sqlite"
	"github.com/agentchatbus/agentchatbus/internal/common/logger"
	eventbus "github.com/agentchatbus/agentchatbus/internal/events/bus"
)

// pollInterval is the fallback read cadence. Wake-ups normally arrive via the
// msg.new subscription; polling covers events lost to retention or a NATS
// reconnect.
const pollInterval = 500 * time.Millisecond

const defaultBatchLimit = 100

// Coordinator blocks callers until new messages appear for a thread. Each
// wait owns its own subscription and timer; coordinators share no state
// beyond the store.
type Coordinator struct {
	repo   *sqliterepo.Repository
	bus    eventbus.EventBus
	logger *logger.Logger
}

func New(repo *sqliterepo.Repository, bus eventbus.EventBus, log *logger.Logger) *Coordinator {
	return &Coordinator{repo: repo, bus: bus, logger: log}
}

// Wait returns the first non-empty batch of messages with seq > afterSeq, or
// an empty slice once timeout elapses. A timeout of 0 means a single
// immediate read. Transport cancellation propagates as ctx.Err.
func (c *Coordinator) Wait(ctx context.Context, threadID string, afterSeq int64, timeout time.Duration) ([]*models.Message, error) {
	msgs, err := c.repo.ListMessages(ctx, threadID, afterSeq, defaultBatchLimit)
	if err != nil {
		return nil, err
	}
	if len(msgs) > 0 || timeout <= 0 {
		return msgs, nil
	}

	// Buffered so the bus handler never blocks on a waiter that already
	// woke up from the poll path.
	wake := make(chan struct{}, 1)
	sub, err := c.bus.Subscribe(eventbus.Subject(models.EventMsgNew), func(_ context.Context, event *eventbus.Event) error {
		if id, _ := event.Data["thread_id"].(string); id == threadID {
			select {
			case wake <- struct{}{}:
			default:
			}
		}
		return nil
	})
	if err != nil {
		c.logger.Warn("wait: subscription unavailable, falling back to polling", zap.Error(err))
	} else {
		defer func() { _ = sub.Unsubscribe() }()
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return []*models.Message{}, nil
		case <-wake:
		case <-ticker.C:
		}

		msgs, err := c.repo.ListMessages(ctx, threadID, afterSeq, defaultBatchLimit)
		if err != nil {
			return nil, err
		}
		if len(msgs) > 0 {
			return msgs, nil
		}
	}
}
