package policy

import (
	"context"
	"time"

	"github.com/agentchatbus/agentchatbus/internal/common/errdefs"
)

// rateWindow is the sliding window for the message cap. The limit is
// configurable but the window is fixed.
const rateWindow = 60 * time.Second

// MessageCounter counts stored messages for a single author inside the
// sliding window. The repository satisfies this.
type MessageCounter interface {
	CountRecentMessages(ctx context.Context, byAgentID bool, key string, since time.Time) (int, error)
}

// RateLimiter enforces a per-author message cap over a sliding 60 second
// window. Registered agents are keyed by their agent id so renaming does not
// reset the budget; ad-hoc authors fall back to the author string.
type RateLimiter struct {
	counter MessageCounter
	limit   int
}

func NewRateLimiter(counter MessageCounter, limit int) *RateLimiter {
	return &RateLimiter{counter: counter, limit: limit}
}

// Check counts the key's stored messages in the window and fails with a
// RateLimitedError once the cap is reached. A limit of 0 disables the check.
func (l *RateLimiter) Check(ctx context.Context, byAgentID bool, key string) error {
	if l.limit <= 0 {
		return nil
	}

	since := time.Now().UTC().Add(-rateWindow)
	count, err := l.counter.CountRecentMessages(ctx, byAgentID, key, since)
	if err != nil {
		return err
	}
	if count >= l.limit {
		scope := "author"
		if byAgentID {
			scope = "author_id"
		}
		return &errdefs.RateLimitedError{
			Limit:      l.limit,
			WindowSecs: int(rateWindow.Seconds()),
			RetryAfter: int(rateWindow.Seconds()),
			Scope:      scope,
		}
	}
	return nil
}
