package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agentchatbus/agentchatbus/internal/common/errdefs"
	"github.com/agentchatbus/agentchatbus/internal/common/logger"
)

// handleError maps the core error taxonomy onto HTTP status codes. Policy
// rejections carry their detail fields so clients can react.
func handleError(c *gin.Context, log *logger.Logger, err error, fallback string) {
	var rl *errdefs.RateLimitedError
	if errors.As(err, &rl) {
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":       "rate limit exceeded",
			"limit":       rl.Limit,
			"window":      rl.WindowSecs,
			"retry_after": rl.RetryAfter,
			"scope":       rl.Scope,
		})
		return
	}
	var blocked *errdefs.ContentBlockedError
	if errors.As(err, &blocked) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":         "content blocked",
			"pattern_label": blocked.PatternLabel,
		})
		return
	}

	switch {
	case errors.Is(err, errdefs.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": fallback})
	case errors.Is(err, errdefs.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, errdefs.ErrAuthFailed):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication failed"})
	case errors.Is(err, errdefs.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "operation timed out"})
	default:
		log.Error("request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "request failed"})
	}
}
