// Package errdefs defines the error taxonomy shared by the bus core and its
// transport surfaces. Handlers translate these into HTTP status codes or MCP
// tool errors; the core never returns transport-specific errors.
package errdefs

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates the referenced entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates a malformed or out-of-domain argument.
	ErrInvalidInput = errors.New("invalid input")

	// ErrAuthFailed indicates an agent id/token mismatch. It deliberately
	// carries no detail about which of the two was wrong.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrTimeout indicates a store or request exceeded its time budget.
	ErrTimeout = errors.New("operation timed out")

	// ErrStore indicates an unexpected durable-layer failure.
	ErrStore = errors.New("store error")

	// ErrCancelled indicates the request was cancelled by the transport.
	ErrCancelled = errors.New("request cancelled")
)

// RateLimitedError is returned when an author exceeds the sliding-window
// message cap. The fields are surfaced verbatim to the client so it can back
// off intelligently.
type RateLimitedError struct {
	Limit      int    // messages allowed per window
	WindowSecs int    // window length in seconds
	RetryAfter int    // suggested retry delay in seconds
	Scope      string // "author_id" or "author"
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limit exceeded: %d messages per %ds (scope %s)", e.Limit, e.WindowSecs, e.Scope)
}

// ContentBlockedError is returned when the content filter matches a secret
// pattern in a message body.
type ContentBlockedError struct {
	PatternLabel string
}

func (e *ContentBlockedError) Error() string {
	return fmt.Sprintf("content blocked: detected %s", e.PatternLabel)
}

// NotFoundf wraps ErrNotFound with a formatted description.
func NotFoundf(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrNotFound)...)
}

// InvalidInputf wraps ErrInvalidInput with a formatted description.
func InvalidInputf(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrInvalidInput)...)
}

// Storef wraps ErrStore around a lower-level database failure.
func Storef(op string, err error) error {
	return fmt.Errorf("%s: %v: %w", op, err, ErrStore)
}

// IsRateLimited reports whether err is (or wraps) a RateLimitedError.
func IsRateLimited(err error) bool {
	var rl *RateLimitedError
	return errors.As(err, &rl)
}

// IsContentBlocked reports whether err is (or wraps) a ContentBlockedError.
func IsContentBlocked(err error) bool {
	var cb *ContentBlockedError
	return errors.As(err, &cb)
}
