package provider

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/colonyops/relay/internal/core/logging"
	"github.com/colonyops/relay/internal/core/task"
	"github.com/colonyops/relay/internal/core/tools"
)

// RetryClient wraps a Client with bounded retries and exponential backoff
// for transient failures. Quota exhaustion and context cancellation are
// surfaced immediately.
type RetryClient struct {
	inner       Client
	attempts    int
	initialWait time.Duration
	log         zerolog.Logger
}

// NewRetryClient wraps inner. attempts is the total number of tries;
// values below 1 are treated as 1.
func NewRetryClient(inner Client, attempts int, initialWait time.Duration) *RetryClient {
	if attempts < 1 {
		attempts = 1
	}
	if initialWait <= 0 {
		initialWait = 500 * time.Millisecond
	}
	return &RetryClient{
		inner:       inner,
		attempts:    attempts,
		initialWait: initialWait,
		log:         logging.Component("provider"),
	}
}

// ChatCompletion calls the wrapped client, retrying transient errors.
func (c *RetryClient) ChatCompletion(ctx context.Context, history []task.Message, defs []tools.Definition, opts Options) (task.Message, Usage, error) {
	wait := c.initialWait
	var lastErr error

	for attempt := 1; attempt <= c.attempts; attempt++ {
		msg, usage, err := c.inner.ChatCompletion(ctx, history, defs, opts)
		if err == nil {
			return msg, usage, nil
		}
		lastErr = err

		if !retryable(err) || attempt == c.attempts {
			break
		}

		c.log.Warn().Ctx(ctx).Err(err).Int("attempt", attempt).Dur("wait", wait).Msg("transient provider error, retrying")
		select {
		case <-ctx.Done():
			return task.Message{}, Usage{}, ctx.Err()
		case <-time.After(wait):
		}
		wait *= 2
	}

	return task.Message{}, Usage{}, lastErr
}

// retryable reports whether an error is worth another attempt.
func retryable(err error) bool {
	if errors.Is(err, ErrQuotaExhausted) || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "http 5") ||
		strings.Contains(msg, "temporarily unavailable")
}
