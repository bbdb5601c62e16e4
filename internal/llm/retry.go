package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// RetryClient wraps a Client with retry on transient failures. The
// delay starts at backoff and doubles per attempt, so the default
// 5 × 1s schedule waits 1s, 2s, 4s, 8s between tries.
type RetryClient struct {
	inner    Client
	attempts int
	backoff  time.Duration
	logger   *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewRetryClient wraps inner. attempts is the total number of tries,
// including the first.
func NewRetryClient(inner Client, attempts int, backoff time.Duration, logger *slog.Logger) *RetryClient {
	if attempts < 1 {
		attempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryClient{
		inner:    inner,
		attempts: attempts,
		backoff:  backoff,
		logger:   logger,
		sleep:    sleepCtx,
	}
}

// Chat calls the wrapped client, retrying transient failures with
// exponential backoff. Non-retryable errors (a 400, a cancelled
// context) surface immediately.
func (c *RetryClient) Chat(ctx context.Context, model string, messages []Message, tools []Tool, toolChoice string) (*ChatResponse, error) {
	delay := c.backoff
	var lastErr error

	for attempt := 1; attempt <= c.attempts; attempt++ {
		resp, err := c.inner.Chat(ctx, model, messages, tools, toolChoice)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return nil, err
		}
		if attempt == c.attempts {
			break
		}

		c.logger.Warn("model call failed, retrying",
			"attempt", attempt,
			"max_attempts", c.attempts,
			"delay", delay,
			"error", err,
		)
		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
		delay *= 2
	}

	return nil, fmt.Errorf("model call failed after %d attempts: %w", c.attempts, lastErr)
}

// IsRetryable reports whether a model call error is worth retrying.
// Rate limits (429) and server errors (5xx) are transient; so are
// transport-level failures, where no status code ever arrived. Other
// client errors (4xx) mean the request itself is bad and will not
// improve with repetition.
func IsRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return retryableStatus(reqErr.HTTPStatusCode)
	}

	// No status code: dial failure, connection reset, read timeout.
	return true
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// sleepCtx sleeps for d unless the context ends first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
