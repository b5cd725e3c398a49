package conversation

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/aws/smithy-go"

	"github.com/vendalia/catalog-ai-platform/pkg/logging"
)

const defaultMaxAttempts = 3

// RetryLLMClient retries rate-limited and transient provider failures with
// bounded exponential backoff. Every other error class fails immediately.
type RetryLLMClient struct {
	inner       LLMClient
	maxAttempts int
	baseDelay   time.Duration
	logger      *logging.Logger

	sleep func(context.Context, time.Duration) error
}

var _ LLMClient = (*RetryLLMClient)(nil)

// NewRetryLLMClient wraps an LLM client with retry behavior.
func NewRetryLLMClient(inner LLMClient, maxAttempts int, logger *logging.Logger) *RetryLLMClient {
	if inner == nil {
		panic("conversation: inner LLM client cannot be nil")
	}
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &RetryLLMClient{
		inner:       inner,
		maxAttempts: maxAttempts,
		baseDelay:   500 * time.Millisecond,
		logger:      logger,
		sleep:       sleepCtx,
	}
}

func (c *RetryLLMClient) Complete(ctx context.Context, req LLMRequest) (LLMResponse, error) {
	var lastErr error
	delay := c.baseDelay

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		resp, err := c.inner.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !isRetryable(err) || attempt == c.maxAttempts {
			return LLMResponse{}, err
		}

		c.logger.Warn("retryable LLM failure, backing off",
			"attempt", attempt, "delay", delay.String(), "error", err)
		if sleepErr := c.sleep(ctx, delay); sleepErr != nil {
			return LLMResponse{}, sleepErr
		}
		delay *= 2
	}
	return LLMResponse{}, lastErr
}

// isRetryable reports whether the error is a throttle or transient server
// failure. Validation and auth errors are never retried.
func isRetryable(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException",
			"ServiceUnavailableException", "InternalServerException",
			"ModelTimeoutException":
			return true
		}
		return apiErr.ErrorFault() == smithy.FaultServer
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "throttl") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "status code: 5")
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
