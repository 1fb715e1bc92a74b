package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/beautibuk/agent/internal/conversation"
	"github.com/beautibuk/agent/internal/llm"
)

// RetryConfig configures completion-call retries.
type RetryConfig struct {
	MaxRetries      int           // retry attempts after the first call
	InitialInterval time.Duration // first backoff delay
	MaxInterval     time.Duration // backoff cap
}

// DefaultRetryConfig returns defaults tuned for LLM APIs.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

// completeWithRetry calls the provider with exponential backoff. Only
// llm.ErrUnavailable is retried; anything else fails immediately. Each
// attempt waits on the rate limiter first so retries cannot pile onto an
// already rate-limited upstream.
func (o *Orchestrator) completeWithRetry(ctx context.Context, msgs []conversation.Message, tools []conversation.ToolDescriptor) (*llm.Completion, error) {
	var lastErr error
	delay := o.retry.InitialInterval
	start := time.Now()

	for attempt := 0; attempt <= o.retry.MaxRetries; attempt++ {
		if o.limiter != nil {
			if err := o.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("rate limit wait: %w", err)
			}
		}

		completion, err := o.provider.Complete(ctx, msgs, tools)
		if err == nil {
			o.logger.Debug("completion succeeded",
				"attempts", attempt+1,
				"elapsed", time.Since(start),
			)
			return completion, nil
		}

		lastErr = err
		if !errors.Is(err, llm.ErrUnavailable) {
			return nil, fmt.Errorf("completion: %w", err)
		}
		if attempt == o.retry.MaxRetries {
			break
		}

		o.logger.Debug("retrying completion",
			"attempt", attempt+1,
			"delay", delay,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("context canceled during retry: %w", ctx.Err())
		case <-time.After(delay):
			delay = min(delay*2, o.retry.MaxInterval)
		}
	}

	return nil, fmt.Errorf("completion after %d retries (elapsed %v): %w",
		o.retry.MaxRetries, time.Since(start), lastErr)
}
