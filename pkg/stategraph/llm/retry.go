package llm

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

// RetryConfig configures retry behavior.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including initial).
	MaxAttempts int

	// InitialBackoff is the starting backoff duration.
	InitialBackoff time.Duration

	// MaxBackoff is the maximum backoff duration.
	MaxBackoff time.Duration

	// BackoffFactor is the multiplier applied to backoff after each attempt.
	BackoffFactor float64

	// Jitter is the random jitter factor (0.0-1.0).
	Jitter float64

	// RetryableFunc overrides IsRetryable as the retryability check.
	RetryableFunc func(error) bool
}

// DefaultRetry is the standard retry configuration.
var DefaultRetry = RetryConfig{
	MaxAttempts:    3,
	InitialBackoff: 1 * time.Second,
	MaxBackoff:     30 * time.Second,
	BackoffFactor:  2.0,
	Jitter:         0.1,
}

// NoRetry disables retries.
var NoRetry = RetryConfig{
	MaxAttempts: 1,
}

// RetryResult contains the result of a retry operation.
type RetryResult[T any] struct {
	Value    T
	Err      error
	Attempts int
	Duration time.Duration
}

// Retry calls fn until it succeeds, returns a non-retryable error, the
// attempts run out or ctx is done. Backoff grows exponentially with jitter.
//
// Example:
//
//	res := llm.Retry(ctx, llm.DefaultRetry, func(ctx context.Context) (*llm.CompletionResponse, error) {
//	    return client.Complete(ctx, req)
//	})
func Retry[T any](ctx context.Context, cfg RetryConfig, fn func(context.Context) (T, error)) RetryResult[T] {
	start := time.Now()
	backoff := cfg.InitialBackoff
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	retryable := cfg.RetryableFunc
	if retryable == nil {
		retryable = IsRetryable
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return RetryResult[T]{Err: err, Attempts: attempt, Duration: time.Since(start)}
		}

		value, err := fn(ctx)
		if err == nil {
			return RetryResult[T]{Value: value, Attempts: attempt + 1, Duration: time.Since(start)}
		}
		lastErr = err

		if !retryable(err) {
			return RetryResult[T]{Err: err, Attempts: attempt + 1, Duration: time.Since(start)}
		}

		if attempt < attempts-1 {
			select {
			case <-ctx.Done():
				return RetryResult[T]{Err: ctx.Err(), Attempts: attempt + 1, Duration: time.Since(start)}
			case <-time.After(jittered(backoff, cfg.Jitter)):
			}

			backoff = time.Duration(float64(backoff) * cfg.BackoffFactor)
			if cfg.MaxBackoff > 0 && backoff > cfg.MaxBackoff {
				backoff = cfg.MaxBackoff
			}
		}
	}

	return RetryResult[T]{
		Err:      fmt.Errorf("max retries exceeded after %d attempts: %w", attempts, lastErr),
		Attempts: attempts,
		Duration: time.Since(start),
	}
}

// jittered returns base +/- base*jitter*random.
func jittered(base time.Duration, jitter float64) time.Duration {
	if jitter <= 0 {
		return base
	}
	delta := float64(base) * jitter * (rand.Float64()*2 - 1)
	return time.Duration(float64(base) + delta)
}

// RetryClient retries Complete calls of the wrapped client. Stream calls
// are retried only until the stream opens.
type RetryClient struct {
	client Client
	cfg    RetryConfig
}

// NewRetryClient wraps client with retries.
func NewRetryClient(client Client, cfg RetryConfig) *RetryClient {
	return &RetryClient{client: client, cfg: cfg}
}

// Complete implements Client.
func (r *RetryClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	res := Retry(ctx, r.cfg, func(ctx context.Context) (*CompletionResponse, error) {
		return r.client.Complete(ctx, req)
	})
	return res.Value, res.Err
}

// Stream implements Client.
func (r *RetryClient) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error) {
	res := Retry(ctx, r.cfg, func(ctx context.Context) (<-chan StreamChunk, error) {
		return r.client.Stream(ctx, req)
	})
	return res.Value, res.Err
}
