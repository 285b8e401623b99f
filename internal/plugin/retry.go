package plugin

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// RetryConfig bounds the exponential-backoff-with-jitter retry policy
// spec.md §4.1 requires every plugin implement internally for transient
// errors ("exponential backoff with jitter for transient errors, bounded
// retry count").
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryConfig matches the bounded-retry guidance of spec.md §4.1:
// a handful of attempts, starting at a few hundred milliseconds, capped
// well under the request timeout.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 4,
		BaseDelay:   250 * time.Millisecond,
		MaxDelay:    10 * time.Second,
	}
}

// WithRetry runs op, retrying while it returns a transient error
// (errors.Is(err, ErrNetwork)) up to cfg.MaxAttempts times with full
// jittered exponential backoff. A permanent error or a nil result returns
// immediately. The last error is returned if every attempt is exhausted.
func WithRetry[T any](ctx context.Context, cfg RetryConfig, op func(ctx context.Context) (T, error)) (T, error) {
	var lastErr error
	var result T
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(cfg, attempt)
			select {
			case <-ctx.Done():
				var zero T
				return zero, ctx.Err()
			case <-time.After(delay):
			}
		}
		result, lastErr = op(ctx)
		if lastErr == nil {
			return result, nil
		}
		if !IsTransient(lastErr) {
			return result, lastErr
		}
	}
	return result, lastErr
}

func backoffDelay(cfg RetryConfig, attempt int) time.Duration {
	exp := float64(cfg.BaseDelay) * math.Pow(2, float64(attempt-1))
	capped := math.Min(exp, float64(cfg.MaxDelay))
	jittered := capped * (0.5 + rand.Float64()*0.5)
	return time.Duration(jittered)
}
