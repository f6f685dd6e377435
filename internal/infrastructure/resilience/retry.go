package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// RetryPolicy bounds attempts made by Retry. Backoff lists the waits between
// attempts; the last entry repeats when there are more attempts than entries.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     []time.Duration
	Sleep       Sleeper
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		Backoff:     []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second},
	}
}

func (p RetryPolicy) wait(attempt int) time.Duration {
	if len(p.Backoff) == 0 {
		return 0
	}
	idx := attempt - 1
	if idx >= len(p.Backoff) {
		idx = len(p.Backoff) - 1
	}
	return p.Backoff[idx]
}

// Retry calls fn until it succeeds, the policy is exhausted or ctx ends.
// The last error is returned wrapped with the attempt count.
func Retry(ctx context.Context, operation string, policy RetryPolicy, fn func(context.Context) error) error {
	if fn == nil {
		return fmt.Errorf("resilience: retry callback is nil")
	}
	attempts := policy.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	sleep := policy.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == attempts {
			break
		}

		wait := policy.wait(attempt)
		slog.Warn("retry_attempt",
			"operation", operation,
			"attempt", attempt,
			"max_attempts", attempts,
			"backoff_ms", wait.Milliseconds(),
			"error", lastErr,
		)
		if wait > 0 {
			if err := sleep(ctx, wait); err != nil {
				return err
			}
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", operation, attempts, lastErr)
}
