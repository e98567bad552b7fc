// Package reliability holds the retry and backoff primitives shared by the
// engine warm-up path and the CLI's readiness wait.
package reliability

import (
	"context"
	"fmt"
	"time"
)

// IsRetryableHTTPStatus classifies status codes worth another attempt.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// ExponentialBackoff computes a deterministic capped backoff duration.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}

// WaitReady polls probe with exponential backoff until it succeeds or ctx
// expires. The model runner keeps its readiness endpoint failing while it
// loads weights, which can take minutes on a cold start.
func WaitReady(ctx context.Context, probe func(context.Context) error, base, cap time.Duration) error {
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	if cap < base {
		cap = base
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		err := probe(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return fmt.Errorf("gave up waiting: %w", lastErr)
		case <-time.After(ExponentialBackoff(attempt, base, cap)):
		}
	}
}
