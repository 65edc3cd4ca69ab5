package download

import (
	"context"
	"time"
)

// Backoff returns the delay before retrying after the given 1-based attempt:
// min(base*2^(attempt-1), limit).
func Backoff(attempt int, base, limit time.Duration) time.Duration {
	if attempt < 1 || base <= 0 {
		return 0
	}
	delay := base
	for i := 1; i < attempt; i++ {
		if limit > 0 && delay >= limit {
			return limit
		}
		delay *= 2
	}
	if limit > 0 && delay > limit {
		return limit
	}
	return delay
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
