// Package retry provides a small generic retry helper, used where a
// runtime-driver or transport call can fail transiently (today: the Docker
// driver's image pull). Grounded on the teacher's pkg/utils.CallWithRetry,
// generalized to respect context cancellation between attempts instead of
// an unconditional time.Sleep.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Do calls fn up to maxAttempts times, waiting backoff between attempts,
// returning the first success or the last error if every attempt fails.
// Stops early if ctx is done.
func Do[T any](ctx context.Context, maxAttempts int, backoff time.Duration, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		v, err := fn()
		if err == nil {
			return v, nil
		}
		lastErr = err

		if attempt == maxAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(backoff):
		}
	}
	return zero, fmt.Errorf("retry: all %d attempts failed: %w", maxAttempts, lastErr)
}
