// Package util holds small helpers shared by the store-facing code paths.
package util

import (
	"context"
	"time"
)

// BackoffDuration doubles from 100ms per attempt, capped at attempt 6.
func BackoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	base := 100 * time.Millisecond
	return time.Duration(1<<uint(attempt-1)) * base // 100ms, 200ms ...
}

// SleepWithContext waits for d or until ctx is done.
func SleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Retry calls fn up to attempts times, sleeping BackoffDuration between
// failures. It stops early when retryable reports false for an error.
func Retry(ctx context.Context, attempts int, retryable func(error) bool, fn func(context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt == attempts || (retryable != nil && !retryable(err)) {
			return err
		}
		if sleepErr := SleepWithContext(ctx, BackoffDuration(attempt)); sleepErr != nil {
			return err
		}
	}
	return err
}
