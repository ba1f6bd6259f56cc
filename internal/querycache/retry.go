package querycache

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Read queries attempt 1 initial try plus maxReadRetries retries.
// Mutations retry at most once.
const (
	maxReadRetries     = 3
	maxMutationRetries = 1
	baseRetryDelay     = 1000 * time.Millisecond
	maxRetryDelay      = 30000 * time.Millisecond
)

// StatusError carries an HTTP-like status for a failed operation.
// Statuses in [400,500) are client errors and are never retried.
type StatusError struct {
	Status  int
	Message string
}

// Error implements the error interface.
func (statusErr *StatusError) Error() string {
	return fmt.Sprintf("status %d: %s", statusErr.Status, statusErr.Message)
}

// retryDelay computes min(baseDelay * 2^attempt, maxDelay) for the
// zero-based attempt index.
func retryDelay(attempt int) time.Duration {
	delay := baseRetryDelay
	for index := 0; index < attempt; index++ {
		delay *= 2
		if delay >= maxRetryDelay {
			return maxRetryDelay
		}
	}
	if delay > maxRetryDelay {
		return maxRetryDelay
	}
	return delay
}

// isRetryable reports whether a failure is worth another attempt.
func isRetryable(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.Status >= 400 && statusErr.Status < 500 {
		return false
	}
	return true
}

// sleepFunc waits for the delay or until the context is cancelled.
type sleepFunc func(ctx context.Context, delay time.Duration) error

func realSleep(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// runWithRetry executes operation with exponential backoff. maxRetries
// bounds the retries after the initial attempt.
func runWithRetry(ctx context.Context, maxRetries int, sleep sleepFunc, operation func(ctx context.Context) (any, error)) (any, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			if sleepErr := sleep(ctx, retryDelay(attempt-1)); sleepErr != nil {
				return nil, sleepErr
			}
		}
		value, operationErr := operation(ctx)
		if operationErr == nil {
			return value, nil
		}
		lastErr = operationErr
		if !isRetryable(operationErr) {
			return nil, operationErr
		}
	}
	return nil, lastErr
}
