// Package utils provides small shared helpers: retry loops, timeout
// racing, glob compilation and ID generation.
package utils

import (
	"context"
	"fmt"
	"time"
)

// RetryConfig holds configuration for retry operations.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the initial attempt)
	MaxAttempts int

	// InitialDelay is the delay before the first retry
	InitialDelay time.Duration

	// MaxDelay caps exponential growth of the delay
	MaxDelay time.Duration

	// BackoffFactor is the multiplier applied between attempts (1.0 = fixed delay)
	BackoffFactor float64

	// RetryableErrors determines which errors should trigger a retry.
	// If nil, all errors are considered retryable.
	RetryableErrors func(error) bool
}

// DefaultRetryConfig returns a sensible default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  1 * time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
	}
}

// RetryWithBackoff executes fn up to MaxAttempts times with increasing
// delays between attempts. Non-retryable errors are returned as-is and
// context cancellation aborts the wait between attempts.
func RetryWithBackoff(ctx context.Context, config RetryConfig, fn func() error) error {
	var lastErr error
	delay := config.InitialDelay

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err

			if config.RetryableErrors != nil && !config.RetryableErrors(err) {
				return err
			}

			if attempt == config.MaxAttempts {
				break
			}
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-time.After(delay):
			next := time.Duration(float64(delay) * config.BackoffFactor)
			if next > config.MaxDelay {
				next = config.MaxDelay
			}
			delay = next
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// Retry executes fn with fixed-delay retries. Equivalent to
// RetryWithBackoff with BackoffFactor=1.0.
func Retry(attempts int, delay time.Duration, fn func() error) error {
	config := RetryConfig{
		MaxAttempts:   attempts,
		InitialDelay:  delay,
		MaxDelay:      delay,
		BackoffFactor: 1.0,
	}
	return RetryWithBackoff(context.Background(), config, fn)
}
