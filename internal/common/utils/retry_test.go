package utils

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetry(t *testing.T) {
	t.Run("succeeds on first attempt", func(t *testing.T) {
		calls := 0
		err := Retry(3, time.Millisecond, func() error {
			calls++
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("retries until success", func(t *testing.T) {
		calls := 0
		err := Retry(3, time.Millisecond, func() error {
			calls++
			if calls < 3 {
				return fmt.Errorf("transient")
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("exhausts attempts", func(t *testing.T) {
		calls := 0
		err := Retry(3, time.Millisecond, func() error {
			calls++
			return fmt.Errorf("always fails")
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "max retries exceeded")
		assert.Equal(t, 3, calls)
	})
}

func TestRetryWithBackoff(t *testing.T) {
	t.Run("non-retryable error returns immediately", func(t *testing.T) {
		permanent := fmt.Errorf("permanent")
		calls := 0
		config := RetryConfig{
			MaxAttempts:   5,
			InitialDelay:  time.Millisecond,
			MaxDelay:      time.Millisecond,
			BackoffFactor: 1.0,
			RetryableErrors: func(err error) bool {
				return err != permanent
			},
		}
		err := RetryWithBackoff(context.Background(), config, func() error {
			calls++
			return permanent
		})
		assert.Equal(t, permanent, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("context cancellation aborts the wait", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		config := RetryConfig{
			MaxAttempts:   3,
			InitialDelay:  time.Second,
			MaxDelay:      time.Second,
			BackoffFactor: 1.0,
		}
		err := RetryWithBackoff(ctx, config, func() error {
			return fmt.Errorf("fail")
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "retry cancelled")
	})
}
