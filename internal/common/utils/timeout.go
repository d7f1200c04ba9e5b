package utils

import (
	"time"

	"lettercast/internal/common/errors"
)

// WithTimeout races fn against a timer. If the timer wins the underlying
// call is abandoned, not cancelled at the transport level; fn keeps
// running in its goroutine until it returns on its own. Callers must
// treat a timeout exactly like a network error.
func WithTimeout(name string, timeout time.Duration, fn func() error) error {
	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return errors.TimeoutError(name)
	}
}

// WithTimeoutResult is WithTimeout for operations that return a value.
func WithTimeoutResult[T any](name string, timeout time.Duration, fn func() (T, error)) (T, error) {
	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)
	go func() {
		val, err := fn()
		done <- result{val, err}
	}()

	select {
	case res := <-done:
		return res.val, res.err
	case <-time.After(timeout):
		var zero T
		return zero, errors.TimeoutError(name)
	}
}
