package util

import (
	"context"
	"errors"
	"time"
)

// RetryErr calls fn up to maxTries times until it returns nil error.
// If maxTries <= 0, it defaults to 1. Returns the last error if all attempts fail.
func RetryErr(maxTries int, fn func() error) error {
	if maxTries <= 0 {
		maxTries = 1
	}
	var lastErr error
	for i := 0; i < maxTries; i++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return lastErr
}

// Permanent marks err as not worth retrying. RetryWithContext and
// RetryWithBackoff stop immediately and return the wrapped error, so
// errors.Is checks against the original error still hold for callers.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

// RetryWithContext calls fn up to maxTries times until it returns a result and
// nil error, or until ctx is done. If maxTries <= 0, it defaults to 1.
// Context cancellation short-circuits remaining attempts.
func RetryWithContext[T any](ctx context.Context, maxTries int, fn func(context.Context) (T, error)) (T, error) {
	if maxTries <= 0 {
		maxTries = 1
	}
	var lastErr error
	var zero T
	for i := 0; i < maxTries; i++ {
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return zero, err
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return zero, perm.err
		}
		lastErr = err
	}
	return zero, lastErr
}

// RetryWithBackoff calls fn up to maxTries times, sleeping baseDelay, 2x, 4x...
// between attempts. Used for external calls where immediate retries only make
// the upstream angrier. Context cancellation short-circuits both the attempt
// loop and the sleep.
func RetryWithBackoff[T any](ctx context.Context, maxTries int, baseDelay time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if maxTries <= 0 {
		maxTries = 1
	}
	var lastErr error
	var zero T
	delay := baseDelay
	for i := 0; i < maxTries; i++ {
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return zero, err
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return zero, perm.err
		}
		lastErr = err
		if i == maxTries-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return zero, ctx.Err()
		}
		delay *= 2
	}
	return zero, lastErr
}
