package util

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryErr_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := RetryErr(3, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RetryErr() error = %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestRetryErr_ReturnsLastError(t *testing.T) {
	wantErr := errors.New("still broken")
	calls := 0
	err := RetryErr(2, func() error {
		calls++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("RetryErr() error = %v, want %v", err, wantErr)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestRetryErr_ZeroTriesRunsOnce(t *testing.T) {
	calls := 0
	_ = RetryErr(0, func() error {
		calls++
		return errors.New("nope")
	})
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestRetryWithContext_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	_, err := RetryWithContext(ctx, 5, func(ctx context.Context) (int, error) {
		calls++
		cancel()
		return 0, errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("RetryWithContext() error = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 (cancellation short-circuits retries)", calls)
	}
}

func TestRetryWithContext_ReturnsResult(t *testing.T) {
	got, err := RetryWithContext(context.Background(), 3, func(ctx context.Context) (string, error) {
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("RetryWithContext() error = %v", err)
	}
	if got != "ok" {
		t.Fatalf("result = %q, want %q", got, "ok")
	}
}

func TestRetryWithContext_PermanentStopsRetries(t *testing.T) {
	wantErr := errors.New("not found")
	calls := 0
	_, err := RetryWithContext(context.Background(), 5, func(ctx context.Context) (int, error) {
		calls++
		return 0, Permanent(wantErr)
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("RetryWithContext() error = %v, want %v", err, wantErr)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 (permanent errors are not retried)", calls)
	}
}

func TestRetryWithBackoff_PermanentStopsRetries(t *testing.T) {
	wantErr := errors.New("not found")
	calls := 0
	start := time.Now()
	_, err := RetryWithBackoff(context.Background(), 5, 50*time.Millisecond, func(ctx context.Context) (int, error) {
		calls++
		return 0, Permanent(wantErr)
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("RetryWithBackoff() error = %v, want %v", err, wantErr)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 (permanent errors are not retried)", calls)
	}
	if elapsed := time.Since(start); elapsed > 40*time.Millisecond {
		t.Fatalf("elapsed = %v, no backoff sleep expected for a permanent error", elapsed)
	}
}

func TestRetryWithBackoff_DelaysBetweenAttempts(t *testing.T) {
	start := time.Now()
	calls := 0
	_, err := RetryWithBackoff(context.Background(), 3, 10*time.Millisecond, func(ctx context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("transient")
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("RetryWithBackoff() error = %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
	// 10ms + 20ms of backoff before the third attempt.
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Fatalf("elapsed = %v, want at least 30ms of backoff", elapsed)
	}
}

func TestRetryWithBackoff_NoSleepAfterLastFailure(t *testing.T) {
	wantErr := errors.New("permanent")
	start := time.Now()
	_, err := RetryWithBackoff(context.Background(), 2, 20*time.Millisecond, func(ctx context.Context) (int, error) {
		return 0, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("RetryWithBackoff() error = %v, want %v", err, wantErr)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("elapsed = %v, only one inter-attempt delay expected", elapsed)
	}
}
