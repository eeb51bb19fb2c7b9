package util

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryWithBackoff_StopsOnPermanentError(t *testing.T) {
	permanent := errors.New("bad request")
	calls := 0
	_, err := RetryWithBackoff(context.Background(), BackoffOptions{
		MaxTries:  5,
		Retryable: func(err error) bool { return !errors.Is(err, permanent) },
	}, func(ctx context.Context) (int, error) {
		calls++
		return 0, permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call for a permanent error, got %d", calls)
	}
}

func TestRetryWithBackoff_RetriesTransient(t *testing.T) {
	transient := errors.New("429 too many requests")
	calls := 0
	start := time.Now()
	got, err := RetryWithBackoff(context.Background(), BackoffOptions{
		MaxTries:  3,
		BaseDelay: 5 * time.Millisecond,
		MaxDelay:  20 * time.Millisecond,
		Retryable: func(err error) bool { return errors.Is(err, transient) },
	}, func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", transient
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if got != "ok" || calls != 3 {
		t.Fatalf("expected ok after 3 calls, got %q after %d", got, calls)
	}
	// 5ms + 10ms of backoff
	if elapsed := time.Since(start); elapsed < 15*time.Millisecond {
		t.Fatalf("expected backoff delays to be applied, elapsed %v", elapsed)
	}
}

func TestRetryWithBackoff_AttemptTimeoutIsRetried(t *testing.T) {
	calls := 0
	_, err := RetryWithBackoff(context.Background(), BackoffOptions{MaxTries: 2}, func(ctx context.Context) (int, error) {
		calls++
		return 0, context.DeadlineExceeded
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected per-attempt timeout to be retried, got %d calls", calls)
	}
}

func TestBackoffDelay_Capped(t *testing.T) {
	opts := BackoffOptions{BaseDelay: 100 * time.Millisecond, MaxDelay: 250 * time.Millisecond}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 250 * time.Millisecond},
		{8, 250 * time.Millisecond},
	}
	for _, tc := range tests {
		if got := backoffDelay(opts, tc.attempt); got != tc.want {
			t.Fatalf("backoffDelay(%d) got = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestRetryWithBackoff_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := RetryWithBackoff(ctx, BackoffOptions{MaxTries: 5, BaseDelay: time.Second}, func(ctx context.Context) (int, error) {
		calls++
		cancel()
		return 0, errors.New("boom")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("RetryWithBackoff() error got = %v, want %v", err, context.Canceled)
	}
	if calls != 1 {
		t.Fatalf("RetryWithBackoff() calls got = %d, want 1", calls)
	}
}

func TestRetryWithBackoff_MaxTriesDefaultsToOne(t *testing.T) {
	calls := 0
	_, err := RetryWithBackoff(context.Background(), BackoffOptions{}, func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.New("fail")
	})
	if err == nil || calls != 1 {
		t.Fatalf("RetryWithBackoff() got err = %v after %d calls, want error after 1", err, calls)
	}
}
