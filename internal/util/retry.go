package util

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// BackoffOptions configures RetryWithBackoff.
//
// Retryable decides whether an error is worth another attempt; nil retries
// every error except context cancellation. The delay before attempt n (n>=1)
// is BaseDelay*2^(n-1), capped at MaxDelay, plus up to Jitter.
type BackoffOptions struct {
	MaxTries  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Jitter    time.Duration
	Retryable func(error) bool
}

// RetryWithBackoff calls fn up to MaxTries times (at least once) with
// exponential backoff between attempts. It stops early on success, on a
// non-retryable error and when ctx is done.
func RetryWithBackoff[T any](ctx context.Context, opts BackoffOptions, fn func(context.Context) (T, error)) (T, error) {
	maxTries := opts.MaxTries
	if maxTries <= 0 {
		maxTries = 1
	}
	var lastErr error
	var zero T
	for i := 0; i < maxTries; i++ {
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if i > 0 {
			if err := Sleep(ctx, backoffDelay(opts, i)); err != nil {
				return zero, err
			}
		}
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, context.Canceled) {
			return zero, err
		}
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
			return zero, err
		}
		lastErr = err
		if opts.Retryable != nil && !opts.Retryable(err) {
			return zero, err
		}
	}
	return zero, lastErr
}

func backoffDelay(opts BackoffOptions, attempt int) time.Duration {
	if opts.BaseDelay <= 0 {
		return 0
	}
	d := opts.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if opts.MaxDelay > 0 && d >= opts.MaxDelay {
			d = opts.MaxDelay
			break
		}
	}
	if opts.MaxDelay > 0 && d > opts.MaxDelay {
		d = opts.MaxDelay
	}
	if opts.Jitter > 0 {
		d += time.Duration(rand.Int64N(int64(opts.Jitter) + 1))
	}
	return d
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
