// Package retry runs idempotent provider calls with bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Policy bounds a retry loop.
type Policy struct {
	// Attempts is the total number of calls, including the first. Values below 1 mean 1.
	Attempts int

	// BaseDelay is the wait before the second attempt; it doubles after each failure.
	BaseDelay time.Duration

	// MaxDelay caps the backoff. Zero means uncapped.
	MaxDelay time.Duration

	// AttemptTimeout bounds each individual call. Zero means only the parent deadline applies.
	AttemptTimeout time.Duration
}

// Once is the policy for calls that may be retried at most once.
func Once(timeout time.Duration) Policy {
	return Policy{Attempts: 2, BaseDelay: 100 * time.Millisecond, AttemptTimeout: timeout}
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do calls fn until it succeeds, returns a permanent error, the attempts run
// out, or ctx is done. The last error is returned unwrapped from Permanent.
func Do(ctx context.Context, p Policy, op string, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, p.delay(attempt)); err != nil {
				return lastErr
			}
			slog.Debug("retrying provider call", "op", op, "attempt", attempt+1, "error", lastErr)
		}

		lastErr = call(ctx, p.AttemptTimeout, fn)
		if lastErr == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(lastErr, &perm) {
			return perm.err
		}
		if ctx.Err() != nil {
			return lastErr
		}
	}

	slog.Warn("provider call failed after retries", "op", op, "attempts", attempts, "error", lastErr)
	return lastErr
}

func call(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(attemptCtx)
}

func (p Policy) delay(attempt int) time.Duration {
	d := p.BaseDelay * time.Duration(1<<(attempt-1))
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
