package executor

import (
	"context"
	"errors"
	"time"

	"github.com/jdziat/crewrun/pkg/core"
)

// RetryPolicy bounds how often a failing task is retried and how long the
// executor waits in between.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first attempt.
	// Default: 3
	MaxRetries int

	// BaseDelay is the wait before the first retry. Each further retry
	// doubles it.
	// Default: 2s
	BaseDelay time.Duration

	// MaxDelay caps the computed delay. A RetryAfter hint may exceed it.
	// Default: 2m
	MaxDelay time.Duration
}

// DefaultRetryPolicy returns the default retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  2 * time.Second,
		MaxDelay:   2 * time.Minute,
	}
}

// Delay returns the wait before retry n (1-based): BaseDelay * 2^(n-1),
// capped at MaxDelay. The result is never shorter than prev, the delay
// before the previous retry, nor than a core.RetryAfter hint carried by err.
func (p RetryPolicy) Delay(n int, prev time.Duration, err error) time.Duration {
	d := p.BaseDelay
	for i := 1; i < n && (p.MaxDelay <= 0 || d < p.MaxDelay); i++ {
		d *= 2
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}

	var ra *core.RetryAfterError
	if errors.As(err, &ra) && ra.Delay > d {
		d = ra.Delay
	}
	return max(d, prev)
}

// Retryable reports whether a task error is worth another attempt. A
// deadline inside the error, such as an HTTP client timeout, is transient;
// the job's own cancellation is handled by the caller.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var noRetry *core.NoRetryError
	if errors.As(err, &noRetry) {
		return false
	}
	return !core.IsConfigurationError(err)
}

// retryFunc is called before sleeping ahead of retry n.
type retryFunc func(n int, delay time.Duration, err error)

// do calls op until it succeeds, returns a permanent error or the policy is
// exhausted. It returns the number of attempts made. When ctx ends, do
// returns ctx.Err() rather than the task's error.
func (p RetryPolicy) do(ctx context.Context, op func(attempt int) error, onRetry retryFunc) (int, error) {
	var prev time.Duration
	for attempt := 1; ; attempt++ {
		err := op(attempt)
		if err == nil {
			return attempt, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return attempt, ctxErr
		}
		if !Retryable(err) || attempt > p.MaxRetries {
			return attempt, err
		}

		delay := p.Delay(attempt, prev, err)
		prev = delay
		if onRetry != nil {
			onRetry(attempt, delay, err)
		}
		if err := sleep(ctx, delay); err != nil {
			return attempt, err
		}
	}
}

// sleep waits for d or until ctx ends. Only the calling job's goroutine
// blocks.
func sleep(ctx context.Context, d time.Duration) error {
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
