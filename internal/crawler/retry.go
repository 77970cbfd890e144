package crawler

import (
	"context"
	"time"
)

const (
	defaultMaxAttempts = 3
	defaultRetryDelay  = time.Second
)

// RetryPolicy decides how many times a page request is attempted and how long to
// wait between attempts.
type RetryPolicy struct {
	MaxAttempts int
	// Backoff returns the delay after the given failed attempt (1-based).
	Backoff func(attempt int) time.Duration
	// Sleep waits for the delay or until ctx is done.
	Sleep func(ctx context.Context, delay time.Duration) error
	// StopOnMissing ends the attempts at the first 404 or 410. Off by default, so
	// every failure is retried until MaxAttempts is reached.
	StopOnMissing bool
}

// DefaultRetryPolicy makes three attempts one second apart.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: defaultMaxAttempts,
		Backoff:     ConstantBackoff(defaultRetryDelay),
		Sleep:       SleepContext,
	}
}

// ConstantBackoff waits the same delay after every failure.
func ConstantBackoff(delay time.Duration) func(int) time.Duration {
	return func(int) time.Duration {
		return delay
	}
}

// ExponentialBackoff doubles the delay after every failure, capped at maxDelay.
func ExponentialBackoff(base, maxDelay time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		delay := base
		for step := 1; step < attempt; step++ {
			delay *= 2
			if maxDelay > 0 && delay >= maxDelay {
				return maxDelay
			}
		}
		return delay
	}
}

// SleepContext blocks for delay unless ctx ends first.
func SleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.Backoff == nil {
		p.Backoff = ConstantBackoff(defaultRetryDelay)
	}
	if p.Sleep == nil {
		p.Sleep = SleepContext
	}
	return p
}
