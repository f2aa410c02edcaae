package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/custodia-labs/scanpipe/internal/core/domain"
)

// Default retry policy for store connection acquisition.
const (
	DefaultRetryAttempts = 3
	DefaultRetryDelay    = 5 * time.Second
)

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the real Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
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

// RetryOutcome is the typed result of a bounded retry loop.
type RetryOutcome struct {
	// Attempts is the number of times the operation ran.
	Attempts int

	// Err is nil on success. When Exhausted it wraps domain.ErrStoreUnavailable.
	Err error

	// Exhausted is true when every attempt failed with a retryable error.
	Exhausted bool
}

// OK reports whether the operation eventually succeeded.
func (o RetryOutcome) OK() bool {
	return o.Err == nil
}

// Retrier runs an operation a bounded number of times with a fixed delay
// between attempts. Only errors accepted by Retryable are retried; any
// other error ends the loop immediately.
type Retrier struct {
	Attempts  int
	Delay     time.Duration
	Sleep     Sleeper
	Retryable func(error) bool
}

// NewRetrier creates a retrier with the real sleeper.
func NewRetrier(attempts int, delay time.Duration) *Retrier {
	return &Retrier{Attempts: attempts, Delay: delay}
}

// Do runs op until it succeeds, fails with a non-retryable error, or the
// attempt bound is reached. The delay is never applied after the last attempt.
func (r *Retrier) Do(ctx context.Context, op func(ctx context.Context, attempt int) error) RetryOutcome {
	attempts := r.Attempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := r.Sleep
	if sleep == nil {
		sleep = SleepContext
	}
	retryable := r.Retryable
	if retryable == nil {
		retryable = isStoreUnavailable
	}

	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(r.Delay), uint64(attempts-1))
	policy.Reset()

	var last error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return RetryOutcome{Attempts: attempt - 1, Err: err}
		}

		err := op(ctx, attempt)
		if err == nil {
			return RetryOutcome{Attempts: attempt}
		}
		if !retryable(err) {
			return RetryOutcome{Attempts: attempt, Err: err}
		}
		last = err

		next := policy.NextBackOff()
		if next == backoff.Stop {
			return RetryOutcome{
				Attempts:  attempt,
				Err:       exhaustedError(attempt, last),
				Exhausted: true,
			}
		}
		if err := sleep(ctx, next); err != nil {
			return RetryOutcome{Attempts: attempt, Err: err}
		}
	}
}

func exhaustedError(attempts int, last error) error {
	if errors.Is(last, domain.ErrStoreUnavailable) {
		return fmt.Errorf("gave up after %d attempts: %w", attempts, last)
	}
	return fmt.Errorf("%w: gave up after %d attempts: %w", domain.ErrStoreUnavailable, attempts, last)
}

func isStoreUnavailable(err error) bool {
	return errors.Is(err, domain.ErrStoreUnavailable)
}
