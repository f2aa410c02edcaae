package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/scanpipe/internal/core/domain"
)

// recordingSleeper records requested delays without sleeping.
type recordingSleeper struct {
	delays []time.Duration
}

func (s *recordingSleeper) sleep(ctx context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return ctx.Err()
}

func unavailable(n int) error {
	return fmt.Errorf("connect attempt %d: %w", n, domain.ErrStoreUnavailable)
}

func TestRetrier_SucceedsOnThirdAttempt(t *testing.T) {
	sleeper := &recordingSleeper{}
	r := &Retrier{Attempts: 3, Delay: 5 * time.Second, Sleep: sleeper.sleep}

	calls := 0
	outcome := r.Do(context.Background(), func(_ context.Context, attempt int) error {
		calls++
		if attempt < 3 {
			return unavailable(attempt)
		}
		return nil
	})

	assert.True(t, outcome.OK())
	assert.False(t, outcome.Exhausted)
	assert.Equal(t, 3, outcome.Attempts)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second}, sleeper.delays)
}

func TestRetrier_ExhaustsAfterBound(t *testing.T) {
	sleeper := &recordingSleeper{}
	r := &Retrier{Attempts: 3, Delay: 5 * time.Second, Sleep: sleeper.sleep}

	calls := 0
	outcome := r.Do(context.Background(), func(_ context.Context, attempt int) error {
		calls++
		return unavailable(attempt)
	})

	require.Error(t, outcome.Err)
	assert.True(t, outcome.Exhausted)
	assert.Equal(t, 3, outcome.Attempts)
	assert.Equal(t, 3, calls)
	assert.ErrorIs(t, outcome.Err, domain.ErrStoreUnavailable)
	assert.Len(t, sleeper.delays, 2)
}

func TestRetrier_NonRetryableStopsImmediately(t *testing.T) {
	sleeper := &recordingSleeper{}
	r := &Retrier{Attempts: 3, Delay: time.Second, Sleep: sleeper.sleep}
	boom := errors.New("syntax error")

	outcome := r.Do(context.Background(), func(context.Context, int) error {
		return boom
	})

	assert.ErrorIs(t, outcome.Err, boom)
	assert.False(t, outcome.Exhausted)
	assert.Equal(t, 1, outcome.Attempts)
	assert.Empty(t, sleeper.delays)
}

func TestRetrier_SingleAttempt(t *testing.T) {
	sleeper := &recordingSleeper{}
	r := &Retrier{Attempts: 0, Delay: time.Second, Sleep: sleeper.sleep}

	outcome := r.Do(context.Background(), func(_ context.Context, attempt int) error {
		return unavailable(attempt)
	})

	assert.True(t, outcome.Exhausted)
	assert.Equal(t, 1, outcome.Attempts)
	assert.Empty(t, sleeper.delays)
}

func TestRetrier_CancelledDuringDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Retrier{
		Attempts: 3,
		Delay:    time.Second,
		Sleep: func(ctx context.Context, _ time.Duration) error {
			cancel()
			return ctx.Err()
		},
	}

	outcome := r.Do(ctx, func(_ context.Context, attempt int) error {
		return unavailable(attempt)
	})

	assert.ErrorIs(t, outcome.Err, context.Canceled)
	assert.False(t, outcome.Exhausted)
	assert.Equal(t, 1, outcome.Attempts)
}

func TestRetrier_CustomRetryable(t *testing.T) {
	flaky := errors.New("flaky")
	r := &Retrier{
		Attempts:  2,
		Sleep:     (&recordingSleeper{}).sleep,
		Retryable: func(err error) bool { return errors.Is(err, flaky) },
	}

	outcome := r.Do(context.Background(), func(context.Context, int) error {
		return flaky
	})

	assert.True(t, outcome.Exhausted)
	assert.ErrorIs(t, outcome.Err, domain.ErrStoreUnavailable)
	assert.ErrorIs(t, outcome.Err, flaky)
}

func TestSleepContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := SleepContext(ctx, time.Hour)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
	assert.NoError(t, SleepContext(context.Background(), time.Millisecond))
}
