package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/traffic-crawler/internal/retry"
)

var errTransient = errors.New("transient")

func fastConfig(attempts int) retry.Config {
	return retry.Config{MaxAttempts: attempts, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestDo_SucceedsAfterRetries(t *testing.T) {
	t.Parallel()

	calls := 0
	var retried []int
	err := retry.Do(context.Background(), fastConfig(3),
		func(attempt int, _ time.Duration, _ error) { retried = append(retried, attempt) },
		func(context.Context) error {
			calls++
			if calls < 3 {
				return errTransient
			}
			return nil
		})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	t.Parallel()

	calls := 0
	err := retry.Do(context.Background(), fastConfig(2), nil, func(context.Context) error {
		calls++
		return errTransient
	})

	require.Error(t, err)
	assert.Equal(t, 2, calls)
	assert.ErrorIs(t, err, retry.ErrMaxAttemptsExceeded)
	assert.ErrorIs(t, err, errTransient)
}

func TestDo_SingleAttemptReturnsErrorUnwrapped(t *testing.T) {
	t.Parallel()

	err := retry.Do(context.Background(), fastConfig(1), nil, func(context.Context) error {
		return errTransient
	})

	assert.Equal(t, errTransient, err)
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	t.Parallel()

	calls := 0
	err := retry.Do(context.Background(), fastConfig(5), nil, func(context.Context) error {
		calls++
		return retry.Permanent(errTransient)
	})

	assert.Equal(t, 1, calls)
	assert.Equal(t, errTransient, err)
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cfg := retry.Config{MaxAttempts: 3, InitialDelay: time.Hour, MaxDelay: time.Hour}

	err := retry.Do(ctx, cfg, func(int, time.Duration, error) { cancel() }, func(context.Context) error {
		return errTransient
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, errTransient)
}

func TestConfig_Delay(t *testing.T) {
	t.Parallel()

	cfg := retry.Config{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}

	assert.Equal(t, 100*time.Millisecond, cfg.Delay(1))
	assert.Equal(t, 200*time.Millisecond, cfg.Delay(2))
	assert.Equal(t, 400*time.Millisecond, cfg.Delay(3))
	assert.Equal(t, time.Second, cfg.Delay(10))
}
