// Package retry runs operations with exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrMaxAttemptsExceeded wraps the last error once all attempts are used.
var ErrMaxAttemptsExceeded = errors.New("max retry attempts exceeded")

const (
	defaultMaxAttempts  = 3
	defaultInitialDelay = 500 * time.Millisecond
	defaultMaxDelay     = 30 * time.Second
	defaultMultiplier   = 2.0
)

// Config controls the backoff schedule.
type Config struct {
	// MaxAttempts counts the initial attempt. 1 disables retrying.
	MaxAttempts  int           `env:"RETRY_MAX_ATTEMPTS"  yaml:"max_attempts"`
	InitialDelay time.Duration `env:"RETRY_INITIAL_DELAY" yaml:"initial_delay"`
	MaxDelay     time.Duration `env:"RETRY_MAX_DELAY"     yaml:"max_delay"`
	Multiplier   float64       `yaml:"multiplier"`
}

// SetDefaults fills unset values.
func (c *Config) SetDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = defaultInitialDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = defaultMaxDelay
	}
	if c.Multiplier < 1 {
		c.Multiplier = defaultMultiplier
	}
}

// Delay returns the wait before the attempt following the given one (1-based).
func (c Config) Delay(attempt int) time.Duration {
	d := time.Duration(float64(c.InitialDelay) * math.Pow(c.Multiplier, float64(attempt-1)))
	if d > c.MaxDelay || d <= 0 {
		return c.MaxDelay
	}
	return d
}

// permanentError marks an error that must not be retried.
type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent wraps err so Do returns it immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// OnRetry is called before sleeping between attempts.
type OnRetry func(attempt int, delay time.Duration, err error)

// Do calls fn until it succeeds, returns a Permanent error, the context ends,
// or MaxAttempts is reached. Permanent wrappers are stripped from the result.
func Do(ctx context.Context, cfg Config, onRetry OnRetry, fn func(ctx context.Context) error) error {
	cfg.SetDefaults()

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return fmt.Errorf("%w (last error: %w)", err, lastErr)
			}
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		lastErr = err

		if attempt == cfg.MaxAttempts {
			break
		}

		delay := cfg.Delay(attempt)
		if onRetry != nil {
			onRetry(attempt, delay, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w (last error: %w)", ctx.Err(), lastErr)
		case <-timer.C:
		}
	}

	if cfg.MaxAttempts == 1 {
		return lastErr
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrMaxAttemptsExceeded, cfg.MaxAttempts, lastErr)
}
