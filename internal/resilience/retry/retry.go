// Package retry provides a bounded retry loop with fixed or exponential delays.
// The caller decides per attempt whether a result is worth retrying; this package
// only owns the attempt budget and the cancellable wait between attempts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"
)

// ErrAborted is returned when the context ends while waiting between attempts.
var ErrAborted = errors.New("retry aborted")

// Config holds the configuration for retry logic.
type Config struct {
	// MaxRetries is the number of additional attempts after the first one.
	// Zero means a single attempt.
	MaxRetries int

	// Delay is the wait before the first retry.
	Delay time.Duration

	// Multiplier grows the delay after every retry. Values <= 1 keep the delay fixed.
	Multiplier float64

	// MaxDelay caps the grown delay. Zero means uncapped.
	MaxDelay time.Duration

	// JitterFraction is the fraction of delay to add as random jitter (0.0 to 1.0)
	JitterFraction float64

	// Logger receives retry warnings. Nil means slog.Default().
	Logger *slog.Logger
}

// Fixed returns a configuration that waits the same delay before every retry.
func Fixed(maxRetries int, delay time.Duration) Config {
	return Config{
		MaxRetries: maxRetries,
		Delay:      delay,
		Multiplier: 1,
	}
}

// Backoff returns a configuration with exponential delays capped at maxDelay.
// Zero maxDelay leaves the growth uncapped.
func Backoff(maxRetries int, delay, maxDelay time.Duration, multiplier float64) Config {
	return Config{
		MaxRetries: maxRetries,
		Delay:      delay,
		Multiplier: multiplier,
		MaxDelay:   maxDelay,
	}
}

// Validate checks that the budget and delays are usable.
func (c Config) Validate() error {
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries must be non-negative, got %d", c.MaxRetries)
	}
	if c.Delay < 0 {
		return fmt.Errorf("retry delay must be non-negative, got %v", c.Delay)
	}
	if c.MaxDelay < 0 {
		return fmt.Errorf("max retry delay must be non-negative, got %v", c.MaxDelay)
	}
	if c.JitterFraction < 0 || c.JitterFraction > 1 {
		return fmt.Errorf("jitter fraction must be between 0 and 1, got %v", c.JitterFraction)
	}
	return nil
}

// DelayFor returns the wait before retry number retry (0 is the first retry), without jitter.
func (c Config) DelayFor(retry int) time.Duration {
	delay := c.Delay
	if c.Multiplier <= 1 {
		return delay
	}
	for i := 0; i < retry; i++ {
		delay = time.Duration(float64(delay) * c.Multiplier)
		if c.MaxDelay > 0 && delay >= c.MaxDelay {
			return c.MaxDelay
		}
	}
	return delay
}

// Run calls fn with attempt indexes 0, 1, ... until fn reports that its result is final,
// or until MaxRetries retries have been spent. The last result is always returned.
// A non-nil error means ctx ended during a wait; it wraps ErrAborted and ctx.Err().
func Run[T any](ctx context.Context, cfg Config, fn func(attempt int) (result T, retryable bool)) (T, error) {
	var (
		result    T
		retryable bool
	)
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	for attempt := 0; ; attempt++ {
		result, retryable = fn(attempt)
		if !retryable {
			if attempt > 0 {
				logger.Debug("operation settled after retry", slog.Int("attempt", attempt))
			}
			return result, nil
		}

		if attempt >= cfg.MaxRetries {
			return result, nil
		}

		delay := addJitter(cfg.DelayFor(attempt), cfg.JitterFraction)
		logger.Warn("operation failed, retrying",
			slog.Int("attempt", attempt),
			slog.Int("max_retries", cfg.MaxRetries),
			slog.Duration("delay", delay))

		if err := Wait(ctx, delay); err != nil {
			return result, err
		}
	}
}

// Wait blocks for d or until ctx is done, whichever comes first.
// The timer is always released.
func Wait(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrAborted, err)
	}
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrAborted, ctx.Err())
	}
}

// addJitter adds random jitter to a duration to prevent thundering herd.
func addJitter(duration time.Duration, jitterFraction float64) time.Duration {
	if jitterFraction <= 0 || duration <= 0 {
		return duration
	}
	if jitterFraction > 1.0 {
		jitterFraction = 1.0
	}
	// #nosec G404 -- Using math/rand is acceptable for jitter calculation.
	jitter := time.Duration(rand.Float64() * float64(duration) * jitterFraction)
	return duration + jitter
}
