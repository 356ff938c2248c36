package apiclient

import (
	"fmt"
	"log/slog"
	"time"

	"market-dashboard/internal/resilience/retry"
	pkgconfig "market-dashboard/pkg/config"
)

// MaxBodyBytes bounds how much of a response body is read.
const MaxBodyBytes = 10 << 20

// MaxTimeout is the longest accepted per-attempt timeout.
const MaxTimeout = 5 * time.Minute

// Config holds the per-client request policy. It is copied into a Client at
// construction and never changed afterwards.
type Config struct {
	// Timeout bounds each attempt, not the whole call.
	Timeout time.Duration

	// MaxRetries is the number of extra attempts after a timeout or transport failure.
	MaxRetries int

	// RetryDelay is the wait before the first retry.
	RetryDelay time.Duration

	// Backoff multiplies the delay after every retry. Values <= 1 keep it fixed.
	Backoff float64

	// MaxRetryDelay caps the grown delay. Zero means uncapped.
	MaxRetryDelay time.Duration

	// RetryJitter adds up to this fraction of the delay at random (0 to 1).
	RetryJitter float64
}

// DefaultConfig returns 10s per attempt, one retry, 300ms fixed delay.
func DefaultConfig() Config {
	return Config{
		Timeout:    10 * time.Second,
		MaxRetries: 1,
		RetryDelay: 300 * time.Millisecond,
		Backoff:    1,
	}
}

// Validate rejects unusable policies.
func (c Config) Validate() error {
	if err := pkgconfig.ValidatePositiveDuration(c.Timeout); err != nil {
		return fmt.Errorf("timeout: %w", err)
	}
	if err := pkgconfig.ValidateDurationRange(c.Timeout, time.Millisecond, MaxTimeout); err != nil {
		return fmt.Errorf("timeout: %w", err)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries must be non-negative, got %d", c.MaxRetries)
	}
	if err := pkgconfig.ValidateNonNegativeDuration(c.RetryDelay); err != nil {
		return fmt.Errorf("retry delay: %w", err)
	}
	if err := pkgconfig.ValidateNonNegativeDuration(c.MaxRetryDelay); err != nil {
		return fmt.Errorf("max retry delay: %w", err)
	}
	if c.Backoff < 0 {
		return fmt.Errorf("backoff multiplier must be non-negative, got %v", c.Backoff)
	}
	if c.RetryJitter < 0 || c.RetryJitter > 1 {
		return fmt.Errorf("retry jitter must be between 0 and 1, got %v", c.RetryJitter)
	}
	return nil
}

// LoadConfigFromEnv reads CLIENT_TIMEOUT, CLIENT_MAX_RETRIES, CLIENT_RETRY_DELAY,
// CLIENT_RETRY_BACKOFF, CLIENT_MAX_RETRY_DELAY and CLIENT_RETRY_JITTER over the defaults.
func LoadConfigFromEnv() (Config, error) {
	def := DefaultConfig()
	cfg := Config{
		Timeout:       pkgconfig.GetEnvDuration("CLIENT_TIMEOUT", def.Timeout),
		MaxRetries:    pkgconfig.GetEnvInt("CLIENT_MAX_RETRIES", def.MaxRetries),
		RetryDelay:    pkgconfig.GetEnvDuration("CLIENT_RETRY_DELAY", def.RetryDelay),
		Backoff:       pkgconfig.GetEnvFloat("CLIENT_RETRY_BACKOFF", def.Backoff),
		MaxRetryDelay: pkgconfig.GetEnvDuration("CLIENT_MAX_RETRY_DELAY", def.MaxRetryDelay),
		RetryJitter:   pkgconfig.GetEnvFloat("CLIENT_RETRY_JITTER", def.RetryJitter),
	}
	if err := cfg.Validate(); err != nil {
		return def, fmt.Errorf("invalid client configuration: %w", err)
	}
	return cfg, nil
}

// retryPolicy maps the client policy onto the shared retry loop. A multiplier
// above 1 selects exponential backoff; anything else keeps the delay fixed.
func (c Config) retryPolicy(logger *slog.Logger) retry.Config {
	policy := retry.Fixed(c.MaxRetries, c.RetryDelay)
	if c.Backoff > 1 {
		policy = retry.Backoff(c.MaxRetries, c.RetryDelay, c.MaxRetryDelay, c.Backoff)
	}
	policy.JitterFraction = c.RetryJitter
	policy.Logger = logger
	return policy
}
