package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	DefaultMaxAttempts  = 5
	DefaultInitialDelay = time.Second
	DefaultMaxDelay     = 30 * time.Second
	DefaultMultiplier   = 2.0
)

var (
	ErrExhausted = errors.New("retries exhausted")
)

// Config parameterizes Do for a single call site.
type Config struct {
	Logger *slog.Logger
	// Operation names the call site in log lines and errors.
	Operation string
	// Retryable reports whether an error belongs to the retryable set. Errors
	// for which it returns false are returned immediately.
	Retryable func(error) bool

	MaxAttempts  uint
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// Jitter is the backoff randomization factor in [0, 1). Zero gives exact doubling.
	Jitter float64
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Retryable == nil {
		return errors.New("retryable classifier is required")
	}
	if c.Operation == "" {
		c.Operation = "operation"
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = DefaultInitialDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultMaxDelay
	}
	if c.MaxDelay < c.InitialDelay {
		return fmt.Errorf("max delay %s is less than initial delay %s", c.MaxDelay, c.InitialDelay)
	}
	if c.Multiplier == 0 {
		c.Multiplier = DefaultMultiplier
	}
	if c.Multiplier < 1 {
		return fmt.Errorf("multiplier must be >= 1, got %v", c.Multiplier)
	}
	if c.Jitter < 0 || c.Jitter >= 1 {
		return fmt.Errorf("jitter must be in [0, 1), got %v", c.Jitter)
	}
	return nil
}

// Do calls fn until it succeeds, returns a non-retryable error, the context
// is done, or MaxAttempts attempts have failed. Delays between attempts grow
// exponentially. When attempts run out the returned error wraps both
// ErrExhausted and the last error.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid retry config: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialDelay
	b.MaxInterval = cfg.MaxDelay
	b.Multiplier = cfg.Multiplier
	b.RandomizationFactor = cfg.Jitter

	var (
		attempts  uint
		lastErr   error
		permanent bool
	)
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		err := fn(ctx)
		if err == nil {
			return struct{}{}, nil
		}
		lastErr = err
		if !cfg.Retryable(err) {
			permanent = true
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(cfg.MaxAttempts),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			cfg.Logger.Warn("retryable error, backing off", "operation", cfg.Operation, "attempt", attempts, "maxAttempts", cfg.MaxAttempts, "delay", next, "error", err)
		}),
	)
	if err == nil {
		if attempts > 1 {
			cfg.Logger.Info("operation succeeded after retries", "operation", cfg.Operation, "attempts", attempts)
		}
		return nil
	}

	switch {
	case permanent:
		return lastErr
	case ctx.Err() != nil && attempts < cfg.MaxAttempts:
		return fmt.Errorf("%s cancelled after %d attempts: %w: %w", cfg.Operation, attempts, ctx.Err(), lastErr)
	}
	return fmt.Errorf("%s failed after %d attempts: %w: %w", cfg.Operation, attempts, ErrExhausted, lastErr)
}
