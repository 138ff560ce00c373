package retry

import (
	"context"
	"fmt"
	"time"
)

// Config holds retry configuration
type Config struct {
	MaxAttempts int           // Total number of attempts (not retries after the first)
	Delay       time.Duration // Delay before the next attempt
	Multiplier  float64       // Backoff multiplier; 1.0 gives a fixed delay
	MaxDelay    time.Duration // Upper bound on the delay; 0 means unbounded
}

// FixedDelay returns a bounded fixed-delay policy. The simulator connect
// path uses this: the server boots within a small constant time budget, so
// exponential backoff buys nothing.
func FixedDelay(attempts int, delay time.Duration) Config {
	return Config{
		MaxAttempts: attempts,
		Delay:       delay,
		Multiplier:  1.0,
	}
}

// DefaultConfig returns sensible defaults for retries
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		Delay:       1 * time.Second,
		Multiplier:  2.0,
		MaxDelay:    30 * time.Second,
	}
}

// Do executes fn up to config.MaxAttempts times, sleeping between attempts.
// It returns nil on the first success. When all attempts are exhausted it
// returns an explicit terminal error wrapping the last attempt's error;
// exhaustion is never silent. onAttempt, if non-nil, is invoked after each
// failed attempt with the 1-based attempt number.
func Do(ctx context.Context, config Config, fn func() error, onAttempt func(attempt int, err error)) error {
	if config.MaxAttempts < 1 {
		return fmt.Errorf("retry: MaxAttempts must be >= 1, got %d", config.MaxAttempts)
	}

	var lastErr error
	delay := config.Delay

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		default:
		}

		err := fn()
		if err == nil {
			return nil
		}

		lastErr = err
		if onAttempt != nil {
			onAttempt(attempt, err)
		}

		// Don't sleep after the last attempt
		if attempt == config.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-time.After(delay):
		}

		if config.Multiplier > 1.0 {
			delay = time.Duration(float64(delay) * config.Multiplier)
			if config.MaxDelay > 0 && delay > config.MaxDelay {
				delay = config.MaxDelay
			}
		}
	}

	return fmt.Errorf("all %d attempts failed: %w", config.MaxAttempts, lastErr)
}
