package retry

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/baechuer/notification-fabric/internal/apperrors"
)

// Config holds retry configuration for the send step.
type Config struct {
	MaxAttempts int           // Total attempts, including the first
	MinWait     time.Duration // Delay before the second attempt
	MaxWait     time.Duration // Delay cap
	Multiplier  float64
}

// DefaultConfig mirrors the worker defaults (3 attempts, 1s..10s, x2).
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts: 3,
		MinWait:     1 * time.Second,
		MaxWait:     10 * time.Second,
		Multiplier:  2,
	}
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	appErr, ok := err.(*apperrors.AppError)
	if !ok {
		// Unknown errors are assumed transient
		return true
	}

	switch appErr.Code {
	case apperrors.ErrCodeRetryable, apperrors.ErrCodeProvider, apperrors.ErrCodeInternal:
		return true
	}

	return false
}

// CalculateDelay returns the backoff delay before attempt n (0-based retry index).
func CalculateDelay(attempt int, config *Config) time.Duration {
	mult := config.Multiplier
	if mult <= 0 {
		mult = 2
	}
	delay := time.Duration(float64(config.MinWait) * math.Pow(mult, float64(attempt)))
	if delay > config.MaxWait || delay <= 0 {
		delay = config.MaxWait
	}
	return delay
}

// Do executes fn with bounded exponential backoff. onAttempt, if set, runs
// before every attempt (the worker persists attempt_count there). A
// non-retryable error aborts immediately.
func Do(ctx context.Context, config *Config, onAttempt func(attempt int) error, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt < config.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := CalculateDelay(attempt-1, config)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		if onAttempt != nil {
			if err := onAttempt(attempt); err != nil {
				return err
			}
		}

		err := fn()
		if err == nil {
			return nil
		}

		lastErr = err

		if !IsRetryable(err) {
			return err
		}
	}

	return fmt.Errorf("max attempts exceeded: %w", lastErr)
}
