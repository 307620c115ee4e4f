package market

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// RetryConfig configures retry behavior for provider calls.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
}

// DefaultRetryConfig matches the transient-error policy: base 1s backoff,
// capped at 15s, up to 3 attempts.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     15 * time.Second,
		BackoffFactor:  2.0,
	}
}

// IsRetryable reports whether an error looks transient: network failures,
// timeouts and rate limiting. 4xx payload errors are permanent.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, s := range []string{
		"connection refused",
		"connection reset",
		"timeout",
		"temporary failure",
		"too many requests",
		"rate limit",
		"status 429",
		"status 5",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// WithRetry executes an operation with exponential backoff. Non-retryable
// errors abort immediately.
func WithRetry(ctx context.Context, config RetryConfig, operation func() error) error {
	var lastErr error
	backoff := config.InitialBackoff

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return fmt.Errorf("operation cancelled: %w", ctx.Err())
		default:
		}

		err := operation()
		if err == nil {
			if attempt > 0 {
				log.Info().Int("attempt", attempt+1).Msg("Operation succeeded after retry")
			}
			return nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return err
		}
		if attempt == config.MaxRetries {
			break
		}

		log.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Dur("backoff", backoff).
			Msg("Transient error, retrying")

		select {
		case <-ctx.Done():
			return fmt.Errorf("operation cancelled during backoff: %w", ctx.Err())
		case <-time.After(backoff):
		}

		backoff = time.Duration(float64(backoff) * config.BackoffFactor)
		if backoff > config.MaxBackoff {
			backoff = config.MaxBackoff
		}
	}

	return fmt.Errorf("operation failed after %d attempts: %w", config.MaxRetries+1, lastErr)
}
