// Package utils provides retry helpers with exponential backoff and jitter.
package utils

import (
	"context"
	"crypto/rand"
	"fmt"
	"time"
)

// RetryConfig controls retry timing, backoff growth, jitter, and which
// errors are worth retrying.
type RetryConfig struct {
	// MaxAttempts counts the initial attempt plus retries.
	MaxAttempts int

	// InitialDelay is the wait before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps exponential growth.
	MaxDelay time.Duration

	// BackoffFactor multiplies the delay after each attempt.
	BackoffFactor float64

	// JitterFactor randomizes delays (0.1 = up to 10% added).
	JitterFactor float64

	// RetryableErrors filters which errors trigger a retry. Nil retries
	// everything.
	RetryableErrors func(error) bool
}

// DefaultRetryConfig returns three attempts with 1s initial delay, doubling
// up to 30s, 10% jitter, all errors retryable.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  1 * time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
		JitterFactor:  0.1,
		RetryableErrors: func(err error) bool {
			return true
		},
	}
}

// RetryWithBackoff runs fn up to MaxAttempts times with exponentially
// growing delays. A non-retryable error is returned as-is; exhausting the
// attempts wraps the last error in "max retries exceeded". Context
// cancellation stops the wait between attempts.
func RetryWithBackoff(ctx context.Context, config RetryConfig, fn func() error) error {
	var lastErr error
	delay := config.InitialDelay

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err

			if config.RetryableErrors != nil && !config.RetryableErrors(err) {
				return err
			}
			if attempt == config.MaxAttempts {
				break
			}
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-time.After(delay):
			delay = time.Duration(float64(delay) * config.BackoffFactor)
			if delay > config.MaxDelay {
				delay = config.MaxDelay
			}
			if config.JitterFactor > 0 {
				jitter := time.Duration(float64(delay) * config.JitterFactor)
				delay = delay + time.Duration(randomInt64n(int64(jitter)))
			}
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// randomInt64n returns a random int64 in [0, n), falling back to a
// time-based value if crypto/rand fails. Returns 0 for n <= 0.
func randomInt64n(n int64) int64 {
	if n <= 0 {
		return 0
	}

	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		return time.Now().UnixNano() % n
	}

	val := int64(bytes[0])<<56 | int64(bytes[1])<<48 | int64(bytes[2])<<40 | int64(bytes[3])<<32 |
		int64(bytes[4])<<24 | int64(bytes[5])<<16 | int64(bytes[6])<<8 | int64(bytes[7])

	if val < 0 {
		val = -val
	}

	return val % n
}
