// Package txn coordinates atomic multi-collection mutations with bounded
// retries for transient storage failures.
package txn

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"

	"silentfeed/internal/storage"
)

// RetryConfig configures WithRetry.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts, the first one included.
	// Default: 3
	MaxAttempts int

	// BaseDelay is multiplied by the attempt number to get the wait before
	// the next attempt.
	// Default: 100ms
	BaseDelay time.Duration

	// Retryable decides whether an error is worth another attempt.
	// Default: IsTransient
	Retryable func(error) bool
}

// DefaultRetryConfig returns the retry configuration used for storage scopes.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   100 * time.Millisecond,
		Retryable:   IsTransient,
	}
}

// ApplyDefaults sets default values for unset fields.
func (c *RetryConfig) ApplyDefaults() {
	defaults := DefaultRetryConfig()

	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaults.MaxAttempts
	}
	if c.BaseDelay < 0 {
		c.BaseDelay = 0
	}
	if c.Retryable == nil {
		c.Retryable = defaults.Retryable
	}
}

// IsTransient reports whether err is a storage failure worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, storage.ErrTransient)
}

// linearBackoff waits base*n before retry n.
func linearBackoff(base time.Duration) retry.Backoff {
	var n int64
	return retry.BackoffFunc(func() (time.Duration, bool) {
		n++
		return base * time.Duration(n), false
	})
}

// newBackoff allows cfg.MaxAttempts-1 retries on a linear schedule.
func newBackoff(cfg RetryConfig) retry.Backoff {
	return retry.WithMaxRetries(uint64(cfg.MaxAttempts-1), linearBackoff(cfg.BaseDelay))
}

// WithRetry runs op until it succeeds, fails with a non-retryable error, or
// cfg.MaxAttempts attempts have failed. The wait after attempt n is
// BaseDelay*n. The error of the last attempt is returned unchanged.
func WithRetry(ctx context.Context, cfg RetryConfig, op func(ctx context.Context) error) error {
	cfg.ApplyDefaults()

	return retry.Do(ctx, newBackoff(cfg), func(ctx context.Context) error {
		err := op(ctx)
		if err != nil && cfg.Retryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}
