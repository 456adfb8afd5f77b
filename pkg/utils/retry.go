// Package utils provides small shared helpers: log sanitising, rate limiting,
// retry with backoff and opening files in the desktop browser.
package utils

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryConfig defines the configuration for retry logic using backoff/v4.
// It is used for infrastructure calls (driver download, notifications),
// never for scenario steps.
type RetryConfig struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
}

// DefaultRetryConfig returns a standard retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// NewExponentialBackOff creates a backoff.ExponentialBackOff from RetryConfig
func (rc RetryConfig) NewExponentialBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = rc.InitialDelay
	b.MaxInterval = rc.MaxDelay
	if rc.Multiplier > 0 {
		b.Multiplier = rc.Multiplier
	}
	if !rc.Jitter {
		b.RandomizationFactor = 0
	}
	b.MaxElapsedTime = 0 // bounded by MaxRetries instead
	return b
}

// ExecuteWithRetryContext runs operation until it succeeds, MaxRetries
// retries have failed or ctx is done. Errors wrapped with backoff.Permanent
// stop immediately. notify, when non-nil, is called before every wait with
// the error and the delay.
func ExecuteWithRetryContext(ctx context.Context, operation func() error, config RetryConfig, notify func(error, time.Duration)) error {
	var b backoff.BackOff = config.NewExponentialBackOff()
	if config.MaxRetries >= 0 {
		b = backoff.WithMaxRetries(b, uint64(config.MaxRetries))
	}
	b = backoff.WithContext(b, ctx)

	if err := backoff.RetryNotify(operation, b, notify); err != nil {
		return fmt.Errorf("operation failed after retries: %w", err)
	}
	return nil
}
