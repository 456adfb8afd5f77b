package utils

import (
	"context"
	"sync"
	"time"
)

// RateLimiter implements token bucket rate limiting. It is used to keep
// concurrent scenarios from hammering the site under test with navigations.
type RateLimiter struct {
	tokens       chan struct{}
	refillRate   time.Duration
	maxTokens    int
	refillTicker *time.Ticker
	stopOnce     sync.Once
	done         chan struct{}
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(requestsPerSecond float64, maxBurst int) *RateLimiter {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 1.0
	}
	if maxBurst <= 0 {
		maxBurst = 1
	}

	refillInterval := time.Duration(float64(time.Second) / requestsPerSecond)
	rl := &RateLimiter{
		tokens:     make(chan struct{}, maxBurst),
		refillRate: refillInterval,
		maxTokens:  maxBurst,
		done:       make(chan struct{}),
	}

	// Fill initial tokens
	for i := 0; i < maxBurst; i++ {
		rl.tokens <- struct{}{}
	}

	// Start refill ticker
	rl.refillTicker = time.NewTicker(refillInterval)
	go func() {
		for {
			select {
			case <-rl.done:
				return
			case <-rl.refillTicker.C:
				select {
				case rl.tokens <- struct{}{}:
				default:
					// Bucket is full, skip
				}
			}
		}
	}()

	return rl
}

// Wait blocks until a token is available or context is cancelled.
// A nil limiter never blocks.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if rl == nil {
		return nil
	}
	select {
	case <-rl.tokens:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop stops the refill goroutine. Safe to call more than once.
func (rl *RateLimiter) Stop() {
	if rl == nil {
		return
	}
	rl.stopOnce.Do(func() {
		rl.refillTicker.Stop()
		close(rl.done)
	})
}
