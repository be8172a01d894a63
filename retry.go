package braid

import (
	"math"
	"math/rand/v2"
	"time"
)

// RetryConfig is the backoff policy for model invocations that fail with
// a transient error before streaming any output. Once a step has produced
// parts it is never retried.
type RetryConfig struct {
	// MaxAttempts counts the first invocation. Values below 1 mean 1.
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration // 0 leaves the backoff uncapped
	Multiplier   float64
	// Jitter spreads each delay by up to this fraction in either direction.
	Jitter float64
}

// NewRetryConfig returns an exponential backoff policy.
func NewRetryConfig(maxAttempts int, initialDelay, maxDelay time.Duration, multiplier, jitter float64) RetryConfig {
	return RetryConfig{
		MaxAttempts:  maxAttempts,
		InitialDelay: initialDelay,
		MaxDelay:     maxDelay,
		Multiplier:   multiplier,
		Jitter:       jitter,
	}
}

// NoRetry makes a single attempt.
func NoRetry() RetryConfig {
	return RetryConfig{MaxAttempts: 1}
}

// Delay returns the wait before retry number attempt, counted from 0.
func (c RetryConfig) Delay(attempt int) time.Duration {
	d := float64(c.InitialDelay) * math.Pow(c.Multiplier, float64(max(attempt, 0)))
	if c.MaxDelay > 0 {
		d = min(d, float64(c.MaxDelay))
	}
	if c.Jitter > 0 {
		d *= 1 + c.Jitter*(2*rand.Float64()-1)
	}
	return time.Duration(d)
}
