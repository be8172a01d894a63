// Package retry retries model invocations that fail with transient errors.
package retry

import (
	"context"
	"time"

	ai "github.com/spetersoncode/braid"
)

// Config is the backoff policy.
type Config = ai.RetryConfig

// Event describes one failed attempt.
type Event struct {
	// Attempt is the failed attempt number (1-indexed).
	Attempt     int
	MaxAttempts int
	Err         error
	Retryable   bool
	// Delay is the wait before the next attempt; zero when giving up.
	Delay time.Duration
}

// Observer is told about every failed attempt.
type Observer func(Event)

// Do calls fn until it succeeds, fails with a non-transient error, or the
// attempts run out. A server-provided Retry-After longer than the backoff
// wins, up to the configured MaxDelay. Waits are cut short by ctx.
func Do[T any](ctx context.Context, cfg Config, observe Observer, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	attempts := max(cfg.MaxAttempts, 1)

	for attempt := 1; ; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}

		ev := Event{Attempt: attempt, MaxAttempts: attempts, Err: err, Retryable: IsTransient(err)}
		if !ev.Retryable || attempt >= attempts || ctx.Err() != nil {
			notify(observe, ev)
			return zero, err
		}
		ev.Delay = max(cfg.Delay(attempt-1), ai.RetryAfterOf(err))
		if cfg.MaxDelay > 0 {
			ev.Delay = min(ev.Delay, cfg.MaxDelay)
		}
		notify(observe, ev)

		timer := time.NewTimer(ev.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
}

func notify(observe Observer, ev Event) {
	if observe != nil {
		observe(ev)
	}
}
