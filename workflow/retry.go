package workflow

import (
	"context"
	"math"
	"time"

	"github.com/XCarlosEduardoX/backend-darkmart-sub000/config"
)

// RetryPolicy is the shared bounded-attempt exponential-backoff abstraction
// used by event application and the notification channels.
type RetryPolicy struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration

	// Retryable decides whether an error is worth another attempt.
	// Nil means every error is retryable.
	Retryable func(error) bool

	// Sleep is swappable in tests. Nil means time.Sleep.
	Sleep func(time.Duration)
}

// EventRetryPolicy resolves the event-application policy from env.
// Env:
// - PAYMENT_EVENT_MAX_ATTEMPTS (default 3)
// - PAYMENT_EVENT_BASE_BACKOFF_MS (default 500)
// - PAYMENT_EVENT_MAX_BACKOFF_SECONDS (default 30)
func EventRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: config.IntFromEnv("PAYMENT_EVENT_MAX_ATTEMPTS", 3),
		BaseBackoff: time.Duration(config.IntFromEnv("PAYMENT_EVENT_BASE_BACKOFF_MS", 500)) * time.Millisecond,
		MaxBackoff:  time.Duration(config.IntFromEnv("PAYMENT_EVENT_MAX_BACKOFF_SECONDS", 30)) * time.Second,
	}
}

// Backoff returns base * 2^(attempt-1), capped at MaxBackoff.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt <= 0 {
		return p.BaseBackoff
	}
	exp := float64(attempt - 1)
	delay := time.Duration(float64(p.BaseBackoff) * math.Pow(2, exp))
	if p.MaxBackoff > 0 && delay > p.MaxBackoff {
		return p.MaxBackoff
	}
	return delay
}

// Run invokes fn up to MaxAttempts times, sleeping Backoff(attempt) between
// attempts. The last error is returned on exhaustion.
func (p RetryPolicy) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(lastErr) {
			return lastErr
		}
		if attempt < maxAttempts {
			sleep(p.Backoff(attempt))
		}
	}
	return lastErr
}
