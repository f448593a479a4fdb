package fallback

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy controls the delay between retries of a single target.
// Which errors are retryable is fixed by llm.IsRetryable; the policy only
// shapes the backoff curve.
type RetryPolicy struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
}

// DefaultRetryPolicy returns the backoff used when the executor is built
// without one.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     3 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

func (p *RetryPolicy) normalize() {
	if p.InitialDelay <= 0 {
		p.InitialDelay = 100 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 3 * time.Second
	}
	if p.Multiplier < 1.0 {
		p.Multiplier = 2.0
	}
}

// Delay computes the backoff before retry number attempt (attempt >= 1),
// exponential with optional +-25% jitter, capped at MaxDelay.
func (p *RetryPolicy) Delay(attempt int) time.Duration {
	delay := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if p.Jitter {
		jitter := delay * 0.25
		delay += (rand.Float64()*2 - 1) * jitter
	}
	if delay < float64(p.InitialDelay) {
		delay = float64(p.InitialDelay)
	}
	return time.Duration(delay)
}

// sleep waits for d or until ctx is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
