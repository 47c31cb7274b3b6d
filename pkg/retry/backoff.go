// Package retry provides the exponential backoff policy used between guard
// attempts.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Policy configures exponential backoff with jitter:
// delay = min(InitialDelay * Multiplier^attempt, MaxDelay) ± JitterFactor.
// Jitter avoids a thundering herd when many bots retry at once.
type Policy struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	JitterFactor float64 // 0.0 - 1.0 fraction of the delay
}

// DefaultPolicy suits exchange REST calls: 100ms, 200ms, 400ms... capped at
// 30s with 10% jitter.
func DefaultPolicy() Policy {
	return Policy{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

func (p *Policy) sanitize() {
	if p.InitialDelay <= 0 {
		p.InitialDelay = 100 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	if p.Multiplier <= 0 {
		p.Multiplier = 2.0
	}
	if p.JitterFactor < 0 {
		p.JitterFactor = 0
	}
	if p.JitterFactor > 1 {
		p.JitterFactor = 1
	}
}

// Delay returns the backoff duration before retry number attempt (0-based).
func (p Policy) Delay(attempt int) time.Duration {
	p.sanitize()

	delay := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if p.JitterFactor > 0 {
		delay += delay * p.JitterFactor * (rand.Float64()*2 - 1)
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// Sleep waits for d or until ctx is cancelled, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
