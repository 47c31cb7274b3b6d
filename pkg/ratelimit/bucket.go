package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrTimeout is returned when no token became available within the caller's
// wait budget.
var ErrTimeout = errors.New("ratelimit: acquire timed out")

// maxSleep bounds each wait increment so a waiter re-checks refill (and its
// context) at least this often.
const maxSleep = 100 * time.Millisecond

// Bucket is a token-bucket rate limiter for one (exchange, endpoint) pair.
// Tokens refill lazily based on elapsed wall-clock time, capped at capacity.
// A capacity or rate of zero never grants a token; exchanges are killed by
// configuring exactly that.
type Bucket struct {
	mu       sync.Mutex
	rate     float64 // tokens per second
	capacity float64
	tokens   float64
	last     time.Time
}

// NewBucket creates a bucket that starts full. Negative inputs clamp to zero,
// which yields a fully blocked bucket.
func NewBucket(ratePerSec, capacity float64) *Bucket {
	if ratePerSec < 0 {
		ratePerSec = 0
	}
	if capacity < 0 {
		capacity = 0
	}
	return &Bucket{
		rate:     ratePerSec,
		capacity: capacity,
		tokens:   capacity,
		last:     time.Now(),
	}
}

// refill credits tokens for the time elapsed since the last refill.
// Callers must hold mu.
func (b *Bucket) refill(now time.Time) {
	elapsed := now.Sub(b.last).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * b.rate
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
	}
	b.last = now
}

// Acquire consumes one token if available. Refill and consume happen under a
// single critical section so concurrent callers cannot double-spend.
func (b *Bucket) Acquire() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill(time.Now())
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// AcquireWithin waits up to timeout for a token, sleeping in bounded
// increments and re-checking refill on each wake. Returns ErrTimeout when the
// budget is exhausted or the bucket can never grant, and ctx.Err() when the
// context is cancelled first.
func (b *Bucket) AcquireWithin(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	for {
		b.mu.Lock()
		b.refill(time.Now())
		if b.tokens >= 1 {
			b.tokens--
			b.mu.Unlock()
			return nil
		}
		blocked := b.rate == 0 || b.capacity < 1
		wait := time.Duration((1 - b.tokens) / b.rate * float64(time.Second))
		b.mu.Unlock()

		if blocked {
			// No token will ever arrive; do not burn the full budget.
			return ErrTimeout
		}
		if wait > maxSleep {
			wait = maxSleep
		}
		if remaining := time.Until(deadline); remaining <= 0 {
			return ErrTimeout
		} else if wait > remaining {
			wait = remaining
		}

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Tokens reports the currently available tokens after a refill. Monitoring
// only.
func (b *Bucket) Tokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill(time.Now())
	return b.tokens
}

// Capacity returns the configured burst capacity.
func (b *Bucket) Capacity() float64 { return b.capacity }

// Rate returns the configured refill rate in tokens per second.
func (b *Bucket) Rate() float64 { return b.rate }
