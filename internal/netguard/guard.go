package netguard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tradeguard/internal/events"
	"tradeguard/pkg/breaker"
	"tradeguard/pkg/exchanges/common"
	"tradeguard/pkg/ratelimit"
	"tradeguard/pkg/retry"
)

// Guard errors returned to callers. The execution service maps these onto
// terminal order statuses.
var (
	ErrCircuitOpen = errors.New("netguard: circuit open")
	ErrRateLimited = errors.New("netguard: rate limited")
)

// RejectedError wraps a 4xx-class exchange rejection. It is never retried:
// the request was malformed, not the exchange unhealthy.
type RejectedError struct {
	Err error
}

func (e *RejectedError) Error() string { return "netguard: rejected: " + e.Err.Error() }
func (e *RejectedError) Unwrap() error { return e.Err }

// Outcome labels a finished guard call for metrics.
type Outcome string

const (
	OutcomeOK          Outcome = "ok"
	OutcomeCircuitOpen Outcome = "circuit_open"
	OutcomeRateLimited Outcome = "rate_limited"
	OutcomeRejected    Outcome = "rejected"
	OutcomeFailed      Outcome = "failed"
)

// MetricsSink receives guard telemetry. The monitor package implements it;
// tests use a recording fake.
type MetricsSink interface {
	GuardCall(exchange, endpoint string, outcome Outcome, latency time.Duration, attempts int)
	RateLimitBlocked(exchange, endpoint, reason string)
	CircuitTransition(exchange string, from, to breaker.State)
}

// Config tunes the guard's wait and retry budget. A call never blocks longer
// than AcquireTimeout x (MaxRetries+1) plus backoff delays.
type Config struct {
	AcquireTimeout time.Duration // per-attempt wait for a rate-limit token
	MaxRetries     int           // retries after the initial attempt
	Backoff        retry.Policy
}

// DefaultConfig returns the guard defaults.
func DefaultConfig() Config {
	return Config{
		AcquireTimeout: 2 * time.Second,
		MaxRetries:     3,
		Backoff:        retry.DefaultPolicy(),
	}
}

// Guard is the single entry point wrapping outbound exchange calls with
// endpoint resolution, rate limiting, circuit breaking, bounded retries, and
// event/metric emission. Bucket and breaker instances are process-lifetime
// singletons reached only through the guard's registries.
type Guard struct {
	resolver *Resolver
	limits   *RateLimitConfig
	buckets  *ratelimit.Registry
	breakers *breaker.Registry
	bus      events.Publisher
	metrics  MetricsSink
	cfg      Config
}

// New creates a guard. bus and metrics may not be nil.
func New(resolver *Resolver, limits *RateLimitConfig, bus events.Publisher, metrics MetricsSink, cfg Config) *Guard {
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = 2 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Guard{
		resolver: resolver,
		limits:   limits,
		buckets:  ratelimit.NewRegistry(),
		breakers: breaker.NewRegistry(),
		bus:      bus,
		metrics:  metrics,
		cfg:      cfg,
	}
}

// BreakerStates exposes a snapshot of every breaker, keyed by exchange.
func (g *Guard) BreakerStates() map[string]breaker.State {
	return g.breakers.States()
}

func (g *Guard) breakerFor(exchange string) *breaker.Breaker {
	b, created := g.breakers.GetOrCreate(exchange, g.limits.Breaker(exchange))
	if created {
		b.OnTransition(func(from, to breaker.State) {
			g.metrics.CircuitTransition(exchange, from, to)
			g.bus.Publish(events.EventCircuitChange, "", map[string]any{
				"exchange": exchange,
				"from":     string(from),
				"to":       string(to),
			})
		})
	}
	return b
}

func (g *Guard) bucketFor(key EndpointKey) (*ratelimit.Bucket, string) {
	pattern, rate, capacity := g.limits.Match(key.Exchange, key.Path)
	return g.buckets.GetOrCreate(key.Exchange+"|"+pattern, rate, capacity), pattern
}

func (g *Guard) blocked(ctx context.Context, key EndpointKey, reason string) {
	g.metrics.RateLimitBlocked(key.Exchange, key.Path, reason)
	g.bus.Publish(events.EventRateLimitBlocked, events.CorrelationID(ctx), map[string]any{
		"exchange": key.Exchange,
		"method":   key.Method,
		"endpoint": key.Path,
		"reason":   reason,
	})
}

// Do wraps an exchange call that returns only an error. See Execute for the
// full contract.
func (g *Guard) Do(ctx context.Context, name string, op func(context.Context) error) error {
	_, err := Execute(ctx, g, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Execute runs op behind the guard for the named logical endpoint.
//
// Each attempt re-checks the breaker and re-acquires from the limiter, so a
// retry storm cannot bypass either. Network and 5xx errors are retried with
// exponential backoff up to MaxRetries; 4xx rejections return immediately as
// *RejectedError without counting against the breaker. Every call, whatever
// its outcome, emits one metrics record with the attempt count and latency.
func Execute[T any](ctx context.Context, g *Guard, name string, op func(context.Context) (T, error)) (T, error) {
	var zero T

	key, err := g.resolver.Resolve(name)
	if err != nil {
		return zero, err
	}

	br := g.breakerFor(key.Exchange)
	bucket, _ := g.bucketFor(key)

	start := time.Now()
	attempts := 0
	outcome := OutcomeFailed
	var lastErr error
	var result T

	defer func() {
		latency := time.Since(start)
		g.metrics.GuardCall(key.Exchange, key.Path, outcome, latency, attempts)
		g.bus.Publish(events.EventGuardMetrics, events.CorrelationID(ctx), map[string]any{
			"exchange":   key.Exchange,
			"endpoint":   key.Path,
			"outcome":    string(outcome),
			"latency_ms": float64(latency.Microseconds()) / 1000.0,
			"attempts":   attempts,
		})
	}()

	for attempt := 0; attempt <= g.cfg.MaxRetries; attempt++ {
		attempts++

		if !br.Allow() {
			outcome = OutcomeCircuitOpen
			g.blocked(ctx, key, "circuit_open")
			return zero, fmt.Errorf("%w: %s", ErrCircuitOpen, key.Exchange)
		}

		waitStart := time.Now()
		if err := bucket.AcquireWithin(ctx, g.cfg.AcquireTimeout); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				outcome = OutcomeFailed
				return zero, err
			}
			outcome = OutcomeRateLimited
			g.blocked(ctx, key, "rate_limited")
			return zero, fmt.Errorf("%w: %s %s", ErrRateLimited, key.Exchange, key.Path)
		}
		if wait := time.Since(waitStart); wait > g.cfg.AcquireTimeout/2 {
			g.bus.Publish(events.EventRateLimitWarning, events.CorrelationID(ctx), map[string]any{
				"exchange": key.Exchange,
				"endpoint": key.Path,
				"wait_ms":  float64(wait.Microseconds()) / 1000.0,
			})
		}

		result, lastErr = op(ctx)
		if lastErr == nil {
			br.RecordSuccess()
			outcome = OutcomeOK
			return result, nil
		}

		if common.IsRejection(lastErr) {
			outcome = OutcomeRejected
			return zero, &RejectedError{Err: lastErr}
		}
		if !common.IsRetryable(lastErr) {
			outcome = OutcomeFailed
			return zero, lastErr
		}

		br.RecordFailure()

		if attempt < g.cfg.MaxRetries {
			if err := retry.Sleep(ctx, g.cfg.Backoff.Delay(attempt)); err != nil {
				outcome = OutcomeFailed
				return zero, lastErr
			}
		}
	}

	outcome = OutcomeFailed
	return zero, lastErr
}
