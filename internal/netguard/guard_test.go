package netguard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"tradeguard/internal/events"
	"tradeguard/pkg/breaker"
	"tradeguard/pkg/exchanges/common"
	"tradeguard/pkg/retry"
)

type fakeBus struct {
	mu     sync.Mutex
	events []events.AuditEvent
}

func (f *fakeBus) Publish(e events.Event, correlationID string, payload map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, events.AuditEvent{Type: e, CorrelationID: correlationID, Payload: payload, Timestamp: time.Now()})
}

func (f *fakeBus) byType(e events.Event) []events.AuditEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []events.AuditEvent
	for _, ev := range f.events {
		if ev.Type == e {
			out = append(out, ev)
		}
	}
	return out
}

type guardCall struct {
	exchange, endpoint string
	outcome            Outcome
	attempts           int
}

type fakeSink struct {
	mu          sync.Mutex
	calls       []guardCall
	blocks      []string
	transitions []string
}

func (f *fakeSink) GuardCall(exchange, endpoint string, outcome Outcome, latency time.Duration, attempts int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, guardCall{exchange, endpoint, outcome, attempts})
}

func (f *fakeSink) RateLimitBlocked(exchange, endpoint, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blocks = append(f.blocks, reason)
}

func (f *fakeSink) CircuitTransition(exchange string, from, to breaker.State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transitions = append(f.transitions, string(from)+">"+string(to))
}

func (f *fakeSink) lastCall(t *testing.T) guardCall {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		t.Fatal("no guard calls recorded")
	}
	return f.calls[len(f.calls)-1]
}

func fastConfig() Config {
	return Config{
		AcquireTimeout: 50 * time.Millisecond,
		MaxRetries:     3,
		Backoff:        retry.Policy{InitialDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, Multiplier: 2},
	}
}

func newTestGuard(limits *RateLimitConfig) (*Guard, *fakeBus, *fakeSink) {
	bus := &fakeBus{}
	sink := &fakeSink{}
	resolver := NewResolver(testEndpointMap())
	return New(resolver, limits, bus, sink, fastConfig()), bus, sink
}

func serverErr(status int) error {
	return &common.APIError{Exchange: "binance", Status: status, Code: "ERR", Message: "boom"}
}

// limitsWithThreshold builds a generous limiter with a specific breaker
// threshold, for tests that pin down how retries and the breaker interact.
func limitsWithThreshold(threshold int) *RateLimitConfig {
	return &RateLimitConfig{
		Exchanges: map[string]ExchangeLimits{
			"binance": {
				Default: LimitSpec{
					RatePerSec:         1000,
					Capacity:           1000,
					FailureThreshold:   threshold,
					RecoverySeconds:    10,
					MaxRecoverySeconds: 60,
				},
			},
		},
	}
}

func TestExecuteSuccess(t *testing.T) {
	g, _, sink := newTestGuard(testLimits())

	got, err := Execute(context.Background(), g, "binance:place_order", func(ctx context.Context) (string, error) {
		return "ack", nil
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got != "ack" {
		t.Fatalf("result = %q, want ack", got)
	}

	call := sink.lastCall(t)
	if call.outcome != OutcomeOK || call.attempts != 1 {
		t.Fatalf("call = %+v, want ok with 1 attempt", call)
	}
	if call.exchange != "binance" || call.endpoint != "/api/v3/order" {
		t.Fatalf("call = %+v, wrong endpoint labels", call)
	}
}

func TestExecuteRetriesServerErrorsThenSucceeds(t *testing.T) {
	g, _, sink := newTestGuard(testLimits())

	calls := 0
	got, err := Execute(context.Background(), g, "binance:place_order", func(ctx context.Context) (int, error) {
		calls++
		if calls <= 3 {
			return 0, serverErr(503)
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got != 42 {
		t.Fatalf("result = %d, want 42", got)
	}
	if calls != 4 {
		t.Fatalf("operation called %d times, want 4 (1 initial + 3 retries)", calls)
	}
	call := sink.lastCall(t)
	if call.outcome != OutcomeOK || call.attempts != 4 {
		t.Fatalf("call = %+v, want ok with attempts=4", call)
	}
}

func TestExecuteRejectionNotRetried(t *testing.T) {
	g, _, sink := newTestGuard(testLimits())

	calls := 0
	_, err := Execute(context.Background(), g, "binance:place_order", func(ctx context.Context) (int, error) {
		calls++
		return 0, serverErr(400)
	})

	var rej *RejectedError
	if !errors.As(err, &rej) {
		t.Fatalf("err = %v, want *RejectedError", err)
	}
	if calls != 1 {
		t.Fatalf("operation called %d times, want 1 (4xx never retried)", calls)
	}
	if call := sink.lastCall(t); call.outcome != OutcomeRejected {
		t.Fatalf("outcome = %s, want rejected", call.outcome)
	}

	// A 4xx must not count against the breaker.
	if st := g.BreakerStates()["binance"]; st != breaker.StateClosed {
		t.Fatalf("breaker state = %s, want CLOSED after 4xx", st)
	}
}

func TestExecuteExhaustedRetriesOpenCircuit(t *testing.T) {
	// Threshold 4 = MaxRetries+1: the last attempt both exhausts the retry
	// budget and trips the breaker.
	g, bus, sink := newTestGuard(limitsWithThreshold(4))

	_, err := Execute(context.Background(), g, "binance:place_order", func(ctx context.Context) (int, error) {
		return 0, serverErr(502)
	})
	if err == nil || !errors.As(err, new(*common.APIError)) {
		t.Fatalf("err = %v, want last exchange error", err)
	}
	if call := sink.lastCall(t); call.outcome != OutcomeFailed || call.attempts != 4 {
		t.Fatalf("call = %+v, want failed with attempts=4", call)
	}

	// Four consecutive failures reached the threshold: the breaker is open and
	// the next call must not touch the network.
	calls := 0
	_, err = Execute(context.Background(), g, "binance:place_order", func(ctx context.Context) (int, error) {
		calls++
		return 0, nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if calls != 0 {
		t.Fatal("operation must not run while the circuit is open")
	}

	blocked := bus.byType(events.EventRateLimitBlocked)
	if len(blocked) == 0 {
		t.Fatal("no rate.limit.blocked event published")
	}
	last := blocked[len(blocked)-1]
	if last.Payload["reason"] != "circuit_open" {
		t.Fatalf("blocked reason = %v, want circuit_open", last.Payload["reason"])
	}
}

func TestExecuteCircuitOpensMidRetry(t *testing.T) {
	// With a threshold below the retry budget, the per-attempt breaker check
	// cuts the retry loop short instead of hammering a dead exchange.
	g, _, sink := newTestGuard(limitsWithThreshold(2))

	calls := 0
	_, err := Execute(context.Background(), g, "binance:place_order", func(ctx context.Context) (int, error) {
		calls++
		return 0, serverErr(503)
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if calls != 2 {
		t.Fatalf("operation called %d times, want 2 (circuit opened on the second failure)", calls)
	}
	call := sink.lastCall(t)
	if call.outcome != OutcomeCircuitOpen || call.attempts != 3 {
		t.Fatalf("call = %+v, want circuit_open with attempts=3", call)
	}
}

func TestExecuteRateLimited(t *testing.T) {
	limits := &RateLimitConfig{
		Exchanges: map[string]ExchangeLimits{
			"binance": {
				Default:  LimitSpec{RatePerSec: 10, Capacity: 10, FailureThreshold: 5},
				Patterns: []PatternSpec{{Path: "/api/v3/order", RatePerSec: 0.001, Capacity: 1}},
			},
		},
	}
	g, bus, sink := newTestGuard(limits)

	ok := func(ctx context.Context) (int, error) { return 1, nil }

	if _, err := Execute(context.Background(), g, "binance:place_order", ok); err != nil {
		t.Fatalf("first call should pass: %v", err)
	}
	_, err := Execute(context.Background(), g, "binance:place_order", ok)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
	if call := sink.lastCall(t); call.outcome != OutcomeRateLimited {
		t.Fatalf("outcome = %s, want rate_limited", call.outcome)
	}
	blocked := bus.byType(events.EventRateLimitBlocked)
	if len(blocked) != 1 || blocked[0].Payload["reason"] != "rate_limited" {
		t.Fatalf("blocked events = %+v, want one rate_limited", blocked)
	}
}

func TestRetriesDoNotBypassLimiter(t *testing.T) {
	limits := &RateLimitConfig{
		Exchanges: map[string]ExchangeLimits{
			"binance": {
				Default:  LimitSpec{RatePerSec: 10, Capacity: 10, FailureThreshold: 50},
				Patterns: []PatternSpec{{Path: "/api/v3/order", RatePerSec: 0.001, Capacity: 2}},
			},
		},
	}
	g, _, _ := newTestGuard(limits)

	calls := 0
	_, err := Execute(context.Background(), g, "binance:place_order", func(ctx context.Context) (int, error) {
		calls++
		return 0, serverErr(503)
	})
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited once tokens ran out", err)
	}
	if calls != 2 {
		t.Fatalf("operation called %d times, want 2 (one per available token)", calls)
	}
}

func TestExecuteUnknownEndpoint(t *testing.T) {
	g, _, sink := newTestGuard(testLimits())

	_, err := Execute(context.Background(), g, "binance:withdraw", func(ctx context.Context) (int, error) {
		t.Fatal("operation must not run for unknown endpoints")
		return 0, nil
	})
	if !errors.Is(err, ErrUnknownEndpoint) {
		t.Fatalf("err = %v, want ErrUnknownEndpoint", err)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.calls) != 0 {
		t.Fatal("no metrics should be recorded for unresolved names")
	}
}

func TestExecuteCorrelationIDFlowsToEvents(t *testing.T) {
	g, bus, _ := newTestGuard(testLimits())

	ctx := events.WithCorrelationID(context.Background(), "ord-77")
	_, _ = Execute(ctx, g, "binance:place_order", func(ctx context.Context) (int, error) {
		return 1, nil
	})

	metrics := bus.byType(events.EventGuardMetrics)
	if len(metrics) != 1 || metrics[0].CorrelationID != "ord-77" {
		t.Fatalf("guard metrics events = %+v, want one with correlation ord-77", metrics)
	}
}

func TestGuardDoWrapsErrorOnlyCalls(t *testing.T) {
	g, _, _ := newTestGuard(testLimits())

	ran := false
	if err := g.Do(context.Background(), "binance:cancel_order", func(ctx context.Context) error {
		ran = true
		return nil
	}); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if !ran {
		t.Fatal("operation did not run")
	}
}
