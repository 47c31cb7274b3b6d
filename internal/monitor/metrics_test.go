package monitor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"tradeguard/internal/events"
	"tradeguard/internal/netguard"
	"tradeguard/pkg/breaker"
)

func TestLatencyHistogramStats(t *testing.T) {
	h := NewLatencyHistogram(100)
	for i := 1; i <= 100; i++ {
		h.Record(float64(i))
	}

	stats := h.Stats()
	if stats.Count != 100 {
		t.Fatalf("count = %d, want 100", stats.Count)
	}
	if stats.Min != 1 || stats.Max != 100 {
		t.Fatalf("min/max = %.0f/%.0f, want 1/100", stats.Min, stats.Max)
	}
	if stats.P95 < 90 {
		t.Fatalf("p95 = %.0f, want >= 90", stats.P95)
	}
}

func TestLatencyHistogramSlidingWindow(t *testing.T) {
	h := NewLatencyHistogram(10)
	for i := 0; i < 25; i++ {
		h.Record(float64(i))
	}
	stats := h.Stats()
	if stats.Count != 10 {
		t.Fatalf("count = %d, want 10 after window slide", stats.Count)
	}
	if stats.Min != 15 {
		t.Fatalf("min = %.0f, want 15 (oldest samples evicted)", stats.Min)
	}
}

func TestSystemMetricsCounters(t *testing.T) {
	sys := NewSystemMetrics()
	sys.CountOrder("ACCEPTED")
	sys.CountOrder("ACCEPTED")
	sys.CountOrder("REJECTED")
	sys.CountOrder("RATE_LIMITED")
	sys.CountOrder("FAILED")
	sys.CountRateLimitBlock()

	snap := sys.GetSnapshot()
	if snap.OrdersAccepted != 2 || snap.OrdersRejected != 1 || snap.OrdersRateLimited != 1 || snap.OrdersFailed != 1 {
		t.Fatalf("snapshot = %+v, counters wrong", snap)
	}
	if snap.RateLimitBlocks != 1 {
		t.Fatalf("blocks = %d, want 1", snap.RateLimitBlocks)
	}
}

func TestTimerRecordsToHistogram(t *testing.T) {
	h := NewLatencyHistogram(10)
	timer := NewTimer(h)
	time.Sleep(2 * time.Millisecond)
	elapsed := timer.Stop()

	if elapsed < 2*time.Millisecond {
		t.Fatalf("elapsed = %v, want >= 2ms", elapsed)
	}
	stats := h.Stats()
	if stats.Count != 1 || stats.Min < 2 {
		t.Fatalf("stats = %+v, want one sample >= 2ms", stats)
	}
}

func TestSinkExportsGuardTelemetry(t *testing.T) {
	sys := NewSystemMetrics()
	sink := NewSink(prometheus.NewRegistry(), sys)

	sink.GuardCall("binance", "/api/v3/order", netguard.OutcomeOK, 20*time.Millisecond, 2)
	sink.RateLimitBlocked("binance", "/api/v3/order", "circuit_open")
	sink.CircuitTransition("binance", breaker.StateClosed, breaker.StateOpen)

	if got := testutil.ToFloat64(sink.guardCalls.WithLabelValues("binance", "/api/v3/order", "ok")); got != 1 {
		t.Fatalf("guard calls counter = %.0f, want 1", got)
	}
	if got := testutil.ToFloat64(sink.blocks.WithLabelValues("binance", "/api/v3/order", "circuit_open")); got != 1 {
		t.Fatalf("blocks counter = %.0f, want 1", got)
	}
	if got := testutil.ToFloat64(sink.transitions.WithLabelValues("binance", "CLOSED", "OPEN")); got != 1 {
		t.Fatalf("transitions counter = %.0f, want 1", got)
	}
	if sys.GetSnapshot().CircuitTrips != 1 {
		t.Fatal("system metrics missed the circuit trip")
	}
}

func TestMonitorTalliesOrderEvents(t *testing.T) {
	bus := events.NewBus()
	sys := NewSystemMetrics()
	sink := NewSink(prometheus.NewRegistry(), sys)

	var alerts atomic.Int64
	m := &Monitor{Bus: bus, Sink: sink, AlertFn: func(string) { alerts.Add(1) }}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	bus.Publish(events.EventOrderPlaced, "ord-1", map[string]any{"exchange": "sim", "latency_ms": 12.0})
	bus.Publish(events.EventOrderFailed, "ord-2", map[string]any{"exchange": "sim", "status": "RATE_LIMITED"})
	bus.Publish(events.EventRiskAlert, "", map[string]any{"limit": "max_position_size"})

	deadline := time.After(2 * time.Second)
	for {
		snap := sys.GetSnapshot()
		if snap.OrdersAccepted == 1 && snap.OrdersRateLimited == 1 && alerts.Load() == 1 {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("monitor did not process events: %+v alerts=%d", sys.GetSnapshot(), alerts.Load())
		case <-time.After(10 * time.Millisecond):
		}
	}
}
