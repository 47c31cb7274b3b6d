package monitor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"tradeguard/internal/netguard"
	"tradeguard/pkg/breaker"
)

// Sink exports guard and order telemetry to Prometheus and mirrors it into
// the in-process SystemMetrics for the ops API. It implements
// netguard.MetricsSink.
type Sink struct {
	sys *SystemMetrics

	guardCalls   *prometheus.CounterVec
	guardLatency *prometheus.HistogramVec
	blocks       *prometheus.CounterVec
	transitions  *prometheus.CounterVec
	orders       *prometheus.CounterVec
}

// NewSink registers the collectors with reg. sys may be nil.
func NewSink(reg prometheus.Registerer, sys *SystemMetrics) *Sink {
	factory := promauto.With(reg)
	return &Sink{
		sys: sys,
		guardCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tradeguard_guard_calls_total",
			Help: "Guarded exchange calls by exchange, endpoint, and outcome.",
		}, []string{"exchange", "endpoint", "outcome"}),
		guardLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tradeguard_guard_latency_seconds",
			Help:    "End-to-end guarded call latency, retries included.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"exchange", "endpoint"}),
		blocks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tradeguard_rate_limit_blocks_total",
			Help: "Calls blocked before reaching the network, by reason.",
		}, []string{"exchange", "endpoint", "reason"}),
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tradeguard_circuit_transitions_total",
			Help: "Circuit breaker state transitions.",
		}, []string{"exchange", "from", "to"}),
		orders: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tradeguard_orders_total",
			Help: "Terminal order results by status.",
		}, []string{"exchange", "status"}),
	}
}

// GuardCall records one finished guarded call.
func (s *Sink) GuardCall(exchange, endpoint string, outcome netguard.Outcome, latency time.Duration, attempts int) {
	s.guardCalls.WithLabelValues(exchange, endpoint, string(outcome)).Inc()
	s.guardLatency.WithLabelValues(exchange, endpoint).Observe(latency.Seconds())
	if s.sys != nil {
		s.sys.GuardLatency.RecordDuration(latency)
	}
}

// RateLimitBlocked records a limiter or circuit block.
func (s *Sink) RateLimitBlocked(exchange, endpoint, reason string) {
	s.blocks.WithLabelValues(exchange, endpoint, reason).Inc()
	if s.sys != nil {
		s.sys.CountRateLimitBlock()
	}
}

// CircuitTransition records a breaker state change.
func (s *Sink) CircuitTransition(exchange string, from, to breaker.State) {
	s.transitions.WithLabelValues(exchange, string(from), string(to)).Inc()
	if s.sys != nil && to == breaker.StateOpen {
		s.sys.CountCircuitTrip()
	}
}

// OrderResult records a terminal order status.
func (s *Sink) OrderResult(exchange, status string, latencyMs float64) {
	s.orders.WithLabelValues(exchange, status).Inc()
	if s.sys != nil {
		s.sys.CountOrder(status)
		s.sys.OrderLatency.Record(latencyMs)
	}
}
