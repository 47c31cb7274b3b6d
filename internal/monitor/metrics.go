package monitor

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// SystemMetrics tracks execution-core performance for the ops API.
type SystemMetrics struct {
	// Latency histograms
	GuardLatency *LatencyHistogram
	OrderLatency *LatencyHistogram

	// Counters
	ordersAccepted    uint64
	ordersRejected    uint64
	ordersFailed      uint64
	ordersRateLimited uint64
	rateLimitBlocks   uint64
	circuitTrips      uint64
}

// LatencyHistogram tracks latency samples with a sliding window and lazily
// recomputed stats.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool
	cachedStats LatencyStats
}

// NewSystemMetrics creates a new metrics instance.
func NewSystemMetrics() *SystemMetrics {
	return &SystemMetrics{
		GuardLatency: NewLatencyHistogram(1000),
		OrderLatency: NewLatencyHistogram(1000),
	}
}

// NewLatencyHistogram creates a sliding window histogram.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{
		samples: make([]float64, 0, size),
		maxSize: size,
		dirty:   true,
	}
}

// Record adds a latency sample in milliseconds.
func (h *LatencyHistogram) Record(latencyMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.samples) >= h.maxSize {
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, latencyMs)
	h.dirty = true
}

// RecordDuration converts duration to ms and records.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// Stats returns min, max, avg, p50, p95, p99. Only recomputes when samples
// have changed.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.dirty && h.cachedStats.Count > 0 {
		return h.cachedStats
	}

	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}

	sorted := make([]float64, n)
	copy(sorted, h.samples)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	h.cachedStats = LatencyStats{
		Min:   sorted[0],
		Max:   sorted[n-1],
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n)*0.95)],
		P99:   sorted[int(float64(n)*0.99)],
		Count: n,
	}
	h.dirty = false

	return h.cachedStats
}

// LatencyStats holds computed latency statistics.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

// CountOrder tallies a terminal order status.
func (m *SystemMetrics) CountOrder(status string) {
	switch status {
	case "ACCEPTED":
		atomic.AddUint64(&m.ordersAccepted, 1)
	case "REJECTED":
		atomic.AddUint64(&m.ordersRejected, 1)
	case "RATE_LIMITED":
		atomic.AddUint64(&m.ordersRateLimited, 1)
	default:
		atomic.AddUint64(&m.ordersFailed, 1)
	}
}

// CountRateLimitBlock tallies a limiter or circuit block.
func (m *SystemMetrics) CountRateLimitBlock() {
	atomic.AddUint64(&m.rateLimitBlocks, 1)
}

// CountCircuitTrip tallies a breaker transition into OPEN.
func (m *SystemMetrics) CountCircuitTrip() {
	atomic.AddUint64(&m.circuitTrips, 1)
}

// MetricsSnapshot is a point-in-time view for the ops API.
type MetricsSnapshot struct {
	GuardLatency      LatencyStats `json:"guard_latency"`
	OrderLatency      LatencyStats `json:"order_latency"`
	OrdersAccepted    uint64       `json:"orders_accepted"`
	OrdersRejected    uint64       `json:"orders_rejected"`
	OrdersFailed      uint64       `json:"orders_failed"`
	OrdersRateLimited uint64       `json:"orders_rate_limited"`
	RateLimitBlocks   uint64       `json:"rate_limit_blocks"`
	CircuitTrips      uint64       `json:"circuit_trips"`
	GoroutineCount    int          `json:"goroutine_count"`
	HeapAlloc         uint64       `json:"heap_alloc_bytes"`
	Timestamp         time.Time    `json:"timestamp"`
}

// GetSnapshot returns a point-in-time metrics snapshot.
func (m *SystemMetrics) GetSnapshot() MetricsSnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return MetricsSnapshot{
		GuardLatency:      m.GuardLatency.Stats(),
		OrderLatency:      m.OrderLatency.Stats(),
		OrdersAccepted:    atomic.LoadUint64(&m.ordersAccepted),
		OrdersRejected:    atomic.LoadUint64(&m.ordersRejected),
		OrdersFailed:      atomic.LoadUint64(&m.ordersFailed),
		OrdersRateLimited: atomic.LoadUint64(&m.ordersRateLimited),
		RateLimitBlocks:   atomic.LoadUint64(&m.rateLimitBlocks),
		CircuitTrips:      atomic.LoadUint64(&m.circuitTrips),
		GoroutineCount:    runtime.NumGoroutine(),
		HeapAlloc:         memStats.HeapAlloc,
		Timestamp:         time.Now(),
	}
}

// Timer helps measure operation duration.
type Timer struct {
	start     time.Time
	histogram *LatencyHistogram
}

// NewTimer creates a timer that records to the given histogram.
func NewTimer(h *LatencyHistogram) *Timer {
	return &Timer{start: time.Now(), histogram: h}
}

// Stop records elapsed time to the histogram.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	if t.histogram != nil {
		t.histogram.RecordDuration(elapsed)
	}
	return elapsed
}
