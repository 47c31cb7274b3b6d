package events

import "time"

// Event enumerates high-level topics inside the execution core.
type Event string

const (
	EventOrderPlaced      Event = "order.placed"
	EventOrderRejected    Event = "order.rejected"
	EventOrderFailed      Event = "order.failed"
	EventOrderDuplicate   Event = "order.duplicate"
	EventRateLimitBlocked Event = "rate.limit.blocked"
	EventRateLimitWarning Event = "rate.limit.warning"
	EventRiskAlert        Event = "risk.alert"
	EventRiskEscalation   Event = "risk.escalation"
	EventRiskReloaded     Event = "config.risk.updated"
	EventCircuitChange    Event = "circuit.transition"
	EventGuardMetrics     Event = "guard.metrics"
)

// AuditEvent is the append-only record published on the bus. Events sharing a
// CorrelationID belong to one logical operation and must keep their relative
// order in the audit trail.
type AuditEvent struct {
	Type          Event          `json:"event"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
	Timestamp     time.Time      `json:"ts"`
}

// Publisher is the write side of the bus. Components receive it at
// construction so tests can substitute a capturing fake.
type Publisher interface {
	Publish(e Event, correlationID string, payload map[string]any)
}
