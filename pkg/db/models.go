package db

import "time"

// OrderRecord is the persisted terminal result of one order submission.
type OrderRecord struct {
	ClientOrderID   string    `json:"client_order_id"`
	ExchangeOrderID string    `json:"exchange_order_id"`
	Status          string    `json:"status"`
	FilledQty       float64   `json:"filled_qty"`
	AvgPrice        float64   `json:"avg_price"`
	Error           string    `json:"error,omitempty"`
	LatencyMS       float64   `json:"latency_ms"`
	CreatedAt       time.Time `json:"created_at"`
}

// AuditRecord is a persisted audit event row. Payload is stored as JSON.
type AuditRecord struct {
	ID            int64     `json:"id"`
	EventType     string    `json:"event_type"`
	CorrelationID string    `json:"correlation_id"`
	Payload       string    `json:"payload"`
	CreatedAt     time.Time `json:"created_at"`
}
