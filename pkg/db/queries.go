// Package db provides SQLite persistence for order results and audit events.
package db

import (
	"context"
	"database/sql"
	"fmt"
)

// Queries wraps the statements the execution core needs.
type Queries struct {
	db *sql.DB
}

// NewQueries creates a Queries instance over an open handle.
func NewQueries(db *sql.DB) *Queries {
	return &Queries{db: db}
}

// Queries returns the query layer for this database.
func (d *Database) Queries() *Queries {
	return NewQueries(d.DB)
}

// InsertOrderRecord appends a terminal order result. Client order IDs are
// unique; replaying the same result is a no-op.
func (q *Queries) InsertOrderRecord(ctx context.Context, rec OrderRecord) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO orders (client_order_id, exchange_order_id, status, filled_qty, avg_price, error, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP))
		ON CONFLICT(client_order_id) DO NOTHING
	`, rec.ClientOrderID, rec.ExchangeOrderID, rec.Status, rec.FilledQty, rec.AvgPrice, rec.Error, rec.LatencyMS, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert order record: %w", err)
	}
	return nil
}

// RecentOrders returns the newest order records, newest first.
func (q *Queries) RecentOrders(ctx context.Context, limit int) ([]OrderRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT client_order_id, COALESCE(exchange_order_id, ''), status,
		       COALESCE(filled_qty, 0), COALESCE(avg_price, 0), COALESCE(error, ''),
		       COALESCE(latency_ms, 0), created_at
		FROM orders
		ORDER BY created_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var records []OrderRecord
	for rows.Next() {
		var rec OrderRecord
		if err := rows.Scan(&rec.ClientOrderID, &rec.ExchangeOrderID, &rec.Status,
			&rec.FilledQty, &rec.AvgPrice, &rec.Error, &rec.LatencyMS, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// OrderByClientID returns one order record.
func (q *Queries) OrderByClientID(ctx context.Context, clientOrderID string) (*OrderRecord, error) {
	var rec OrderRecord
	err := q.db.QueryRowContext(ctx, `
		SELECT client_order_id, COALESCE(exchange_order_id, ''), status,
		       COALESCE(filled_qty, 0), COALESCE(avg_price, 0), COALESCE(error, ''),
		       COALESCE(latency_ms, 0), created_at
		FROM orders
		WHERE client_order_id = ?
	`, clientOrderID).Scan(&rec.ClientOrderID, &rec.ExchangeOrderID, &rec.Status,
		&rec.FilledQty, &rec.AvgPrice, &rec.Error, &rec.LatencyMS, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}
	return &rec, nil
}

// InsertAuditEvent appends an audit row.
func (q *Queries) InsertAuditEvent(ctx context.Context, eventType, correlationID, payload string) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO audit_events (event_type, correlation_id, payload)
		VALUES (?, ?, ?)
	`, eventType, correlationID, payload)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// AuditTrail returns the audit rows for one correlation ID in insertion
// order.
func (q *Queries) AuditTrail(ctx context.Context, correlationID string) ([]AuditRecord, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, event_type, COALESCE(correlation_id, ''), COALESCE(payload, ''), created_at
		FROM audit_events
		WHERE correlation_id = ?
		ORDER BY id ASC
	`, correlationID)
	if err != nil {
		return nil, fmt.Errorf("query audit trail: %w", err)
	}
	defer rows.Close()

	var records []AuditRecord
	for rows.Next() {
		var rec AuditRecord
		if err := rows.Scan(&rec.ID, &rec.EventType, &rec.CorrelationID, &rec.Payload, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
