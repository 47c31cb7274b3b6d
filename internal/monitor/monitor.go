package monitor

import (
	"context"
	"fmt"
	"log"
	"time"

	"tradeguard/internal/events"
)

// Monitor tails the event bus, tallying order outcomes and forwarding risk
// alerts to the configured sink.
type Monitor struct {
	Bus     *events.Bus
	Sink    *Sink
	AlertFn func(string)
}

// Start begins consuming events until ctx is cancelled.
func (m *Monitor) Start(ctx context.Context) {
	if m.Bus == nil {
		log.Println("monitor not fully configured; skipping")
		return
	}
	stream, unsub := m.Bus.SubscribeAll(256)
	go func() {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-stream:
				if !ok {
					return
				}
				m.handle(ev)
			}
		}
	}()
}

func (m *Monitor) handle(ev events.AuditEvent) {
	switch ev.Type {
	case events.EventOrderPlaced:
		m.countOrder(ev, "ACCEPTED")
	case events.EventOrderRejected:
		m.countOrder(ev, "REJECTED")
	case events.EventOrderFailed:
		status, _ := ev.Payload["status"].(string)
		if status == "" {
			status = "FAILED"
		}
		m.countOrder(ev, status)
	case events.EventRiskAlert, events.EventRiskEscalation:
		if m.AlertFn != nil {
			m.AlertFn(formatAlert(ev))
		}
	}
}

func (m *Monitor) countOrder(ev events.AuditEvent, status string) {
	if m.Sink == nil {
		return
	}
	exchange, _ := ev.Payload["exchange"].(string)
	latency, _ := ev.Payload["latency_ms"].(float64)
	m.Sink.OrderResult(exchange, status, latency)
}

func formatAlert(ev events.AuditEvent) string {
	limit, _ := ev.Payload["limit"].(string)
	if limit == "" {
		if reason, ok := ev.Payload["reason"].(string); ok {
			limit = reason
		}
	}
	return fmt.Sprintf("[%s] %s: %s", time.Now().Format(time.RFC3339), ev.Type, limit)
}
