package events

import (
	"sync"
	"time"
)

// Bus is a lightweight pub/sub broker using channels.
type Bus struct {
	mu   sync.RWMutex
	subs map[Event][]chan AuditEvent
	all  []chan AuditEvent
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Event][]chan AuditEvent)}
}

// Subscribe registers a listener for an event and returns the channel and an
// unsubscribe function.
func (b *Bus) Subscribe(e Event, buffer int) (<-chan AuditEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan AuditEvent, buffer)
	b.subs[e] = append(b.subs[e], ch)

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[e]
		for i, c := range subs {
			if c == ch {
				close(c)
				b.subs[e] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}

	return ch, unsub
}

// SubscribeAll registers a listener for every event. The audit recorder and
// the websocket hub sit on this feed.
func (b *Bus) SubscribeAll(buffer int) (<-chan AuditEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan AuditEvent, buffer)
	b.all = append(b.all, ch)

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, c := range b.all {
			if c == ch {
				close(c)
				b.all = append(b.all[:i], b.all[i+1:]...)
				break
			}
		}
	}

	return ch, unsub
}

// Publish delivers the event to every subscriber's buffer without blocking:
// a subscriber that cannot keep up loses events rather than stalling the
// publisher.
func (b *Bus) Publish(e Event, correlationID string, payload map[string]any) {
	ev := AuditEvent{
		Type:          e,
		CorrelationID: correlationID,
		Payload:       payload,
		Timestamp:     time.Now(),
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[e] {
		select {
		case ch <- ev:
		default:
			// drop if subscriber is slow; keep broker non-blocking
		}
	}
	for _, ch := range b.all {
		select {
		case ch <- ev:
		default:
		}
	}
}
