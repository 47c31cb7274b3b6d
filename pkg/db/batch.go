package db

import (
	"log"
	"sync"
	"sync/atomic"
	"time"
)

type auditRow struct {
	eventType     string
	correlationID string
	payload       string
}

// AuditBatcher buffers audit rows and commits them in transactions, either
// when the buffer is full or on the flush interval. Order submissions never
// wait on the audit table this way. Close flushes whatever is still pending.
type AuditBatcher struct {
	db *Database

	mu     sync.Mutex
	buffer []auditRow

	maxSize  int
	interval time.Duration
	done     chan struct{}
	wg       sync.WaitGroup
	once     sync.Once

	rows    atomic.Uint64
	batches atomic.Uint64
	errors  atomic.Uint64
}

// NewAuditBatcher starts a batcher over the database. maxSize caps the buffer
// before an early flush; interval bounds how stale a buffered row can get.
func NewAuditBatcher(d *Database, maxSize int, interval time.Duration) *AuditBatcher {
	if maxSize <= 0 {
		maxSize = 64
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	b := &AuditBatcher{
		db:       d,
		buffer:   make([]auditRow, 0, maxSize),
		maxSize:  maxSize,
		interval: interval,
		done:     make(chan struct{}),
	}
	b.wg.Add(1)
	go b.loop()
	return b
}

// Add buffers one audit row.
func (b *AuditBatcher) Add(eventType, correlationID, payload string) {
	b.mu.Lock()
	b.buffer = append(b.buffer, auditRow{eventType, correlationID, payload})
	full := len(b.buffer) >= b.maxSize
	b.mu.Unlock()

	if full {
		if err := b.Flush(); err != nil {
			log.Printf("audit batch: flush failed: %v", err)
		}
	}
}

// Flush commits every buffered row in one transaction.
func (b *AuditBatcher) Flush() error {
	b.mu.Lock()
	if len(b.buffer) == 0 {
		b.mu.Unlock()
		return nil
	}
	rows := b.buffer
	b.buffer = make([]auditRow, 0, b.maxSize)
	b.mu.Unlock()

	tx, err := b.db.DB.Begin()
	if err != nil {
		b.errors.Add(1)
		return err
	}
	for _, r := range rows {
		if _, err := tx.Exec(`
			INSERT INTO audit_events (event_type, correlation_id, payload)
			VALUES (?, ?, ?)
		`, r.eventType, r.correlationID, r.payload); err != nil {
			tx.Rollback()
			b.errors.Add(1)
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		b.errors.Add(1)
		return err
	}
	b.rows.Add(uint64(len(rows)))
	b.batches.Add(1)
	return nil
}

// Pending returns the number of rows not yet committed.
func (b *AuditBatcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buffer)
}

// Stats reports rows written, batches committed, and failed flushes.
func (b *AuditBatcher) Stats() (rows, batches, errors uint64) {
	return b.rows.Load(), b.batches.Load(), b.errors.Load()
}

func (b *AuditBatcher) loop() {
	defer b.wg.Done()
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := b.Flush(); err != nil {
				log.Printf("audit batch: flush failed: %v", err)
			}
		case <-b.done:
			if err := b.Flush(); err != nil {
				log.Printf("audit batch: final flush failed: %v", err)
			}
			return
		}
	}
}

// Close stops the background flusher after draining the buffer.
func (b *AuditBatcher) Close() error {
	b.once.Do(func() { close(b.done) })
	b.wg.Wait()
	return nil
}
