package order

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"tradeguard/internal/events"
	"tradeguard/internal/netguard"
	"tradeguard/internal/risk"
	"tradeguard/pkg/exchanges/common"
)

// Store receives terminal results for persistence. The DB layer implements
// it; a nil store disables the handoff.
type Store interface {
	AppendOrderRecord(ctx context.Context, res Result) error
}

// completedCap bounds the in-memory dedupe window. Old entries are evicted
// oldest-first once the cap is reached.
const completedCap = 10000

// Service turns intents into guarded exchange orders: risk validation,
// idempotency-key assignment, the guarded adapter call, result
// normalization, event emission, and the persistence handoff.
type Service struct {
	risk  *risk.Manager
	guard *netguard.Guard
	bus   events.Publisher
	store Store

	mu       sync.RWMutex
	adapters map[string]common.Adapter

	regMu     sync.Mutex
	inflight  map[string]*inflightEntry
	completed map[string]Result
	order     []string // completed IDs, insertion order, for eviction
}

type inflightEntry struct {
	done chan struct{}
	res  Result
}

// NewService creates an execution service. bus must not be nil; store may be.
func NewService(riskMgr *risk.Manager, guard *netguard.Guard, bus events.Publisher, store Store) *Service {
	return &Service{
		risk:      riskMgr,
		guard:     guard,
		bus:       bus,
		store:     store,
		adapters:  make(map[string]common.Adapter),
		inflight:  make(map[string]*inflightEntry),
		completed: make(map[string]Result),
	}
}

// RegisterAdapter routes intents for an exchange to an adapter. Registration
// happens at startup, before submissions begin.
func (s *Service) RegisterAdapter(exchange string, a common.Adapter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adapters[strings.ToLower(exchange)] = a
}

func (s *Service) adapter(exchange string) (common.Adapter, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.adapters[strings.ToLower(exchange)]
	return a, ok
}

// Submit runs one intent to a terminal result. A duplicate of an in-flight
// submission waits for the original and returns its result marked Duplicate;
// a duplicate of a completed one returns the stored result immediately. The
// exchange adapter is invoked at most once per client order ID.
func (s *Service) Submit(ctx context.Context, intent Intent) (Result, error) {
	id := intent.ClientID()
	ctx = events.WithCorrelationID(ctx, id)
	log.Printf("Order %s %s: %s %s %.6f %s", id, StateReceived, intent.Side, intent.Symbol, intent.Quantity, intent.Exchange)

	s.regMu.Lock()
	if res, ok := s.completed[id]; ok {
		s.regMu.Unlock()
		return s.duplicate(id, res), nil
	}
	if entry, ok := s.inflight[id]; ok {
		s.regMu.Unlock()
		select {
		case <-entry.done:
			return s.duplicate(id, entry.res), nil
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}
	entry := &inflightEntry{done: make(chan struct{})}
	s.inflight[id] = entry
	s.regMu.Unlock()

	res := s.execute(ctx, intent, id)
	s.finish(ctx, id, entry, res)
	return res, nil
}

func (s *Service) duplicate(id string, res Result) Result {
	s.bus.Publish(events.EventOrderDuplicate, id, map[string]any{
		"client_order_id": id,
		"status":          string(res.Status),
	})
	res.Duplicate = true
	return res
}

func (s *Service) execute(ctx context.Context, intent Intent, id string) Result {
	start := time.Now()
	res := Result{ClientOrderID: id, CreatedAt: start}

	adapter, ok := s.adapter(intent.Exchange)
	if !ok {
		res.Status = StatusFailed
		res.Error = fmt.Sprintf("no adapter registered for exchange %q", intent.Exchange)
		return res
	}

	approved, err := s.risk.Validate(risk.Proposal{
		Symbol:    intent.Symbol,
		Side:      intent.Side,
		OrderType: intent.OrderType,
		Quantity:  intent.Quantity,
		Price:     intent.LimitPrice,
		StopPrice: intent.StopPrice,
	})
	if err != nil {
		res.Status = StatusRejected
		res.Error = err.Error()
		res.LatencyMS = msSince(start)
		s.bus.Publish(events.EventOrderRejected, id, map[string]any{
			"client_order_id": id,
			"symbol":          intent.Symbol,
			"exchange":        intent.Exchange,
			"error":           res.Error,
		})
		return res
	}
	log.Printf("Order %s %s: drawdown=%.4f daily_pnl=%.2f", id, StateRiskChecked,
		approved.Snapshot.CurrentDrawdown, approved.Snapshot.DailyPnL)

	log.Printf("Order %s %s", id, StateSubmitting)
	req := common.OrderRequest{
		Symbol:        intent.Symbol,
		Side:          common.Side(strings.ToUpper(intent.Side)),
		Type:          common.OrderType(strings.ToUpper(intent.OrderType)),
		Qty:           intent.Quantity,
		Price:         intent.LimitPrice,
		StopPrice:     intent.StopPrice,
		ClientOrderID: id,
	}
	name := strings.ToLower(intent.Exchange) + ":place_order"
	ack, err := netguard.Execute(ctx, s.guard, name, func(ctx context.Context) (common.OrderAck, error) {
		return adapter.PlaceOrder(ctx, req)
	})
	res.LatencyMS = msSince(start)

	if err != nil {
		return s.fromGuardError(id, intent, res, err)
	}

	res.Status = StatusAccepted
	res.ExchangeOrderID = ack.ExchangeOrderID
	res.FilledQuantity = ack.FilledQty
	res.AveragePrice = ack.AvgPrice
	if ack.FilledQty > 0 {
		s.risk.RecordFill(intent.Symbol, intent.Side, ack.FilledQty, ack.AvgPrice, 0)
	}
	s.bus.Publish(events.EventOrderPlaced, id, map[string]any{
		"client_order_id":   id,
		"exchange_order_id": ack.ExchangeOrderID,
		"symbol":            intent.Symbol,
		"exchange":          intent.Exchange,
		"side":              intent.Side,
		"filled_qty":        ack.FilledQty,
		"avg_price":         ack.AvgPrice,
		"latency_ms":        res.LatencyMS,
	})
	return res
}

// fromGuardError maps guard failures onto terminal statuses. Limiter and
// breaker blocks come back as RATE_LIMITED so the strategy can retry on its
// own schedule; everything else is FAILED.
func (s *Service) fromGuardError(id string, intent Intent, res Result, err error) Result {
	res.Error = err.Error()

	var rejected *netguard.RejectedError
	switch {
	case errors.Is(err, netguard.ErrCircuitOpen), errors.Is(err, netguard.ErrRateLimited):
		res.Status = StatusRateLimited
	case errors.As(err, &rejected):
		res.Status = StatusFailed
	default:
		res.Status = StatusFailed
	}

	s.bus.Publish(events.EventOrderFailed, id, map[string]any{
		"client_order_id": id,
		"symbol":          intent.Symbol,
		"exchange":        intent.Exchange,
		"status":          string(res.Status),
		"error":           res.Error,
	})
	return res
}

func (s *Service) finish(ctx context.Context, id string, entry *inflightEntry, res Result) {
	s.regMu.Lock()
	entry.res = res
	s.completed[id] = res
	s.order = append(s.order, id)
	if len(s.order) > completedCap {
		evict := s.order[0]
		s.order = s.order[1:]
		delete(s.completed, evict)
	}
	delete(s.inflight, id)
	close(entry.done)
	s.regMu.Unlock()

	if s.store != nil {
		if err := s.store.AppendOrderRecord(ctx, res); err != nil {
			log.Printf("Order %s: persist failed: %v", id, err)
		}
	}
	log.Printf("Order %s terminal: %s (%.1fms)", id, res.Status, res.LatencyMS)
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
