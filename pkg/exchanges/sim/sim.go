// Package sim provides a deterministic in-memory exchange adapter used by
// dry-run mode and tests. It fills market orders immediately at the last set
// mark price plus configurable slippage, and can be scripted to fail.
package sim

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"tradeguard/pkg/exchanges/common"
)

// Config tunes the simulated venue.
type Config struct {
	Name         string  // exchange name reported in errors
	FeeRate      float64 // decimal, e.g. 0.0004 = 4 bps (informational)
	SlippageBps  float64 // slippage applied to market fills
	LatencyMinMs int     // simulated gateway latency lower bound
	LatencyMaxMs int     // simulated gateway latency upper bound
}

// Adapter is a paper-trading venue implementing common.Adapter.
type Adapter struct {
	cfg Config
	rng *rand.Rand

	mu     sync.Mutex
	prices map[string]float64
	orders map[string]common.OpenOrder // client order id -> order
	fail   []error                     // scripted failures, consumed FIFO
}

// New creates a simulated adapter.
func New(cfg Config) *Adapter {
	if cfg.Name == "" {
		cfg.Name = "sim"
	}
	min, max := cfg.LatencyMinMs, cfg.LatencyMaxMs
	if max > 0 && min > max {
		cfg.LatencyMinMs, cfg.LatencyMaxMs = max, min
	}
	return &Adapter{
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		prices: make(map[string]float64),
		orders: make(map[string]common.OpenOrder),
	}
}

// SetPrice sets the mark price used to fill market orders for a symbol.
func (a *Adapter) SetPrice(symbol string, price float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.prices[symbol] = price
}

// FailNext scripts errors to be returned by the next PlaceOrder calls, in
// order. Tests use this to exercise retry and breaker paths.
func (a *Adapter) FailNext(errs ...error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fail = append(a.fail, errs...)
}

func (a *Adapter) sleepLatency(ctx context.Context) error {
	if a.cfg.LatencyMaxMs <= 0 {
		return nil
	}
	span := a.cfg.LatencyMaxMs - a.cfg.LatencyMinMs
	delay := a.cfg.LatencyMinMs
	if span > 0 {
		delay += a.rng.Intn(span + 1)
	}
	select {
	case <-time.After(time.Duration(delay) * time.Millisecond):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PlaceOrder fills market orders immediately and rests limit orders.
// Resubmitting a known ClientOrderID returns the original ack instead of
// placing a second order, mirroring exchange-side idempotency.
func (a *Adapter) PlaceOrder(ctx context.Context, req common.OrderRequest) (common.OrderAck, error) {
	if err := a.sleepLatency(ctx); err != nil {
		return common.OrderAck{}, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.fail) > 0 {
		err := a.fail[0]
		a.fail = a.fail[1:]
		return common.OrderAck{}, err
	}

	if req.ClientOrderID != "" {
		if existing, ok := a.orders[req.ClientOrderID]; ok {
			return common.OrderAck{
				ExchangeOrderID: existing.ExchangeOrderID,
				ClientOrderID:   existing.ClientOrderID,
				Status:          existing.Status,
				FilledQty:       existing.FilledQty,
				AvgPrice:        existing.Price,
			}, nil
		}
	}

	if req.Qty <= 0 {
		return common.OrderAck{}, &common.APIError{
			Exchange: a.cfg.Name, Status: 400, Code: "INVALID_QTY",
			Message: fmt.Sprintf("quantity %.8f must be positive", req.Qty),
		}
	}

	price := req.Price
	status := common.StatusNew
	filled := 0.0

	switch req.Type {
	case common.OrderTypeMarket:
		mark, ok := a.prices[req.Symbol]
		if !ok {
			return common.OrderAck{}, &common.APIError{
				Exchange: a.cfg.Name, Status: 400, Code: "UNKNOWN_SYMBOL",
				Message: "no mark price for " + req.Symbol,
			}
		}
		noise := a.rng.Float64() * a.cfg.SlippageBps / 10000.0
		if req.Side == common.SideBuy {
			price = mark * (1 + noise)
		} else {
			price = mark * (1 - noise)
		}
		status = common.StatusFilled
		filled = req.Qty
	case common.OrderTypeLimit, common.OrderTypeStop:
		if price <= 0 && req.Type == common.OrderTypeLimit {
			return common.OrderAck{}, &common.APIError{
				Exchange: a.cfg.Name, Status: 400, Code: "INVALID_PRICE",
				Message: "limit order requires a price",
			}
		}
	default:
		return common.OrderAck{}, &common.APIError{
			Exchange: a.cfg.Name, Status: 400, Code: "INVALID_TYPE",
			Message: "unsupported order type " + string(req.Type),
		}
	}

	o := common.OpenOrder{
		ExchangeOrderID: uuid.NewString(),
		ClientOrderID:   req.ClientOrderID,
		Symbol:          req.Symbol,
		Side:            req.Side,
		Type:            req.Type,
		Qty:             req.Qty,
		FilledQty:       filled,
		Price:           price,
		Status:          status,
	}
	if req.ClientOrderID != "" {
		a.orders[req.ClientOrderID] = o
	}

	return common.OrderAck{
		ExchangeOrderID: o.ExchangeOrderID,
		ClientOrderID:   o.ClientOrderID,
		Status:          o.Status,
		FilledQty:       o.FilledQty,
		AvgPrice:        price,
	}, nil
}

// CancelOrder removes a resting order.
func (a *Adapter) CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error {
	if err := a.sleepLatency(ctx); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for id, o := range a.orders {
		if o.ExchangeOrderID == exchangeOrderID && o.Symbol == symbol {
			o.Status = common.StatusCanceled
			a.orders[id] = o
			return nil
		}
	}
	return &common.APIError{
		Exchange: a.cfg.Name, Status: 404, Code: "ORDER_NOT_FOUND",
		Message: "no order " + exchangeOrderID,
	}
}

// GetOrderStatus looks up an order by its client order id.
func (a *Adapter) GetOrderStatus(ctx context.Context, symbol, clientOrderID string) (common.OrderAck, error) {
	if err := a.sleepLatency(ctx); err != nil {
		return common.OrderAck{}, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	o, ok := a.orders[clientOrderID]
	if !ok || o.Symbol != symbol {
		return common.OrderAck{}, &common.APIError{
			Exchange: a.cfg.Name, Status: 404, Code: "ORDER_NOT_FOUND",
			Message: "no order " + clientOrderID,
		}
	}
	return common.OrderAck{
		ExchangeOrderID: o.ExchangeOrderID,
		ClientOrderID:   o.ClientOrderID,
		Status:          o.Status,
		FilledQty:       o.FilledQty,
		AvgPrice:        o.Price,
	}, nil
}

// GetOpenOrders lists resting (unfilled, uncanceled) orders for a symbol.
func (a *Adapter) GetOpenOrders(ctx context.Context, symbol string) ([]common.OpenOrder, error) {
	if err := a.sleepLatency(ctx); err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	var out []common.OpenOrder
	for _, o := range a.orders {
		if o.Symbol == symbol && o.Status == common.StatusNew {
			out = append(out, o)
		}
	}
	return out, nil
}
