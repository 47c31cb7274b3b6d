package risk

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"

	"tradeguard/internal/events"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Manager validates proposed orders against the configured limits and keeps
// the live risk metrics those checks read. Limits are swapped as a whole on
// reload; a concurrent Validate sees either the old or the new set, never a
// mix.
type Manager struct {
	db  *sql.DB
	bus events.Publisher

	limits atomic.Pointer[Limits]

	mu            sync.Mutex
	positions     map[string]*position
	day           string
	dailyRealized float64
	realizedTotal float64
	peakEquity    float64
	dailyHistory  []float64 // closed daily PnL, newest last, bounded
}

type position struct {
	qty  float64 // signed, positive = long
	avg  float64 // average entry price
	mark float64 // last known price
}

const historyDays = 30

// NewManager creates a manager backed by the DB. If no limits row exists it
// persists DefaultLimits.
func NewManager(db *sql.DB, bus events.Publisher) (*Manager, error) {
	m := &Manager{
		db:        db,
		bus:       bus,
		positions: make(map[string]*position),
		day:       time.Now().Format("2006-01-02"),
	}

	limits, err := m.loadLimits()
	if err == sql.ErrNoRows {
		limits = DefaultLimits()
		if err := m.persistLimits(context.Background(), limits); err != nil {
			return nil, fmt.Errorf("persist default risk limits: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("load risk limits: %w", err)
	}
	m.limits.Store(&limits)

	log.Printf("Risk manager initialized: max_position=%.0f max_daily_loss=%.0f max_drawdown=%.0f%%",
		limits.MaxPositionSize, limits.MaxDailyLoss, limits.MaxDrawdownPct*100)
	return m, nil
}

// NewInMemory creates a manager without DB persistence.
func NewInMemory(limits Limits, bus events.Publisher) *Manager {
	m := &Manager{
		bus:       bus,
		positions: make(map[string]*position),
		day:       time.Now().Format("2006-01-02"),
	}
	m.limits.Store(&limits)
	return m
}

func (m *Manager) loadLimits() (Limits, error) {
	var limits Limits
	if m.db == nil {
		return limits, sql.ErrNoRows
	}
	var payload string
	err := m.db.QueryRow(`SELECT payload FROM risk_limits ORDER BY updated_at DESC, id DESC LIMIT 1`).Scan(&payload)
	if err != nil {
		return limits, err
	}
	if err := json.UnmarshalFromString(payload, &limits); err != nil {
		return limits, fmt.Errorf("decode risk limits: %w", err)
	}
	return limits, nil
}

func (m *Manager) persistLimits(ctx context.Context, limits Limits) error {
	if m.db == nil {
		return nil
	}
	payload, err := json.MarshalToString(limits)
	if err != nil {
		return err
	}
	_, err = m.db.ExecContext(ctx,
		`INSERT INTO risk_limits (payload, updated_at) VALUES (?, CURRENT_TIMESTAMP)`, payload)
	return err
}

// Limits returns a copy of the active limits.
func (m *Manager) Limits() Limits {
	return *m.limits.Load()
}

// ReloadLimits validates and atomically applies a new limit set. On a
// malformed set the previous limits stay active and an alert is emitted;
// nothing is ever partially applied.
func (m *Manager) ReloadLimits(ctx context.Context, limits Limits) error {
	if err := limits.Validate(); err != nil {
		m.publish(events.EventRiskAlert, "", map[string]any{
			"reason": "limits reload rejected",
			"error":  err.Error(),
		})
		return fmt.Errorf("reload limits: %w", err)
	}

	if err := m.persistLimits(ctx, limits); err != nil {
		return fmt.Errorf("persist limits: %w", err)
	}
	m.limits.Store(&limits)

	m.publish(events.EventRiskReloaded, "", map[string]any{
		"max_position_size": limits.MaxPositionSize,
		"max_daily_loss":    limits.MaxDailyLoss,
		"max_drawdown_pct":  limits.MaxDrawdownPct,
		"per_symbol":        len(limits.PerSymbol),
	})
	log.Printf("Risk limits reloaded: max_position=%.0f max_daily_loss=%.0f", limits.MaxPositionSize, limits.MaxDailyLoss)
	return nil
}

// Validate checks a proposal against the active limits, short-circuiting on
// the first breach. Risk-reducing orders pass the daily-loss and drawdown
// gates even when those limits are breached: a tripped loss limit must not
// trap an open position.
func (m *Manager) Validate(p Proposal) (Approved, error) {
	limits := *m.limits.Load()
	eff := limits.forSymbol(p.Symbol)

	m.mu.Lock()
	m.rolloverLocked()
	snap := m.snapshotLocked()
	current := 0.0
	if pos, ok := m.positions[p.Symbol]; ok {
		current = pos.qty
	}
	m.mu.Unlock()

	price := p.Price
	if price <= 0 {
		price = m.markPrice(p.Symbol)
	}

	delta := p.Quantity
	if strings.EqualFold(p.Side, "SELL") {
		delta = -p.Quantity
	}
	projected := current + delta
	reducing := math.Abs(projected) < math.Abs(current)

	// 1. Position size: projected exposure after the order.
	projectedNotional := math.Abs(projected) * price
	if eff.MaxPositionSize > 0 && projectedNotional > eff.MaxPositionSize {
		return Approved{}, m.reject(p, events.EventRiskAlert, &Violation{
			Limit:     "max_position_size",
			Observed:  projectedNotional,
			Threshold: eff.MaxPositionSize,
		})
	}

	// 2. Daily loss. Only risk-increasing orders are blocked.
	if eff.MaxDailyLoss > 0 && snap.DailyPnL <= -eff.MaxDailyLoss && !reducing {
		return Approved{}, m.reject(p, events.EventRiskEscalation, &Violation{
			Limit:     "max_daily_loss",
			Observed:  -snap.DailyPnL,
			Threshold: eff.MaxDailyLoss,
		})
	}

	// 3. Drawdown. Same asymmetry as the daily-loss gate.
	if eff.MaxDrawdownPct > 0 && snap.CurrentDrawdown >= eff.MaxDrawdownPct && !reducing {
		return Approved{}, m.reject(p, events.EventRiskEscalation, &Violation{
			Limit:     "max_drawdown_pct",
			Observed:  snap.CurrentDrawdown,
			Threshold: eff.MaxDrawdownPct,
		})
	}

	// 4. Market entries need a stop attached.
	if eff.StopLossRequired && strings.EqualFold(p.OrderType, "MARKET") && !reducing && p.StopPrice <= 0 {
		return Approved{}, m.reject(p, events.EventRiskAlert, &Violation{
			Limit:  "stop_loss_required",
			Detail: "market entry order without stop-loss",
		})
	}

	return Approved{Proposal: p, Snapshot: snap}, nil
}

func (m *Manager) reject(p Proposal, event events.Event, v *Violation) error {
	m.publish(event, "", map[string]any{
		"limit":     v.Limit,
		"observed":  v.Observed,
		"threshold": v.Threshold,
		"detail":    v.Detail,
		"symbol":    p.Symbol,
		"side":      p.Side,
		"quantity":  p.Quantity,
	})
	log.Printf("Risk rejected %s %s %.6f: %v", p.Side, p.Symbol, p.Quantity, v)
	return v
}

// RecordFill updates positions and realized PnL for an executed fill.
// fee is charged against the day's PnL.
func (m *Manager) RecordFill(symbol, side string, qty, price, fee float64) {
	if qty <= 0 || price <= 0 {
		return
	}
	delta := qty
	if strings.EqualFold(side, "SELL") {
		delta = -qty
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.rolloverLocked()

	pos, ok := m.positions[symbol]
	if !ok {
		pos = &position{}
		m.positions[symbol] = pos
	}
	pos.mark = price

	switch {
	case pos.qty == 0 || (pos.qty > 0) == (delta > 0):
		// Opening or adding: blend the average entry.
		total := math.Abs(pos.qty) + math.Abs(delta)
		pos.avg = (pos.avg*math.Abs(pos.qty) + price*math.Abs(delta)) / total
		pos.qty += delta
	default:
		// Reducing, closing, or flipping: realize PnL on the closed part.
		closed := math.Min(math.Abs(delta), math.Abs(pos.qty))
		direction := 1.0
		if pos.qty < 0 {
			direction = -1.0
		}
		realized := direction * (price - pos.avg) * closed
		m.dailyRealized += realized
		m.realizedTotal += realized

		pos.qty += delta
		if pos.qty == 0 {
			pos.avg = 0
		} else if (pos.qty > 0) != (direction > 0) {
			// Flipped through zero: the remainder is a new position at this price.
			pos.avg = price
		}
	}

	m.dailyRealized -= fee
	m.realizedTotal -= fee

	if equity := m.equityLocked(); equity > m.peakEquity {
		m.peakEquity = equity
	}
	if pos.qty == 0 {
		delete(m.positions, symbol)
	}
}

// MarkPrice records the latest price for a symbol, moving unrealized PnL and
// drawdown.
func (m *Manager) MarkPrice(symbol string, price float64) {
	if price <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.positions[symbol]
	if !ok {
		m.positions[symbol] = &position{mark: price}
		return
	}
	pos.mark = price
	if equity := m.equityLocked(); equity > m.peakEquity {
		m.peakEquity = equity
	}
}

func (m *Manager) markPrice(symbol string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pos, ok := m.positions[symbol]; ok {
		return pos.mark
	}
	return 0
}

// Snapshot returns the current risk metrics.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rolloverLocked()
	return m.snapshotLocked()
}

// ResetDaily closes out the current day's counters. Normally driven by the
// day rollover inside Validate/RecordFill; exposed for operational use.
func (m *Manager) ResetDaily() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeDayLocked(time.Now().Format("2006-01-02"))
}

// rolloverLocked closes the previous day's PnL when the date has changed.
func (m *Manager) rolloverLocked() {
	today := time.Now().Format("2006-01-02")
	if today != m.day {
		m.closeDayLocked(today)
	}
}

func (m *Manager) closeDayLocked(today string) {
	log.Printf("Daily risk rollover: pnl=%.2f", m.dailyRealized)
	m.dailyHistory = append(m.dailyHistory, m.dailyRealized)
	if len(m.dailyHistory) > historyDays {
		m.dailyHistory = m.dailyHistory[len(m.dailyHistory)-historyDays:]
	}
	m.dailyRealized = 0
	m.day = today
}

func (m *Manager) equityLocked() float64 {
	equity := m.realizedTotal
	for _, pos := range m.positions {
		if pos.qty != 0 && pos.mark > 0 {
			equity += (pos.mark - pos.avg) * pos.qty
		}
	}
	return equity
}

func (m *Manager) snapshotLocked() Snapshot {
	unrealized := 0.0
	exposure := make(map[string]float64, len(m.positions))
	for symbol, pos := range m.positions {
		if pos.qty == 0 {
			continue
		}
		exposure[symbol] = math.Abs(pos.qty) * pos.mark
		if pos.mark > 0 {
			unrealized += (pos.mark - pos.avg) * pos.qty
		}
	}

	equity := m.realizedTotal + unrealized
	drawdown := 0.0
	if m.peakEquity > 0 && equity < m.peakEquity {
		drawdown = (m.peakEquity - equity) / m.peakEquity
	}

	mean, std := meanStd(m.dailyHistory)
	sharpe := 0.0
	if std > 0 {
		sharpe = mean / std * math.Sqrt(365)
	}
	// Parametric 1-day VaR at 95% from the daily PnL series.
	var1d := 1.65 * std

	return Snapshot{
		CurrentDrawdown: drawdown,
		DailyPnL:        m.dailyRealized + unrealized,
		OpenExposure:    exposure,
		VaR1Day:         var1d,
		SharpeRatio:     sharpe,
		Timestamp:       time.Now(),
	}
}

func meanStd(xs []float64) (mean, std float64) {
	if len(xs) < 2 {
		return 0, 0
	}
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	variance := 0.0
	for _, x := range xs {
		variance += (x - mean) * (x - mean)
	}
	variance /= float64(len(xs) - 1)
	return mean, math.Sqrt(variance)
}

func (m *Manager) publish(e events.Event, correlationID string, payload map[string]any) {
	if m.bus != nil {
		m.bus.Publish(e, correlationID, payload)
	}
}
