package risk

import (
	"fmt"
	"time"
)

// Limits defines the hard risk boundaries the manager enforces. A per-symbol
// entry fully replaces the global values for that symbol, it is not merged
// field by field.
type Limits struct {
	MaxPositionSize  float64 `json:"max_position_size"` // notional, quote currency
	MaxDailyLoss     float64 `json:"max_daily_loss"`
	MaxDrawdownPct   float64 `json:"max_drawdown_pct"` // 0.2 = 20%
	StopLossRequired bool    `json:"stop_loss_required"`

	PerSymbol map[string]SymbolLimits `json:"per_symbol,omitempty"`
}

// SymbolLimits overrides the global limits for one symbol.
type SymbolLimits struct {
	MaxPositionSize  float64 `json:"max_position_size"`
	MaxDailyLoss     float64 `json:"max_daily_loss"`
	MaxDrawdownPct   float64 `json:"max_drawdown_pct"`
	StopLossRequired bool    `json:"stop_loss_required"`
}

// DefaultLimits returns conservative starting limits.
func DefaultLimits() Limits {
	return Limits{
		MaxPositionSize:  10000.0,
		MaxDailyLoss:     2000.0,
		MaxDrawdownPct:   0.20,
		StopLossRequired: true,
	}
}

// Validate rejects limits a reload must never apply.
func (l Limits) Validate() error {
	if l.MaxPositionSize < 0 {
		return fmt.Errorf("max_position_size must be non-negative, got %.2f", l.MaxPositionSize)
	}
	if l.MaxDailyLoss < 0 {
		return fmt.Errorf("max_daily_loss must be non-negative, got %.2f", l.MaxDailyLoss)
	}
	if l.MaxDrawdownPct < 0 {
		return fmt.Errorf("max_drawdown_pct must be non-negative, got %.4f", l.MaxDrawdownPct)
	}
	for symbol, sl := range l.PerSymbol {
		if sl.MaxPositionSize < 0 || sl.MaxDailyLoss < 0 || sl.MaxDrawdownPct < 0 {
			return fmt.Errorf("per-symbol limits for %s must be non-negative", symbol)
		}
	}
	return nil
}

// forSymbol resolves the effective limits for a symbol. An override replaces
// the globals entirely.
func (l Limits) forSymbol(symbol string) SymbolLimits {
	if sl, ok := l.PerSymbol[symbol]; ok {
		return sl
	}
	return SymbolLimits{
		MaxPositionSize:  l.MaxPositionSize,
		MaxDailyLoss:     l.MaxDailyLoss,
		MaxDrawdownPct:   l.MaxDrawdownPct,
		StopLossRequired: l.StopLossRequired,
	}
}

// Violation is the rejection returned by Validate. It names the breached
// limit with the observed value so the caller and the audit trail can see
// exactly why the order never left the process.
type Violation struct {
	Limit     string  `json:"limit"`
	Observed  float64 `json:"observed"`
	Threshold float64 `json:"threshold"`
	Detail    string  `json:"detail,omitempty"`
}

func (v *Violation) Error() string {
	if v.Detail != "" {
		return fmt.Sprintf("risk violation: %s (%s)", v.Limit, v.Detail)
	}
	return fmt.Sprintf("risk violation: %s observed=%.2f limit=%.2f", v.Limit, v.Observed, v.Threshold)
}

// Proposal is the manager's view of an order about to be placed. The
// execution service builds one from each intent before calling Validate.
type Proposal struct {
	Symbol    string
	Side      string // BUY or SELL
	OrderType string // MARKET, LIMIT, STOP
	Quantity  float64
	Price     float64 // limit price, or mark price for market orders
	StopPrice float64 // zero when no stop attached
}

// Snapshot is the read-mostly risk state at a point in time. One is attached
// to every approval so a rejected-vs-approved decision can be replayed later.
type Snapshot struct {
	CurrentDrawdown float64            `json:"current_drawdown"`
	DailyPnL        float64            `json:"daily_pnl"`
	OpenExposure    map[string]float64 `json:"open_exposure_by_symbol"`
	VaR1Day         float64            `json:"var_1day"`
	SharpeRatio     float64            `json:"sharpe_ratio"`
	Timestamp       time.Time          `json:"timestamp"`
}

// Approved carries the validated proposal plus the snapshot it was judged
// against.
type Approved struct {
	Proposal Proposal
	Snapshot Snapshot
}
