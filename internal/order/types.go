package order

import (
	"fmt"
	"hash/fnv"
	"time"
)

// Intent is an immutable request to place one order. It is consumed exactly
// once; resubmitting an identical intent (same derived client order ID) is
// deduplicated instead of placed twice.
type Intent struct {
	StrategyID string
	BotID      string
	Exchange   string
	Symbol     string
	Side       string // BUY or SELL
	OrderType  string // MARKET, LIMIT, STOP
	Quantity   float64
	LimitPrice float64
	StopPrice  float64

	// Seq is the caller's monotonic sequence number. With a nonzero Seq the
	// derived client order ID is deterministic, so a resubmission after a
	// crash maps onto the same key.
	Seq uint64

	// ClientOrderID may be pre-assigned; when empty the service derives it.
	ClientOrderID string
}

// ClientID returns the intent's idempotency key, deriving one from the
// intent fields and sequence number when none was pre-assigned.
func (in Intent) ClientID() string {
	if in.ClientOrderID != "" {
		return in.ClientOrderID
	}
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%s|%s|%s|%s|%s|%.10f|%.10f|%.10f|%d",
		in.StrategyID, in.BotID, in.Exchange, in.Symbol, in.Side, in.OrderType,
		in.Quantity, in.LimitPrice, in.StopPrice, in.Seq)
	return fmt.Sprintf("tg-%016x", h.Sum64())
}

// State is the per-intent lifecycle position. RECEIVED is initial; the
// result statuses below are the terminal states.
type State string

const (
	StateReceived    State = "RECEIVED"
	StateRiskChecked State = "RISK_CHECKED"
	StateSubmitting  State = "SUBMITTING"
)

// ResultStatus is the terminal outcome of a submission.
type ResultStatus string

const (
	StatusAccepted    ResultStatus = "ACCEPTED"
	StatusRejected    ResultStatus = "REJECTED"     // risk violation, never reached the network
	StatusFailed      ResultStatus = "FAILED"       // exchange rejection or retry exhaustion
	StatusRateLimited ResultStatus = "RATE_LIMITED" // limiter or open circuit, caller may retry later
)

// Result is produced exactly once per intent and is immutable afterwards.
type Result struct {
	ClientOrderID   string       `json:"client_order_id"`
	ExchangeOrderID string       `json:"exchange_order_id,omitempty"`
	Status          ResultStatus `json:"status"`
	FilledQuantity  float64      `json:"filled_quantity"`
	AveragePrice    float64      `json:"average_price"`
	Error           string       `json:"error,omitempty"`
	LatencyMS       float64      `json:"latency_ms"`

	// Duplicate marks a result returned to a second submission of the same
	// client order ID. The underlying exchange order was placed at most once.
	Duplicate bool `json:"duplicate,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
