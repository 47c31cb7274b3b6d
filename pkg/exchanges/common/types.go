package common

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType denotes basic order types.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeStop   OrderType = "STOP"
)

// OrderStatus normalizes exchange status into a small set.
type OrderStatus string

const (
	StatusNew      OrderStatus = "NEW"
	StatusPartial  OrderStatus = "PARTIAL"
	StatusFilled   OrderStatus = "FILLED"
	StatusCanceled OrderStatus = "CANCELED"
	StatusRejected OrderStatus = "REJECTED"
	StatusUnknown  OrderStatus = "UNKNOWN"
)

// OrderRequest captures an order to be sent to an exchange. ClientOrderID is
// the exchange-level idempotency token; resubmitting the same id must not
// place a second order.
type OrderRequest struct {
	Symbol        string
	Side          Side
	Type          OrderType
	Qty           float64
	Price         float64 // required for LIMIT
	StopPrice     float64 // required for STOP
	ClientOrderID string
}

// OrderAck returns the exchange acknowledgement, normalized.
type OrderAck struct {
	ExchangeOrderID string
	ClientOrderID   string
	Status          OrderStatus
	FilledQty       float64
	AvgPrice        float64
}

// OpenOrder describes one resting order on the exchange.
type OpenOrder struct {
	ExchangeOrderID string
	ClientOrderID   string
	Symbol          string
	Side            Side
	Type            OrderType
	Qty             float64
	FilledQty       float64
	Price           float64
	Status          OrderStatus
}
