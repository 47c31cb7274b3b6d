package common

import "context"

// Adapter abstracts a trading venue. Implementations are black boxes invoked
// only through the net guard; they must honor ctx deadlines on every call.
type Adapter interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderAck, error)
	CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error
	GetOrderStatus(ctx context.Context, symbol, clientOrderID string) (OrderAck, error)
	GetOpenOrders(ctx context.Context, symbol string) ([]OpenOrder, error)
}
