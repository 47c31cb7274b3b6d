package events

import "context"

type correlationKey struct{}

// WithCorrelationID stamps a logical operation id onto the context so lower
// layers (the net guard) can tag their events without threading the id
// through every signature.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID extracts the id stamped by WithCorrelationID, or "".
func CorrelationID(ctx context.Context) string {
	if v, ok := ctx.Value(correlationKey{}).(string); ok {
		return v
	}
	return ""
}
