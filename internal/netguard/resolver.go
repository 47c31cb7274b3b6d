package netguard

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownEndpoint means a logical name has no entry in the endpoint map.
// This is a fatal configuration error: the process must refuse to start with
// an incomplete map instead of discovering the hole at call time.
var ErrUnknownEndpoint = errors.New("unknown endpoint")

// EndpointKey identifies the concrete endpoint behind a logical operation.
// It selects the limiter bucket and breaker for the call.
type EndpointKey struct {
	Exchange string
	Method   string
	Path     string
}

// Resolver maps logical operation names to endpoint keys. Names follow
// "<exchange>:<operation>" (looked up in the endpoint map) or the explicit
// "<exchange>:<method>:<path>" form. Resolution is a static lookup; the map
// never changes after startup.
type Resolver struct {
	endpoints map[string]EndpointKey
}

// NewResolver builds a resolver from a loaded endpoint map.
func NewResolver(m *EndpointMap) *Resolver {
	r := &Resolver{endpoints: make(map[string]EndpointKey)}
	if m == nil {
		return r
	}
	for exchange, ops := range m.Exchanges {
		exchange = strings.ToLower(exchange)
		for op, spec := range ops {
			r.endpoints[exchange+":"+strings.ToLower(op)] = EndpointKey{
				Exchange: exchange,
				Method:   strings.ToUpper(spec.Method),
				Path:     spec.Path,
			}
		}
	}
	return r
}

// Resolve returns the endpoint key for a logical name.
func (r *Resolver) Resolve(name string) (EndpointKey, error) {
	lower := strings.ToLower(name)
	parts := strings.SplitN(lower, ":", 3)

	switch len(parts) {
	case 3:
		if parts[0] == "" || parts[2] == "" {
			return EndpointKey{}, fmt.Errorf("%w: %q", ErrUnknownEndpoint, name)
		}
		return EndpointKey{
			Exchange: parts[0],
			Method:   strings.ToUpper(parts[1]),
			Path:     parts[2],
		}, nil
	case 2:
		key, ok := r.endpoints[lower]
		if !ok {
			return EndpointKey{}, fmt.Errorf("%w: %q", ErrUnknownEndpoint, name)
		}
		return key, nil
	default:
		return EndpointKey{}, fmt.Errorf("%w: %q (want exchange:operation)", ErrUnknownEndpoint, name)
	}
}

// ValidateNames resolves every name and collects all failures. Run at
// startup; a non-nil result must abort boot.
func (r *Resolver) ValidateNames(names ...string) error {
	var errs []error
	for _, name := range names {
		if _, err := r.Resolve(name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
