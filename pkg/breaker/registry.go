package breaker

import "sync"

// Registry holds one Breaker per exchange for the process lifetime, created
// lazily with race-free get-or-insert.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewRegistry creates an empty breaker registry.
func NewRegistry() *Registry {
	return &Registry{breakers: make(map[string]*Breaker)}
}

// GetOrCreate returns the breaker for the exchange, creating it with cfg on
// first use. The second result reports whether this call created it, so the
// caller can attach hooks exactly once.
func (r *Registry) GetOrCreate(exchange string, cfg Config) (*Breaker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[exchange]; ok {
		return b, false
	}
	b := New(cfg)
	r.breakers[exchange] = b
	return b, true
}

// Get returns the breaker for the exchange, or nil when none exists.
func (r *Registry) Get(exchange string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.breakers[exchange]
}

// States returns a snapshot of every breaker's state, keyed by exchange.
func (r *Registry) States() map[string]State {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]State, len(r.breakers))
	for ex, b := range r.breakers {
		out[ex] = b.State()
	}
	return out
}
