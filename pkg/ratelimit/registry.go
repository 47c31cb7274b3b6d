package ratelimit

import "sync"

// Registry holds one Bucket per key for the process lifetime. Buckets are
// created lazily; get-or-create is race-free, so two simultaneous first uses
// of a key observe the same instance.
type Registry struct {
	mu      sync.Mutex
	buckets map[string]*Bucket
}

// NewRegistry creates an empty bucket registry.
func NewRegistry() *Registry {
	return &Registry{buckets: make(map[string]*Bucket)}
}

// GetOrCreate returns the bucket for key, creating it with the given
// definition on first use. Later calls ignore rate/capacity; the first caller
// wins.
func (r *Registry) GetOrCreate(key string, ratePerSec, capacity float64) *Bucket {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.buckets[key]; ok {
		return b
	}
	b := NewBucket(ratePerSec, capacity)
	r.buckets[key] = b
	return b
}

// Get returns the bucket for key, or nil when none exists yet.
func (r *Registry) Get(key string) *Bucket {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buckets[key]
}

// Len reports the number of live buckets.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buckets)
}
