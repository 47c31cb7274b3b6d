package breaker

import (
	"sync"
	"time"
)

// State is the circuit breaker state.
type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

// Config defines failure and recovery thresholds for one exchange.
type Config struct {
	FailureThreshold int           // consecutive failures before opening
	Cooldown         time.Duration // initial OPEN duration
	MaxCooldown      time.Duration // cap for the exponential backoff
}

// DefaultConfig mirrors the defaults used for exchange REST endpoints.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		MaxCooldown:      5 * time.Minute,
	}
}

func (c *Config) sanitize() {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
	if c.MaxCooldown < c.Cooldown {
		c.MaxCooldown = c.Cooldown
	}
}

// Breaker tracks consecutive failures for one exchange and gates calls while
// the exchange is unhealthy. The state machine is cyclic: CLOSED -> OPEN on
// sustained failures, OPEN -> HALF_OPEN after the cooldown, HALF_OPEN admits
// exactly one trial and either closes or re-opens with a doubled cooldown.
type Breaker struct {
	mu sync.Mutex

	cfg      Config
	state    State
	failures int
	openedAt time.Time
	cooldown time.Duration
	trial    bool // a HALF_OPEN trial call is in flight

	// onTransition, when set, fires outside the hot path decisions but under
	// the breaker lock; keep it cheap.
	onTransition func(from, to State)
}

// New creates a breaker in the CLOSED state.
func New(cfg Config) *Breaker {
	cfg.sanitize()
	return &Breaker{
		cfg:      cfg,
		state:    StateClosed,
		cooldown: cfg.Cooldown,
	}
}

// OnTransition registers a hook invoked on every state change.
func (b *Breaker) OnTransition(fn func(from, to State)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onTransition = fn
}

func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if b.onTransition != nil {
		b.onTransition(from, to)
	}
}

// Allow reports whether a call may proceed. While OPEN it rejects until the
// cooldown elapses, then moves to HALF_OPEN and admits a single trial; further
// callers are rejected until the trial resolves.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(b.openedAt) < b.cooldown {
			return false
		}
		b.transition(StateHalfOpen)
		b.trial = true
		return true
	case StateHalfOpen:
		if b.trial {
			return false
		}
		b.trial = true
		return true
	}
	return false
}

// RecordSuccess resets the failure counter, restores the base cooldown, and
// closes the circuit after a successful HALF_OPEN trial.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.trial = false
	b.cooldown = b.cfg.Cooldown
	if b.state != StateClosed {
		b.transition(StateClosed)
	}
}

// RecordFailure counts one failure. In CLOSED it opens once the threshold is
// reached; in HALF_OPEN it re-opens immediately with the cooldown doubled up
// to the configured max. Callers must not report 4xx-class rejections here;
// those are caller bugs, not exchange health signals.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	switch b.state {
	case StateClosed:
		if b.failures >= b.cfg.FailureThreshold {
			b.openedAt = time.Now()
			b.transition(StateOpen)
		}
	case StateHalfOpen:
		b.trial = false
		b.openedAt = time.Now()
		b.cooldown *= 2
		if b.cooldown > b.cfg.MaxCooldown {
			b.cooldown = b.cfg.MaxCooldown
		}
		b.transition(StateOpen)
	case StateOpen:
		// Failures while already open (e.g. queued attempts) keep it open.
		b.openedAt = time.Now()
	}
}

// State returns the current state, accounting for an elapsed cooldown.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && time.Since(b.openedAt) >= b.cooldown {
		return StateHalfOpen
	}
	return b.state
}

// Failures returns the consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// CurrentCooldown returns the active cooldown duration. Monitoring only.
func (b *Breaker) CurrentCooldown() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cooldown
}
