// Package circuitbreaker shields the signal gateway from providers that
// keep failing. Each provider gets its own circuit: consecutive failures
// trip it open, and after a cooldown one trial call decides whether it
// closes again.
package circuitbreaker

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// State is the condition of one provider's circuit.
type State int

const (
	Closed   State = iota // calls flow through
	Open                  // calls are refused until the cooldown passes
	HalfOpen              // one trial call is in flight
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

var transitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "intent_orchestrator",
	Subsystem: "circuitbreaker",
	Name:      "state_transitions_total",
	Help:      "Circuit state transitions by provider, from-state, and to-state.",
}, []string{"provider", "from_state", "to_state"})

func init() {
	prometheus.MustRegister(transitionsTotal)
}

type circuit struct {
	state    State
	strikes  int
	openedAt time.Time
}

// Breaker holds one circuit per provider. The zero value is not usable;
// construct with New.
type Breaker struct {
	mu           sync.Mutex
	circuits     map[string]*circuit
	threshold    int
	cooldown     time.Duration
	onTransition func(provider string, from, to State)
}

// New creates a breaker that opens a provider's circuit after threshold
// consecutive failures and keeps it open for cooldown before trialing.
func New(threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{
		circuits:  make(map[string]*circuit),
		threshold: threshold,
		cooldown:  cooldown,
	}
}

// OnTransition registers a callback fired whenever a provider's circuit
// changes state. The callback runs on its own goroutine.
func (b *Breaker) OnTransition(fn func(provider string, from, to State)) {
	b.mu.Lock()
	b.onTransition = fn
	b.mu.Unlock()
}

// Allow reports whether a call to provider may proceed. An open circuit
// whose cooldown has passed moves to half-open and admits one trial.
func (b *Breaker) Allow(provider string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[provider]
	if !ok {
		return true
	}
	switch c.state {
	case Open:
		if time.Since(c.openedAt) < b.cooldown {
			return false
		}
		b.shift(provider, c, HalfOpen)
		return true
	case HalfOpen:
		// The trial call is still out.
		return false
	default:
		return true
	}
}

// Observe feeds a call outcome back into provider's circuit. A success
// clears the strike count and closes a half-open circuit; a failure adds
// a strike and trips the circuit at the threshold.
func (b *Breaker) Observe(provider string, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, found := b.circuits[provider]
	if !found {
		if ok {
			return
		}
		c = &circuit{}
		b.circuits[provider] = c
	}

	if ok {
		c.strikes = 0
		if c.state == HalfOpen {
			b.shift(provider, c, Closed)
		}
		return
	}

	c.strikes++
	c.openedAt = time.Now()
	switch {
	case c.state == HalfOpen:
		// Trial failed.
		b.shift(provider, c, Open)
	case c.state == Closed && c.strikes >= b.threshold:
		b.shift(provider, c, Open)
	}
}

// Current returns the state of provider's circuit.
func (b *Breaker) Current(provider string) State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if c, ok := b.circuits[provider]; ok {
		return c.state
	}
	return Closed
}

// shift records a state change. Caller holds b.mu.
func (b *Breaker) shift(provider string, c *circuit, to State) {
	from := c.state
	if from == to {
		return
	}
	c.state = to
	transitionsTotal.WithLabelValues(provider, from.String(), to.String()).Inc()
	if b.onTransition != nil {
		go b.onTransition(provider, from, to)
	}
}
