// Package circuitbreaker sheds load from failing upstreams. The scoring
// client wraps its HTTP calls in a breaker so a dead risk-scoring service
// degrades submissions to flag-for-review instead of stalling every request
// on a connect timeout.
package circuitbreaker

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// State is the position of a single upstream's circuit.
type State int

const (
	StateClosed   State = iota // Normal: calls flow through
	StateOpen                  // Tripped: calls are rejected without trying
	StateHalfOpen              // Probing: one call allowed to test recovery
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

var stateTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "secureflow",
	Subsystem: "circuitbreaker",
	Name:      "state_transitions_total",
	Help:      "Circuit breaker state transitions by upstream, from-state, and to-state.",
}, []string{"upstream", "from_state", "to_state"})

func init() {
	prometheus.MustRegister(stateTransitions)
}

// circuit holds the breaker state for one upstream.
type circuit struct {
	state       State
	failures    int
	lastFailure time.Time
}

// Breaker tracks consecutive failures per upstream and trips open once they
// reach the threshold. An open circuit rejects calls for openDuration, then
// moves to half-open and lets exactly one probe through; the probe's outcome
// decides whether the circuit closes or re-opens.
type Breaker struct {
	mu           sync.Mutex
	circuits     map[string]*circuit
	threshold    int
	openDuration time.Duration
	onTransition func(upstream string, from, to State)
}

// New builds a breaker. Non-positive arguments fall back to 5 failures and
// a 30 second open window, which match the scoring service defaults.
func New(threshold int, openDuration time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if openDuration <= 0 {
		openDuration = 30 * time.Second
	}
	return &Breaker{
		circuits:     make(map[string]*circuit),
		threshold:    threshold,
		openDuration: openDuration,
	}
}

// OnTransition registers a callback fired on every state change.
func (b *Breaker) OnTransition(fn func(upstream string, from, to State)) {
	b.mu.Lock()
	b.onTransition = fn
	b.mu.Unlock()
}

// Allow reports whether a call to upstream may proceed. An open circuit
// whose window has elapsed flips to half-open and admits the caller as the
// probe.
func (b *Breaker) Allow(upstream string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[upstream]
	if !ok || c.state == StateClosed {
		return true
	}
	if c.state == StateHalfOpen {
		// A probe is already in flight.
		return false
	}
	if time.Since(c.lastFailure) >= b.openDuration {
		b.transition(c, upstream, StateHalfOpen)
		return true
	}
	return false
}

// RecordSuccess clears the failure streak and, if the upstream was being
// probed, closes its circuit.
func (b *Breaker) RecordSuccess(upstream string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[upstream]
	if !ok {
		return
	}
	if c.state == StateHalfOpen {
		b.transition(c, upstream, StateClosed)
	}
	c.failures = 0
}

// RecordFailure counts a failed call. A failed probe re-opens the circuit
// immediately; otherwise the circuit trips once the streak hits the
// threshold.
func (b *Breaker) RecordFailure(upstream string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[upstream]
	if !ok {
		c = &circuit{state: StateClosed}
		b.circuits[upstream] = c
	}

	c.failures++
	c.lastFailure = time.Now()

	switch {
	case c.state == StateHalfOpen:
		b.transition(c, upstream, StateOpen)
	case c.state == StateClosed && c.failures >= b.threshold:
		b.transition(c, upstream, StateOpen)
	}
}

// State returns the current state for an upstream; unknown upstreams are
// closed.
func (b *Breaker) State(upstream string) State {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[upstream]
	if !ok {
		return StateClosed
	}
	return c.state
}

// transition changes state and fires the callback. Caller holds b.mu.
func (b *Breaker) transition(c *circuit, upstream string, to State) {
	from := c.state
	if from == to {
		return
	}
	c.state = to
	stateTransitions.WithLabelValues(upstream, from.String(), to.String()).Inc()
	if b.onTransition != nil {
		fn := b.onTransition
		go fn(upstream, from, to)
	}
}
