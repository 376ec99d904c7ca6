// Package circuitbreaker provides a per-key circuit breaker with
// closed → open → half-open state transitions. Alert transports key it by
// delivery endpoint so one dead receiver does not slow every dispatch.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ErrOpen is returned by Execute when the circuit for a key is open.
var ErrOpen = errors.New("circuitbreaker: circuit open")

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = iota // Normal: calls flow through
	StateOpen                  // Tripped: calls are rejected
	StateHalfOpen              // Probing: one call allowed to test recovery
)

// String returns the state name.
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
	Namespace: "cerberus",
	Subsystem: "circuitbreaker",
	Name:      "state_transitions_total",
	Help:      "Circuit breaker state transitions by breaker name, from-state, and to-state.",
}, []string{"breaker", "from_state", "to_state"})

func init() {
	prometheus.MustRegister(stateTransitions)
}

type entry struct {
	state       State
	failures    int
	lastFailure time.Time
}

// Breaker is a per-key circuit breaker. It counts consecutive failures per
// key and trips open at the threshold. After openDuration the circuit moves
// to half-open and allows one probe.
type Breaker struct {
	name         string
	mu           sync.Mutex
	entries      map[string]*entry
	threshold    int
	openDuration time.Duration
	now          func() time.Time
	onTransition func(key string, from, to State)
}

// New creates a circuit breaker that opens after threshold consecutive
// failures and stays open for openDuration before probing. name labels the
// transition metric; keys are not used as labels to keep cardinality bounded.
func New(name string, threshold int, openDuration time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if openDuration <= 0 {
		openDuration = 30 * time.Second
	}
	return &Breaker{
		name:         name,
		entries:      make(map[string]*entry),
		threshold:    threshold,
		openDuration: openDuration,
		now:          time.Now,
	}
}

// WithClock replaces the time source.
func (b *Breaker) WithClock(now func() time.Time) *Breaker {
	b.mu.Lock()
	b.now = now
	b.mu.Unlock()
	return b
}

// OnTransition sets a callback invoked on state changes.
func (b *Breaker) OnTransition(fn func(key string, from, to State)) {
	b.mu.Lock()
	b.onTransition = fn
	b.mu.Unlock()
}

// Execute runs fn if the circuit for key allows it and records the outcome.
// It returns ErrOpen without calling fn while the circuit is open.
func (b *Breaker) Execute(key string, fn func() error) error {
	if !b.Allow(key) {
		return ErrOpen
	}
	if err := fn(); err != nil {
		b.RecordFailure(key)
		return err
	}
	b.RecordSuccess(key)
	return nil
}

// Allow reports whether a call to key should go through. An open circuit
// whose openDuration has elapsed moves to half-open and admits one probe.
func (b *Breaker) Allow(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[key]
	if !ok {
		return true
	}

	switch e.state {
	case StateOpen:
		if b.now().Sub(e.lastFailure) >= b.openDuration {
			b.transition(e, key, StateHalfOpen)
			return true
		}
		return false
	case StateHalfOpen:
		return false // probe in flight
	default:
		return true
	}
}

// RecordSuccess resets the failure count and closes a half-open circuit.
func (b *Breaker) RecordSuccess(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[key]
	if !ok {
		return
	}
	if e.state == StateHalfOpen {
		b.transition(e, key, StateClosed)
	}
	e.failures = 0
}

// RecordFailure counts a failure, tripping the circuit at the threshold. A
// failed probe reopens immediately.
func (b *Breaker) RecordFailure(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[key]
	if !ok {
		e = &entry{state: StateClosed}
		b.entries[key] = e
	}

	e.failures++
	e.lastFailure = b.now()

	switch {
	case e.state == StateHalfOpen:
		b.transition(e, key, StateOpen)
	case e.state == StateClosed && e.failures >= b.threshold:
		b.transition(e, key, StateOpen)
	}
}

// State returns the current state for key. Unknown keys are closed.
func (b *Breaker) State(key string) State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if e, ok := b.entries[key]; ok {
		return e.state
	}
	return StateClosed
}

// Caller must hold b.mu.
func (b *Breaker) transition(e *entry, key string, to State) {
	from := e.state
	if from == to {
		return
	}
	e.state = to
	stateTransitions.WithLabelValues(b.name, from.String(), to.String()).Inc()
	if b.onTransition != nil {
		fn := b.onTransition
		go fn(key, from, to)
	}
}
