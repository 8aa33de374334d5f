// Package circuit implements a consecutive-failure circuit breaker shared by
// the broker guard and the Redis publisher.
package circuit

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned when the circuit breaker is open.
var ErrOpen = errors.New("circuit breaker is open")

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = 0 // calls pass through
	StateOpen     State = 1 // calls rejected until the reset timeout
	StateHalfOpen State = 2 // one trial call allowed
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker trips after maxFailures consecutive failures and rejects all calls
// for resetTimeout. After the timeout one trial call is let through: success
// closes the breaker, failure reopens it.
type Breaker struct {
	mu           sync.Mutex
	state        State
	failures     int
	maxFailures  int
	resetTimeout time.Duration
	lastFailure  time.Time
	now          func() time.Time

	// OnStateChange, if set, is called on every transition with the lock held.
	// It must not call back into the breaker.
	OnStateChange func(from, to State)
}

// New creates a circuit breaker.
// maxFailures: consecutive failures before opening (e.g., 5)
// resetTimeout: time to wait before the half-open trial (e.g., 10s)
func New(maxFailures int, resetTimeout time.Duration) *Breaker {
	if maxFailures < 1 {
		maxFailures = 1
	}
	return &Breaker{
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		state:        StateClosed,
		now:          time.Now,
	}
}

// WithClock replaces the breaker's time source. Used by tests.
func (cb *Breaker) WithClock(now func() time.Time) *Breaker {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.now = now
	return cb
}

// Allow reports whether a call may proceed, moving an expired open breaker
// to half-open. Pair every successful Allow with Record.
func (cb *Breaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if cb.now().Sub(cb.lastFailure) <= cb.resetTimeout {
			return ErrOpen
		}
		cb.transition(StateHalfOpen)
	}
	return nil
}

// Record feeds the outcome of a call allowed by Allow.
func (cb *Breaker) Record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.failures++
		cb.lastFailure = cb.now()

		if cb.state == StateHalfOpen {
			// trial failed, reopen
			cb.transition(StateOpen)
		} else if cb.state == StateClosed && cb.failures >= cb.maxFailures {
			cb.transition(StateOpen)
		}
		return
	}

	if cb.state == StateHalfOpen {
		cb.transition(StateClosed)
	}
	cb.failures = 0
}

// Execute runs fn through the circuit breaker.
// Returns ErrOpen if the breaker is open and the timeout hasn't elapsed.
func (cb *Breaker) Execute(fn func() error) error {
	if err := cb.Allow(); err != nil {
		return err
	}
	err := fn()
	cb.Record(err)
	return err
}

// CurrentState returns the current circuit breaker state.
func (cb *Breaker) CurrentState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Failures returns the current consecutive failure count.
func (cb *Breaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

func (cb *Breaker) transition(to State) {
	from := cb.state
	cb.state = to
	if to == StateClosed {
		cb.failures = 0
	}
	if cb.OnStateChange != nil {
		cb.OnStateChange(from, to)
	}
}
