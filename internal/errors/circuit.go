package errors

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the circuit breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the circuit breaker state.
type State int

const (
	// StateClosed is the normal state where requests are allowed.
	StateClosed State = iota
	// StateOpen is when the circuit is tripped and requests are blocked.
	StateOpen
	// StateHalfOpen is when the circuit is testing if the callee recovered.
	StateHalfOpen
)

// String returns a string representation of the state.
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

// CircuitBreaker disables a misbehaving callee once its failure rate over a
// sliding window of observations crosses a threshold. The dispatcher keeps
// one breaker per (repository, plugin) pair so a plugin that chokes on one
// tree keeps serving the others.
type CircuitBreaker struct {
	name         string
	windowSize   int
	minSamples   int
	failureRate  float64
	resetTimeout time.Duration

	mu          sync.RWMutex
	state       State
	outcomes    []bool // ring buffer of recent outcomes, true = failure
	next        int
	count       int
	lastFailure time.Time
}

// CircuitBreakerOption configures a CircuitBreaker.
type CircuitBreakerOption func(*CircuitBreaker)

// WithFailureRate sets the failure rate (0-1] that trips the circuit.
func WithFailureRate(rate float64) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		if rate > 0 && rate <= 1 {
			cb.failureRate = rate
		}
	}
}

// WithWindowSize sets the number of recent outcomes considered.
func WithWindowSize(n int) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		if n > 0 {
			cb.windowSize = n
		}
	}
}

// WithMinSamples sets the minimum observations before the rate is evaluated.
func WithMinSamples(n int) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		if n > 0 {
			cb.minSamples = n
		}
	}
}

// WithResetTimeout sets the time to wait before attempting recovery.
func WithResetTimeout(d time.Duration) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.resetTimeout = d
	}
}

// NewCircuitBreaker creates a circuit breaker with the given name.
// Defaults: 20-sample window, 5 minimum samples, 0.5 failure rate,
// 30 second reset timeout.
func NewCircuitBreaker(name string, opts ...CircuitBreakerOption) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:         name,
		windowSize:   20,
		minSamples:   5,
		failureRate:  0.5,
		resetTimeout: 30 * time.Second,
		state:        StateClosed,
	}
	for _, opt := range opts {
		opt(cb)
	}
	cb.outcomes = make([]bool, cb.windowSize)
	return cb
}

// Name returns the circuit breaker name.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// State returns the current circuit breaker state.
func (cb *CircuitBreaker) State() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.currentState()
}

// currentState returns the state, checking for transition to half-open.
// Must be called with at least a read lock held.
func (cb *CircuitBreaker) currentState() State {
	if cb.state == StateOpen && time.Since(cb.lastFailure) > cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Allow checks if a request should be allowed through.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.currentState() != StateOpen
}

// RecordSuccess records a successful request.
// A success while half-open closes the circuit and clears the window.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.currentState() == StateHalfOpen {
		cb.reset()
		return
	}
	cb.record(false)
}

// RecordFailure records a failed request and re-evaluates the rate.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.currentState() == StateHalfOpen {
		// Recovery probe failed, stay open.
		cb.state = StateOpen
		cb.lastFailure = time.Now()
		return
	}

	cb.record(true)
	cb.lastFailure = time.Now()

	if cb.count >= cb.minSamples && cb.rate() >= cb.failureRate {
		cb.state = StateOpen
	}
}

// record appends an outcome to the ring buffer. Lock must be held.
func (cb *CircuitBreaker) record(failed bool) {
	cb.outcomes[cb.next] = failed
	cb.next = (cb.next + 1) % cb.windowSize
	if cb.count < cb.windowSize {
		cb.count++
	}
}

// rate returns the failure fraction over the window. Lock must be held.
func (cb *CircuitBreaker) rate() float64 {
	if cb.count == 0 {
		return 0
	}
	failures := 0
	for i := 0; i < cb.count; i++ {
		if cb.outcomes[i] {
			failures++
		}
	}
	return float64(failures) / float64(cb.count)
}

// reset clears the window and closes the circuit. Lock must be held.
func (cb *CircuitBreaker) reset() {
	cb.state = StateClosed
	cb.count = 0
	cb.next = 0
}

// Execute runs a function through the circuit breaker.
// Returns ErrCircuitOpen without calling fn if the circuit is open.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.Allow() {
		return ErrCircuitOpen
	}
	if err := fn(); err != nil {
		cb.RecordFailure()
		return err
	}
	cb.RecordSuccess()
	return nil
}
