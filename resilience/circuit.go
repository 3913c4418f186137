package resilience

import (
	"context"
	"sync/atomic"
	"time"
)

// State represents the circuit breaker state.
type State int32

const (
	// StateClosed means the circuit is operating normally.
	StateClosed State = iota
	// StateOpen means the circuit is blocking all requests.
	StateOpen
	// StateHalfOpen means the circuit is testing if the service recovered.
	StateHalfOpen
)

// String returns the string representation of the state.
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

// CircuitBreakerConfig configures the circuit breaker.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of failures in Closed before opening.
	// Default: 5
	FailureThreshold int

	// SuccessThreshold is the number of successful probes in HalfOpen
	// before closing.
	// Default: 1
	SuccessThreshold int

	// OpenTimeout is how long the circuit stays open before admitting a probe.
	// Default: 30 seconds
	OpenTimeout time.Duration

	// OnStateChange is called after the circuit state changes. It runs on the
	// goroutine that caused the transition and must not block.
	OnStateChange func(from, to State)
}

// CircuitBreaker tracks the aggregate health of a remote endpoint and gates
// calls to it.
//
// All state is held in atomics. Counters may drift slightly under heavy
// contention; transitions are compare-and-swap and therefore linearizable.
// At most one caller holds the half-open probe at any time, and only the
// outcome reported with that caller's Ticket can release it.
type CircuitBreaker struct {
	config CircuitBreakerConfig

	state       atomic.Int32
	failures    atomic.Int32
	successes   atomic.Int32
	lastFailure atomic.Int64 // unix nanos
	openUntil   atomic.Int64 // unix nanos

	// probe holds the generation of the ticket owning the half-open slot,
	// zero when the slot is free.
	probe atomic.Uint64
	gen   atomic.Uint64
}

// Ticket is the admission Check grants. Outcomes are reported with the same
// ticket so the breaker can tell the half-open probe from calls admitted
// while the circuit was closed. The zero Ticket is an ordinary admission.
type Ticket struct {
	probe uint64
}

// Probe reports whether the ticket holds the half-open probe slot.
func (t Ticket) Probe() bool { return t.probe != 0 }

// NewCircuitBreaker creates a new circuit breaker.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	// Apply defaults
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 1
	}
	if config.OpenTimeout <= 0 {
		config.OpenTimeout = 30 * time.Second
	}

	cb := &CircuitBreaker{config: config}
	cb.state.Store(int32(StateClosed))
	return cb
}

// Check reports whether a call may proceed and returns the ticket its
// outcome must be reported with.
//
// It returns a *CircuitOpenError while the circuit is open. Once the open
// timeout has elapsed exactly one caller is admitted as the half-open probe;
// everyone else keeps seeing the circuit as open until the probe resolves
// through RecordSuccess, RecordFailure or Abandon with its ticket.
func (cb *CircuitBreaker) Check() (Ticket, error) {
	for {
		switch State(cb.state.Load()) {
		case StateClosed:
			return Ticket{}, nil

		case StateOpen:
			until := cb.openUntil.Load()
			if time.Now().UnixNano() < until {
				return Ticket{}, &CircuitOpenError{State: StateOpen, Until: time.Unix(0, until)}
			}
			// Claim the probe slot before publishing HalfOpen so that no
			// caller observing HalfOpen can race us for it.
			g := cb.gen.Add(1)
			if !cb.probe.CompareAndSwap(0, g) {
				return Ticket{}, &CircuitOpenError{State: StateOpen}
			}
			if cb.state.CompareAndSwap(int32(StateOpen), int32(StateHalfOpen)) {
				cb.successes.Store(0)
				cb.notify(StateOpen, StateHalfOpen)
				return Ticket{probe: g}, nil
			}
			cb.probe.CompareAndSwap(g, 0)

		case StateHalfOpen:
			g := cb.gen.Add(1)
			if !cb.probe.CompareAndSwap(0, g) {
				return Ticket{}, &CircuitOpenError{State: StateHalfOpen}
			}
			// A failed probe may have reopened the circuit between the
			// state load and the claim.
			if State(cb.state.Load()) == StateHalfOpen {
				return Ticket{probe: g}, nil
			}
			cb.probe.CompareAndSwap(g, 0)
		}
	}
}

// owns reports whether t holds the probe slot right now.
func (cb *CircuitBreaker) owns(t Ticket) bool {
	return t.probe != 0 && cb.probe.Load() == t.probe
}

func (cb *CircuitBreaker) release(t Ticket) {
	if t.probe != 0 {
		cb.probe.CompareAndSwap(t.probe, 0)
	}
}

// RecordSuccess records a successful call admitted with t. In HalfOpen only
// the probe's success counts toward SuccessThreshold; in Closed it is a no-op.
func (cb *CircuitBreaker) RecordSuccess(t Ticket) {
	if State(cb.state.Load()) != StateHalfOpen || !cb.owns(t) {
		cb.release(t)
		return
	}

	if int(cb.successes.Add(1)) >= cb.config.SuccessThreshold {
		if cb.state.CompareAndSwap(int32(StateHalfOpen), int32(StateClosed)) {
			cb.failures.Store(0)
			cb.successes.Store(0)
			cb.release(t)
			cb.notify(StateHalfOpen, StateClosed)
			return
		}
	}
	cb.release(t)
}

// RecordFailure records a failed call admitted with t. In Closed every
// failure counts; in HalfOpen only the probe's failure reopens the circuit.
// Failures of calls admitted before the circuit opened are otherwise ignored.
func (cb *CircuitBreaker) RecordFailure(t Ticket) {
	now := time.Now()
	cb.lastFailure.Store(now.UnixNano())

	switch State(cb.state.Load()) {
	case StateClosed:
		cb.release(t)
		if int(cb.failures.Add(1)) < cb.config.FailureThreshold {
			return
		}
		cb.openUntil.Store(now.Add(cb.config.OpenTimeout).UnixNano())
		if cb.state.CompareAndSwap(int32(StateClosed), int32(StateOpen)) {
			cb.failures.Store(0)
			cb.successes.Store(0)
			cb.notify(StateClosed, StateOpen)
		}

	case StateHalfOpen:
		if !cb.owns(t) {
			return
		}
		// openUntil must be fresh before Open becomes visible, otherwise a
		// concurrent Check could admit a new probe immediately.
		cb.openUntil.Store(now.Add(cb.config.OpenTimeout).UnixNano())
		if cb.state.CompareAndSwap(int32(StateHalfOpen), int32(StateOpen)) {
			cb.failures.Store(0)
			cb.successes.Store(0)
			cb.notify(StateHalfOpen, StateOpen)
		}
		cb.release(t)

	default:
		cb.release(t)
	}
}

// Abandon releases the probe slot held by t without recording an outcome.
// Callers admitted by Check that never reach the endpoint, or whose failure
// says nothing about endpoint health, must call it. It is a no-op for
// tickets that do not hold the probe.
func (cb *CircuitBreaker) Abandon(t Ticket) {
	cb.release(t)
}

// Execute runs the operation through the circuit breaker. Every non-nil
// error counts as a failure.
func (cb *CircuitBreaker) Execute(ctx context.Context, op func(context.Context) error) error {
	t, err := cb.Check()
	if err != nil {
		return err
	}

	err = op(ctx)
	if err != nil {
		cb.RecordFailure(t)
	} else {
		cb.RecordSuccess(t)
	}
	return err
}

// State returns the current circuit state. It does not perform the
// Open to HalfOpen transition; only Check does.
func (cb *CircuitBreaker) State() State {
	return State(cb.state.Load())
}

// Reset forces the circuit breaker back to the closed state.
func (cb *CircuitBreaker) Reset() {
	old := State(cb.state.Swap(int32(StateClosed)))
	cb.failures.Store(0)
	cb.successes.Store(0)
	cb.openUntil.Store(0)
	cb.probe.Store(0)

	if old != StateClosed {
		cb.notify(old, StateClosed)
	}
}

func (cb *CircuitBreaker) notify(from, to State) {
	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(from, to)
	}
}

// Config returns the circuit breaker configuration.
func (cb *CircuitBreaker) Config() CircuitBreakerConfig {
	return cb.config
}

// Metrics returns current circuit breaker metrics.
func (cb *CircuitBreaker) Metrics() CircuitBreakerMetrics {
	m := CircuitBreakerMetrics{
		State:     State(cb.state.Load()),
		Failures:  int(cb.failures.Load()),
		Successes: int(cb.successes.Load()),
	}
	if ns := cb.lastFailure.Load(); ns != 0 {
		m.LastFailure = time.Unix(0, ns)
	}
	if m.State == StateOpen {
		m.OpenUntil = time.Unix(0, cb.openUntil.Load())
	}
	return m
}

// CircuitBreakerMetrics contains circuit breaker statistics.
type CircuitBreakerMetrics struct {
	State       State
	Failures    int
	Successes   int
	LastFailure time.Time
	OpenUntil   time.Time
}
