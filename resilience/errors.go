package resilience

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for resilience operations.
var (
	// ErrCircuitOpen is returned when the circuit breaker is open.
	ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

	// ErrRetryExhausted is returned when retry attempts or the call deadline are exhausted.
	ErrRetryExhausted = errors.New("resilience: retries exhausted")

	// ErrRateLimitTimeout is returned when waiting for rate budget exceeds MaxWait.
	ErrRateLimitTimeout = errors.New("resilience: rate limit wait exceeded")

	// ErrBulkheadFull is returned when the bulkhead is at capacity.
	ErrBulkheadFull = errors.New("resilience: bulkhead at capacity")

	// ErrAttemptTimeout is returned when a single attempt exceeds its timeout.
	ErrAttemptTimeout = errors.New("resilience: attempt timed out")
)

// Classified is implemented by errors that carry a retry classification.
//
// The transport error classifier produces values implementing it; the
// orchestrator and retry policy only ever consult these three capabilities.
type Classified interface {
	error

	// Retryable reports whether another attempt may succeed.
	Retryable() bool

	// RetryAfter returns a server-mandated delay, if any.
	RetryAfter() (time.Duration, bool)

	// BreakerWorthy reports whether the failure reflects endpoint health
	// and should count toward opening the circuit.
	BreakerWorthy() bool
}

// IsRetryable reports whether err, or any error it wraps, is classified retryable.
func IsRetryable(err error) bool {
	var c Classified
	if errors.As(err, &c) {
		return c.Retryable()
	}
	return false
}

// RetryAfterOf returns the explicit retry-after duration carried by err.
func RetryAfterOf(err error) (time.Duration, bool) {
	var c Classified
	if errors.As(err, &c) {
		return c.RetryAfter()
	}
	return 0, false
}

// IsBreakerWorthy reports whether err should be recorded as a breaker failure.
func IsBreakerWorthy(err error) bool {
	var c Classified
	if errors.As(err, &c) {
		return c.BreakerWorthy()
	}
	return false
}

// CircuitOpenError is returned by CircuitBreaker.Check while the circuit rejects calls.
type CircuitOpenError struct {
	// State is the state observed when the call was rejected.
	State State

	// Until is when the breaker will next admit a probe. Zero while a
	// half-open probe is in flight.
	Until time.Time
}

func (e *CircuitOpenError) Error() string {
	if e.Until.IsZero() {
		return fmt.Sprintf("%s (%s, probe in flight)", ErrCircuitOpen, e.State)
	}
	return fmt.Sprintf("%s (retry in %s)", ErrCircuitOpen, time.Until(e.Until).Round(time.Millisecond))
}

// Is reports whether target is ErrCircuitOpen.
func (e *CircuitOpenError) Is(target error) bool {
	return target == ErrCircuitOpen
}

// RateLimitTimeoutError is returned when Acquire would wait past MaxWait.
type RateLimitTimeoutError struct {
	Waited  time.Duration
	MaxWait time.Duration
}

func (e *RateLimitTimeoutError) Error() string {
	return fmt.Sprintf("%s (waited %s, max %s)", ErrRateLimitTimeout, e.Waited.Round(time.Millisecond), e.MaxWait)
}

// Is reports whether target is ErrRateLimitTimeout.
func (e *RateLimitTimeoutError) Is(target error) bool {
	return target == ErrRateLimitTimeout
}

// RetryExhaustedError wraps the last error of a call that ran out of attempts
// or time.
type RetryExhaustedError struct {
	Attempts int
	Elapsed  time.Duration
	Err      error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("%s after %d attempts in %s: %v", ErrRetryExhausted, e.Attempts, e.Elapsed.Round(time.Millisecond), e.Err)
}

// Is reports whether target is ErrRetryExhausted.
func (e *RetryExhaustedError) Is(target error) bool {
	return target == ErrRetryExhausted
}

// Unwrap returns the last underlying error.
func (e *RetryExhaustedError) Unwrap() error {
	return e.Err
}

// attemptTimeoutError marks an attempt that ran past its own timeout.
// It is retryable and counts against the breaker.
type attemptTimeoutError struct {
	timeout time.Duration
	cause   error
}

func (e *attemptTimeoutError) Error() string {
	return fmt.Sprintf("%s after %s", ErrAttemptTimeout, e.timeout)
}

func (e *attemptTimeoutError) Is(target error) bool { return target == ErrAttemptTimeout }

func (e *attemptTimeoutError) Unwrap() error { return e.cause }

func (e *attemptTimeoutError) Retryable() bool { return true }

func (e *attemptTimeoutError) BreakerWorthy() bool { return true }

func (e *attemptTimeoutError) RetryAfter() (time.Duration, bool) { return 0, false }

var _ Classified = (*attemptTimeoutError)(nil)
