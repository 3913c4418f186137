package health

import "errors"

var (
	// ErrCheckTimeout indicates a check did not finish before its deadline.
	ErrCheckTimeout = errors.New("health: check timeout")

	// ErrCheckerNotFound indicates no checker is registered under a name.
	ErrCheckerNotFound = errors.New("health: checker not found")

	// ErrCircuitOpen indicates the client's circuit breaker is refusing calls.
	ErrCircuitOpen = errors.New("health: circuit open")
)
