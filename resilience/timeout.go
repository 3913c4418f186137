package resilience

import (
	"context"
	"errors"
	"time"
)

// TimeoutConfig configures the per-attempt timeout.
type TimeoutConfig struct {
	// Timeout is the maximum duration of a single attempt.
	// Default: 60 seconds
	Timeout time.Duration
}

// Timeout bounds a single attempt. The operation must honor ctx; the
// attempt context is cancelled as soon as the operation returns.
type Timeout struct {
	config TimeoutConfig
}

// NewTimeout creates a new timeout wrapper.
func NewTimeout(config TimeoutConfig) *Timeout {
	// Apply defaults
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}

	return &Timeout{config: config}
}

// Execute runs the operation with a timeout. An error caused by the attempt
// deadline, rather than the caller's context, is reported as
// ErrAttemptTimeout which is retryable.
func (t *Timeout) Execute(ctx context.Context, op func(context.Context) error) error {
	return executeWithin(ctx, t.config.Timeout, op)
}

// Config returns the timeout configuration.
func (t *Timeout) Config() TimeoutConfig {
	return t.config
}

func executeWithin(ctx context.Context, d time.Duration, op func(context.Context) error) error {
	attemptCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	err := op(attemptCtx)
	if err == nil {
		return nil
	}
	if ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return &attemptTimeoutError{timeout: d, cause: err}
	}
	return err
}
