package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryConfig configures the retry behavior.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including initial).
	// Default: 3
	MaxAttempts int

	// InitialDelay is the delay before the first retry.
	// Default: 500ms
	InitialDelay time.Duration

	// MaxDelay caps the computed delay between retries. It does not cap an
	// explicit retry-after from the server.
	// Default: 30s
	MaxDelay time.Duration

	// Multiplier is the exponential backoff multiplier.
	// Default: 2.0
	Multiplier float64

	// JitterFraction adds up to base*JitterFraction of random delay.
	// Zero disables jitter.
	JitterFraction float64
}

// DefaultRetryConfig returns the retry defaults used by the client.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       30 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.2,
	}
}

// RetryPolicy classifies errors and computes backoff delays. It holds no
// per-call state and is safe for concurrent use.
type RetryPolicy struct {
	config RetryConfig
}

// NewRetryPolicy creates a new retry policy.
func NewRetryPolicy(config RetryConfig) *RetryPolicy {
	// Apply defaults
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = 500 * time.Millisecond
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 30 * time.Second
	}
	if config.Multiplier <= 0 {
		config.Multiplier = 2.0
	}
	if config.JitterFraction < 0 {
		config.JitterFraction = 0
	}

	return &RetryPolicy{config: config}
}

// ShouldRetry reports whether err is worth another attempt.
func (p *RetryPolicy) ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return IsRetryable(err)
}

// NextDelay returns the delay before the retry following attempt (0-indexed).
// An explicit retry-after on err takes precedence over computed backoff.
func (p *RetryPolicy) NextDelay(attempt int, err error) time.Duration {
	if d, ok := RetryAfterOf(err); ok && d >= 0 {
		return d
	}

	if attempt < 0 {
		attempt = 0
	}
	maxDelay := float64(p.config.MaxDelay)
	base := math.Min(maxDelay, float64(p.config.InitialDelay)*math.Pow(p.config.Multiplier, float64(attempt)))

	delay := base
	if p.config.JitterFraction > 0 {
		// #nosec G404 -- jitter is non-cryptographic timing variance.
		delay += base * rand.Float64() * p.config.JitterFraction
	}
	return time.Duration(math.Min(maxDelay, delay))
}

// MaxAttempts returns the configured attempt ceiling.
func (p *RetryPolicy) MaxAttempts() int {
	return p.config.MaxAttempts
}

// Config returns the retry configuration.
func (p *RetryPolicy) Config() RetryConfig {
	return p.config
}

// AttemptState is the per-call retry bookkeeping. It is owned by a single
// call and never shared.
type AttemptState struct {
	// Attempt is the number of failed attempts so far.
	Attempt int

	// Started is when the call began.
	Started time.Time

	// LastErr is the most recent attempt error.
	LastErr error
}

// Elapsed returns the time since the call started.
func (s *AttemptState) Elapsed() time.Duration {
	return time.Since(s.Started)
}

// BackOff adapts the policy to a backoff.BackOff bound to one call's state.
// NextBackOff returns backoff.Stop once the last error is not retryable or
// MaxAttempts have been made.
func (p *RetryPolicy) BackOff(state *AttemptState) backoff.BackOff {
	return &policyBackOff{policy: p, state: state}
}

type policyBackOff struct {
	policy *RetryPolicy
	state  *AttemptState
}

func (b *policyBackOff) NextBackOff() time.Duration {
	if !b.policy.ShouldRetry(b.state.LastErr) {
		return backoff.Stop
	}
	if b.state.Attempt >= b.policy.config.MaxAttempts {
		return backoff.Stop
	}
	// The delay before retry n uses attempt index n-1.
	return b.policy.NextDelay(b.state.Attempt-1, b.state.LastErr)
}

func (b *policyBackOff) Reset() {
	b.state.Attempt = 0
	b.state.LastErr = nil
	b.state.Started = time.Now()
}

var _ backoff.BackOff = (*policyBackOff)(nil)
