package health

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/lo"

	"github.com/jonwraymond/llmcore/resilience"
)

// ClientChecker reports an LLM endpoint's health as a client sees it,
// from its circuit breaker and rate limiter. It never sends a request.
//
// An open breaker is unhealthy. A half-open breaker, or a limiter with no
// capacity left, is degraded.
type ClientChecker struct {
	name    string
	breaker *resilience.CircuitBreaker
	limiter *resilience.RateLimiter
}

// NewClientChecker creates a checker. Either component may be nil.
func NewClientChecker(name string, breaker *resilience.CircuitBreaker, limiter *resilience.RateLimiter) *ClientChecker {
	return &ClientChecker{name: name, breaker: breaker, limiter: limiter}
}

// Name returns the checker name.
func (c *ClientChecker) Name() string { return c.name }

// Check inspects breaker and limiter state.
func (c *ClientChecker) Check(_ context.Context) Result {
	details := make(map[string]any)
	result := Healthy("endpoint available")

	if c.limiter != nil {
		m := c.limiter.Metrics()
		details = lo.Assign(details, map[string]any{
			"limiter_tokens":       m.Tokens,
			"limiter_capacity":     m.Capacity,
			"limiter_window_count": m.WindowCount,
			"limiter_window_limit": m.WindowLimit,
		})
		if m.Tokens < 1 || m.WindowCount >= m.WindowLimit {
			result = Degraded("rate limit exhausted")
		}
	}

	if c.breaker != nil {
		m := c.breaker.Metrics()
		details = lo.Assign(details, map[string]any{
			"breaker_state":    m.State.String(),
			"breaker_failures": m.Failures,
		})
		if !m.LastFailure.IsZero() {
			details["breaker_last_failure"] = m.LastFailure.UTC().Format(time.RFC3339)
		}

		switch m.State {
		case resilience.StateOpen:
			until := m.OpenUntil.UTC().Format(time.RFC3339)
			details["breaker_open_until"] = until
			result = Unhealthy(fmt.Sprintf("circuit open until %s", until), ErrCircuitOpen)
		case resilience.StateHalfOpen:
			result = Degraded("circuit half-open, probing endpoint")
		}
	}

	return result.WithDetails(details)
}
