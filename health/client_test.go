package health

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jonwraymond/llmcore/resilience"
)

func TestClientChecker(t *testing.T) {
	tests := []struct {
		name    string
		breaker func() *resilience.CircuitBreaker
		limiter func() *resilience.RateLimiter
		want    Status
		state   string
	}{
		{
			name:    "closed with capacity",
			breaker: func() *resilience.CircuitBreaker { return resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{}) },
			limiter: func() *resilience.RateLimiter { return resilience.NewRateLimiter(resilience.RateLimitConfig{}) },
			want:    StatusHealthy,
			state:   "closed",
		},
		{
			name: "open",
			breaker: func() *resilience.CircuitBreaker {
				cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{FailureThreshold: 1, OpenTimeout: time.Hour})
				cb.RecordFailure(resilience.Ticket{})
				return cb
			},
			want:  StatusUnhealthy,
			state: "open",
		},
		{
			name: "half-open",
			breaker: func() *resilience.CircuitBreaker {
				cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{FailureThreshold: 1, OpenTimeout: time.Millisecond})
				cb.RecordFailure(resilience.Ticket{})
				time.Sleep(5 * time.Millisecond)
				_, _ = cb.Check() // claims the probe
				return cb
			},
			want:  StatusDegraded,
			state: "half-open",
		},
		{
			name:    "limiter exhausted",
			breaker: func() *resilience.CircuitBreaker { return resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{}) },
			limiter: func() *resilience.RateLimiter {
				rl := resilience.NewRateLimiter(resilience.RateLimitConfig{BurstCapacity: 1, RequestsPerPeriod: 1, Period: time.Hour})
				rl.TryAcquire()
				return rl
			},
			want:  StatusDegraded,
			state: "closed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var rl *resilience.RateLimiter
			if tt.limiter != nil {
				rl = tt.limiter()
			}
			c := NewClientChecker("llm", tt.breaker(), rl)

			r := c.Check(context.Background())
			if r.Status != tt.want {
				t.Errorf("Status = %v, want %v (%s)", r.Status, tt.want, r.Message)
			}
			if r.Details["breaker_state"] != tt.state {
				t.Errorf("breaker_state = %v, want %v", r.Details["breaker_state"], tt.state)
			}
			if _, ok := r.Details["limiter_tokens"]; ok != (rl != nil) {
				t.Errorf("limiter details present = %v, want %v", ok, rl != nil)
			}
		})
	}
}

func TestClientChecker_OpenDetails(t *testing.T) {
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{FailureThreshold: 2, OpenTimeout: time.Hour})
	cb.RecordFailure(resilience.Ticket{})
	cb.RecordFailure(resilience.Ticket{})

	r := NewClientChecker("llm", cb, nil).Check(context.Background())
	if !errors.Is(r.Error, ErrCircuitOpen) {
		t.Errorf("Error = %v, want ErrCircuitOpen", r.Error)
	}
	if !strings.HasPrefix(r.Message, "circuit open until ") {
		t.Errorf("Message = %q", r.Message)
	}
	for _, key := range []string{"breaker_open_until", "breaker_last_failure"} {
		if _, ok := r.Details[key]; !ok {
			t.Errorf("Details missing %q", key)
		}
	}
}

func TestClientChecker_NilComponents(t *testing.T) {
	c := NewClientChecker("llm", nil, nil)
	if c.Name() != "llm" {
		t.Errorf("Name() = %q", c.Name())
	}
	if r := c.Check(context.Background()); r.Status != StatusHealthy || len(r.Details) != 0 {
		t.Errorf("Check() = %+v", r)
	}
}
