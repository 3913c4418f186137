package resilience

import (
	"context"
	"math"
	"sync"
	"time"
)

// RateLimitConfig configures the rate limiter.
type RateLimitConfig struct {
	// RequestsPerPeriod is the hard ceiling of requests admitted per window.
	// Default: 60
	RequestsPerPeriod int

	// TokensPerPeriod is the token bucket refill amount per Period.
	// Default: 60
	TokensPerPeriod float64

	// BurstCapacity is the token bucket capacity.
	// Default: 10
	BurstCapacity int

	// Period is both the refill period of the bucket and the window length.
	// Default: 1 minute
	Period time.Duration

	// MaxWait bounds how long Acquire suspends a caller.
	// Default: 30 seconds
	MaxWait time.Duration
}

// RateLimiter bounds request rate with a token bucket and a hard
// per-window ceiling. A unit of capacity is taken from both or from neither.
type RateLimiter struct {
	config     RateLimitConfig
	refillRate float64 // tokens per second

	mu          sync.Mutex
	tokens      float64
	lastRefill  time.Time
	windowStart time.Time
	count       int
}

// NewRateLimiter creates a new rate limiter with a full bucket.
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	// Apply defaults
	if config.RequestsPerPeriod <= 0 {
		config.RequestsPerPeriod = 60
	}
	if config.TokensPerPeriod <= 0 {
		config.TokensPerPeriod = 60
	}
	if config.BurstCapacity <= 0 {
		config.BurstCapacity = 10
	}
	if config.Period <= 0 {
		config.Period = time.Minute
	}
	if config.MaxWait <= 0 {
		config.MaxWait = 30 * time.Second
	}

	now := time.Now()
	return &RateLimiter{
		config:      config,
		refillRate:  config.TokensPerPeriod / config.Period.Seconds(),
		tokens:      float64(config.BurstCapacity),
		lastRefill:  now,
		windowStart: now,
	}
}

// TryAcquire takes one unit of capacity if both the bucket and the window
// allow it right now.
func (rl *RateLimiter) TryAcquire() bool {
	ok, _ := rl.reserve(time.Now())
	return ok
}

// Acquire suspends the caller until one unit of capacity is available.
//
// It returns a *RateLimitTimeoutError if the wait would exceed MaxWait and
// ctx.Err() if the context ends first. Waiting callers re-check after each
// sleep since concurrent callers may take the replenished token.
func (rl *RateLimiter) Acquire(ctx context.Context) error {
	start := time.Now()
	deadline := start.Add(rl.config.MaxWait)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		now := time.Now()
		ok, wait := rl.reserve(now)
		if ok {
			return nil
		}

		if now.Add(wait).After(deadline) {
			return &RateLimitTimeoutError{Waited: now.Sub(start), MaxWait: rl.config.MaxWait}
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// reserve runs both checks in one critical section. On failure it returns
// how long until both checks could pass.
func (rl *RateLimiter) reserve(now time.Time) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refillLocked(now)
	rl.rollWindowLocked(now)

	if rl.tokens >= 1 && rl.count < rl.config.RequestsPerPeriod {
		rl.tokens--
		rl.count++
		return true, 0
	}

	var wait time.Duration
	if rl.tokens < 1 {
		secs := (1 - rl.tokens) / rl.refillRate
		wait = time.Duration(math.Ceil(secs * float64(time.Second)))
	}
	if rl.count >= rl.config.RequestsPerPeriod {
		if w := rl.windowStart.Add(rl.config.Period).Sub(now); w > wait {
			wait = w
		}
	}
	if wait <= 0 {
		wait = time.Millisecond
	}
	return false, wait
}

func (rl *RateLimiter) refillLocked(now time.Time) {
	elapsed := now.Sub(rl.lastRefill)
	if elapsed <= 0 {
		return
	}
	rl.lastRefill = now

	rl.tokens += elapsed.Seconds() * rl.refillRate
	if capacity := float64(rl.config.BurstCapacity); rl.tokens > capacity {
		rl.tokens = capacity
	}
}

func (rl *RateLimiter) rollWindowLocked(now time.Time) {
	if now.Sub(rl.windowStart) >= rl.config.Period {
		rl.windowStart = now
		rl.count = 0
	}
}

// Tokens returns the current number of available tokens.
func (rl *RateLimiter) Tokens() float64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.refillLocked(time.Now())
	return rl.tokens
}

// Reset restores a full bucket and an empty window.
func (rl *RateLimiter) Reset() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := time.Now()
	rl.tokens = float64(rl.config.BurstCapacity)
	rl.lastRefill = now
	rl.windowStart = now
	rl.count = 0
}

// Config returns the rate limiter configuration.
func (rl *RateLimiter) Config() RateLimitConfig {
	return rl.config
}

// Metrics returns a snapshot of limiter state.
func (rl *RateLimiter) Metrics() RateLimiterMetrics {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := time.Now()
	rl.refillLocked(now)
	rl.rollWindowLocked(now)
	return RateLimiterMetrics{
		Tokens:      rl.tokens,
		Capacity:    rl.config.BurstCapacity,
		WindowCount: rl.count,
		WindowLimit: rl.config.RequestsPerPeriod,
		WindowReset: rl.windowStart.Add(rl.config.Period),
	}
}

// RateLimiterMetrics contains rate limiter statistics.
type RateLimiterMetrics struct {
	Tokens      float64
	Capacity    int
	WindowCount int
	WindowLimit int
	WindowReset time.Time
}
