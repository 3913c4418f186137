package resilience

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fastRetry retries quickly and deterministically.
func fastRetry(attempts int) *RetryPolicy {
	return NewRetryPolicy(RetryConfig{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
	})
}

func countingOp(calls *atomic.Int32, errs ...error) Operation {
	return OperationFunc(func(ctx context.Context) error {
		n := int(calls.Add(1))
		if n <= len(errs) {
			return errs[n-1]
		}
		if len(errs) > 0 && errs[len(errs)-1] != nil {
			return errs[len(errs)-1]
		}
		return nil
	})
}

func TestOrchestrator_SuccessFirstAttempt(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{})
	o := NewOrchestrator(WithCircuitBreaker(cb), WithRetryPolicy(fastRetry(3)))

	var calls atomic.Int32
	if err := o.Execute(context.Background(), countingOp(&calls)); err != nil {
		t.Fatalf("Execute() = %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestOrchestrator_DefaultPolicy(t *testing.T) {
	o := NewOrchestrator()
	if got := o.Policy().MaxAttempts(); got != 3 {
		t.Errorf("default MaxAttempts = %d, want 3", got)
	}
	if o.Breaker() != nil || o.Limiter() != nil {
		t.Error("breaker and limiter should be optional")
	}
}

func TestOrchestrator_RetriesUntilSuccess(t *testing.T) {
	o := NewOrchestrator(WithRetryPolicy(fastRetry(3)))

	var calls atomic.Int32
	err := o.Execute(context.Background(), countingOp(&calls, serverError(), serverError(), nil))
	if err != nil {
		t.Fatalf("Execute() = %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestOrchestrator_ExhaustsAfterMaxAttempts(t *testing.T) {
	o := NewOrchestrator(WithRetryPolicy(fastRetry(3)))

	var calls atomic.Int32
	err := o.Execute(context.Background(), countingOp(&calls, serverError()))

	if calls.Load() != 3 {
		t.Errorf("calls = %d, want exactly 3", calls.Load())
	}
	var rex *RetryExhaustedError
	if !errors.As(err, &rex) {
		t.Fatalf("Execute() = %v, want *RetryExhaustedError", err)
	}
	if rex.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", rex.Attempts)
	}
	if !IsRetryable(rex.Err) {
		t.Errorf("last error = %v, want the server error", rex.Err)
	}
	if rex.Elapsed <= 0 {
		t.Errorf("Elapsed = %v, want > 0", rex.Elapsed)
	}
}

func TestOrchestrator_NonRetryableSurfacesImmediately(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1})
	o := NewOrchestrator(WithCircuitBreaker(cb), WithRetryPolicy(fastRetry(5)))

	var calls atomic.Int32
	err := o.Execute(context.Background(), countingOp(&calls, clientError()))

	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
	if errors.Is(err, ErrRetryExhausted) {
		t.Errorf("non-retryable error reported as exhaustion: %v", err)
	}
	var ce *classifiedErr
	if !errors.As(err, &ce) || ce.msg != "400 bad request" {
		t.Errorf("Execute() = %v, want wrapped client error", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("breaker state = %v; client errors must not count", cb.State())
	}
}

func TestOrchestrator_BreakerOpensAndShortCircuits(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 5, OpenTimeout: time.Minute})
	o := NewOrchestrator(WithCircuitBreaker(cb), WithRetryPolicy(fastRetry(1)))

	var calls atomic.Int32
	op := countingOp(&calls, serverError())

	for i := 0; i < 5; i++ {
		if err := o.Execute(context.Background(), op); errors.Is(err, ErrCircuitOpen) {
			t.Fatalf("call %d rejected early", i+1)
		}
	}

	err := o.Execute(context.Background(), op)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("6th call = %v, want ErrCircuitOpen", err)
	}
	if calls.Load() != 5 {
		t.Errorf("operation invoked %d times, want 5", calls.Load())
	}
}

func TestOrchestrator_RechecksBreakerBetweenRetries(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, OpenTimeout: time.Minute})
	o := NewOrchestrator(WithCircuitBreaker(cb), WithRetryPolicy(fastRetry(3)))

	var calls atomic.Int32
	err := o.Execute(context.Background(), countingOp(&calls, serverError()))

	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Execute() = %v, want ErrCircuitOpen once the breaker tripped", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestOrchestrator_HalfOpenProbeAbandonedOnClientError(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, OpenTimeout: 10 * time.Millisecond})
	o := NewOrchestrator(WithCircuitBreaker(cb), WithRetryPolicy(fastRetry(1)))

	cb.RecordFailure(Ticket{})
	time.Sleep(20 * time.Millisecond)

	var calls atomic.Int32
	_ = o.Execute(context.Background(), countingOp(&calls, clientError()))
	if cb.State() != StateHalfOpen {
		t.Fatalf("state = %v, want half-open", cb.State())
	}

	// The probe slot must be free again for the next caller.
	if err := o.Execute(context.Background(), countingOp(&calls)); err != nil {
		t.Fatalf("next probe = %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed after successful probe", cb.State())
	}
}

func TestOrchestrator_ClosedCallFinishingDuringHalfOpen(t *testing.T) {
	tests := []struct {
		name   string
		result error
	}{
		{"success", nil},
		{"client error", clientError()},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cb := NewCircuitBreaker(CircuitBreakerConfig{
				FailureThreshold: 1,
				SuccessThreshold: 2,
				OpenTimeout:      10 * time.Millisecond,
			})
			o := NewOrchestrator(WithCircuitBreaker(cb), WithRetryPolicy(fastRetry(1)))

			blocked := func(started chan<- struct{}, finish <-chan struct{}, result error) Operation {
				return OperationFunc(func(ctx context.Context) error {
					close(started)
					<-finish
					return result
				})
			}

			var wg sync.WaitGroup
			slowStarted, slowFinish := make(chan struct{}), make(chan struct{})
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = o.Execute(context.Background(), blocked(slowStarted, slowFinish, tc.result))
			}()
			<-slowStarted

			cb.RecordFailure(Ticket{})
			time.Sleep(20 * time.Millisecond)

			probeStarted, probeFinish := make(chan struct{}), make(chan struct{})
			probeDone := make(chan error, 1)
			go func() {
				probeDone <- o.Execute(context.Background(), blocked(probeStarted, probeFinish, nil))
			}()
			<-probeStarted

			close(slowFinish)
			wg.Wait()

			var calls atomic.Int32
			if err := o.Execute(context.Background(), countingOp(&calls)); !errors.Is(err, ErrCircuitOpen) {
				t.Errorf("Execute() during probe = %v, want ErrCircuitOpen", err)
			}
			if calls.Load() != 0 {
				t.Errorf("calls = %d, want 0 while the probe is in flight", calls.Load())
			}

			close(probeFinish)
			if err := <-probeDone; err != nil {
				t.Fatalf("probe call = %v", err)
			}
			if cb.State() != StateHalfOpen {
				t.Errorf("state = %v, want half-open after one of two probes", cb.State())
			}
			if err := o.Execute(context.Background(), countingOp(&calls)); err != nil {
				t.Fatalf("second probe = %v", err)
			}
			if cb.State() != StateClosed {
				t.Errorf("state = %v, want closed", cb.State())
			}
		})
	}
}

func TestOrchestrator_RateLimitRejectionIsNotBreakerFailure(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1})
	rl := NewRateLimiter(RateLimitConfig{
		TokensPerPeriod: 1,
		BurstCapacity:   1,
		Period:          time.Hour,
		MaxWait:         10 * time.Millisecond,
	})
	var rejected atomic.Int32
	o := NewOrchestrator(
		WithCircuitBreaker(cb),
		WithRateLimiter(rl),
		WithRetryPolicy(fastRetry(3)),
		WithHooks(Hooks{OnRejected: func(ctx context.Context, err error) { rejected.Add(1) }}),
	)

	var calls atomic.Int32
	if err := o.Execute(context.Background(), countingOp(&calls)); err != nil {
		t.Fatalf("first call = %v", err)
	}
	err := o.Execute(context.Background(), countingOp(&calls))
	if !errors.Is(err, ErrRateLimitTimeout) {
		t.Fatalf("second call = %v, want ErrRateLimitTimeout", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
	if cb.State() != StateClosed || cb.Metrics().Failures != 0 {
		t.Errorf("breaker = %+v, want untouched", cb.Metrics())
	}
	if rejected.Load() != 1 {
		t.Errorf("OnRejected calls = %d, want 1", rejected.Load())
	}
}

func TestOrchestrator_CancelDuringRetrySleep(t *testing.T) {
	o := NewOrchestrator(WithRetryPolicy(fastRetry(3)))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	var calls atomic.Int32
	start := time.Now()
	err := o.Execute(ctx, countingOp(&calls, throttled(10*time.Second)))

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Execute() = %v, want context.Canceled", err)
	}
	if err != nil && !strings.Contains(err.Error(), "429 too many requests") {
		t.Errorf("Execute() = %q, want the last attempt error in the message", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("cancellation took %v", elapsed)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestOrchestrator_CancelDuringRateLimitWait(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{
		TokensPerPeriod: 1,
		BurstCapacity:   1,
		Period:          2 * time.Second,
		MaxWait:         10 * time.Second,
	})
	rl.TryAcquire()
	o := NewOrchestrator(WithRateLimiter(rl))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	var calls atomic.Int32
	err := o.Execute(ctx, countingOp(&calls))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Execute() = %v, want context.Canceled", err)
	}
	if calls.Load() != 0 {
		t.Errorf("operation invoked %d times while waiting for budget", calls.Load())
	}
}

func TestOrchestrator_CallDeadlineStopsRetries(t *testing.T) {
	o := NewOrchestrator(WithRetryPolicy(fastRetry(5)))

	var calls atomic.Int32
	start := time.Now()
	err := o.Execute(context.Background(), countingOp(&calls, throttled(time.Second)), WithCallTimeout(50*time.Millisecond))

	var rex *RetryExhaustedError
	if !errors.As(err, &rex) {
		t.Fatalf("Execute() = %v, want *RetryExhaustedError", err)
	}
	if rex.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", rex.Attempts)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Execute() slept past the call deadline: %v", elapsed)
	}
}

func TestOrchestrator_AttemptTimeout(t *testing.T) {
	o := NewOrchestrator(
		WithRetryPolicy(fastRetry(2)),
		WithAttemptTimeout(10*time.Millisecond),
	)

	var calls atomic.Int32
	err := o.Execute(context.Background(), OperationFunc(func(ctx context.Context) error {
		calls.Add(1)
		<-ctx.Done()
		return ctx.Err()
	}))

	if !errors.Is(err, ErrRetryExhausted) || !errors.Is(err, ErrAttemptTimeout) {
		t.Errorf("Execute() = %v, want exhaustion wrapping ErrAttemptTimeout", err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestOrchestrator_BulkheadFull(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{MaxConcurrent: 1})
	o := NewOrchestrator(WithBulkhead(b))

	release := make(chan struct{})
	started := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = o.Execute(context.Background(), OperationFunc(func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		}))
	}()
	<-started

	var calls atomic.Int32
	err := o.Execute(context.Background(), countingOp(&calls))
	close(release)
	wg.Wait()

	if !errors.Is(err, ErrBulkheadFull) {
		t.Errorf("Execute() = %v, want ErrBulkheadFull", err)
	}
	if calls.Load() != 0 {
		t.Errorf("calls = %d, want 0", calls.Load())
	}
	if b.Metrics().Active != 0 {
		t.Errorf("Active = %d after completion, want 0", b.Metrics().Active)
	}
}

func TestOrchestrator_Hooks(t *testing.T) {
	var (
		mu       sync.Mutex
		retries  []int
		delays   []time.Duration
		finished int
		attempts int
	)
	o := NewOrchestrator(
		WithRetryPolicy(fastRetry(3)),
		WithHooks(Hooks{
			OnRetry: func(ctx context.Context, attempt int, err error, delay time.Duration) {
				mu.Lock()
				defer mu.Unlock()
				retries = append(retries, attempt)
				delays = append(delays, delay)
			},
			OnFinish: func(ctx context.Context, n int, elapsed time.Duration, err error) {
				mu.Lock()
				defer mu.Unlock()
				finished++
				attempts = n
			},
		}),
	)

	var calls atomic.Int32
	_ = o.Execute(context.Background(), countingOp(&calls, throttled(2*time.Millisecond), serverError(), nil))

	mu.Lock()
	defer mu.Unlock()
	if len(retries) != 2 || retries[0] != 1 || retries[1] != 2 {
		t.Errorf("OnRetry attempts = %v, want [1 2]", retries)
	}
	if len(delays) > 0 && delays[0] != 2*time.Millisecond {
		t.Errorf("first delay = %v, want retry-after 2ms", delays[0])
	}
	if finished != 1 {
		t.Errorf("OnFinish calls = %d, want 1", finished)
	}
	if attempts != 2 {
		t.Errorf("OnFinish failed attempts = %d, want 2", attempts)
	}
}

func TestCall_ReturnsValue(t *testing.T) {
	o := NewOrchestrator(WithRetryPolicy(fastRetry(3)))

	var calls atomic.Int32
	got, err := Call(context.Background(), o, func(ctx context.Context) (string, error) {
		if calls.Add(1) == 1 {
			return "partial", serverError()
		}
		return "2+2 equals 4.", nil
	})
	if err != nil {
		t.Fatalf("Call() = %v", err)
	}
	if got != "2+2 equals 4." {
		t.Errorf("Call() = %q", got)
	}

	_, err = Call(context.Background(), o, func(ctx context.Context) (int, error) {
		return 0, clientError()
	})
	if err == nil {
		t.Error("Call() with client error = nil")
	}
}

func TestOrchestrator_ConcurrentCallsShareBreaker(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1000})
	o := NewOrchestrator(WithCircuitBreaker(cb), WithRetryPolicy(fastRetry(2)))

	var (
		wg    sync.WaitGroup
		calls atomic.Int32
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = o.Execute(context.Background(), countingOp(new(atomic.Int32), serverError()))
			calls.Add(1)
		}()
	}
	wg.Wait()

	if got := cb.Metrics().Failures; got != 40 {
		t.Errorf("Failures = %d, want 40", got)
	}
}

func TestHoldBulkheadSlot(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{MaxConcurrent: 1})
	o := NewOrchestrator(WithBulkhead(b), WithRetryPolicy(fastRetry(1)))

	var release func()
	err := o.Execute(context.Background(), OperationFunc(func(ctx context.Context) error {
		release = HoldBulkheadSlot(ctx)
		return nil
	}))
	if err != nil {
		t.Fatalf("Execute() = %v", err)
	}
	if got := b.Metrics().Active; got != 1 {
		t.Errorf("Active = %d while held, want 1", got)
	}

	var calls atomic.Int32
	if err := o.Execute(context.Background(), countingOp(&calls)); !errors.Is(err, ErrBulkheadFull) {
		t.Errorf("Execute() while slot held = %v, want ErrBulkheadFull", err)
	}

	release()
	release()
	if got := b.Metrics().Active; got != 0 {
		t.Errorf("Active = %d after release, want 0", got)
	}
	if err := o.Execute(context.Background(), countingOp(&calls)); err != nil {
		t.Errorf("Execute() after release = %v", err)
	}
}

func TestHoldBulkheadSlot_FailedAttempt(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{MaxConcurrent: 1})
	o := NewOrchestrator(WithBulkhead(b), WithRetryPolicy(fastRetry(1)))

	_ = o.Execute(context.Background(), OperationFunc(func(ctx context.Context) error {
		HoldBulkheadSlot(ctx)
		return clientError()
	}))
	if got := b.Metrics().Active; got != 0 {
		t.Errorf("Active = %d after failed attempt, want 0", got)
	}
}

func TestHoldBulkheadSlot_NoBulkhead(t *testing.T) {
	release := HoldBulkheadSlot(context.Background())
	release()
}
