package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/jonwraymond/llmcore/observe"
)

// Operation is one attempt of a logical call. It is invoked once per attempt
// and must honor ctx.
type Operation interface {
	Attempt(ctx context.Context) error
}

// OperationFunc adapts an ordinary function to Operation.
type OperationFunc func(ctx context.Context) error

// Attempt calls f(ctx).
func (f OperationFunc) Attempt(ctx context.Context) error {
	return f(ctx)
}

// Hooks observe orchestrator decisions. Every hook is optional and runs on
// the calling goroutine.
type Hooks struct {
	// OnRetry is called before sleeping for a retry.
	OnRetry func(ctx context.Context, attempt int, err error, delay time.Duration)

	// OnRateLimitWait is called after rate budget was granted or refused.
	OnRateLimitWait func(ctx context.Context, waited time.Duration, err error)

	// OnRejected is called when the breaker, limiter or bulkhead refuses a call.
	OnRejected func(ctx context.Context, err error)

	// OnFinish is called once per logical call with the attempts made.
	OnFinish func(ctx context.Context, attempts int, elapsed time.Duration, err error)
}

// Orchestrator composes the circuit breaker, rate limiter, retry policy and
// bulkhead around caller-supplied operations.
//
// Contract:
//   - Concurrency: safe for concurrent use; breaker and limiter state is
//     shared by all calls, AttemptState is per call.
//   - Context: cancellation aborts rate-limit waits and retry sleeps promptly.
//   - Errors: callers only ever see the final outcome of a call.
type Orchestrator struct {
	breaker        *CircuitBreaker
	limiter        *RateLimiter
	policy         *RetryPolicy
	bulkhead       *Bulkhead
	attemptTimeout time.Duration
	maxElapsed     time.Duration
	hooks          Hooks
	logger         observe.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// NewOrchestrator creates a new orchestrator. Without WithRetryPolicy it
// retries with DefaultRetryConfig.
func NewOrchestrator(opts ...Option) *Orchestrator {
	o := &Orchestrator{}
	for _, opt := range opts {
		opt(o)
	}
	if o.policy == nil {
		o.policy = NewRetryPolicy(DefaultRetryConfig())
	}
	if o.logger == nil {
		o.logger = observe.NopLogger()
	}
	return o
}

// WithCircuitBreaker adds a circuit breaker to the orchestrator.
func WithCircuitBreaker(cb *CircuitBreaker) Option {
	return func(o *Orchestrator) {
		o.breaker = cb
	}
}

// WithRateLimiter adds rate limiting to the orchestrator.
func WithRateLimiter(rl *RateLimiter) Option {
	return func(o *Orchestrator) {
		o.limiter = rl
	}
}

// WithRetryPolicy sets the retry policy.
func WithRetryPolicy(p *RetryPolicy) Option {
	return func(o *Orchestrator) {
		o.policy = p
	}
}

// WithBulkhead bounds concurrent attempts.
func WithBulkhead(b *Bulkhead) Option {
	return func(o *Orchestrator) {
		o.bulkhead = b
	}
}

// WithAttemptTimeout bounds each individual attempt.
func WithAttemptTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.attemptTimeout = d
	}
}

// WithMaxElapsed bounds the cumulative duration of every call, across all
// of its retries.
func WithMaxElapsed(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.maxElapsed = d
	}
}

// WithHooks installs observation hooks.
func WithHooks(h Hooks) Option {
	return func(o *Orchestrator) {
		o.hooks = h
	}
}

// WithLogger sets the logger used for retry and exhaustion messages.
func WithLogger(l observe.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// CallOption configures a single call.
type CallOption func(*callOptions)

type callOptions struct {
	timeout time.Duration
}

// WithCallTimeout sets the cumulative deadline of one call.
func WithCallTimeout(d time.Duration) CallOption {
	return func(c *callOptions) {
		c.timeout = d
	}
}

// Breaker returns the configured circuit breaker, or nil.
func (o *Orchestrator) Breaker() *CircuitBreaker { return o.breaker }

// Limiter returns the configured rate limiter, or nil.
func (o *Orchestrator) Limiter() *RateLimiter { return o.limiter }

// Policy returns the retry policy.
func (o *Orchestrator) Policy() *RetryPolicy { return o.policy }

// Execute runs op until it succeeds, fails with a non-retryable error, or the
// attempt budget or call deadline is exhausted.
//
// Each iteration checks the breaker (rejections return at once and count no
// attempt), acquires rate budget, runs one attempt, and records the outcome.
// Only breaker-worthy failures count against the breaker. Exhaustion returns
// a *RetryExhaustedError; a non-retryable error is returned wrapped with the
// attempt count and elapsed time.
func (o *Orchestrator) Execute(ctx context.Context, op Operation, opts ...CallOption) (err error) {
	var co callOptions
	for _, opt := range opts {
		opt(&co)
	}

	state := &AttemptState{Started: time.Now()}
	deadline := o.deadline(state.Started, co)
	schedule := &callSchedule{
		BackOff:  o.policy.BackOff(state),
		policy:   o.policy,
		state:    state,
		deadline: deadline,
	}

	defer func() {
		if o.hooks.OnFinish != nil {
			o.hooks.OnFinish(ctx, state.Attempt, state.Elapsed(), err)
		}
	}()

	waiting := false
	err = backoff.RetryNotify(func() error {
		waiting = false
		return o.try(ctx, op, state, deadline)
	}, backoff.WithContext(schedule, ctx), func(err error, delay time.Duration) {
		o.logger.Warn(ctx, "retrying call",
			observe.Field{Key: "attempt", Value: state.Attempt},
			observe.Field{Key: "delay_ms", Value: delay.Milliseconds()},
			observe.Field{Key: "error", Value: err.Error()},
		)
		if o.hooks.OnRetry != nil {
			o.hooks.OnRetry(ctx, state.Attempt, err, delay)
		}
		waiting = true
	})

	switch {
	case err == nil:
		return nil
	case waiting:
		return fmt.Errorf("resilience: retry wait interrupted: %w (last error: %v)", err, state.LastErr)
	case schedule.stop == stopExhausted:
		return o.exhausted(ctx, state)
	case schedule.stop == stopFinal, state.LastErr != nil && errors.Is(err, ctx.Err()):
		return fmt.Errorf("resilience: attempt %d failed after %s: %w",
			state.Attempt, state.Elapsed().Round(time.Millisecond), state.LastErr)
	default:
		return err
	}
}

// try runs one iteration. Errors that end the call are returned as
// *backoff.PermanentError; attempt failures are returned as-is for the
// schedule to judge.
func (o *Orchestrator) try(ctx context.Context, op Operation, state *AttemptState, deadline time.Time) error {
	var ticket Ticket
	if o.breaker != nil {
		var err error
		if ticket, err = o.breaker.Check(); err != nil {
			o.reject(ctx, err)
			return backoff.Permanent(err)
		}
	}

	if err := o.admit(ctx, deadline); err != nil {
		o.abandon(ticket)
		if state.LastErr != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return backoff.Permanent(o.exhausted(ctx, state))
		}
		return backoff.Permanent(err)
	}

	err := o.attempt(ctx, op, deadline)
	if err == nil {
		if o.breaker != nil {
			o.breaker.RecordSuccess(ticket)
		}
		return nil
	}

	if o.breaker != nil {
		if IsBreakerWorthy(err) {
			o.breaker.RecordFailure(ticket)
		} else {
			o.breaker.Abandon(ticket)
		}
	}

	state.Attempt++
	state.LastErr = err
	return err
}

type stopReason int

const (
	stopNone stopReason = iota
	stopFinal
	stopExhausted
)

// callSchedule bounds the policy's delays by the call deadline and records
// why the schedule stopped.
type callSchedule struct {
	backoff.BackOff
	policy   *RetryPolicy
	state    *AttemptState
	deadline time.Time
	stop     stopReason
}

func (s *callSchedule) NextBackOff() time.Duration {
	d := s.BackOff.NextBackOff()
	switch {
	case d == backoff.Stop && s.policy.ShouldRetry(s.state.LastErr):
		s.stop = stopExhausted
	case d == backoff.Stop:
		s.stop = stopFinal
	case !s.deadline.IsZero() && time.Now().Add(d).After(s.deadline):
		s.stop = stopExhausted
		return backoff.Stop
	}
	return d
}

// Call runs fn through o and returns its value from the successful attempt.
func Call[T any](ctx context.Context, o *Orchestrator, fn func(context.Context) (T, error), opts ...CallOption) (T, error) {
	var result T
	err := o.Execute(ctx, OperationFunc(func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	}), opts...)
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

func (o *Orchestrator) deadline(start time.Time, co callOptions) time.Time {
	var d time.Time
	limit := o.maxElapsed
	if co.timeout > 0 && (limit <= 0 || co.timeout < limit) {
		limit = co.timeout
	}
	if limit > 0 {
		d = start.Add(limit)
	}
	return d
}

// admit acquires rate budget and a bulkhead slot for one attempt.
func (o *Orchestrator) admit(ctx context.Context, deadline time.Time) error {
	if o.limiter != nil {
		waitCtx := ctx
		if !deadline.IsZero() {
			var cancel context.CancelFunc
			waitCtx, cancel = context.WithDeadline(ctx, deadline)
			defer cancel()
		}

		start := time.Now()
		err := o.limiter.Acquire(waitCtx)
		if o.hooks.OnRateLimitWait != nil {
			o.hooks.OnRateLimitWait(ctx, time.Since(start), err)
		}
		if err != nil {
			if errors.Is(err, ErrRateLimitTimeout) {
				o.reject(ctx, err)
			}
			return err
		}
	}

	if o.bulkhead != nil {
		if err := o.bulkhead.Acquire(ctx); err != nil {
			if errors.Is(err, ErrBulkheadFull) {
				o.reject(ctx, err)
			}
			return err
		}
	}
	return nil
}

func (o *Orchestrator) attempt(ctx context.Context, op Operation, deadline time.Time) (err error) {
	if o.bulkhead != nil {
		slot := &heldSlot{bulkhead: o.bulkhead}
		ctx = context.WithValue(ctx, slotKey{}, slot)
		defer func() {
			if err != nil || !slot.held.Load() {
				slot.release()
			}
		}()
	}

	timeout := o.attemptTimeout
	if !deadline.IsZero() {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return &attemptTimeoutError{timeout: 0, cause: context.DeadlineExceeded}
		}
		if timeout <= 0 || remaining < timeout {
			timeout = remaining
		}
	}
	if timeout > 0 {
		return executeWithin(ctx, timeout, op.Attempt)
	}
	return op.Attempt(ctx)
}

func (o *Orchestrator) abandon(t Ticket) {
	if o.breaker != nil {
		o.breaker.Abandon(t)
	}
}

func (o *Orchestrator) reject(ctx context.Context, err error) {
	o.logger.Debug(ctx, "call rejected", observe.Field{Key: "error", Value: err.Error()})
	if o.hooks.OnRejected != nil {
		o.hooks.OnRejected(ctx, err)
	}
}

func (o *Orchestrator) exhausted(ctx context.Context, state *AttemptState) error {
	err := &RetryExhaustedError{
		Attempts: state.Attempt,
		Elapsed:  state.Elapsed(),
		Err:      state.LastErr,
	}
	o.logger.Error(ctx, "retries exhausted",
		observe.Field{Key: "attempts", Value: err.Attempts},
		observe.Field{Key: "elapsed_ms", Value: err.Elapsed.Milliseconds()},
		observe.Field{Key: "error", Value: state.LastErr.Error()},
	)
	return err
}

type slotKey struct{}

// heldSlot is the bulkhead slot of one attempt.
type heldSlot struct {
	bulkhead *Bulkhead
	held     atomic.Bool
	once     sync.Once
}

func (h *heldSlot) release() {
	h.once.Do(h.bulkhead.Release)
}

// HoldBulkheadSlot keeps the bulkhead slot of the attempt running on ctx
// after the attempt returns successfully, for results such as open streams
// that keep using the endpoint. The returned function releases the slot and
// is safe to call more than once. Without a bulkhead it is a no-op.
func HoldBulkheadSlot(ctx context.Context) (release func()) {
	slot, ok := ctx.Value(slotKey{}).(*heldSlot)
	if !ok {
		return func() {}
	}
	slot.held.Store(true)
	return slot.release
}
