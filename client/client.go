package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/jonwraymond/llmcore/chat"
	"github.com/jonwraymond/llmcore/config"
	"github.com/jonwraymond/llmcore/health"
	"github.com/jonwraymond/llmcore/observe"
	"github.com/jonwraymond/llmcore/resilience"
	"github.com/jonwraymond/llmcore/transport"
)

// Client sends chat-completion calls through one shared circuit breaker,
// rate limiter and retry policy.
//
// Contract:
//   - Concurrency: safe for concurrent use.
//   - Context: every call honors ctx, including rate-limit waits and
//     retry sleeps; a stream keeps reading until its ctx is done.
//   - Errors: callers see only the final outcome of a call. Rejections
//     match resilience.ErrCircuitOpen, resilience.ErrRateLimitTimeout or
//     resilience.ErrBulkheadFull; exhaustion is a *resilience.RetryExhaustedError.
type Client struct {
	transport   transport.Transport
	orch        *resilience.Orchestrator
	breaker     *resilience.CircuitBreaker
	limiter     *resilience.RateLimiter
	checker     *health.ClientChecker
	mw          *observe.Middleware
	logger      observe.Logger
	path        string
	callTimeout time.Duration
	observer    observe.Observer
}

// New creates a client over t.
func New(t transport.Transport, opts ...Option) (*Client, error) {
	if t == nil {
		return nil, ErrNilTransport
	}
	o := collect(opts)

	mw := o.middleware
	if mw == nil {
		mw = observe.NewMiddleware(nil, nil, o.logger)
	}
	logger := o.logger
	if logger == nil {
		logger = mw.Logger()
	}

	c := &Client{
		transport:   t,
		mw:          mw,
		logger:      logger,
		path:        o.path,
		callTimeout: o.callTimeout,
	}

	breakerCfg := o.breaker
	next := breakerCfg.OnStateChange
	breakerCfg.OnStateChange = func(from, to resilience.State) {
		c.breakerTransition(from, to)
		if next != nil {
			next(from, to)
		}
	}
	c.breaker = resilience.NewCircuitBreaker(breakerCfg)
	c.limiter = resilience.NewRateLimiter(o.limit)
	c.checker = health.NewClientChecker(o.name, c.breaker, c.limiter)

	orchOpts := []resilience.Option{
		resilience.WithCircuitBreaker(c.breaker),
		resilience.WithRateLimiter(c.limiter),
		resilience.WithRetryPolicy(resilience.NewRetryPolicy(o.retry)),
		resilience.WithAttemptTimeout(o.attemptTimeout),
		resilience.WithLogger(logger),
		resilience.WithHooks(c.hooks()),
	}
	if o.maxConcurrent > 0 {
		orchOpts = append(orchOpts, resilience.WithBulkhead(
			resilience.NewBulkhead(resilience.BulkheadConfig{MaxConcurrent: o.maxConcurrent}),
		))
	}
	c.orch = resilience.NewOrchestrator(orchOpts...)

	return c, nil
}

// NewFromConfig builds the HTTP transport, telemetry and resilience stack
// described by cfg. Header values are resolved with config.ResolveHeaders
// against the process environment and any WithSecretProviders. opts are
// applied after the configuration. Close releases the telemetry exporters.
func NewFromConfig(ctx context.Context, cfg *config.Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	resolved := *cfg
	resolved.Transport.Headers = maps.Clone(cfg.Transport.Headers)
	if err := resolved.ResolveHeaders(ctx, os.LookupEnv, collect(opts).secrets...); err != nil {
		return nil, err
	}

	obs, err := observe.NewObserver(ctx, resolved.Observe)
	if err != nil {
		return nil, fmt.Errorf("client: observer: %w", err)
	}
	mw, err := observe.MiddlewareFromObserver(obs)
	if err != nil {
		_ = obs.Shutdown(ctx)
		return nil, fmt.Errorf("client: middleware: %w", err)
	}
	tr, err := transport.NewHTTPTransport(resolved.HTTPConfig(), transport.WithTransportLogger(obs.Logger()))
	if err != nil {
		_ = obs.Shutdown(ctx)
		return nil, err
	}

	base := []Option{
		WithCircuitBreakerConfig(resolved.BreakerConfig()),
		WithRateLimitConfig(resolved.LimiterConfig()),
		WithRetryConfig(resolved.RetryPolicyConfig()),
		WithMaxConcurrent(resolved.Transport.MaxConcurrent),
		WithAttemptTimeout(resolved.Transport.AttemptTimeout),
		WithCallTimeout(resolved.Transport.CallTimeout),
		WithMiddleware(mw),
		WithPath(resolved.Transport.Path),
	}
	c, err := New(tr, append(base, opts...)...)
	if err != nil {
		_ = obs.Shutdown(ctx)
		return nil, err
	}
	c.observer = obs
	return c, nil
}

// Close flushes and stops telemetry owned by a client from NewFromConfig.
// It is a no-op for clients from New.
func (c *Client) Close(ctx context.Context) error {
	if c.observer == nil {
		return nil
	}
	return c.observer.Shutdown(ctx)
}

// Complete sends a buffered chat-completion call.
func (c *Client) Complete(ctx context.Context, req *chat.Request) (*chat.Completion, error) {
	payload, err := encodeRequest(req, false)
	if err != nil {
		return nil, err
	}
	meta := observe.CallMeta{
		Operation: observe.OperationComplete,
		Model:     req.Model,
		RequestID: uuid.NewString(),
	}

	var out *chat.Completion
	err = c.mw.Wrap(func(ctx context.Context, meta observe.CallMeta) error {
		var err error
		out, err = resilience.Call(ctx, c.orch, func(ctx context.Context) (*chat.Completion, error) {
			resp, err := c.transport.Send(ctx, &transport.Request{
				Path:      c.path,
				Body:      payload,
				RequestID: meta.RequestID,
			})
			if err != nil {
				return nil, err
			}
			var completion chat.Completion
			if err := json.Unmarshal(resp.Body, &completion); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrDecode, err)
			}
			return &completion, nil
		}, c.callOptions()...)
		return err
	})(ctx, meta)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Breaker returns the client's circuit breaker.
func (c *Client) Breaker() *resilience.CircuitBreaker { return c.breaker }

// Limiter returns the client's rate limiter.
func (c *Client) Limiter() *resilience.RateLimiter { return c.limiter }

// HealthChecker reports endpoint health from breaker and limiter state.
func (c *Client) HealthChecker() *health.ClientChecker { return c.checker }

func (c *Client) callOptions() []resilience.CallOption {
	if c.callTimeout <= 0 {
		return nil
	}
	return []resilience.CallOption{resilience.WithCallTimeout(c.callTimeout)}
}

func (c *Client) hooks() resilience.Hooks {
	return resilience.Hooks{
		OnRetry: func(ctx context.Context, _ int, _ error, delay time.Duration) {
			meta, _ := observe.CallFromContext(ctx)
			c.mw.Metrics().RecordRetry(ctx, meta, delay)
		},
		OnRateLimitWait: func(ctx context.Context, waited time.Duration, _ error) {
			c.mw.Metrics().RecordRateLimitWait(ctx, waited)
		},
		OnRejected: func(ctx context.Context, err error) {
			meta, _ := observe.CallFromContext(ctx)
			c.mw.Metrics().RecordRejection(ctx, meta, rejectionReason(err))
		},
		OnFinish: func(ctx context.Context, failed int, _ time.Duration, err error) {
			attempts := failed
			if err == nil {
				attempts++
			}
			if attempts > 0 {
				meta, _ := observe.CallFromContext(ctx)
				c.mw.Metrics().RecordAttempts(ctx, meta, attempts)
			}
		},
	}
}

func (c *Client) breakerTransition(from, to resilience.State) {
	ctx := context.Background()
	c.logger.Info(ctx, "circuit breaker state changed",
		observe.Field{Key: "from", Value: from.String()},
		observe.Field{Key: "to", Value: to.String()},
	)
	c.mw.Metrics().RecordBreakerTransition(ctx, from.String(), to.String())
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, resilience.ErrRateLimitTimeout):
		return "rate_limit"
	case errors.Is(err, resilience.ErrBulkheadFull):
		return "bulkhead_full"
	default:
		return "other"
	}
}

func encodeRequest(req *chat.Request, streaming bool) ([]byte, error) {
	if req == nil {
		return nil, ErrNilRequest
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	body := *req
	body.Stream = streaming
	switch {
	case !streaming:
		body.StreamOptions = nil
	case body.StreamOptions == nil:
		body.StreamOptions = &chat.StreamOptions{IncludeUsage: true}
	}

	data, err := json.Marshal(&body)
	if err != nil {
		return nil, fmt.Errorf("client: encode request: %w", err)
	}
	return data, nil
}
