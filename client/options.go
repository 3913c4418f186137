package client

import (
	"time"

	"github.com/jonwraymond/llmcore/config"
	"github.com/jonwraymond/llmcore/observe"
	"github.com/jonwraymond/llmcore/resilience"
)

// DefaultPath is the chat-completions route below the transport base URL.
const DefaultPath = "/chat/completions"

// Option configures a Client.
type Option func(*options)

type options struct {
	breaker        resilience.CircuitBreakerConfig
	limit          resilience.RateLimitConfig
	retry          resilience.RetryConfig
	maxConcurrent  int
	attemptTimeout time.Duration
	callTimeout    time.Duration
	logger         observe.Logger
	middleware     *observe.Middleware
	path           string
	name           string
	secrets        []config.SecretProvider
}

func defaultOptions() options {
	return options{
		retry: resilience.DefaultRetryConfig(),
		path:  DefaultPath,
		name:  "llm",
	}
}

func collect(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithCircuitBreakerConfig configures the client's breaker. A non-nil
// OnStateChange runs after the client's own transition logging.
func WithCircuitBreakerConfig(cfg resilience.CircuitBreakerConfig) Option {
	return func(o *options) { o.breaker = cfg }
}

// WithRateLimitConfig configures the client's rate limiter.
func WithRateLimitConfig(cfg resilience.RateLimitConfig) Option {
	return func(o *options) { o.limit = cfg }
}

// WithRetryConfig configures retries.
// Default: resilience.DefaultRetryConfig()
func WithRetryConfig(cfg resilience.RetryConfig) Option {
	return func(o *options) { o.retry = cfg }
}

// WithMaxConcurrent bounds in-flight attempts and open streams. Zero means
// unbounded.
func WithMaxConcurrent(n int) Option {
	return func(o *options) { o.maxConcurrent = n }
}

// WithAttemptTimeout bounds one attempt. For streams it bounds the time
// until response headers arrive, not the stream itself.
func WithAttemptTimeout(d time.Duration) Option {
	return func(o *options) { o.attemptTimeout = d }
}

// WithCallTimeout bounds a logical call across all of its retries.
func WithCallTimeout(d time.Duration) Option {
	return func(o *options) { o.callTimeout = d }
}

// WithLogger sets the logger for retries and breaker transitions.
// Default: the middleware's logger.
func WithLogger(l observe.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMiddleware sets the tracing, metrics and logging middleware.
// Default: no-op middleware.
func WithMiddleware(mw *observe.Middleware) Option {
	return func(o *options) { o.middleware = mw }
}

// WithPath overrides the request path.
// Default: DefaultPath
func WithPath(path string) Option {
	return func(o *options) {
		if path != "" {
			o.path = path
		}
	}
}

// WithName names the client's health checker.
// Default: "llm"
func WithName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.name = name
		}
	}
}

// WithSecretProviders registers providers for secretref header values.
// Only NewFromConfig uses them.
func WithSecretProviders(ps ...config.SecretProvider) Option {
	return func(o *options) { o.secrets = append(o.secrets, ps...) }
}
