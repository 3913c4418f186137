package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	"github.com/jonwraymond/llmcore/observe"
	"github.com/jonwraymond/llmcore/resilience"
	"github.com/jonwraymond/llmcore/transport"
)

// Environment variables that override file values.
const (
	EnvBaseURL  = "LLMCORE_BASE_URL"
	EnvLogLevel = "LLMCORE_LOG_LEVEL"
)

// Config is the file form of a client's configuration.
//
// Fields left at their zero value are filled from Default. Booleans
// therefore only ever switch a feature on.
type Config struct {
	Transport      TransportConfig      `yaml:"transport"`
	Retry          RetryConfig          `yaml:"retry"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	Observe        observe.Config       `yaml:"observe"`
}

// TransportConfig configures the endpoint and per-call bounds.
type TransportConfig struct {
	BaseURL          string            `yaml:"base_url"`
	Path             string            `yaml:"path,omitempty"` // default: /chat/completions
	Headers          map[string]string `yaml:"headers,omitempty"`
	UserAgent        string            `yaml:"user_agent,omitempty"`
	MaxResponseBytes int64             `yaml:"max_response_bytes,omitempty"`
	AttemptTimeout   time.Duration     `yaml:"attempt_timeout,omitempty"` // e.g. "60s"
	CallTimeout      time.Duration     `yaml:"call_timeout,omitempty"`    // across retries
	MaxConcurrent    int               `yaml:"max_concurrent,omitempty"`  // bulkhead size
}

// RetryConfig mirrors resilience.RetryConfig.
type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialDelay   time.Duration `yaml:"initial_delay"`
	MaxDelay       time.Duration `yaml:"max_delay"`
	Multiplier     float64       `yaml:"multiplier"`
	JitterFraction float64       `yaml:"jitter_fraction"`
}

// CircuitBreakerConfig mirrors resilience.CircuitBreakerConfig.
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	OpenTimeout      time.Duration `yaml:"open_timeout"`
}

// RateLimitConfig mirrors resilience.RateLimitConfig.
type RateLimitConfig struct {
	RequestsPerPeriod int           `yaml:"requests_per_period"`
	TokensPerPeriod   float64       `yaml:"tokens_per_period"`
	BurstCapacity     int           `yaml:"burst_capacity"`
	Period            time.Duration `yaml:"period"`
	MaxWait           time.Duration `yaml:"max_wait"`
}

// Default returns the configuration used for anything a file leaves unset.
// Logging, tracing and metrics are off until enabled.
func Default() *Config {
	retry := resilience.DefaultRetryConfig()
	return &Config{
		Transport: TransportConfig{
			Path:             "/chat/completions",
			UserAgent:        "llmcore/1",
			MaxResponseBytes: 16 << 20,
			AttemptTimeout:   60 * time.Second,
			CallTimeout:      5 * time.Minute,
			MaxConcurrent:    10,
		},
		Retry: RetryConfig{
			MaxAttempts:    retry.MaxAttempts,
			InitialDelay:   retry.InitialDelay,
			MaxDelay:       retry.MaxDelay,
			Multiplier:     retry.Multiplier,
			JitterFraction: retry.JitterFraction,
		},
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold: 5,
			SuccessThreshold: 1,
			OpenTimeout:      30 * time.Second,
		},
		RateLimit: RateLimitConfig{
			RequestsPerPeriod: 60,
			TokensPerPeriod:   60,
			BurstCapacity:     10,
			Period:            time.Minute,
			MaxWait:           30 * time.Second,
		},
		Observe: observe.Config{
			ServiceName: "llmcore",
			Tracing:     observe.TracingConfig{Exporter: "none", SamplePct: 1.0},
			Metrics:     observe.MetricsConfig{Exporter: "none"},
			Logging:     observe.LoggingConfig{Level: "info"},
		},
	}
}

// Load reads the YAML file at path, fills defaults, applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML and fills unset fields from Default. It does not
// validate.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}
	if err := mergo.Merge(&cfg, Default()); err != nil {
		return nil, fmt.Errorf("config: merge defaults: %w", err)
	}
	return &cfg, nil
}

// ApplyEnv overrides fields from the environment. Setting a log level also
// enables logging.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvBaseURL); ok && v != "" {
		c.Transport.BaseURL = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Observe.Logging.Enabled = true
		c.Observe.Logging.Level = strings.ToLower(v)
	}
}

// Validate rejects values no component could run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Transport.BaseURL) == "" {
		return fmt.Errorf("%w: transport.base_url is required", ErrInvalid)
	}

	checks := []struct {
		bad   bool
		field string
	}{
		{c.Transport.MaxResponseBytes < 0, "transport.max_response_bytes"},
		{c.Transport.AttemptTimeout < 0, "transport.attempt_timeout"},
		{c.Transport.CallTimeout < 0, "transport.call_timeout"},
		{c.Transport.MaxConcurrent < 0, "transport.max_concurrent"},
		{c.Retry.MaxAttempts < 1, "retry.max_attempts"},
		{c.Retry.InitialDelay < 0, "retry.initial_delay"},
		{c.Retry.MaxDelay < c.Retry.InitialDelay, "retry.max_delay"},
		{c.Retry.Multiplier < 1, "retry.multiplier"},
		{c.Retry.JitterFraction < 0 || c.Retry.JitterFraction > 1, "retry.jitter_fraction"},
		{c.CircuitBreaker.FailureThreshold < 1, "circuit_breaker.failure_threshold"},
		{c.CircuitBreaker.SuccessThreshold < 1, "circuit_breaker.success_threshold"},
		{c.CircuitBreaker.OpenTimeout <= 0, "circuit_breaker.open_timeout"},
		{c.RateLimit.RequestsPerPeriod < 1, "rate_limit.requests_per_period"},
		{c.RateLimit.TokensPerPeriod <= 0, "rate_limit.tokens_per_period"},
		{c.RateLimit.BurstCapacity < 1, "rate_limit.burst_capacity"},
		{c.RateLimit.Period <= 0, "rate_limit.period"},
		{c.RateLimit.MaxWait < 0, "rate_limit.max_wait"},
	}
	for _, chk := range checks {
		if chk.bad {
			return fmt.Errorf("%w: %s out of range", ErrInvalid, chk.field)
		}
	}

	if err := c.Observe.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

// HTTPConfig returns the transport settings.
func (c *Config) HTTPConfig() transport.HTTPConfig {
	return transport.HTTPConfig{
		BaseURL:          c.Transport.BaseURL,
		Headers:          c.Transport.Headers,
		UserAgent:        c.Transport.UserAgent,
		MaxResponseBytes: c.Transport.MaxResponseBytes,
	}
}

// RetryPolicyConfig returns the retry settings.
func (c *Config) RetryPolicyConfig() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    c.Retry.MaxAttempts,
		InitialDelay:   c.Retry.InitialDelay,
		MaxDelay:       c.Retry.MaxDelay,
		Multiplier:     c.Retry.Multiplier,
		JitterFraction: c.Retry.JitterFraction,
	}
}

// BreakerConfig returns the circuit breaker settings. OnStateChange is left
// for the caller to install.
func (c *Config) BreakerConfig() resilience.CircuitBreakerConfig {
	return resilience.CircuitBreakerConfig{
		FailureThreshold: c.CircuitBreaker.FailureThreshold,
		SuccessThreshold: c.CircuitBreaker.SuccessThreshold,
		OpenTimeout:      c.CircuitBreaker.OpenTimeout,
	}
}

// LimiterConfig returns the rate limiter settings.
func (c *Config) LimiterConfig() resilience.RateLimitConfig {
	return resilience.RateLimitConfig{
		RequestsPerPeriod: c.RateLimit.RequestsPerPeriod,
		TokensPerPeriod:   c.RateLimit.TokensPerPeriod,
		BurstCapacity:     c.RateLimit.BurstCapacity,
		Period:            c.RateLimit.Period,
		MaxWait:           c.RateLimit.MaxWait,
	}
}
