package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jonwraymond/llmcore/observe"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

func TestParse_FillsDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
transport:
  base_url: https://llm.example.com/v1
  attempt_timeout: 45s
retry:
  max_attempts: 5
  initial_delay: 250ms
`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Transport.BaseURL != "https://llm.example.com/v1" {
		t.Errorf("BaseURL = %q", cfg.Transport.BaseURL)
	}
	if cfg.Transport.AttemptTimeout != 45*time.Second {
		t.Errorf("AttemptTimeout = %v, want 45s", cfg.Transport.AttemptTimeout)
	}
	if cfg.Retry.MaxAttempts != 5 || cfg.Retry.InitialDelay != 250*time.Millisecond {
		t.Errorf("Retry = %+v", cfg.Retry)
	}

	def := Default()
	if cfg.Retry.MaxDelay != def.Retry.MaxDelay {
		t.Errorf("Retry.MaxDelay = %v, want default %v", cfg.Retry.MaxDelay, def.Retry.MaxDelay)
	}
	if cfg.Transport.Path != "/chat/completions" {
		t.Errorf("Path = %q, want default", cfg.Transport.Path)
	}
	if cfg.CircuitBreaker != def.CircuitBreaker {
		t.Errorf("CircuitBreaker = %+v, want %+v", cfg.CircuitBreaker, def.CircuitBreaker)
	}
	if cfg.RateLimit != def.RateLimit {
		t.Errorf("RateLimit = %+v, want %+v", cfg.RateLimit, def.RateLimit)
	}
	if cfg.Observe.ServiceName != "llmcore" || cfg.Observe.Logging.Enabled {
		t.Errorf("Observe = %+v", cfg.Observe)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestParse_Observe(t *testing.T) {
	cfg, err := Parse([]byte(`
transport:
  base_url: http://localhost:8080
observe:
  service_name: chat-gateway
  metrics:
    enabled: true
    exporter: prometheus
  logging:
    enabled: true
    level: debug
`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	want := observe.Config{
		ServiceName: "chat-gateway",
		Tracing:     observe.TracingConfig{Exporter: "none", SamplePct: 1.0},
		Metrics:     observe.MetricsConfig{Enabled: true, Exporter: "prometheus"},
		Logging:     observe.LoggingConfig{Enabled: true, Level: "debug"},
	}
	if cfg.Observe != want {
		t.Errorf("Observe = %+v, want %+v", cfg.Observe, want)
	}
}

func TestParse_Malformed(t *testing.T) {
	_, err := Parse([]byte("transport: [unterminated"))
	if !errors.Is(err, ErrParse) {
		t.Errorf("Parse() error = %v, want ErrParse", err)
	}

	_, err = Parse([]byte("retry:\n  initial_delay: soon\n"))
	if !errors.Is(err, ErrParse) {
		t.Errorf("Parse(bad duration) error = %v, want ErrParse", err)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := Default()
		c.Transport.BaseURL = "https://llm.example.com"
		return c
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "missing base url", mutate: func(c *Config) { c.Transport.BaseURL = " " }, field: "transport.base_url"},
		{name: "negative call timeout", mutate: func(c *Config) { c.Transport.CallTimeout = -time.Second }, field: "transport.call_timeout"},
		{name: "zero attempts", mutate: func(c *Config) { c.Retry.MaxAttempts = 0 }, field: "retry.max_attempts"},
		{name: "max below initial", mutate: func(c *Config) { c.Retry.MaxDelay = time.Millisecond }, field: "retry.max_delay"},
		{name: "multiplier below one", mutate: func(c *Config) { c.Retry.Multiplier = 0.5 }, field: "retry.multiplier"},
		{name: "jitter above one", mutate: func(c *Config) { c.Retry.JitterFraction = 1.5 }, field: "retry.jitter_fraction"},
		{name: "zero open timeout", mutate: func(c *Config) { c.CircuitBreaker.OpenTimeout = 0 }, field: "circuit_breaker.open_timeout"},
		{name: "zero burst", mutate: func(c *Config) { c.RateLimit.BurstCapacity = 0 }, field: "rate_limit.burst_capacity"},
		{name: "zero period", mutate: func(c *Config) { c.RateLimit.Period = 0 }, field: "rate_limit.period"},
		{name: "bad log level", mutate: func(c *Config) {
			c.Observe.Logging = observe.LoggingConfig{Enabled: true, Level: "verbose"}
		}, field: "log level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.field == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("Validate() error = %v, want ErrInvalid", err)
			}
			if !strings.Contains(err.Error(), tt.field) {
				t.Errorf("Validate() error = %q, want mention of %q", err, tt.field)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "llmcore.yaml")
	data := []byte("transport:\n  base_url: https://file.example.com\nrate_limit:\n  burst_capacity: 3\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv(EnvBaseURL, "https://env.example.com")
	t.Setenv(EnvLogLevel, "WARN")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Transport.BaseURL != "https://env.example.com" {
		t.Errorf("BaseURL = %q, want env override", cfg.Transport.BaseURL)
	}
	if !cfg.Observe.Logging.Enabled || cfg.Observe.Logging.Level != "warn" {
		t.Errorf("Logging = %+v, want enabled at warn", cfg.Observe.Logging)
	}
	if cfg.RateLimit.BurstCapacity != 3 {
		t.Errorf("BurstCapacity = %d, want 3", cfg.RateLimit.BurstCapacity)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Load() error = %v, want os.ErrNotExist", err)
	}
}

func TestLoad_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "llmcore.yaml")
	if err := os.WriteFile(path, []byte("retry:\n  max_attempts: 2\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvBaseURL, "")

	if _, err := Load(path); !errors.Is(err, ErrInvalid) {
		t.Errorf("Load() error = %v, want ErrInvalid", err)
	}
}

func TestConverters(t *testing.T) {
	c := Default()
	c.Transport.BaseURL = "https://llm.example.com"
	c.Transport.Headers = map[string]string{"OpenAI-Organization": "org-1"}

	hc := c.HTTPConfig()
	if hc.BaseURL != c.Transport.BaseURL || hc.Headers["OpenAI-Organization"] != "org-1" || hc.MaxResponseBytes != 16<<20 {
		t.Errorf("HTTPConfig() = %+v", hc)
	}
	if rc := c.RetryPolicyConfig(); rc.MaxAttempts != 3 || rc.Multiplier != 2.0 {
		t.Errorf("RetryPolicyConfig() = %+v", rc)
	}
	if bc := c.BreakerConfig(); bc.FailureThreshold != 5 || bc.OpenTimeout != 30*time.Second || bc.OnStateChange != nil {
		t.Errorf("BreakerConfig() = %+v", bc)
	}
	if lc := c.LimiterConfig(); lc.RequestsPerPeriod != 60 || lc.Period != time.Minute {
		t.Errorf("LimiterConfig() = %+v", lc)
	}
}

type stubProvider struct {
	name   string
	values map[string]string
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) Resolve(_ context.Context, ref string) (string, error) {
	v, ok := p.values[ref]
	if !ok {
		return "", errors.New("not found")
	}
	return v, nil
}

func TestResolveHeaders(t *testing.T) {
	c := Default()
	c.Transport.Headers = map[string]string{
		"Authorization": "Bearer ${API_KEY}",
		"X-Price":       "$$5",
		"X-Project":     "secretref:vault:projects/alpha",
		"X-Plain":       "as-is",
	}
	vault := &stubProvider{name: "vault", values: map[string]string{"projects/alpha": "alpha-id"}}

	err := c.ResolveHeaders(context.Background(), env(map[string]string{"API_KEY": "sk-1"}), vault)
	if err != nil {
		t.Fatalf("ResolveHeaders() error = %v", err)
	}

	want := map[string]string{
		"Authorization": "Bearer sk-1",
		"X-Price":       "$5",
		"X-Project":     "alpha-id",
		"X-Plain":       "as-is",
	}
	for k, v := range want {
		if got := c.Transport.Headers[k]; got != v {
			t.Errorf("Headers[%q] = %q, want %q", k, got, v)
		}
	}
}

func TestResolveHeaders_Errors(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		wantSub string
	}{
		{name: "missing variable", value: "Bearer ${B_KEY} ${A_KEY} ${B_KEY}", wantSub: "A_KEY, B_KEY"},
		{name: "unknown provider", value: "secretref:aws:key", wantSub: `"aws" is not registered`},
		{name: "provider failure", value: "secretref:vault:absent", wantSub: "not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			c.Transport.Headers = map[string]string{"Authorization": tt.value}
			err := c.ResolveHeaders(context.Background(), env(nil), &stubProvider{name: "vault"})
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("ResolveHeaders() error = %v, want ErrInvalid", err)
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error = %q, want substring %q", err, tt.wantSub)
			}
			if c.Transport.Headers["Authorization"] != tt.value {
				t.Error("headers modified on failure")
			}
		})
	}
}
