// Package health reports whether a client can currently reach its LLM
// endpoint, and serves that over HTTP.
//
// ClientChecker derives health from the client's own resilience state:
// an open circuit breaker is unhealthy, a half-open breaker or an exhausted
// rate limiter is degraded. No probe request is ever sent, so checking
// costs nothing against the endpoint's quota.
//
//	agg := health.NewAggregator()
//	agg.Register("openai", c.HealthChecker())
//
//	mux := http.NewServeMux()
//	health.RegisterHandlers(mux, agg)
//
// The handlers are:
//
//   - /healthz: liveness, always 200 while the process runs
//   - /readyz: 200 OK or DEGRADED, 503 UNHEALTHY
//   - /health: JSON Report with per-check details
package health
