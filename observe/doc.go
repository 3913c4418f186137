// Package observe provides observability primitives for LLM client calls.
//
// It is a pure instrumentation library: structured logging on zerolog,
// OpenTelemetry tracing and metrics, and exporter setup. The client wires
// an Observer into every logical call; the resilience layer reports retries,
// rejections and breaker transitions through it.
package observe
