package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records client call metrics.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: must return quickly and never block on export.
// - Errors: implementations must not panic.
type Metrics interface {
	// RecordCall records a finished logical call with duration and error status.
	RecordCall(ctx context.Context, meta CallMeta, duration time.Duration, err error)

	// RecordAttempts records how many attempts a logical call made.
	RecordAttempts(ctx context.Context, meta CallMeta, attempts int)

	// RecordRetry records one scheduled retry and its delay.
	RecordRetry(ctx context.Context, meta CallMeta, delay time.Duration)

	// RecordRejection records a call refused before reaching the endpoint.
	RecordRejection(ctx context.Context, meta CallMeta, reason string)

	// RecordBreakerTransition records a circuit breaker state change.
	RecordBreakerTransition(ctx context.Context, from, to string)

	// RecordRateLimitWait records time spent waiting for rate budget.
	RecordRateLimitWait(ctx context.Context, waited time.Duration)

	// RecordTimeToFirstToken records the latency until the first stream frame.
	RecordTimeToFirstToken(ctx context.Context, meta CallMeta, ttft time.Duration)
}

// metricsImpl is the concrete implementation of Metrics.
type metricsImpl struct {
	totalCount   metric.Int64Counter
	errorCount   metric.Int64Counter
	durationHist metric.Float64Histogram
	attemptsHist metric.Int64Histogram
	retryCount   metric.Int64Counter
	retryDelay   metric.Float64Histogram
	rejectCount  metric.Int64Counter
	transitions  metric.Int64Counter
	rateWait     metric.Float64Histogram
	ttftHist     metric.Float64Histogram
}

// NewMetrics creates a new Metrics instance with the given meter.
func NewMetrics(meter metric.Meter) (Metrics, error) {
	m := &metricsImpl{}
	var err error

	if m.totalCount, err = meter.Int64Counter(
		"llm.call.total",
		metric.WithDescription("Total number of logical calls"),
		metric.WithUnit("{call}"),
	); err != nil {
		return nil, err
	}

	if m.errorCount, err = meter.Int64Counter(
		"llm.call.errors",
		metric.WithDescription("Total number of failed logical calls"),
		metric.WithUnit("{error}"),
	); err != nil {
		return nil, err
	}

	if m.durationHist, err = meter.Float64Histogram(
		"llm.call.duration_ms",
		metric.WithDescription("Logical call duration in milliseconds, retries included"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}

	if m.attemptsHist, err = meter.Int64Histogram(
		"llm.call.attempts",
		metric.WithDescription("Attempts made per logical call"),
		metric.WithUnit("{attempt}"),
	); err != nil {
		return nil, err
	}

	if m.retryCount, err = meter.Int64Counter(
		"llm.retry.total",
		metric.WithDescription("Total number of scheduled retries"),
		metric.WithUnit("{retry}"),
	); err != nil {
		return nil, err
	}

	if m.retryDelay, err = meter.Float64Histogram(
		"llm.retry.delay_ms",
		metric.WithDescription("Backoff delay before a retry in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}

	if m.rejectCount, err = meter.Int64Counter(
		"llm.call.rejected",
		metric.WithDescription("Calls rejected by the breaker, limiter or bulkhead"),
		metric.WithUnit("{call}"),
	); err != nil {
		return nil, err
	}

	if m.transitions, err = meter.Int64Counter(
		"llm.breaker.transitions",
		metric.WithDescription("Circuit breaker state transitions"),
		metric.WithUnit("{transition}"),
	); err != nil {
		return nil, err
	}

	if m.rateWait, err = meter.Float64Histogram(
		"llm.ratelimit.wait_ms",
		metric.WithDescription("Time spent waiting for rate budget in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}

	if m.ttftHist, err = meter.Float64Histogram(
		"llm.stream.ttft_ms",
		metric.WithDescription("Time to first streamed frame in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *metricsImpl) RecordCall(ctx context.Context, meta CallMeta, duration time.Duration, err error) {
	opt := metric.WithAttributes(meta.attributes()...)

	m.totalCount.Add(ctx, 1, opt)
	if err != nil {
		m.errorCount.Add(ctx, 1, opt)
	}
	m.durationHist.Record(ctx, float64(duration.Milliseconds()), opt)
}

func (m *metricsImpl) RecordAttempts(ctx context.Context, meta CallMeta, attempts int) {
	m.attemptsHist.Record(ctx, int64(attempts), metric.WithAttributes(meta.attributes()...))
}

func (m *metricsImpl) RecordRetry(ctx context.Context, meta CallMeta, delay time.Duration) {
	opt := metric.WithAttributes(meta.attributes()...)
	m.retryCount.Add(ctx, 1, opt)
	m.retryDelay.Record(ctx, float64(delay.Milliseconds()), opt)
}

func (m *metricsImpl) RecordRejection(ctx context.Context, meta CallMeta, reason string) {
	attrs := append(meta.attributes(), attribute.String("llm.reject_reason", reason))
	m.rejectCount.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *metricsImpl) RecordBreakerTransition(ctx context.Context, from, to string) {
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("llm.breaker.from", from),
		attribute.String("llm.breaker.to", to),
	))
}

func (m *metricsImpl) RecordRateLimitWait(ctx context.Context, waited time.Duration) {
	m.rateWait.Record(ctx, float64(waited.Milliseconds()))
}

func (m *metricsImpl) RecordTimeToFirstToken(ctx context.Context, meta CallMeta, ttft time.Duration) {
	m.ttftHist.Record(ctx, float64(ttft.Milliseconds()), metric.WithAttributes(meta.attributes()...))
}

// NopMetrics returns a metrics implementation that does nothing.
func NopMetrics() Metrics {
	return noopMetrics{}
}

type noopMetrics struct{}

func (noopMetrics) RecordCall(context.Context, CallMeta, time.Duration, error) {}

func (noopMetrics) RecordAttempts(context.Context, CallMeta, int) {}

func (noopMetrics) RecordRetry(context.Context, CallMeta, time.Duration) {}

func (noopMetrics) RecordRejection(context.Context, CallMeta, string) {}

func (noopMetrics) RecordBreakerTransition(context.Context, string, string) {}

func (noopMetrics) RecordRateLimitWait(context.Context, time.Duration) {}

func (noopMetrics) RecordTimeToFirstToken(context.Context, CallMeta, time.Duration) {}
