package observe

import (
	"context"
	"sync"
	"time"
)

// CallFunc is the signature of a logical client call that Middleware wraps.
type CallFunc func(ctx context.Context, meta CallMeta) error

// Middleware wraps logical calls with observability (tracing, metrics, logging).
//
// Contract:
//   - Concurrency: Wrap() returns a thread-safe CallFunc.
//   - Context: the wrapped function receives a context carrying the span and
//     the CallMeta (see CallFromContext).
//   - Errors: errors from the wrapped function are recorded and propagated unchanged.
type Middleware struct {
	tracer  Tracer
	metrics Metrics
	logger  Logger
}

// NewMiddleware creates a new Middleware with the given observability components.
// Nil components are replaced with no-ops.
func NewMiddleware(tracer Tracer, metrics Metrics, logger Logger) *Middleware {
	if tracer == nil {
		tracer = NopTracer()
	}
	if metrics == nil {
		metrics = NopMetrics()
	}
	if logger == nil {
		logger = NopLogger()
	}
	return &Middleware{
		tracer:  tracer,
		metrics: metrics,
		logger:  logger,
	}
}

// Wrap wraps a CallFunc with tracing, metrics, and logging.
func (m *Middleware) Wrap(fn CallFunc) CallFunc {
	return func(ctx context.Context, meta CallMeta) error {
		ctx, end := m.Start(ctx, meta)
		err := fn(ctx, meta)
		end(err)
		return err
	}
}

// Start begins observing a call that ends later, such as a stream that
// outlives the function that opened it. The returned end function records
// the outcome; only its first invocation has any effect.
func (m *Middleware) Start(ctx context.Context, meta CallMeta) (context.Context, func(error)) {
	ctx = ContextWithCall(ctx, meta)
	ctx, span := m.tracer.StartSpan(ctx, meta)
	start := time.Now()

	var once sync.Once
	return ctx, func(err error) {
		once.Do(func() {
			duration := time.Since(start)

			m.tracer.EndSpan(span, err)
			m.metrics.RecordCall(ctx, meta, duration, err)

			callLogger := m.logger.WithCall(meta)
			fields := []Field{
				{Key: "duration_ms", Value: float64(duration.Milliseconds())},
			}

			if err != nil {
				fields = append(fields, Field{Key: "error", Value: err.Error()})
				callLogger.Error(ctx, "llm call failed", fields...)
			} else {
				callLogger.Info(ctx, "llm call completed", fields...)
			}
		})
	}
}

// Tracer returns the middleware tracer.
func (m *Middleware) Tracer() Tracer { return m.tracer }

// Metrics returns the middleware metrics recorder.
func (m *Middleware) Metrics() Metrics { return m.metrics }

// Logger returns the middleware logger.
func (m *Middleware) Logger() Logger { return m.logger }

// MiddlewareFromObserver creates a Middleware from an Observer.
func MiddlewareFromObserver(obs Observer) (*Middleware, error) {
	if obs == nil {
		return nil, ErrNilObserver
	}

	metrics, err := NewMetrics(obs.Meter())
	if err != nil {
		return nil, err
	}

	return NewMiddleware(NewTracer(obs.Tracer()), metrics, obs.Logger()), nil
}
