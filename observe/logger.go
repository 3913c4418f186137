package observe

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// ParseLogLevel parses a string log level. Unknown or empty values map to info.
func ParseLogLevel(s string) zerolog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// zeroLogger adapts zerolog to Logger.
type zeroLogger struct {
	zl    zerolog.Logger
	bound bool
}

// NewLogger creates a JSON logger writing to stderr at the given level.
func NewLogger(level string) Logger {
	return NewLoggerWithWriter(level, os.Stderr)
}

// NewLoggerWithWriter creates a JSON logger with a custom writer.
func NewLoggerWithWriter(level string, w io.Writer) Logger {
	zl := zerolog.New(w).Level(ParseLogLevel(level)).With().Timestamp().Logger()
	return &zeroLogger{zl: zl}
}

// FromZerolog wraps an existing zerolog logger.
func FromZerolog(zl zerolog.Logger) Logger {
	return &zeroLogger{zl: zl}
}

// WithCall returns a logger with call context attached.
func (l *zeroLogger) WithCall(meta CallMeta) Logger {
	return &zeroLogger{
		zl:    withCallFields(l.zl.With(), meta).Logger(),
		bound: true,
	}
}

func (l *zeroLogger) Info(ctx context.Context, msg string, fields ...Field) {
	l.write(ctx, l.zl.Info(), msg, fields)
}

func (l *zeroLogger) Warn(ctx context.Context, msg string, fields ...Field) {
	l.write(ctx, l.zl.Warn(), msg, fields)
}

func (l *zeroLogger) Error(ctx context.Context, msg string, fields ...Field) {
	l.write(ctx, l.zl.Error(), msg, fields)
}

func (l *zeroLogger) Debug(ctx context.Context, msg string, fields ...Field) {
	l.write(ctx, l.zl.Debug(), msg, fields)
}

func (l *zeroLogger) write(ctx context.Context, ev *zerolog.Event, msg string, fields []Field) {
	// Disabled levels return a nil event.
	if ev == nil {
		return
	}

	if !l.bound {
		if meta, ok := CallFromContext(ctx); ok {
			addCallFields(ev, meta)
		}
	}

	for _, f := range fields {
		if isRedactedField(f.Key) {
			ev.Str(f.Key, "[REDACTED]")
			continue
		}
		switch v := f.Value.(type) {
		case string:
			ev.Str(f.Key, v)
		case int:
			ev.Int(f.Key, v)
		case int64:
			ev.Int64(f.Key, v)
		case float64:
			ev.Float64(f.Key, v)
		case bool:
			ev.Bool(f.Key, v)
		case time.Duration:
			ev.Dur(f.Key, v)
		case error:
			ev.AnErr(f.Key, v)
		default:
			ev.Interface(f.Key, v)
		}
	}
	ev.Msg(msg)
}

func withCallFields(c zerolog.Context, meta CallMeta) zerolog.Context {
	c = c.Str("llm.operation", meta.Operation)
	if meta.Model != "" {
		c = c.Str("llm.model", meta.Model)
	}
	if meta.RequestID != "" {
		c = c.Str("llm.request_id", meta.RequestID)
	}
	return c.Bool("llm.streaming", meta.Streaming)
}

func addCallFields(ev *zerolog.Event, meta CallMeta) {
	ev.Str("llm.operation", meta.Operation)
	if meta.Model != "" {
		ev.Str("llm.model", meta.Model)
	}
	if meta.RequestID != "" {
		ev.Str("llm.request_id", meta.RequestID)
	}
	ev.Bool("llm.streaming", meta.Streaming)
}

// isRedactedField returns true if the field should be redacted.
func isRedactedField(key string) bool {
	return lo.Contains(RedactedFields, strings.ToLower(key))
}
