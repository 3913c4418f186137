package stream

import (
	"errors"
	"fmt"
)

var (
	// ErrStreamParse matches every *ParseError.
	ErrStreamParse = errors.New("stream: parse error")

	// ErrUnknownField indicates an SSE line whose field name is not recognized.
	ErrUnknownField = errors.New("stream: unknown field")

	// ErrLineTooLong indicates a line longer than the parser's maximum.
	ErrLineTooLong = errors.New("stream: line too long")

	// ErrNotFinalizable indicates Finalize was called before a terminal frame
	// was seen, or after the stream failed.
	ErrNotFinalizable = errors.New("stream: not finalizable")

	// ErrIncomplete indicates the byte stream ended before a finish reason or
	// the [DONE] sentinel arrived.
	ErrIncomplete = errors.New("stream: ended before completion")

	// ErrServerEvent indicates the endpoint reported an error in-band.
	ErrServerEvent = errors.New("stream: server error")

	// ErrClosed indicates the stream was closed by the caller before it finished.
	ErrClosed = errors.New("stream: closed")
)

// ParseError describes a malformed frame or line.
// It is terminal for the stream it occurred in.
type ParseError struct {
	Line int    // 1-based line number, 0 when the error concerns a whole payload
	Text string // offending line or payload, possibly truncated
	Err  error  // underlying cause
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("stream: line %d: %v: %q", e.Line, e.Err, e.Text)
	}
	return fmt.Sprintf("stream: invalid payload: %v: %q", e.Err, e.Text)
}

// Is reports whether target is ErrStreamParse.
func (e *ParseError) Is(target error) bool {
	return target == ErrStreamParse
}

// Unwrap returns the underlying cause.
func (e *ParseError) Unwrap() error {
	return e.Err
}

const maxErrorText = 128

func truncate(s string) string {
	if len(s) <= maxErrorText {
		return s
	}
	return s[:maxErrorText] + "..."
}
