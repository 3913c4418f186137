package transport

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jonwraymond/llmcore/chat"
)

var (
	// ErrMissingBaseURL indicates an HTTP transport without a base URL.
	ErrMissingBaseURL = errors.New("transport: base URL is required")

	// ErrInvalidBaseURL indicates a base URL that is not an absolute http(s) URL.
	ErrInvalidBaseURL = errors.New("transport: invalid base URL")

	// ErrHTTPStatus matches every *StatusError.
	ErrHTTPStatus = errors.New("transport: unexpected HTTP status")

	// ErrNetwork matches every *NetworkError.
	ErrNetwork = errors.New("transport: network error")

	// ErrResponseTooLarge indicates a buffered body over the configured limit.
	ErrResponseTooLarge = errors.New("transport: response body too large")
)

// StatusError is a non-2xx response.
type StatusError struct {
	StatusCode int
	RequestID  string

	// Body is the response body, truncated.
	Body string

	// API is the decoded error object, when the body carried one.
	API *chat.APIError

	retryAfter    time.Duration
	hasRetryAfter bool
}

// NewStatusError classifies a non-2xx response from its status, headers and body.
func NewStatusError(code int, header http.Header, body []byte) *StatusError {
	return newStatusError(code, header, body, time.Now())
}

func newStatusError(code int, header http.Header, body []byte, now time.Time) *StatusError {
	e := &StatusError{
		StatusCode: code,
		RequestID:  header.Get(RequestIDHeader),
		Body:       truncateBody(body),
		API:        decodeAPIError(body),
	}
	e.retryAfter, e.hasRetryAfter = parseRetryAfter(header, now)
	return e
}

func (e *StatusError) Error() string {
	msg := e.Body
	if e.API != nil && e.API.Message != "" {
		msg = e.API.Message
	}
	if e.RequestID != "" {
		return fmt.Sprintf("transport: HTTP %d (request %s): %s", e.StatusCode, e.RequestID, msg)
	}
	return fmt.Sprintf("transport: HTTP %d: %s", e.StatusCode, msg)
}

// Is reports whether target is ErrHTTPStatus.
func (e *StatusError) Is(target error) bool {
	return target == ErrHTTPStatus
}

// Unwrap returns the decoded API error, if any.
func (e *StatusError) Unwrap() error {
	if e.API == nil {
		return nil
	}
	return e.API
}

// Retryable reports whether the status is transient: 429, 500, 502, 503 or 504.
func (e *StatusError) Retryable() bool {
	switch e.StatusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// RetryAfter returns the server-mandated delay, if the response carried one.
func (e *StatusError) RetryAfter() (time.Duration, bool) {
	return e.retryAfter, e.hasRetryAfter
}

// BreakerWorthy reports whether the status reflects endpoint health (5xx).
func (e *StatusError) BreakerWorthy() bool {
	return e.StatusCode >= 500
}

// NetworkError is a failure below HTTP: dial, TLS, reset, or a broken read.
type NetworkError struct {
	Op      string // send, read or stream
	Err     error
	Timeout bool
}

func (e *NetworkError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("transport: %s: timeout: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

// Is reports whether target is ErrNetwork.
func (e *NetworkError) Is(target error) bool {
	return target == ErrNetwork
}

// Unwrap returns the underlying error.
func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Retryable always reports true.
func (e *NetworkError) Retryable() bool { return true }

// RetryAfter never carries a delay.
func (e *NetworkError) RetryAfter() (time.Duration, bool) { return 0, false }

// BreakerWorthy always reports true.
func (e *NetworkError) BreakerWorthy() bool { return true }
