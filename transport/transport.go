package transport

import (
	"context"
	"io"
	"net/http"
)

// RequestIDHeader carries the client-generated request id.
const RequestIDHeader = "X-Request-ID"

// Request is one HTTP exchange with the endpoint.
type Request struct {
	// Method defaults to POST.
	Method string

	// Path is joined to the transport's base URL, e.g. "/chat/completions".
	Path string

	// Header is merged over the transport's default headers.
	Header http.Header

	// Body is sent as application/json when non-nil.
	Body []byte

	// RequestID is sent as X-Request-ID. A UUID is generated when empty.
	RequestID string
}

// Response is a buffered 2xx response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	RequestID  string
}

// Transport sends requests to the endpoint.
//
// Contract:
//   - Concurrency: implementations must be safe for concurrent use.
//   - Context: both methods honor ctx for the whole exchange; for
//     SendStreaming that includes reading the returned body.
//   - Errors: failures are *StatusError, *NetworkError, or the context error.
//   - Ownership: the caller must close the body returned by SendStreaming.
type Transport interface {
	Send(ctx context.Context, req *Request) (*Response, error)
	SendStreaming(ctx context.Context, req *Request) (io.ReadCloser, error)
}
