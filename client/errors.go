package client

import "errors"

var (
	// ErrNilTransport indicates New was given a nil transport.
	ErrNilTransport = errors.New("client: transport is nil")

	// ErrNilRequest indicates a nil *chat.Request.
	ErrNilRequest = errors.New("client: request is nil")

	// ErrNilConfig indicates NewFromConfig was given a nil config.
	ErrNilConfig = errors.New("client: config is nil")

	// ErrDecode indicates a 2xx response body that is not a completion.
	ErrDecode = errors.New("client: decode response")
)
