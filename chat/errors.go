package chat

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingModel indicates a request without a model name.
	ErrMissingModel = errors.New("chat: model is required")

	// ErrNoMessages indicates a request without any messages.
	ErrNoMessages = errors.New("chat: at least one message is required")

	// ErrInvalidRole indicates a message with an unknown role.
	ErrInvalidRole = errors.New("chat: invalid message role")
)

// APIError is the error object an endpoint returns in a response body or in
// an in-band stream frame.
type APIError struct {
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
	Param   string `json:"param,omitempty"`
	Code    any    `json:"code,omitempty"`
}

func (e *APIError) Error() string {
	switch {
	case e.Type != "" && e.Code != nil:
		return fmt.Sprintf("chat: %s (%v): %s", e.Type, e.Code, e.Message)
	case e.Type != "":
		return fmt.Sprintf("chat: %s: %s", e.Type, e.Message)
	default:
		return "chat: " + e.Message
	}
}
