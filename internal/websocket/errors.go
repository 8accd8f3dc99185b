package websocket

import "errors"

// Connection-related errors
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrWriteTimeout     = errors.New("write timeout")
	ErrInvalidJSON      = errors.New("invalid JSON data")
)

// Channel-related errors
var (
	ErrInvalidEndpoint    = errors.New("invalid channel endpoint URL")
	ErrNoCredentials      = errors.New("credential provider is required")
	ErrAlreadyStarted     = errors.New("channel already started")
	ErrNotConnected       = errors.New("channel is not connected")
	ErrDialFailed         = errors.New("channel dial failed")
	ErrReconnectExhausted = errors.New("channel reconnect attempts exhausted")
)

// InvocationError carries the error text a server returned in a completion.
type InvocationError struct {
	Method  string
	Message string
}

func (e *InvocationError) Error() string {
	return "remote " + e.Method + " failed: " + e.Message
}
