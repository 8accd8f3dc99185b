package types

import "errors"

// ARCHITECTURAL DISCOVERY: Specific error types enable proper error handling
// and user-friendly error messages throughout the system
var (
	ErrInvalidRole           = errors.New("role must be 'customer' or 'admin'")
	ErrInvalidSessionID      = errors.New("session ID must be 1-128 printable characters")
	ErrEmptyMessageText      = errors.New("message text cannot be empty")
	ErrMessageTooLarge       = errors.New("message text exceeds 4000 characters")
	ErrInvalidStatus         = errors.New("invalid session status")
	ErrMissingArgument       = errors.New("event argument missing")
	ErrMalformedArgument     = errors.New("event argument malformed")
	ErrInvalidTransportState = errors.New("invalid transport state")
)
