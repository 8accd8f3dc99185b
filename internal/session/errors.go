package session

import "errors"

// Session registry error types
var (
	ErrInvalidSessionID = errors.New("invalid session ID")
	ErrSessionNotFound  = errors.New("session not found")
)
