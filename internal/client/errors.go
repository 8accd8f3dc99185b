package client

import "errors"

// Client error types. Precondition failures issue no remote call.
var (
	ErrNotConnected    = errors.New("chat channel is not connected")
	ErrEmptyMessage    = errors.New("message text is empty")
	ErrNoActiveSession = errors.New("no active session")
	ErrRateLimited     = errors.New("message rate limit exceeded for session")
	ErrClientClosed    = errors.New("chat client is closed")
	ErrConnectAborted  = errors.New("connection attempt aborted by disconnect")
	ErrNoCredentials   = errors.New("credential provider is required")
)
