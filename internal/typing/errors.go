package typing

import "errors"

// Typing tracker error types
var (
	ErrNoSession     = errors.New("typing requires a session id")
	ErrTrackerClosed = errors.New("typing tracker is closed")
)
