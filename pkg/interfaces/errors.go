package interfaces

import "errors"

// Errors shared by the REST client and the local archive so callers can
// treat a missing or forbidden session the same way wherever it came from.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrUnauthorized    = errors.New("credential rejected")
)
