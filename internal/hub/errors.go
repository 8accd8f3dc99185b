package hub

import "errors"

// Hub-specific error types
var (
	ErrHubAlreadyRunning = errors.New("hub is already running")
	ErrHubNotRunning     = errors.New("hub is not running")
	ErrHubClosed         = errors.New("hub is closed")
	ErrNilSource         = errors.New("event source is nil")
)
