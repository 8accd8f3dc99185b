package directory

import "errors"

// Directory error types
var (
	ErrAlreadyStarted = errors.New("directory polling already started")
	ErrNoAPI          = errors.New("directory requires a REST client")
)
