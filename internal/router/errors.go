package router

import "errors"

// Router-specific error types
var (
	ErrNilEvent          = errors.New("nil event")
	ErrUnknownEvent      = errors.New("unknown event")
	ErrAdminOnlyEvent    = errors.New("admin-only event on customer connection")
	ErrMalformedEvent    = errors.New("malformed event arguments")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
)
