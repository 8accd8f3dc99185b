package interfaces

import (
	"context"

	"supportchat/pkg/types"
)

// CredentialProvider returns the bearer token to present on a dial
// ARCHITECTURAL DISCOVERY: Invoked on every connection attempt, never cached,
// so a rotated token is picked up by the next reconnect automatically
type CredentialProvider func(ctx context.Context) (string, error)

// Channel is the persistent bidirectional connection to the messaging endpoint
// ARCHITECTURAL DISCOVERY: Pure abstraction without implementation details
// ensures clean boundaries between transport infrastructure and chat logic
type Channel interface {
	// Start opens the channel. It returns once connected or failed.
	Start(ctx context.Context) error

	// Stop closes the channel and cancels any reconnect in progress.
	// FUNCTIONAL DISCOVERY: Idempotent so teardown paths can call it blindly
	Stop(ctx context.Context) error

	// Invoke calls a remote procedure and waits for its completion.
	Invoke(ctx context.Context, method string, args ...interface{}) error

	// Events returns the inbound event stream.
	// TECHNICAL DISCOVERY: The stream outlives individual sockets, so
	// subscribers attach once per channel lifecycle, not per reconnect
	Events() <-chan *types.Event

	// State returns the current transport state.
	State() types.TransportState
}

// Invoker is the subset of Channel used by components that only issue calls.
type Invoker interface {
	Invoke(ctx context.Context, method string, args ...interface{}) error
}
