package interfaces

import (
	"context"

	"supportchat/pkg/types"
)

// EventRouter applies inbound channel events to local state
// ARCHITECTURAL DISCOVERY: Routing logic abstracted from event delivery
// enables testing the routing table without a live socket
type EventRouter interface {
	Route(ctx context.Context, event *types.Event) error
}
