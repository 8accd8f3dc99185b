package websocket

import (
	"encoding/json"
)

// Frame types on the wire
const (
	FrameInvocation = "invocation"
	FrameCompletion = "completion"
	FrameEvent      = "event"
	FramePing       = "ping"
	FrameClose      = "close"
)

// Frame is the JSON envelope for every text message on the channel
// ARCHITECTURAL DISCOVERY: One envelope for calls, replies and pushes keeps
// the read loop a single switch on Type
type Frame struct {
	Type      string            `json:"type"`
	ID        string            `json:"id,omitempty"`
	Target    string            `json:"target,omitempty"`
	Arguments []json.RawMessage `json:"arguments,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// newInvocation encodes a remote procedure call.
func newInvocation(id, method string, args []interface{}) (*Frame, error) {
	raw := make([]json.RawMessage, 0, len(args))
	for _, arg := range args {
		data, err := json.Marshal(arg)
		if err != nil {
			return nil, ErrInvalidJSON
		}
		raw = append(raw, data)
	}
	return &Frame{Type: FrameInvocation, ID: id, Target: method, Arguments: raw}, nil
}
