package interfaces

import (
	"context"

	"supportchat/pkg/types"
)

// DirectoryAPI is the REST surface backing the admin session directory
// FUNCTIONAL DISCOVERY: Every method is a direct request; no caching happens
// behind this interface
type DirectoryAPI interface {
	// ListSessions returns every session known to the backend.
	ListSessions(ctx context.Context) ([]types.DirectoryEntry, error)

	// GetTranscript returns a session's messages in backend order.
	GetTranscript(ctx context.Context, sessionID string) ([]types.Message, error)

	// UpdateStatus sets a session's status.
	UpdateStatus(ctx context.Context, sessionID, status string) error
}

// Archiver keeps a local copy of directory data for offline triage.
type Archiver interface {
	SaveDirectory(ctx context.Context, entries []types.DirectoryEntry) error
	SaveTranscript(ctx context.Context, sessionID string, messages []types.Message) error
}
