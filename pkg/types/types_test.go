package types

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Functional Validation Tests - Message

func TestMessage_Validate(t *testing.T) {
	tests := []struct {
		name    string
		message Message
		wantErr error
	}{
		{
			name:    "valid message",
			message: Message{SessionID: "S1", Sender: "alice", Text: "hello"},
			wantErr: nil,
		},
		{
			name:    "empty text",
			message: Message{SessionID: "S1", Text: ""},
			wantErr: ErrEmptyMessageText,
		},
		{
			name:    "whitespace only text",
			message: Message{SessionID: "S1", Text: " \t\n "},
			wantErr: ErrEmptyMessageText,
		},
		{
			name:    "missing session",
			message: Message{Text: "hello"},
			wantErr: ErrInvalidSessionID,
		},
		{
			name:    "text too long",
			message: Message{SessionID: "S1", Text: strings.Repeat("a", MaxMessageLength+1)},
			wantErr: ErrMessageTooLarge,
		},
		{
			name:    "multibyte text at limit",
			message: Message{SessionID: "S1", Text: strings.Repeat("é", MaxMessageLength)},
			wantErr: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantErr, tt.message.Validate())
		})
	}
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		value string
		want  time.Time
	}{
		{"2024-05-01T10:00:00Z", time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)},
		{"2024-05-01T12:00:00+02:00", time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)},
		{"2024-05-01T10:00:00.123", time.Date(2024, 5, 1, 10, 0, 0, 123000000, time.UTC)},
		{"2024-05-01 10:00:00", time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)},
		{"", time.Time{}},
		{"not a time", time.Time{}},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			assert.True(t, tt.want.Equal(ParseTimestamp(tt.value)), "got %v", ParseTimestamp(tt.value))
		})
	}
}

func TestMessage_UnmarshalLenient(t *testing.T) {
	var msg Message
	require.NoError(t, json.Unmarshal([]byte(`{"text":"legacy","timestamp":"2024-05-01T10:00:00"}`), &msg))
	assert.Equal(t, "legacy", msg.Text)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), msg.Timestamp)

	require.NoError(t, json.Unmarshal([]byte(`{"message":"x","timestamp":null}`), &msg))
	assert.True(t, msg.Timestamp.IsZero())

	assert.Error(t, json.Unmarshal([]byte(`"bare string"`), &msg))

	// Encoding is unchanged, so a marshalled message reads back identically
	orig := Message{ID: "m1", SessionID: "S1", Sender: "ada", SenderRole: RoleCustomer, Text: "hi",
		Timestamp: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	data, err := json.Marshal(orig)
	require.NoError(t, err)
	var back Message
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, orig, back)
}

func TestDirectoryEntry_UnmarshalLenient(t *testing.T) {
	var entry DirectoryEntry
	require.NoError(t, json.Unmarshal([]byte(`{"id":"S1","status":"active","createdAt":"2024-05-01T10:00:00.5","lastActivity":"2024-05-01T11:00:00"}`), &entry))
	assert.Equal(t, "S1", entry.ID)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 500000000, time.UTC), entry.CreatedAt)
	require.NotNil(t, entry.LastActivity)
	assert.Equal(t, time.Date(2024, 5, 1, 11, 0, 0, 0, time.UTC), *entry.LastActivity)

	entry = DirectoryEntry{}
	require.NoError(t, json.Unmarshal([]byte(`{"id":"S2","createdAt":"garbage"}`), &entry))
	assert.True(t, entry.CreatedAt.IsZero())
	assert.Nil(t, entry.LastActivity)
}

func TestParseRole(t *testing.T) {
	role, err := ParseRole(" Admin ")
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, role)

	role, err = ParseRole("customer")
	require.NoError(t, err)
	assert.Equal(t, RoleCustomer, role)

	_, err = ParseRole("instructor")
	assert.ErrorIs(t, err, ErrInvalidRole)
}

func TestIsValidSessionID(t *testing.T) {
	assert.True(t, IsValidSessionID("S1"))
	assert.True(t, IsValidSessionID("3f0c9a5e-7f3b-4c0e-9a55-0d5b0c1e2f3a"))
	assert.False(t, IsValidSessionID(""))
	assert.False(t, IsValidSessionID("has space"))
	assert.False(t, IsValidSessionID("tab\there"))
	assert.False(t, IsValidSessionID(strings.Repeat("x", 129)))
}

func TestIsValidDirectoryStatus(t *testing.T) {
	for _, status := range []string{"active", "waiting", "closed", "ended"} {
		assert.True(t, IsValidDirectoryStatus(status), status)
	}
	assert.False(t, IsValidDirectoryStatus("archived"))
	assert.False(t, IsValidDirectoryStatus(""))
}

func TestIsValidTransportState(t *testing.T) {
	assert.True(t, IsValidTransportState(StateReconnecting))
	assert.False(t, IsValidTransportState(TransportState("open")))
}

// Functional Validation Tests - Event

func TestEvent_ArgDecoding(t *testing.T) {
	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	event, err := NewEvent(EventReceiveMessage, "S1", Message{Sender: "bob", Text: "hi", Timestamp: ts})
	require.NoError(t, err)

	var sessionID string
	require.NoError(t, event.Arg(0, &sessionID))
	assert.Equal(t, "S1", sessionID)

	var msg Message
	require.NoError(t, event.Arg(1, &msg))
	assert.Equal(t, "bob", msg.Sender)
	assert.Equal(t, "hi", msg.Text)
	assert.True(t, ts.Equal(msg.Timestamp))

	assert.Equal(t, ErrMissingArgument, event.Arg(2, &msg))
	assert.Equal(t, ErrMissingArgument, event.Arg(-1, &msg))

	var n int
	assert.Equal(t, ErrMalformedArgument, event.Arg(0, &n))
}

func TestNewEvent_UnencodableArgument(t *testing.T) {
	_, err := NewEvent(EventUserJoined, func() {})
	assert.Error(t, err)
}
