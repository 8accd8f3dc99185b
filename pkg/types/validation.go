package types

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxMessageLength bounds a single outbound message, counted in runes.
const MaxMessageLength = 4000

// Validate ensures the message can be sent or appended
// FUNCTIONAL DISCOVERY: Text is checked after trimming so whitespace-only
// input is rejected the same way as empty input
func (m *Message) Validate() error {
	if !IsValidSessionID(m.SessionID) {
		return ErrInvalidSessionID
	}
	if IsBlank(m.Text) {
		return ErrEmptyMessageText
	}
	if utf8.RuneCountInString(m.Text) > MaxMessageLength {
		return ErrMessageTooLarge
	}
	return nil
}

// IsValidRole checks if the role is one of the two connection roles
func IsValidRole(role Role) bool {
	switch role {
	case RoleCustomer, RoleAdmin:
		return true
	default:
		return false
	}
}

// ParseRole converts user input into a Role.
func ParseRole(s string) (Role, error) {
	role := Role(strings.ToLower(strings.TrimSpace(s)))
	if !IsValidRole(role) {
		return "", ErrInvalidRole
	}
	return role, nil
}

// IsValidSessionID accepts any opaque server or locally generated identifier:
// 1-128 characters, none of them control or space characters.
func IsValidSessionID(id string) bool {
	if len(id) < 1 || len(id) > 128 {
		return false
	}
	for _, r := range id {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return false
		}
	}
	return true
}

// IsValidDirectoryStatus checks a status string accepted by the REST backend
func IsValidDirectoryStatus(status string) bool {
	switch status {
	case DirectoryStatusActive,
		DirectoryStatusWaiting,
		DirectoryStatusClosed,
		DirectoryStatusEnded:
		return true
	default:
		return false
	}
}

// IsValidTransportState checks a state string received from the transport
func IsValidTransportState(state TransportState) bool {
	switch state {
	case StateDisconnected, StateConnecting, StateConnected, StateReconnecting:
		return true
	default:
		return false
	}
}

// IsBlank reports whether s is empty or whitespace only.
func IsBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
