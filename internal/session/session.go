// Package session persists conversation sessions and their ordered message
// history in PostgreSQL.
package session

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/beautibuk/agent/internal/conversation"
)

// ErrNotFound is returned when a session does not exist.
var ErrNotFound = errors.New("session not found")

// Session is one conversation thread.
type Session struct {
	ID           uuid.UUID
	MessageCount int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// StoredMessage is a persisted message with its position in the session.
// Sequence numbers are dense and assigned by the store; reading messages back
// in sequence order reproduces the exact conversation.
type StoredMessage struct {
	ID             uuid.UUID
	SessionID      uuid.UUID
	SequenceNumber int
	Message        conversation.Message
	CreatedAt      time.Time
}
