package domain

import (
	"github.com/google/uuid"
)

// SessionID identifies one call session end to end.
type SessionID string

func NewSessionID() SessionID {
	return SessionID(uuid.New().String())
}

func (id SessionID) String() string { return string(id) }

// GenerationID tags one recognizer activation. A restart allocates a fresh
// generation; callbacks carrying a stale generation are ignored so an earlier
// capture stream can never act on the state of a later one.
type GenerationID uuid.UUID

func NewGenerationID() GenerationID {
	return GenerationID(uuid.New())
}

func (id GenerationID) String() string { return uuid.UUID(id).String() }

// Zero reports whether the generation was never assigned.
func (id GenerationID) Zero() bool { return id == GenerationID(uuid.UUID{}) }
