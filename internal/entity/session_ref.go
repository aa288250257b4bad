package entity

import (
	"github.com/google/uuid"
)

// SessionRef says whether a turn continues a stored session or starts one.
type SessionRef struct {
	ID     uuid.UUID
	Exists bool
}

func NewSessionRef() SessionRef {
	return SessionRef{}
}

func ExistingSessionRef(id uuid.UUID) SessionRef {
	return SessionRef{ID: id, Exists: true}
}
