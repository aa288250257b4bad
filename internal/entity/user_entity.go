package entity

import (
	"github.com/google/uuid"
)

// User is only known through the bearer token; the gateway stores nothing
// about it but the sessions it owns.
type User struct {
	Id           uuid.UUID
	ChatSessions []uuid.UUID
}
