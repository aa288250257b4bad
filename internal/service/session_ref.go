package service

import (
	"chat-gateway-be/internal/constant"
	"chat-gateway-be/internal/entity"

	"github.com/google/uuid"
)

// ParseSessionRef reads a client supplied session_id. Empty and the new
// session marker start a session; anything else must be a UUID.
func ParseSessionRef(raw string) (entity.SessionRef, error) {
	if raw == "" || raw == constant.NewSessionMarker {
		return entity.NewSessionRef(), nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return entity.SessionRef{}, ErrInvalidSessionId
	}
	return entity.ExistingSessionRef(id), nil
}
