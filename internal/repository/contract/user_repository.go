package contract

import (
	"context"

	"chat-gateway-be/internal/entity"

	"github.com/google/uuid"
)

type UserRepository interface {
	// FindById returns the user with its sessions in insertion order. A user
	// that owns nothing yet comes back with an empty list.
	FindById(ctx context.Context, id uuid.UUID) (*entity.User, error)
	AppendChatSession(ctx context.Context, userId, sessionId uuid.UUID) error
	// RemoveChatSession drops sessionId from every user's list.
	RemoveChatSession(ctx context.Context, sessionId uuid.UUID) error
}
