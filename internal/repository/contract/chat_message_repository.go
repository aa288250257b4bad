package contract

import (
	"context"

	"chat-gateway-be/internal/entity"
	"chat-gateway-be/internal/repository/specification"

	"github.com/google/uuid"
)

type ChatMessageRepository interface {
	// CreateBatch inserts messages as given; positions must already be set.
	CreateBatch(ctx context.Context, messages []*entity.ChatMessage) error
	MaxPosition(ctx context.Context, sessionId uuid.UUID) (int, error)
	DeleteByChatSessionId(ctx context.Context, sessionId uuid.UUID) error
	FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.ChatMessage, error)
	Count(ctx context.Context, specs ...specification.Specification) (int64, error)
}
