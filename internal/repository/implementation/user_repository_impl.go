package implementation

import (
	"context"

	"chat-gateway-be/internal/entity"
	"chat-gateway-be/internal/model"
	"chat-gateway-be/internal/repository/contract"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type UserRepositoryImpl struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) contract.UserRepository {
	return &UserRepositoryImpl{db: db}
}

func (r *UserRepositoryImpl) FindById(ctx context.Context, id uuid.UUID) (*entity.User, error) {
	sessionIds := make([]uuid.UUID, 0)
	err := r.db.WithContext(ctx).
		Model(&model.UserChatSession{}).
		Where("user_id = ?", id).
		Order("position ASC").
		Pluck("chat_session_id", &sessionIds).Error
	if err != nil {
		return nil, err
	}
	return &entity.User{Id: id, ChatSessions: sessionIds}, nil
}

func (r *UserRepositoryImpl) AppendChatSession(ctx context.Context, userId, sessionId uuid.UUID) error {
	var result struct {
		MaxPosition int
	}
	err := r.db.WithContext(ctx).
		Model(&model.UserChatSession{}).
		Select("COALESCE(MAX(position), 0) AS max_position").
		Where("user_id = ?", userId).
		Scan(&result).Error
	if err != nil {
		return err
	}

	link := &model.UserChatSession{
		Id:            uuid.New(),
		UserId:        userId,
		ChatSessionId: sessionId,
		Position:      result.MaxPosition + 1,
	}
	return r.db.WithContext(ctx).Create(link).Error
}

func (r *UserRepositoryImpl) RemoveChatSession(ctx context.Context, sessionId uuid.UUID) error {
	return r.db.WithContext(ctx).Where("chat_session_id = ?", sessionId).Delete(&model.UserChatSession{}).Error
}
