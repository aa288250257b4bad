package model

import (
	"time"

	"github.com/google/uuid"
)

// UserChatSession links a user to the sessions they own, in creation order.
// A session belongs to at most one user.
type UserChatSession struct {
	Id            uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserId        uuid.UUID `gorm:"type:uuid;not null;index"`
	ChatSessionId uuid.UUID `gorm:"type:uuid;not null;uniqueIndex"`
	Position      int       `gorm:"not null"`
	CreatedAt     time.Time `gorm:"autoCreateTime"`
}

func (UserChatSession) TableName() string {
	return "user_chat_sessions"
}
