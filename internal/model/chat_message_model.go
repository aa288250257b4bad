package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// UploadedFileMeta is stored as JSON next to the user message that carried it.
type UploadedFileMeta struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Size int64  `json:"size"`
}

// ChatMessage rows are append-only. Position orders a session's log and the
// unique index keeps two concurrent turns from interleaving.
type ChatMessage struct {
	Id            uuid.UUID                             `gorm:"type:uuid;primaryKey"`
	ChatSessionId uuid.UUID                             `gorm:"type:uuid;not null;uniqueIndex:idx_chat_messages_session_position,priority:1"`
	Position      int                                   `gorm:"not null;uniqueIndex:idx_chat_messages_session_position,priority:2"`
	Role          string                                `gorm:"type:varchar(16);not null"`
	Content       string                                `gorm:"type:text;not null"`
	Timestamp     time.Time                             `gorm:"not null"`
	UploadedFile  *datatypes.JSONType[UploadedFileMeta] `gorm:"column:uploaded_file"`
	ModelName     *string                               `gorm:"type:varchar(255)"`
	CreatedAt     time.Time                             `gorm:"autoCreateTime"`
}

func (ChatMessage) TableName() string {
	return "chat_messages"
}
