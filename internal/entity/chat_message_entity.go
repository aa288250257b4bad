package entity

import (
	"time"

	"github.com/google/uuid"
)

type UploadedFile struct {
	Name string
	Type string
	Size int64
}

type ChatMessage struct {
	Id            uuid.UUID
	ChatSessionId uuid.UUID
	Position      int
	Role          string
	Content       string
	Timestamp     time.Time
	UploadedFile  *UploadedFile // user messages only
	ModelName     *string       // bot messages only
}
