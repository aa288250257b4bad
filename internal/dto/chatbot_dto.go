package dto

import (
	"time"

	"chat-gateway-be/internal/entity"
	"chat-gateway-be/pkg/llm"

	"github.com/google/uuid"
)

// FileUpload is an attachment exactly as it arrived.
type FileUpload struct {
	Name     string
	MimeType string
	Data     []byte
}

// ChatRequest is one turn as parsed by the transport layer.
type ChatRequest struct {
	Message           string
	ModelType         string
	ModelName         string
	Session           entity.SessionRef
	SessionName       string
	Params            llm.Params
	SystemPrompt      string
	MentionSessionIds []string
	File              *FileUpload
}

type ChatResponse struct {
	Response     string    `json:"response"`
	SessionId    uuid.UUID `json:"session_id"`
	Timestamp    time.Time `json:"timestamp"`
	Latency      int64     `json:"latency"` // milliseconds
	FallbackUsed bool      `json:"fallback_used"`
	ModelName    string    `json:"model_name"`
	ModelType    string    `json:"model_type"`
}

// StreamEvent is one server-sent event (or WebSocket frame) of a streamed turn.
type StreamEvent struct {
	Type         string     `json:"type"`
	SessionId    string     `json:"session_id,omitempty"`
	Text         string     `json:"text,omitempty"`
	Message      string     `json:"message,omitempty"`
	LimitReached bool       `json:"limit_reached,omitempty"`
	Timestamp    *time.Time `json:"timestamp,omitempty"`
	Latency      *int64     `json:"latency,omitempty"`
}

type LimitReachedResponse struct {
	LimitReached bool `json:"limit_reached"`
}

type HistoryRequest struct {
	SessionIds []string `json:"session_ids"`
}

type UploadedFileResponse struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Size int64  `json:"size"`
}

type MessageResponse struct {
	Role         string                `json:"role"`
	Content      string                `json:"content"`
	Timestamp    time.Time             `json:"timestamp"`
	UploadedFile *UploadedFileResponse `json:"uploaded_file,omitempty"`
	ModelName    *string               `json:"model_name,omitempty"`
}

type SessionResponse struct {
	Id          uuid.UUID          `json:"id"`
	SessionName string             `json:"session_name"`
	CreatedAt   time.Time          `json:"created_at"`
	UserId      *uuid.UUID         `json:"user_id"`
	Messages    []*MessageResponse `json:"messages"`
}

type SessionMessagesResponse struct {
	SessionId    uuid.UUID          `json:"session_id"`
	Messages     []*MessageResponse `json:"messages"`
	LimitReached bool               `json:"limit_reached"`
}

type RenameSessionRequest struct {
	SessionId string `json:"session_id" validate:"required"`
	NewName   string `json:"new_name" validate:"required"`
}

type ClearSessionRequest struct {
	SessionId string `json:"session_id" validate:"required"`
}

type ClearSessionResponse struct {
	Status    string    `json:"status"`
	SessionId uuid.UUID `json:"session_id"`
}

type HealthResponse struct {
	Status      string `json:"status"`
	Local       bool   `json:"local"`
	Cloud       bool   `json:"cloud"`
	Connections int    `json:"connections"` // open chat sockets
}

// WsChatRequest is one inbound WebSocket frame. Attachments are not
// accepted over the socket; unset parameters take their defaults.
type WsChatRequest struct {
	Message           string   `json:"message"`
	ModelType         string   `json:"model_type"`
	ModelName         string   `json:"model_name"`
	SessionId         string   `json:"session_id"`
	SessionName       string   `json:"session_name"`
	SystemPrompt      string   `json:"system_prompt"`
	MentionSessionIds []string `json:"mention_session_ids"`
	Temperature       *float64 `json:"temperature"`
	TopP              *float64 `json:"top_p"`
	TopK              *int     `json:"top_k"`
	MaxTokens         *int     `json:"max_tokens"`
	FrequencyPenalty  *float64 `json:"frequency_penalty"`
	PresencePenalty   *float64 `json:"presence_penalty"`
	StopSequence      string   `json:"stop_sequence"`
	Seed              *int     `json:"seed"`
}
