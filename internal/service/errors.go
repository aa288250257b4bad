package service

import (
	"errors"

	"chat-gateway-be/pkg/attachment"
)

var (
	ErrLimitReached     = errors.New("Session limit reached. Please start a new chat.")
	ErrSessionNotFound  = errors.New("Session not found")
	ErrInvalidSessionId = errors.New("Invalid session ID format")
	ErrLocalModelFile   = errors.New("Selected local model does not support files")
	ErrTurnConflict     = errors.New("turn conflict: session was updated concurrently, please retry")
	ErrUnreadableFile   = errors.New("Unable to read uploaded file")

	// Re-exported so callers only need this package for classification.
	ErrEmptyFile           = attachment.ErrEmptyFilename
	ErrUnsupportedFileType = attachment.ErrUnsupportedFileType
)
