package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chat-gateway-be/internal/constant"
	"chat-gateway-be/internal/entity"
	"chat-gateway-be/internal/repository/specification"
	"chat-gateway-be/internal/repository/unitofwork"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PersistTurn is one completed user/bot exchange ready to be stored.
type PersistTurn struct {
	Ref         entity.SessionRef
	SessionName string
	UserMessage string
	UserAt      time.Time
	BotReply    string
	BotAt       time.Time
	File        *entity.UploadedFile
	ModelName   string
	UserID      *uuid.UUID
}

type ISessionWriter interface {
	// Persist stores the turn atomically and returns the effective session id.
	Persist(ctx context.Context, turn PersistTurn) (uuid.UUID, error)
}

// persistAttempts bounds how often a turn that lost the race for its
// positions is retried with a fresh read.
const persistAttempts = 3

type sessionWriter struct {
	uowFactory  unitofwork.RepositoryFactory
	defaultName string
}

func NewSessionWriter(uowFactory unitofwork.RepositoryFactory, defaultName string) ISessionWriter {
	if defaultName == "" {
		defaultName = constant.DefaultSessionName
	}
	return &sessionWriter{uowFactory: uowFactory, defaultName: defaultName}
}

func (w *sessionWriter) Persist(ctx context.Context, turn PersistTurn) (uuid.UUID, error) {
	var lastErr error
	for attempt := 0; attempt < persistAttempts; attempt++ {
		sessionId, err := w.persistOnce(ctx, turn)
		if !errors.Is(err, ErrTurnConflict) || !turn.Ref.Exists {
			return sessionId, err
		}
		lastErr = err
	}
	return uuid.Nil, lastErr
}

func (w *sessionWriter) persistOnce(ctx context.Context, turn PersistTurn) (uuid.UUID, error) {
	uow := w.uowFactory.NewUnitOfWork(ctx)
	if err := uow.Begin(ctx); err != nil {
		return uuid.Nil, err
	}
	defer uow.Rollback()

	var (
		sessionId uuid.UUID
		position  int
	)

	if turn.Ref.Exists {
		// Turns on one session serialize on this lock, so the position read
		// below is not stale by the time the pair is inserted.
		session, err := uow.ChatSessionRepository().FindOne(ctx,
			specification.ByID{ID: turn.Ref.ID},
			specification.ForUpdate{},
		)
		if err != nil {
			return uuid.Nil, err
		}
		if session == nil {
			return uuid.Nil, ErrSessionNotFound
		}
		sessionId = session.Id

		if turn.SessionName != "" && turn.SessionName != session.SessionName {
			if err := uow.ChatSessionRepository().UpdateName(ctx, sessionId, turn.SessionName); err != nil {
				return uuid.Nil, err
			}
		}

		position, err = uow.ChatMessageRepository().MaxPosition(ctx, sessionId)
		if err != nil {
			return uuid.Nil, err
		}
	} else {
		name := turn.SessionName
		if name == "" {
			name = w.defaultName
		}
		session := &entity.ChatSession{
			SessionName: name,
			UserId:      turn.UserID,
		}
		if err := uow.ChatSessionRepository().Create(ctx, session); err != nil {
			return uuid.Nil, err
		}
		sessionId = session.Id

		if turn.UserID != nil {
			if err := uow.UserRepository().AppendChatSession(ctx, *turn.UserID, sessionId); err != nil {
				return uuid.Nil, err
			}
		}
	}

	var modelName *string
	if turn.ModelName != "" {
		modelName = &turn.ModelName
	}

	pair := []*entity.ChatMessage{
		{
			ChatSessionId: sessionId,
			Position:      position + 1,
			Role:          constant.ChatMessageRoleUser,
			Content:       turn.UserMessage,
			Timestamp:     turn.UserAt,
			UploadedFile:  turn.File,
		},
		{
			ChatSessionId: sessionId,
			Position:      position + 2,
			Role:          constant.ChatMessageRoleBot,
			Content:       turn.BotReply,
			Timestamp:     turn.BotAt,
			ModelName:     modelName,
		},
	}
	if err := uow.ChatMessageRepository().CreateBatch(ctx, pair); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return uuid.Nil, ErrTurnConflict
		}
		return uuid.Nil, fmt.Errorf("store turn: %w", err)
	}

	if err := uow.Commit(); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return uuid.Nil, ErrTurnConflict
		}
		return uuid.Nil, err
	}

	return sessionId, nil
}
