package service

import (
	"context"

	"chat-gateway-be/internal/constant"
	"chat-gateway-be/internal/repository/specification"
	"chat-gateway-be/internal/repository/unitofwork"

	"github.com/google/uuid"
)

type ILimitGuard interface {
	IsLimited(ctx context.Context, rawSessionId string) (bool, error)
}

type limitGuard struct {
	uowFactory  unitofwork.RepositoryFactory
	maxMessages int
}

func NewLimitGuard(uowFactory unitofwork.RepositoryFactory, maxMessages int) ILimitGuard {
	if maxMessages <= 0 {
		maxMessages = constant.DefaultMaxMessagesPerSession
	}
	return &limitGuard{uowFactory: uowFactory, maxMessages: maxMessages}
}

// IsLimited reports whether the session already holds maxMessages user
// messages. New-session markers, malformed ids and unknown sessions are
// never limited.
func (g *limitGuard) IsLimited(ctx context.Context, rawSessionId string) (bool, error) {
	if rawSessionId == "" || rawSessionId == constant.NewSessionMarker {
		return false, nil
	}
	sessionId, err := uuid.Parse(rawSessionId)
	if err != nil {
		return false, nil
	}

	uow := g.uowFactory.NewUnitOfWork(ctx)

	session, err := uow.ChatSessionRepository().FindOne(ctx, specification.ByID{ID: sessionId})
	if err != nil {
		return false, err
	}
	if session == nil {
		return false, nil
	}

	userMessages, err := uow.ChatMessageRepository().Count(ctx,
		specification.ByChatSessionID{ChatSessionID: sessionId},
		specification.ByRole{Role: constant.ChatMessageRoleUser},
	)
	if err != nil {
		return false, err
	}
	return userMessages >= int64(g.maxMessages), nil
}
