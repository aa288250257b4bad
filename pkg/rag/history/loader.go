package history

import (
	"context"
	"fmt"

	"chat-gateway-be/internal/repository/specification"
	"chat-gateway-be/internal/repository/unitofwork"
	"chat-gateway-be/pkg/rag/prompt"

	"github.com/google/uuid"
)

// Loader reads mentioned sessions back out of the store for prompt context.
type Loader struct {
	uowFactory unitofwork.RepositoryFactory
}

func NewLoader(uowFactory unitofwork.RepositoryFactory) *Loader {
	return &Loader{
		uowFactory: uowFactory,
	}
}

// LoadMentions resolves ids in the order given. Ids that are not UUIDs or
// that name no live session are skipped. Messages come back in stored order.
func (l *Loader) LoadMentions(ctx context.Context, ids []string) ([]prompt.MentionedSession, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	uow := l.uowFactory.NewUnitOfWork(ctx)

	mentions := make([]prompt.MentionedSession, 0, len(ids))
	for _, raw := range ids {
		sessionId, err := uuid.Parse(raw)
		if err != nil {
			continue
		}

		session, err := uow.ChatSessionRepository().FindOne(ctx, specification.ByID{ID: sessionId})
		if err != nil {
			return nil, fmt.Errorf("load mentioned session %s: %w", sessionId, err)
		}
		if session == nil {
			continue
		}

		messages, err := uow.ChatMessageRepository().FindAll(ctx,
			specification.ByChatSessionID{ChatSessionID: sessionId},
			specification.OrderBy{Field: "position"},
		)
		if err != nil {
			return nil, fmt.Errorf("load mentioned messages %s: %w", sessionId, err)
		}

		mention := prompt.MentionedSession{
			SessionID: session.Id.String(),
			Messages:  make([]prompt.ContextMessage, 0, len(messages)),
		}
		for _, msg := range messages {
			mention.Messages = append(mention.Messages, prompt.ContextMessage{
				Role:    msg.Role,
				Content: msg.Content,
			})
		}
		mentions = append(mentions, mention)
	}

	return mentions, nil
}
