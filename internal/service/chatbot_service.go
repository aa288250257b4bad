package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"chat-gateway-be/internal/constant"
	"chat-gateway-be/internal/dto"
	"chat-gateway-be/internal/entity"
	"chat-gateway-be/internal/pkg/logger"
	"chat-gateway-be/internal/repository/specification"
	"chat-gateway-be/internal/repository/unitofwork"
	"chat-gateway-be/pkg/attachment"
	"chat-gateway-be/pkg/chatbot"
	"chat-gateway-be/pkg/events"
	"chat-gateway-be/pkg/llm"
	"chat-gateway-be/pkg/rag/history"
	"chat-gateway-be/pkg/rag/prompt"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// IChatbotService is the chat gateway use-case layer
type IChatbotService interface {
	SendChat(ctx context.Context, userId *uuid.UUID, request *dto.ChatRequest) (*dto.ChatResponse, error)
	// StartStream validates the turn up front. Errors it returns happen
	// before anything is streamed.
	StartStream(ctx context.Context, userId *uuid.UUID, request *dto.ChatRequest) (*ChatStream, error)
	// StreamChat reports every failure, validation included, as an event.
	StreamChat(ctx context.Context, userId *uuid.UUID, request *dto.ChatRequest, emit func(dto.StreamEvent) error) error
	GetHistory(ctx context.Context, userId *uuid.UUID, request *dto.HistoryRequest) ([]*dto.SessionResponse, error)
	GetSession(ctx context.Context, rawSessionId string) (*dto.SessionMessagesResponse, error)
	RenameSession(ctx context.Context, request *dto.RenameSessionRequest) error
	ClearSession(ctx context.Context, request *dto.ClearSessionRequest) (*dto.ClearSessionResponse, error)
	DeleteSession(ctx context.Context, rawSessionId string) error
}

type chatbotService struct {
	uowFactory    unitofwork.RepositoryFactory
	orchestrator  *chatbot.Orchestrator
	historyLoader *history.Loader
	limitGuard    ILimitGuard
	sessionWriter ISessionWriter
	publisher     IPublisherService
	log           logger.ILogger
}

// NewChatbotService wires the turn pipeline. publisher may be nil.
func NewChatbotService(
	uowFactory unitofwork.RepositoryFactory,
	orchestrator *chatbot.Orchestrator,
	limitGuard ILimitGuard,
	sessionWriter ISessionWriter,
	publisher IPublisherService,
	log logger.ILogger,
) IChatbotService {
	return &chatbotService{
		uowFactory:    uowFactory,
		orchestrator:  orchestrator,
		historyLoader: history.NewLoader(uowFactory),
		limitGuard:    limitGuard,
		sessionWriter: sessionWriter,
		publisher:     publisher,
		log:           log,
	}
}

// turn is a validated request ready for generation.
type turn struct {
	ref         entity.SessionRef
	sessionName string
	userId      *uuid.UUID
	userMessage string
	userAt      time.Time
	kind        llm.Kind
	request     *llm.Request
	file        *entity.UploadedFile
}

func rawSessionId(ref entity.SessionRef) string {
	if !ref.Exists {
		return constant.NewSessionMarker
	}
	return ref.ID.String()
}

// prepare runs every check that must happen before a backend is called:
// session existence, attachment rules and prompt assembly.
func (cs *chatbotService) prepare(ctx context.Context, userId *uuid.UUID, request *dto.ChatRequest) (*turn, error) {
	t := &turn{
		ref:         request.Session,
		sessionName: strings.TrimSpace(request.SessionName),
		userId:      userId,
		userMessage: request.Message,
		userAt:      time.Now().UTC(),
		kind:        llm.ParseKind(request.ModelType),
	}

	if t.ref.Exists {
		session, err := cs.uowFactory.NewUnitOfWork(ctx).ChatSessionRepository().FindOne(ctx, specification.ByID{ID: t.ref.ID})
		if err != nil {
			return nil, err
		}
		if session == nil {
			return nil, ErrSessionNotFound
		}
	}

	mentions, err := cs.historyLoader.LoadMentions(ctx, request.MentionSessionIds)
	if err != nil {
		return nil, err
	}
	builder := prompt.NewContextualBuilder(request.Message, mentions)

	var media *llm.Media
	if request.File != nil {
		att, err := attachment.Inspect(request.File.Name, request.File.MimeType, request.File.Data)
		if err != nil {
			return nil, err
		}
		if t.kind == llm.KindLocal {
			return nil, ErrLocalModelFile
		}

		t.file = &entity.UploadedFile{Name: att.Name, Type: att.MimeType, Size: att.Size}

		if att.Kind == attachment.KindPDF {
			text, err := attachment.ExtractPDFText(att.Data)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrUnreadableFile, err)
			}
			builder.WithPDFText(text)
		} else {
			media = &llm.Media{MimeType: att.MimeType, Data: att.Data}
		}
	}

	t.request = &llm.Request{
		Model:        request.ModelName,
		Prompt:       builder.Build(),
		SystemPrompt: request.SystemPrompt,
		Params:       request.Params,
		Media:        media,
	}
	return t, nil
}

func (cs *chatbotService) SendChat(ctx context.Context, userId *uuid.UUID, request *dto.ChatRequest) (*dto.ChatResponse, error) {
	limited, err := cs.limitGuard.IsLimited(ctx, rawSessionId(request.Session))
	if err != nil {
		return nil, err
	}
	if limited {
		return nil, ErrLimitReached
	}

	t, err := cs.prepare(ctx, userId, request)
	if err != nil {
		return nil, err
	}

	reply := cs.orchestrator.Generate(ctx, t.kind, t.request)
	botAt := time.Now().UTC()

	sessionId, err := cs.persist(ctx, t, reply, botAt)
	if err != nil {
		return nil, err
	}

	return &dto.ChatResponse{
		Response:     reply.Text,
		SessionId:    sessionId,
		Timestamp:    botAt,
		Latency:      reply.Latency.Milliseconds(),
		FallbackUsed: reply.FallbackUsed,
		ModelName:    reply.Model,
		ModelType:    string(reply.Kind),
	}, nil
}

// persist writes the turn and announces it on the event bus.
func (cs *chatbotService) persist(ctx context.Context, t *turn, reply chatbot.Reply, botAt time.Time) (uuid.UUID, error) {
	sessionId, err := cs.sessionWriter.Persist(ctx, PersistTurn{
		Ref:         t.ref,
		SessionName: t.sessionName,
		UserMessage: t.userMessage,
		UserAt:      t.userAt,
		BotReply:    reply.Text,
		BotAt:       botAt,
		File:        t.file,
		ModelName:   reply.Model,
		UserID:      t.userId,
	})
	if err != nil {
		return uuid.Nil, err
	}

	if !t.ref.Exists {
		cs.publish(ctx, constant.EventChatSessionCreated, map[string]interface{}{
			"session_id": sessionId.String(),
			"user_id":    userIdString(t.userId),
		})
	}
	cs.publish(ctx, constant.EventChatTurnCompleted, map[string]interface{}{
		"session_id":    sessionId.String(),
		"model_name":    reply.Model,
		"model_type":    string(reply.Kind),
		"fallback_used": reply.FallbackUsed,
		"latency_ms":    reply.Latency.Milliseconds(),
		"has_file":      t.file != nil,
	})

	return sessionId, nil
}

// ChatStream is a validated streaming turn waiting for a consumer.
type ChatStream struct {
	cs      *chatbotService
	turn    *turn
	limited bool
}

// Run emits session_info, then one event per fragment, then complete once
// the turn is stored. When emit fails the client is gone: generation stops
// and whatever was already delivered is stored.
func (s *ChatStream) Run(ctx context.Context, emit func(dto.StreamEvent) error) error {
	if s.limited {
		return emit(dto.StreamEvent{
			Type:         constant.StreamEventError,
			Message:      ErrLimitReached.Error(),
			LimitReached: true,
		})
	}

	t := s.turn
	if err := emit(dto.StreamEvent{Type: constant.StreamEventSessionInfo, SessionId: rawSessionId(t.ref)}); err != nil {
		return err
	}

	stream := s.cs.orchestrator.Stream(ctx, t.kind, t.request)
	for fragment := range stream.Fragments() {
		event := dto.StreamEvent{Type: constant.StreamEventChunk, Text: fragment.Text}
		if fragment.IsError {
			event = dto.StreamEvent{Type: constant.StreamEventError, Message: fragment.Text}
		}
		if err := emit(event); err != nil {
			break
		}
	}

	reply := stream.Reply()
	if strings.TrimSpace(reply.Text) == "" {
		return nil
	}

	// The request context may already be cancelled by a disconnect.
	persistCtx := context.WithoutCancel(ctx)
	botAt := time.Now().UTC()

	sessionId, err := s.cs.persist(persistCtx, t, reply, botAt)
	if err != nil {
		s.cs.log.Error("CHAT", "Failed to persist streamed turn", map[string]interface{}{
			"session_id": rawSessionId(t.ref),
			"error":      err.Error(),
		})
		return emit(dto.StreamEvent{Type: constant.StreamEventError, Message: err.Error()})
	}

	latency := reply.Latency.Milliseconds()
	return emit(dto.StreamEvent{
		Type:      constant.StreamEventComplete,
		SessionId: sessionId.String(),
		Timestamp: &botAt,
		Latency:   &latency,
	})
}

func (cs *chatbotService) StartStream(ctx context.Context, userId *uuid.UUID, request *dto.ChatRequest) (*ChatStream, error) {
	limited, err := cs.limitGuard.IsLimited(ctx, rawSessionId(request.Session))
	if err != nil {
		return nil, err
	}
	if limited {
		return &ChatStream{cs: cs, limited: true}, nil
	}

	t, err := cs.prepare(ctx, userId, request)
	if err != nil {
		return nil, err
	}
	return &ChatStream{cs: cs, turn: t}, nil
}

func (cs *chatbotService) StreamChat(ctx context.Context, userId *uuid.UUID, request *dto.ChatRequest, emit func(dto.StreamEvent) error) error {
	stream, err := cs.StartStream(ctx, userId, request)
	if err != nil {
		return emit(dto.StreamEvent{Type: constant.StreamEventError, Message: err.Error()})
	}
	return stream.Run(ctx, emit)
}

func (cs *chatbotService) GetHistory(ctx context.Context, userId *uuid.UUID, request *dto.HistoryRequest) ([]*dto.SessionResponse, error) {
	uow := cs.uowFactory.NewUnitOfWork(ctx)

	var (
		ids   []uuid.UUID
		specs []specification.Specification
	)
	if userId != nil {
		user, err := uow.UserRepository().FindById(ctx, *userId)
		if err != nil {
			return nil, err
		}
		ids = user.ChatSessions
	} else {
		for _, raw := range request.SessionIds {
			id, err := uuid.Parse(raw)
			if err != nil {
				return nil, ErrInvalidSessionId
			}
			ids = append(ids, id)
		}
		// Guests only ever see guest sessions.
		specs = append(specs, specification.Anonymous{})
	}

	if len(ids) == 0 {
		return []*dto.SessionResponse{}, nil
	}

	specs = append(specs,
		specification.ByIDs{IDs: ids},
		specification.OrderBy{Field: "created_at", Desc: true},
	)
	sessions, err := uow.ChatSessionRepository().FindAll(ctx, specs...)
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return []*dto.SessionResponse{}, nil
	}

	sessionIds := make([]uuid.UUID, len(sessions))
	for i, s := range sessions {
		sessionIds[i] = s.Id
	}
	messages, err := uow.ChatMessageRepository().FindAll(ctx,
		specification.ByChatSessionIDs{ChatSessionIDs: sessionIds},
		specification.OrderBy{Field: "position"},
	)
	if err != nil {
		return nil, err
	}

	bySession := make(map[uuid.UUID][]*dto.MessageResponse, len(sessions))
	for _, msg := range messages {
		bySession[msg.ChatSessionId] = append(bySession[msg.ChatSessionId], toMessageResponse(msg))
	}

	res := make([]*dto.SessionResponse, 0, len(sessions))
	for _, s := range sessions {
		msgs := bySession[s.Id]
		if msgs == nil {
			msgs = []*dto.MessageResponse{}
		}
		res = append(res, &dto.SessionResponse{
			Id:          s.Id,
			SessionName: s.SessionName,
			CreatedAt:   s.CreatedAt,
			UserId:      s.UserId,
			Messages:    msgs,
		})
	}
	return res, nil
}

func (cs *chatbotService) GetSession(ctx context.Context, rawSessionId string) (*dto.SessionMessagesResponse, error) {
	sessionId, err := uuid.Parse(rawSessionId)
	if err != nil {
		return nil, ErrInvalidSessionId
	}

	uow := cs.uowFactory.NewUnitOfWork(ctx)
	session, err := uow.ChatSessionRepository().FindOne(ctx, specification.ByID{ID: sessionId})
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}

	messages, err := uow.ChatMessageRepository().FindAll(ctx,
		specification.ByChatSessionID{ChatSessionID: sessionId},
		specification.OrderBy{Field: "position"},
	)
	if err != nil {
		return nil, err
	}

	limited, err := cs.limitGuard.IsLimited(ctx, rawSessionId)
	if err != nil {
		return nil, err
	}

	res := &dto.SessionMessagesResponse{
		SessionId:    session.Id,
		Messages:     make([]*dto.MessageResponse, 0, len(messages)),
		LimitReached: limited,
	}
	for _, msg := range messages {
		res.Messages = append(res.Messages, toMessageResponse(msg))
	}
	return res, nil
}

func (cs *chatbotService) RenameSession(ctx context.Context, request *dto.RenameSessionRequest) error {
	sessionId, err := uuid.Parse(request.SessionId)
	if err != nil {
		return ErrInvalidSessionId
	}

	uow := cs.uowFactory.NewUnitOfWork(ctx)
	if err := uow.ChatSessionRepository().UpdateName(ctx, sessionId, request.NewName); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrSessionNotFound
		}
		return err
	}

	cs.publish(ctx, constant.EventChatSessionRenamed, map[string]interface{}{
		"session_id": sessionId.String(),
		"new_name":   request.NewName,
	})
	return nil
}

// ClearSession drops every message but keeps the session and its owner.
func (cs *chatbotService) ClearSession(ctx context.Context, request *dto.ClearSessionRequest) (*dto.ClearSessionResponse, error) {
	sessionId, err := uuid.Parse(request.SessionId)
	if err != nil {
		return nil, ErrInvalidSessionId
	}

	uow := cs.uowFactory.NewUnitOfWork(ctx)
	session, err := uow.ChatSessionRepository().FindOne(ctx, specification.ByID{ID: sessionId})
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}

	if err := uow.ChatMessageRepository().DeleteByChatSessionId(ctx, sessionId); err != nil {
		return nil, err
	}

	cs.publish(ctx, constant.EventChatSessionCleared, map[string]interface{}{
		"session_id": sessionId.String(),
	})

	return &dto.ClearSessionResponse{
		Status:    "cleared",
		SessionId: sessionId,
	}, nil
}

func (cs *chatbotService) DeleteSession(ctx context.Context, rawSessionId string) error {
	sessionId, err := uuid.Parse(rawSessionId)
	if err != nil {
		return ErrInvalidSessionId
	}

	uow := cs.uowFactory.NewUnitOfWork(ctx)
	if err := uow.Begin(ctx); err != nil {
		return err
	}
	defer uow.Rollback()

	if err := uow.ChatSessionRepository().Delete(ctx, sessionId); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrSessionNotFound
		}
		return err
	}
	if err := uow.ChatMessageRepository().DeleteByChatSessionId(ctx, sessionId); err != nil {
		return err
	}
	if err := uow.UserRepository().RemoveChatSession(ctx, sessionId); err != nil {
		return err
	}

	if err := uow.Commit(); err != nil {
		return err
	}

	cs.publish(ctx, constant.EventChatSessionDeleted, map[string]interface{}{
		"session_id": sessionId.String(),
	})
	return nil
}

// publish never fails the caller; a lost event is only logged.
func (cs *chatbotService) publish(ctx context.Context, eventType string, data map[string]interface{}) {
	if cs.publisher == nil {
		return
	}
	if err := cs.publisher.PublishEvent(ctx, events.New(eventType, data)); err != nil {
		cs.log.Warn("EVENTS", "Failed to publish event", map[string]interface{}{
			"type":  eventType,
			"error": err.Error(),
		})
	}
}

func userIdString(id *uuid.UUID) interface{} {
	if id == nil {
		return nil
	}
	return id.String()
}

func toMessageResponse(msg *entity.ChatMessage) *dto.MessageResponse {
	res := &dto.MessageResponse{
		Role:      msg.Role,
		Content:   msg.Content,
		Timestamp: msg.Timestamp,
		ModelName: msg.ModelName,
	}
	if msg.UploadedFile != nil {
		res.UploadedFile = &dto.UploadedFileResponse{
			Name: msg.UploadedFile.Name,
			Type: msg.UploadedFile.Type,
			Size: msg.UploadedFile.Size,
		}
	}
	return res
}
