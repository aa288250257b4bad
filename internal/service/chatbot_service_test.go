package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"chat-gateway-be/internal/constant"
	"chat-gateway-be/internal/dto"
	"chat-gateway-be/internal/entity"
	"chat-gateway-be/internal/pkg/logger"
	"chat-gateway-be/internal/repository/specification"
	"chat-gateway-be/internal/repository/unitofwork"
	"chat-gateway-be/internal/testutil"
	"chat-gateway-be/pkg/chatbot"
	"chat-gateway-be/pkg/events"
	"chat-gateway-be/pkg/llm"
	"chat-gateway-be/pkg/llm/llmtest"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPublisher) Publish(ctx context.Context, payload []byte) error {
	event, err := events.Unmarshal(payload)
	if err != nil {
		return err
	}
	return p.PublishEvent(ctx, event)
}

func (p *recordingPublisher) PublishEvent(ctx context.Context, event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event.EventType())
	return nil
}

func (p *recordingPublisher) Types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}

type fixture struct {
	svc        IChatbotService
	uowFactory unitofwork.RepositoryFactory
	local      *llmtest.FakeBackend
	cloud      *llmtest.FakeBackend
	publisher  *recordingPublisher
}

func newFixture(t *testing.T, withCloud bool, maxMessages int) *fixture {
	t.Helper()

	f := &fixture{
		uowFactory: unitofwork.NewRepositoryFactory(testutil.NewSQLiteDB(t)),
		local:      &llmtest.FakeBackend{BackendKind: llm.KindLocal, DefaultModel: "llama3", Text: "local answer"},
		publisher:  &recordingPublisher{},
	}

	var cloud llm.Backend
	if withCloud {
		f.cloud = &llmtest.FakeBackend{BackendKind: llm.KindCloud, DefaultModel: "gemini-2.5-flash", Text: "cloud answer"}
		cloud = f.cloud
	}

	f.svc = NewChatbotService(
		f.uowFactory,
		chatbot.NewOrchestrator(f.local, cloud),
		NewLimitGuard(f.uowFactory, maxMessages),
		NewSessionWriter(f.uowFactory, ""),
		f.publisher,
		logger.NewNopLogger(),
	)
	return f
}

func (f *fixture) messages(t *testing.T, sessionId uuid.UUID) []*entity.ChatMessage {
	t.Helper()
	ctx := context.Background()
	msgs, err := f.uowFactory.NewUnitOfWork(ctx).ChatMessageRepository().FindAll(ctx,
		specification.ByChatSessionID{ChatSessionID: sessionId},
		specification.OrderBy{Field: "position"},
	)
	require.NoError(t, err)
	return msgs
}

func (f *fixture) session(t *testing.T, sessionId uuid.UUID) *entity.ChatSession {
	t.Helper()
	ctx := context.Background()
	s, err := f.uowFactory.NewUnitOfWork(ctx).ChatSessionRepository().FindOne(ctx, specification.ByID{ID: sessionId})
	require.NoError(t, err)
	return s
}

func chatRequest(message string) *dto.ChatRequest {
	return &dto.ChatRequest{
		Message:   message,
		ModelType: "local",
		Session:   entity.NewSessionRef(),
		Params:    llm.DefaultParams(),
	}
}

func TestSendChat(t *testing.T) {
	ctx := context.Background()

	t.Run("new anonymous session", func(t *testing.T) {
		f := newFixture(t, true, 10)

		res, err := f.svc.SendChat(ctx, nil, chatRequest("hello"))
		require.NoError(t, err)
		assert.Equal(t, "local answer", res.Response)
		assert.Equal(t, "llama3", res.ModelName)
		assert.Equal(t, "local", res.ModelType)
		assert.False(t, res.FallbackUsed)

		session := f.session(t, res.SessionId)
		require.NotNil(t, session)
		assert.Equal(t, constant.DefaultSessionName, session.SessionName)
		assert.Nil(t, session.UserId)

		msgs := f.messages(t, res.SessionId)
		require.Len(t, msgs, 2)
		assert.Equal(t, constant.ChatMessageRoleUser, msgs[0].Role)
		assert.Equal(t, "hello", msgs[0].Content)
		assert.Equal(t, constant.ChatMessageRoleBot, msgs[1].Role)
		assert.Equal(t, "local answer", msgs[1].Content)
		require.NotNil(t, msgs[1].ModelName)
		assert.Equal(t, "llama3", *msgs[1].ModelName)
		assert.False(t, msgs[1].Timestamp.Before(msgs[0].Timestamp))

		assert.Equal(t, []string{constant.EventChatSessionCreated, constant.EventChatTurnCompleted}, f.publisher.Types())
	})

	t.Run("new session is added to the user's list", func(t *testing.T) {
		f := newFixture(t, false, 10)
		userId := uuid.New()

		req := chatRequest("hello")
		req.SessionName = "Groceries"
		res, err := f.svc.SendChat(ctx, &userId, req)
		require.NoError(t, err)

		user, err := f.uowFactory.NewUnitOfWork(ctx).UserRepository().FindById(ctx, userId)
		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{res.SessionId}, user.ChatSessions)

		session := f.session(t, res.SessionId)
		assert.Equal(t, "Groceries", session.SessionName)
		require.NotNil(t, session.UserId)
		assert.Equal(t, userId, *session.UserId)
	})

	t.Run("existing session appends and refreshes a supplied name", func(t *testing.T) {
		f := newFixture(t, false, 10)

		first, err := f.svc.SendChat(ctx, nil, chatRequest("one"))
		require.NoError(t, err)

		req := chatRequest("two")
		req.Session = entity.ExistingSessionRef(first.SessionId)
		second, err := f.svc.SendChat(ctx, nil, req)
		require.NoError(t, err)
		assert.Equal(t, first.SessionId, second.SessionId)
		assert.Equal(t, constant.DefaultSessionName, f.session(t, first.SessionId).SessionName)

		req = chatRequest("three")
		req.Session = entity.ExistingSessionRef(first.SessionId)
		req.SessionName = "Renamed"
		_, err = f.svc.SendChat(ctx, nil, req)
		require.NoError(t, err)
		assert.Equal(t, "Renamed", f.session(t, first.SessionId).SessionName)

		msgs := f.messages(t, first.SessionId)
		require.Len(t, msgs, 6)
		for i, msg := range msgs {
			assert.Equal(t, i+1, msg.Position)
		}
		assert.Equal(t, "three", msgs[4].Content)
	})

	t.Run("unknown session", func(t *testing.T) {
		f := newFixture(t, false, 10)

		req := chatRequest("hi")
		req.Session = entity.ExistingSessionRef(uuid.New())
		_, err := f.svc.SendChat(ctx, nil, req)
		assert.ErrorIs(t, err, ErrSessionNotFound)
		assert.Empty(t, f.local.Requests())
	})

	t.Run("limit reached", func(t *testing.T) {
		f := newFixture(t, false, 1)

		first, err := f.svc.SendChat(ctx, nil, chatRequest("one"))
		require.NoError(t, err)

		req := chatRequest("two")
		req.Session = entity.ExistingSessionRef(first.SessionId)
		_, err = f.svc.SendChat(ctx, nil, req)
		assert.ErrorIs(t, err, ErrLimitReached)
		assert.Len(t, f.messages(t, first.SessionId), 2)

		session, err := f.svc.GetSession(ctx, first.SessionId.String())
		require.NoError(t, err)
		assert.True(t, session.LimitReached)
	})

	t.Run("local model rejects files", func(t *testing.T) {
		f := newFixture(t, true, 10)

		req := chatRequest("describe")
		req.File = &dto.FileUpload{Name: "cat.png", MimeType: "image/png", Data: []byte{1, 2, 3}}
		_, err := f.svc.SendChat(ctx, nil, req)
		assert.ErrorIs(t, err, ErrLocalModelFile)
		assert.Empty(t, f.local.Requests())
		assert.Empty(t, f.cloud.Requests())
	})

	t.Run("unsupported file type", func(t *testing.T) {
		f := newFixture(t, true, 10)

		req := chatRequest("run this")
		req.ModelType = "cloud"
		req.File = &dto.FileUpload{Name: "virus.exe", Data: []byte{1}}
		_, err := f.svc.SendChat(ctx, nil, req)
		assert.ErrorIs(t, err, ErrUnsupportedFileType)
	})

	t.Run("media goes to the cloud backend", func(t *testing.T) {
		f := newFixture(t, true, 10)

		req := chatRequest("describe")
		req.ModelType = "cloud"
		req.File = &dto.FileUpload{Name: "cat.png", MimeType: "image/png", Data: []byte{1, 2, 3}}
		res, err := f.svc.SendChat(ctx, nil, req)
		require.NoError(t, err)
		assert.Equal(t, "cloud answer", res.Response)

		requests := f.cloud.Requests()
		require.Len(t, requests, 1)
		require.NotNil(t, requests[0].Media)
		assert.Equal(t, "image/png", requests[0].Media.MimeType)
		assert.Equal(t, "describe", requests[0].Prompt)

		msgs := f.messages(t, res.SessionId)
		require.NotNil(t, msgs[0].UploadedFile)
		assert.Equal(t, entity.UploadedFile{Name: "cat.png", Type: "image/png", Size: 3}, *msgs[0].UploadedFile)
		assert.Nil(t, msgs[1].UploadedFile)
	})

	t.Run("fallback to cloud", func(t *testing.T) {
		f := newFixture(t, true, 10)
		f.local.Err = errors.New("connection refused")

		res, err := f.svc.SendChat(ctx, nil, chatRequest("hi"))
		require.NoError(t, err)
		assert.True(t, res.FallbackUsed)
		assert.Equal(t, "cloud answer", res.Response)
		assert.Equal(t, "gemini-2.5-flash", res.ModelName)
		assert.Equal(t, "cloud", res.ModelType)

		msgs := f.messages(t, res.SessionId)
		require.NotNil(t, msgs[1].ModelName)
		assert.Equal(t, "gemini-2.5-flash", *msgs[1].ModelName)
	})

	t.Run("both backends fail", func(t *testing.T) {
		f := newFixture(t, true, 10)
		f.local.Err = errors.New("local down")
		f.cloud.Err = errors.New("quota")

		res, err := f.svc.SendChat(ctx, nil, chatRequest("hi"))
		require.NoError(t, err)
		assert.Equal(t, "Local & fallback error: local down | Fallback: quota", res.Response)
		assert.Equal(t, res.Response, f.messages(t, res.SessionId)[1].Content)
	})

	t.Run("mentions are composed into the prompt", func(t *testing.T) {
		f := newFixture(t, false, 10)

		prior, err := f.svc.SendChat(ctx, nil, chatRequest("What is Go?"))
		require.NoError(t, err)

		req := chatRequest("And channels?")
		req.MentionSessionIds = []string{"garbage", prior.SessionId.String()}
		_, err = f.svc.SendChat(ctx, nil, req)
		require.NoError(t, err)

		requests := f.local.Requests()
		require.Len(t, requests, 2)
		assert.Equal(t,
			"Here is some previous conversation context that you should consider:\n"+
				"user: What is Go?\nbot: local answer\n"+
				"\n\nNow, based on the above context, here is the user's new message:\n"+
				"And channels?",
			requests[1].Prompt)
	})
}

type eventSink struct {
	events []dto.StreamEvent
	// failAt makes the emit with this index fail, simulating a disconnect.
	failAt int
}

func (s *eventSink) emit(ev dto.StreamEvent) error {
	if s.failAt > 0 && len(s.events) >= s.failAt {
		return errors.New("client gone")
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *eventSink) types() []string {
	out := make([]string, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Type
	}
	return out
}

func TestStreamChat(t *testing.T) {
	ctx := context.Background()

	t.Run("full stream is stored", func(t *testing.T) {
		f := newFixture(t, false, 10)
		f.local.Chunks = []string{"Hel", "lo"}

		sink := &eventSink{}
		require.NoError(t, f.svc.StreamChat(ctx, nil, chatRequest("hi"), sink.emit))
		assert.Equal(t, []string{"session_info", "chunk", "chunk", "complete"}, sink.types())
		assert.Equal(t, constant.NewSessionMarker, sink.events[0].SessionId)

		complete := sink.events[3]
		require.NotNil(t, complete.Timestamp)
		require.NotNil(t, complete.Latency)
		sessionId, err := uuid.Parse(complete.SessionId)
		require.NoError(t, err)

		msgs := f.messages(t, sessionId)
		require.Len(t, msgs, 2)
		assert.Equal(t, "Hello", msgs[1].Content)
	})

	t.Run("disconnect keeps delivered fragments", func(t *testing.T) {
		f := newFixture(t, false, 10)
		f.local.Chunks = []string{"a", "b", "c"}

		// session_info and "a" are delivered, "b" is not.
		sink := &eventSink{failAt: 2}
		assert.Error(t, f.svc.StreamChat(ctx, nil, chatRequest("hi"), sink.emit))

		sessions, err := f.uowFactory.NewUnitOfWork(ctx).ChatSessionRepository().FindAll(ctx)
		require.NoError(t, err)
		require.Len(t, sessions, 1)
		msgs := f.messages(t, sessions[0].Id)
		require.Len(t, msgs, 2)
		assert.Equal(t, "a", msgs[1].Content)
	})

	t.Run("disconnect before any text stores nothing", func(t *testing.T) {
		f := newFixture(t, false, 10)
		f.local.Chunks = []string{"a"}

		sink := &eventSink{failAt: 1}
		require.NoError(t, f.svc.StreamChat(ctx, nil, chatRequest("hi"), sink.emit))

		count, err := f.uowFactory.NewUnitOfWork(ctx).ChatSessionRepository().Count(ctx)
		require.NoError(t, err)
		assert.Zero(t, count)
	})

	t.Run("error fragments are stored", func(t *testing.T) {
		f := newFixture(t, false, 10)
		f.local.StreamErr = errors.New("down")

		sink := &eventSink{}
		require.NoError(t, f.svc.StreamChat(ctx, nil, chatRequest("hi"), sink.emit))
		assert.Equal(t, []string{"session_info", "error", "complete"}, sink.types())
		assert.Equal(t, "[Local model error and no fallback: down]", sink.events[1].Message)
	})

	t.Run("limit reached is a single event", func(t *testing.T) {
		f := newFixture(t, false, 1)
		first, err := f.svc.SendChat(ctx, nil, chatRequest("one"))
		require.NoError(t, err)

		req := chatRequest("two")
		req.Session = entity.ExistingSessionRef(first.SessionId)
		sink := &eventSink{}
		require.NoError(t, f.svc.StreamChat(ctx, nil, req, sink.emit))
		require.Len(t, sink.events, 1)
		assert.Equal(t, constant.StreamEventError, sink.events[0].Type)
		assert.True(t, sink.events[0].LimitReached)
		assert.Equal(t, ErrLimitReached.Error(), sink.events[0].Message)
	})

	t.Run("validation fails before streaming", func(t *testing.T) {
		f := newFixture(t, true, 10)

		req := chatRequest("describe")
		req.File = &dto.FileUpload{Name: "cat.png", Data: []byte{1}}
		_, err := f.svc.StartStream(ctx, nil, req)
		assert.ErrorIs(t, err, ErrLocalModelFile)
	})
}

func TestGetHistory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false, 10)

	userId := uuid.New()
	older, err := f.svc.SendChat(ctx, &userId, chatRequest("older"))
	require.NoError(t, err)
	newer, err := f.svc.SendChat(ctx, &userId, chatRequest("newer"))
	require.NoError(t, err)
	guest, err := f.svc.SendChat(ctx, nil, chatRequest("guest"))
	require.NoError(t, err)

	t.Run("user sees own sessions newest first", func(t *testing.T) {
		res, err := f.svc.GetHistory(ctx, &userId, &dto.HistoryRequest{})
		require.NoError(t, err)
		require.Len(t, res, 2)
		assert.Equal(t, newer.SessionId, res[0].Id)
		assert.Equal(t, older.SessionId, res[1].Id)
		require.Len(t, res[0].Messages, 2)
		assert.Equal(t, "newer", res[0].Messages[0].Content)
	})

	t.Run("guest only sees guest sessions", func(t *testing.T) {
		res, err := f.svc.GetHistory(ctx, nil, &dto.HistoryRequest{
			SessionIds: []string{older.SessionId.String(), guest.SessionId.String()},
		})
		require.NoError(t, err)
		require.Len(t, res, 1)
		assert.Equal(t, guest.SessionId, res[0].Id)
		assert.Nil(t, res[0].UserId)
	})

	t.Run("guest with malformed id", func(t *testing.T) {
		_, err := f.svc.GetHistory(ctx, nil, &dto.HistoryRequest{SessionIds: []string{"nope"}})
		assert.ErrorIs(t, err, ErrInvalidSessionId)
	})

	t.Run("user without sessions", func(t *testing.T) {
		stranger := uuid.New()
		res, err := f.svc.GetHistory(ctx, &stranger, &dto.HistoryRequest{})
		require.NoError(t, err)
		assert.Empty(t, res)
	})
}

func TestSessionManagement(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false, 10)

	userId := uuid.New()
	res, err := f.svc.SendChat(ctx, &userId, chatRequest("hi"))
	require.NoError(t, err)
	id := res.SessionId.String()

	t.Run("get session", func(t *testing.T) {
		got, err := f.svc.GetSession(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, res.SessionId, got.SessionId)
		assert.Len(t, got.Messages, 2)
		assert.False(t, got.LimitReached)

		_, err = f.svc.GetSession(ctx, "bad")
		assert.ErrorIs(t, err, ErrInvalidSessionId)
		_, err = f.svc.GetSession(ctx, uuid.NewString())
		assert.ErrorIs(t, err, ErrSessionNotFound)
	})

	t.Run("rename is idempotent", func(t *testing.T) {
		req := &dto.RenameSessionRequest{SessionId: id, NewName: "Trip"}
		require.NoError(t, f.svc.RenameSession(ctx, req))
		require.NoError(t, f.svc.RenameSession(ctx, req))
		assert.Equal(t, "Trip", f.session(t, res.SessionId).SessionName)

		err := f.svc.RenameSession(ctx, &dto.RenameSessionRequest{SessionId: uuid.NewString(), NewName: "x"})
		assert.ErrorIs(t, err, ErrSessionNotFound)
	})

	t.Run("clear keeps the session", func(t *testing.T) {
		cleared, err := f.svc.ClearSession(ctx, &dto.ClearSessionRequest{SessionId: id})
		require.NoError(t, err)
		assert.Equal(t, "cleared", cleared.Status)

		session := f.session(t, res.SessionId)
		require.NotNil(t, session)
		assert.Equal(t, "Trip", session.SessionName)
		require.NotNil(t, session.UserId)
		assert.Equal(t, userId, *session.UserId)
		assert.Empty(t, f.messages(t, res.SessionId))

		_, err = f.svc.ClearSession(ctx, &dto.ClearSessionRequest{SessionId: uuid.NewString()})
		assert.ErrorIs(t, err, ErrSessionNotFound)
	})

	t.Run("delete removes it from the user's list", func(t *testing.T) {
		require.NoError(t, f.svc.DeleteSession(ctx, id))
		assert.Nil(t, f.session(t, res.SessionId))

		user, err := f.uowFactory.NewUnitOfWork(ctx).UserRepository().FindById(ctx, userId)
		require.NoError(t, err)
		assert.Empty(t, user.ChatSessions)

		assert.ErrorIs(t, f.svc.DeleteSession(ctx, id), ErrSessionNotFound)
		assert.ErrorIs(t, f.svc.DeleteSession(ctx, "bad"), ErrInvalidSessionId)
	})

	assert.Contains(t, f.publisher.Types(), constant.EventChatSessionDeleted)
}
