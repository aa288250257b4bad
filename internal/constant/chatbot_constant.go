package constant

const (
	ChatMessageRoleUser = "user"
	ChatMessageRoleBot  = "bot"

	DefaultSessionName = "How can I help you?"

	// NewSessionMarker is what clients send as session_id to start a session.
	NewSessionMarker = "1"

	DefaultMaxMessagesPerSession = 10
)

// Stream event types sent over SSE and WebSocket.
const (
	StreamEventSessionInfo = "session_info"
	StreamEventChunk       = "chunk"
	StreamEventError       = "error"
	StreamEventComplete    = "complete"
)

// Domain event types.
const (
	EventChatTurnCompleted  = "CHAT_TURN_COMPLETED"
	EventChatSessionCreated = "CHAT_SESSION_CREATED"
	EventChatSessionRenamed = "CHAT_SESSION_RENAMED"
	EventChatSessionCleared = "CHAT_SESSION_CLEARED"
	EventChatSessionDeleted = "CHAT_SESSION_DELETED"
)

// Event bus topic shared by the publisher and the audit consumer.
const ChatEventsTopic = "chat.events"
