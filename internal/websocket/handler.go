package websocket

import (
	"context"

	"chat-gateway-be/internal/pkg/serverutils"
	"chat-gateway-be/internal/service"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

type IChatStreamHandler interface {
	RegisterRoutes(r fiber.Router)
}

type chatStreamHandler struct {
	hub         *Hub
	chatService service.IChatbotService
}

func NewChatStreamHandler(hub *Hub, chatService service.IChatbotService) IChatStreamHandler {
	return &chatStreamHandler{
		hub:         hub,
		chatService: chatService,
	}
}

// RegisterRoutes must run before any /chat/:session_id route.
func (h *chatStreamHandler) RegisterRoutes(r fiber.Router) {
	r.Use("/chat/ws", func(ctx *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(ctx) {
			return ctx.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	r.Get("/chat/ws", websocket.New(h.serve))
}

func (h *chatStreamHandler) serve(conn *websocket.Conn) {
	var userID *uuid.UUID
	if id, ok := conn.Locals(serverutils.UserIDLocal).(uuid.UUID); ok {
		userID = &id
	}
	ServeWs(h.hub, h.chatService, conn, userID)
}

// ServeWs runs one chat socket until the peer disconnects.
func ServeWs(hub *Hub, chatService service.IChatbotService, c *websocket.Conn, userID *uuid.UUID) {
	client := &Client{
		Hub:         hub,
		Conn:        c,
		UserID:      userID,
		Send:        make(chan []byte, sendBuffer),
		chatService: chatService,
		done:        make(chan struct{}),
	}
	client.Hub.register <- client

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go client.writePump()
	client.readPump(ctx)
}
