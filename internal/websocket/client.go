package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"chat-gateway-be/internal/constant"
	"chat-gateway-be/internal/dto"
	"chat-gateway-be/internal/service"
	"chat-gateway-be/pkg/llm"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 64
)

var errConnectionClosed = errors.New("websocket connection closed")

// Client is one chat socket. Turns run one at a time on the read side;
// their events are queued on Send for the write side.
type Client struct {
	Hub *Hub

	Conn *websocket.Conn

	// UserID is nil for anonymous callers.
	UserID *uuid.UUID

	Send chan []byte

	chatService service.IChatbotService
	done        chan struct{}
	closeOnce   sync.Once
}

func (c *Client) userLabel() string {
	if c.UserID == nil {
		return "anonymous"
	}
	return c.UserID.String()
}

// readPump reads chat requests until the peer goes away.
func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.Hub.unregister <- c
	}()
	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.logger.Warn("Hub", "Unexpected close", map[string]interface{}{
					"user_id": c.userLabel(),
					"error":   err.Error(),
				})
			}
			return
		}

		var frame dto.WsChatRequest
		if err := json.Unmarshal(data, &frame); err != nil {
			if c.emitError("Invalid chat request") != nil {
				return
			}
			continue
		}

		req, err := toChatRequest(&frame)
		if err != nil {
			if c.emitError(err.Error()) != nil {
				return
			}
			continue
		}

		if err := c.chatService.StreamChat(ctx, c.UserID, req, c.emit); errors.Is(err, errConnectionClosed) {
			return
		}
	}
}

// writePump writes queued events and keeps the connection alive.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeOnce.Do(func() { close(c.done) })
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			// One event per frame.
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) emit(ev dto.StreamEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	select {
	case c.Send <- payload:
		return nil
	case <-c.done:
		return errConnectionClosed
	}
}

func (c *Client) emitError(message string) error {
	return c.emit(dto.StreamEvent{Type: constant.StreamEventError, Message: message})
}

func toChatRequest(frame *dto.WsChatRequest) (*dto.ChatRequest, error) {
	session, err := service.ParseSessionRef(frame.SessionId)
	if err != nil {
		return nil, err
	}

	params := llm.DefaultParams()
	if frame.Temperature != nil {
		params.Temperature = *frame.Temperature
	}
	if frame.TopP != nil {
		params.TopP = *frame.TopP
	}
	if frame.TopK != nil {
		params.TopK = *frame.TopK
	}
	if frame.MaxTokens != nil {
		params.MaxTokens = *frame.MaxTokens
	}
	if frame.FrequencyPenalty != nil {
		params.FrequencyPenalty = *frame.FrequencyPenalty
	}
	if frame.PresencePenalty != nil {
		params.PresencePenalty = *frame.PresencePenalty
	}
	params.Stop = frame.StopSequence
	params.Seed = frame.Seed
	if err := params.Validate(); err != nil {
		return nil, err
	}

	return &dto.ChatRequest{
		Message:           frame.Message,
		ModelType:         frame.ModelType,
		ModelName:         frame.ModelName,
		Session:           session,
		SessionName:       frame.SessionName,
		Params:            params,
		SystemPrompt:      frame.SystemPrompt,
		MentionSessionIds: frame.MentionSessionIds,
	}, nil
}
