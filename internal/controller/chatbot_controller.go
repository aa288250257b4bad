package controller

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"chat-gateway-be/internal/dto"
	"chat-gateway-be/internal/pkg/logger"
	"chat-gateway-be/internal/pkg/serverutils"
	"chat-gateway-be/internal/service"
	"chat-gateway-be/pkg/llm"

	"github.com/gofiber/fiber/v2"
)

type IChatbotController interface {
	RegisterRoutes(r fiber.Router)
	SendChat(ctx *fiber.Ctx) error
	StreamChat(ctx *fiber.Ctx) error
	GetHistory(ctx *fiber.Ctx) error
	GetSession(ctx *fiber.Ctx) error
	RenameSession(ctx *fiber.Ctx) error
	ClearSession(ctx *fiber.Ctx) error
	DeleteSession(ctx *fiber.Ctx) error
}

type chatbotController struct {
	chatbotService service.IChatbotService
	log            logger.ILogger
}

func NewChatbotController(chatbotService service.IChatbotService, log logger.ILogger) IChatbotController {
	return &chatbotController{
		chatbotService: chatbotService,
		log:            log,
	}
}

func (c *chatbotController) RegisterRoutes(r fiber.Router) {
	r.Post("/chat", c.SendChat)
	r.Post("/chat/stream", c.StreamChat)
	r.Post("/chat/history", c.GetHistory)
	r.Post("/chat/rename", c.RenameSession)
	r.Get("/chat/:session_id", c.GetSession)
	r.Post("/clear", c.ClearSession)
	r.Delete("/chat/delete/:session_id", c.DeleteSession)
}

func (c *chatbotController) SendChat(ctx *fiber.Ctx) error {
	req, err := parseChatRequest(ctx)
	if err != nil {
		return err
	}

	res, err := c.chatbotService.SendChat(ctx.UserContext(), serverutils.UserIDFromContext(ctx), req)
	if err != nil {
		if errors.Is(err, service.ErrLimitReached) {
			return ctx.Status(fiber.StatusForbidden).JSON(serverutils.ErrorResponseWithData(
				fiber.StatusForbidden, err.Error(), dto.LimitReachedResponse{LimitReached: true},
			))
		}
		return toHTTPError(err)
	}

	return ctx.JSON(serverutils.SuccessResponse("Success send chat", res))
}

// StreamChat answers with text/event-stream. Everything that can be
// rejected is checked before the stream is opened so it still gets a JSON
// error; from then on failures travel as error events.
func (c *chatbotController) StreamChat(ctx *fiber.Ctx) error {
	req, err := parseChatRequest(ctx)
	if err != nil {
		return err
	}

	stream, err := c.chatbotService.StartStream(ctx.UserContext(), serverutils.UserIDFromContext(ctx), req)
	if err != nil {
		return toHTTPError(err)
	}

	ctx.Set(fiber.HeaderContentType, "text/event-stream")
	ctx.Set(fiber.HeaderCacheControl, "no-cache")
	ctx.Set(fiber.HeaderConnection, "keep-alive")
	ctx.Set("X-Accel-Buffering", "no")

	// The fiber ctx is recycled once this handler returns.
	streamCtx := context.WithoutCancel(ctx.UserContext())

	ctx.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		emit := func(ev dto.StreamEvent) error {
			return writeEvent(w, ev)
		}
		if err := stream.Run(streamCtx, emit); err != nil {
			c.log.Debug("CHAT", "Stream ended early", map[string]interface{}{
				"error": err.Error(),
			})
		}
	})
	return nil
}

func writeEvent(w *bufio.Writer, ev dto.StreamEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
		return err
	}
	// Flush fails once the client is gone.
	return w.Flush()
}

func (c *chatbotController) GetHistory(ctx *fiber.Ctx) error {
	var req dto.HistoryRequest
	if len(ctx.Body()) > 0 {
		if err := ctx.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
	}

	res, err := c.chatbotService.GetHistory(ctx.UserContext(), serverutils.UserIDFromContext(ctx), &req)
	if err != nil {
		return toHTTPError(err)
	}

	return ctx.JSON(serverutils.SuccessResponse("Success get chat history", res))
}

func (c *chatbotController) GetSession(ctx *fiber.Ctx) error {
	res, err := c.chatbotService.GetSession(ctx.UserContext(), ctx.Params("session_id"))
	if err != nil {
		return toHTTPError(err)
	}

	return ctx.JSON(serverutils.SuccessResponse("Success get session", res))
}

func (c *chatbotController) RenameSession(ctx *fiber.Ctx) error {
	var req dto.RenameSessionRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Missing session_id or new_name")
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Missing session_id or new_name")
	}

	if err := c.chatbotService.RenameSession(ctx.UserContext(), &req); err != nil {
		return toHTTPError(err)
	}

	return ctx.JSON(serverutils.SuccessResponse[any]("Session renamed successfully", nil))
}

func (c *chatbotController) ClearSession(ctx *fiber.Ctx) error {
	var req dto.ClearSessionRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Missing session_id")
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Missing session_id")
	}

	res, err := c.chatbotService.ClearSession(ctx.UserContext(), &req)
	if err != nil {
		return toHTTPError(err)
	}

	return ctx.JSON(serverutils.SuccessResponse("Session cleared", res))
}

func (c *chatbotController) DeleteSession(ctx *fiber.Ctx) error {
	if err := c.chatbotService.DeleteSession(ctx.UserContext(), ctx.Params("session_id")); err != nil {
		return toHTTPError(err)
	}

	return ctx.JSON(serverutils.SuccessResponse[any]("Chat deleted successfully", nil))
}

// toHTTPError maps service sentinels onto status codes. Anything unknown is
// left for the error handler to report as a 500.
func toHTTPError(err error) error {
	switch {
	case errors.Is(err, service.ErrSessionNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrTurnConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, service.ErrInvalidSessionId),
		errors.Is(err, service.ErrLocalModelFile),
		errors.Is(err, service.ErrEmptyFile),
		errors.Is(err, service.ErrUnsupportedFileType),
		errors.Is(err, service.ErrUnreadableFile):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return err
}

// parseChatRequest reads the chat form. Multipart and urlencoded bodies are
// both accepted; omitted parameters take their defaults.
func parseChatRequest(ctx *fiber.Ctx) (*dto.ChatRequest, error) {
	session, err := service.ParseSessionRef(strings.TrimSpace(ctx.FormValue("session_id")))
	if err != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	params, err := parseParams(ctx)
	if err != nil {
		return nil, err
	}

	req := &dto.ChatRequest{
		Message:           ctx.FormValue("message"),
		ModelType:         ctx.FormValue("model_type"),
		ModelName:         ctx.FormValue("model_name"),
		Session:           session,
		SessionName:       ctx.FormValue("session_name"),
		Params:            params,
		SystemPrompt:      ctx.FormValue("system_prompt"),
		MentionSessionIds: append(formValues(ctx, "mention_session_ids[]"), formValues(ctx, "mention_session_ids")...),
	}

	file, err := parseFile(ctx)
	if err != nil {
		return nil, err
	}
	req.File = file

	return req, nil
}

func parseParams(ctx *fiber.Ctx) (llm.Params, error) {
	params := llm.DefaultParams()

	floats := []struct {
		key string
		dst *float64
	}{
		{"temperature", &params.Temperature},
		{"top_p", &params.TopP},
		{"frequency_penalty", &params.FrequencyPenalty},
		{"presence_penalty", &params.PresencePenalty},
	}
	for _, f := range floats {
		raw := strings.TrimSpace(ctx.FormValue(f.key))
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return params, invalidParam(f.key)
		}
		*f.dst = v
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"top_k", &params.TopK},
		{"max_tokens", &params.MaxTokens},
	}
	for _, i := range ints {
		raw := strings.TrimSpace(ctx.FormValue(i.key))
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			return params, invalidParam(i.key)
		}
		*i.dst = v
	}

	params.Stop = strings.TrimSpace(ctx.FormValue("stop_sequence"))

	if raw := strings.TrimSpace(ctx.FormValue("seed")); raw != "" {
		seed, err := strconv.Atoi(raw)
		if err != nil {
			return params, invalidParam("seed")
		}
		params.Seed = &seed
	}

	if err := params.Validate(); err != nil {
		var rangeErr *llm.ParamRangeError
		if errors.As(err, &rangeErr) {
			return params, invalidParam(rangeErr.Field)
		}
		return params, err
	}

	return params, nil
}

func invalidParam(key string) error {
	return fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("Invalid value for %s", key))
}

// formValues returns every value sent under key, non-empty only.
func formValues(ctx *fiber.Ctx, key string) []string {
	var values []string
	if form, err := ctx.MultipartForm(); err == nil {
		values = form.Value[key]
	} else {
		for _, v := range ctx.Request().PostArgs().PeekMulti(key) {
			values = append(values, string(v))
		}
	}

	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func parseFile(ctx *fiber.Ctx) (*dto.FileUpload, error) {
	fh, err := ctx.FormFile("uploaded_file")
	if err != nil {
		// no file part
		return nil, nil
	}

	f, err := fh.Open()
	if err != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, "Unable to read uploaded file")
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, "Unable to read uploaded file")
	}

	return &dto.FileUpload{
		Name:     fh.Filename,
		MimeType: fh.Header.Get(fiber.HeaderContentType),
		Data:     data,
	}, nil
}
