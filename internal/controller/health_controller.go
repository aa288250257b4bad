package controller

import (
	"chat-gateway-be/internal/dto"
	"chat-gateway-be/internal/pkg/serverutils"
	"chat-gateway-be/pkg/chatbot"

	"github.com/gofiber/fiber/v2"
)

type IHealthController interface {
	RegisterRoutes(r fiber.Router)
	Health(ctx *fiber.Ctx) error
}

// ConnectionCounter reports open streaming sockets.
type ConnectionCounter interface {
	ActiveConnections() int
}

type healthController struct {
	orchestrator *chatbot.Orchestrator
	connections  ConnectionCounter
}

// NewHealthController takes an optional connections counter.
func NewHealthController(orchestrator *chatbot.Orchestrator, connections ConnectionCounter) IHealthController {
	return &healthController{
		orchestrator: orchestrator,
		connections:  connections,
	}
}

func (c *healthController) RegisterRoutes(r fiber.Router) {
	r.Get("/health", c.Health)
}

// Health reports liveness and which backends are configured, not whether
// they currently answer.
func (c *healthController) Health(ctx *fiber.Ctx) error {
	res := dto.HealthResponse{
		Status: "ok",
		Local:  c.orchestrator.HasLocal(),
		Cloud:  c.orchestrator.HasCloud(),
	}
	if c.connections != nil {
		res.Connections = c.connections.ActiveConnections()
	}
	return ctx.JSON(serverutils.SuccessResponse("OK", res))
}
