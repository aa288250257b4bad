package bootstrap

import (
	"context"
	"log"

	"chat-gateway-be/internal/config"
	"chat-gateway-be/internal/constant"
	"chat-gateway-be/internal/controller"
	"chat-gateway-be/internal/pkg/logger"
	"chat-gateway-be/internal/pkg/serverutils"
	"chat-gateway-be/internal/repository/unitofwork"
	"chat-gateway-be/internal/service"
	"chat-gateway-be/internal/websocket"
	"chat-gateway-be/pkg/chatbot"
	"chat-gateway-be/pkg/llm/factory"

	pktNats "chat-gateway-be/pkg/nats"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"gorm.io/gorm"
)

type Container struct {
	Logger           logger.ILogger
	IdentityResolver *serverutils.IdentityResolver

	// Controllers
	ChatbotController controller.IChatbotController
	HealthController  controller.IHealthController
	ChatStreamHandler websocket.IChatStreamHandler

	// Background Services (Exposed for main.go to run)
	ConsumerService service.IConsumerService
	WebSocketHub    *websocket.Hub

	closers []func()
}

func NewContainer(db *gorm.DB, cfg *config.Config) *Container {
	// 1. Core Facades
	uowFactory := unitofwork.NewRepositoryFactory(db)
	sysLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.IsProduction())
	auditLogger := logger.NewIsolatedLogger(cfg.Events.AuditLogPath)

	// 2. Event Bus
	watermillLogger := watermill.NewStdLogger(false, false)
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{},
		watermillLogger,
	)

	c := &Container{Logger: sysLogger}
	c.closers = append(c.closers, func() { pubSub.Close() })

	// NATS relay is optional; events still reach the audit log without it.
	var relay service.EventRelay
	if cfg.Events.NatsURL != "" {
		natsPub, err := pktNats.NewPublisher(cfg.Events.NatsURL)
		if err != nil {
			log.Printf("[WARN] Failed to connect to NATS Publisher: %v", err)
		} else {
			relay = natsPub
			c.closers = append(c.closers, natsPub.Close)
		}
	}

	// 3. Backends
	localBackend := factory.NewLocalBackend(factory.LocalConfig{
		BaseURL: cfg.Ai.OllamaBaseURL,
		Model:   cfg.Ai.OllamaModel,
		Timeout: cfg.Ai.LocalTimeout,
	})
	cloudBackend, err := factory.NewCloudBackend(context.Background(), factory.CloudConfig{
		APIKey: cfg.Ai.GeminiAPIKey,
		Model:  cfg.Ai.GeminiModel,
	})
	if err != nil {
		log.Fatalf("[FATAL] Failed to initialize cloud backend: %v", err)
	}
	if cloudBackend == nil {
		log.Printf("[INFO] Cloud backend disabled (GOOGLE_GEMINI_API_KEY not set); local failures will not fall back")
	} else {
		log.Printf("[INFO] Cloud backend: %s", cloudBackend.Model(""))
	}
	log.Printf("[INFO] Local backend: %s (%s)", localBackend.Model(""), cfg.Ai.OllamaBaseURL)

	orchestrator := chatbot.NewOrchestrator(localBackend, cloudBackend)

	// 4. Services
	publisherService := service.NewPublisherService(constant.ChatEventsTopic, pubSub)
	consumerService := service.NewConsumerService(
		pubSub,
		constant.ChatEventsTopic,
		auditLogger,
		relay,
		sysLogger,
	)

	chatbotService := service.NewChatbotService(
		uowFactory,
		orchestrator,
		service.NewLimitGuard(uowFactory, cfg.Chat.MaxMessagesPerSession),
		service.NewSessionWriter(uowFactory, cfg.Chat.DefaultSessionName),
		publisherService,
		sysLogger,
	)

	// WebSocket Hub
	wsHub := websocket.NewHub(sysLogger)

	// 5. Controllers
	c.IdentityResolver = serverutils.NewIdentityResolver(cfg.Auth.JWTSecret, cfg.Auth.IdentityCacheTTL)
	c.ChatbotController = controller.NewChatbotController(chatbotService, sysLogger)
	c.HealthController = controller.NewHealthController(orchestrator, wsHub)
	c.ChatStreamHandler = websocket.NewChatStreamHandler(wsHub, chatbotService)
	c.ConsumerService = consumerService
	c.WebSocketHub = wsHub
	c.closers = append(c.closers, func() {
		sysLogger.Sync()
		auditLogger.Sync()
	})

	return c
}

// Close releases the event bus, the NATS connection and flushes logs.
func (c *Container) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}
