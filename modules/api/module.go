package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/example/soundline/domain/chat"
	"github.com/example/soundline/modules/auth"
	"github.com/example/soundline/modules/presence"
	"github.com/example/soundline/modules/stats"
	"github.com/example/soundline/modules/store"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

// Config configures the HTTP and websocket server.
type Config struct {
	Port           string
	AllowedOrigins string
	// MessagesPerSecond and Burst bound inbound socket events per connection.
	MessagesPerSecond float64
	Burst             int
}

// PresenceHub is the part of the presence hub the transport drives.
type PresenceHub interface {
	Register(userID string, conn presence.Conn) (*presence.Client, error)
	Unregister(connID string)
	Announce(connID string) error
	SetActivity(userID, activity string) error
	Relay(ctx context.Context, connID, senderID, receiverID, content string) (*domain.Message, error)
	SendError(connID, reason string) error
	IsOnline(userID string) bool
	Activities() map[string]string
	ConnectionCount() int
	UserCount() int
}

// APIModule is the HTTP API module with websocket support.
type APIModule struct {
	config       Config
	app          *fiber.App
	authAdapter  auth.AuthPort
	storeAdapter store.StorePort
	statsAdapter stats.StatsPort
	hub          PresenceHub
	logger       types.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// Compile-time interface checks.
var (
	_ mono.Module                = (*APIModule)(nil)
	_ mono.DependentModule       = (*APIModule)(nil)
	_ mono.HealthCheckableModule = (*APIModule)(nil)
)

// NewModule creates a new APIModule.
func NewModule(config Config, logger types.Logger) *APIModule {
	if config.Port == "" {
		config.Port = "3000"
	}
	if config.AllowedOrigins == "" {
		config.AllowedOrigins = "http://localhost:5173,http://localhost:3000"
	}
	if config.MessagesPerSecond <= 0 {
		config.MessagesPerSecond = 10
	}
	if config.Burst <= 0 {
		config.Burst = 20
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &APIModule{
		config: config,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Name returns the module name.
func (m *APIModule) Name() string {
	return "api"
}

// Dependencies returns the list of module dependencies.
func (m *APIModule) Dependencies() []string {
	return []string{"auth", "store", "stats"}
}

// SetDependencyServiceContainer receives service containers from dependencies.
func (m *APIModule) SetDependencyServiceContainer(dependency string, container mono.ServiceContainer) {
	switch dependency {
	case "auth":
		m.authAdapter = auth.NewAuthAdapter(container)
	case "store":
		m.storeAdapter = store.NewStoreAdapter(container)
	case "stats":
		m.statsAdapter = stats.NewStatsAdapter(container)
	}
}

// SetHub sets the presence hub (called from main.go).
func (m *APIModule) SetHub(hub PresenceHub) {
	m.hub = hub
}

// Start initializes the Fiber HTTP server.
func (m *APIModule) Start(_ context.Context) error {
	if m.authAdapter == nil || m.storeAdapter == nil || m.statsAdapter == nil {
		return errors.New("api dependencies not set")
	}
	if m.hub == nil {
		return fmt.Errorf("presence hub dependency not set")
	}

	m.app = m.buildApp()

	go func() {
		if err := m.app.Listen(":" + m.config.Port); err != nil {
			m.logger.Error("HTTP server error", "error", err)
		}
	}()

	m.logger.Info("HTTP server started", "port", m.config.Port)
	return nil
}

// Stop shuts down the Fiber HTTP server.
func (m *APIModule) Stop(_ context.Context) error {
	m.cancel()
	if m.app == nil {
		return nil
	}
	m.logger.Info("Shutting down HTTP server...")
	return m.app.Shutdown()
}

// Health returns the health status.
func (m *APIModule) Health(_ context.Context) mono.HealthStatus {
	details := map[string]any{"port": m.config.Port}
	if m.hub != nil {
		details["connections"] = m.hub.ConnectionCount()
	}
	return mono.HealthStatus{
		Healthy: m.app != nil,
		Message: "operational",
		Details: details,
	}
}

func (m *APIModule) buildApp() *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          customErrorHandler,
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          60 * time.Second,
		IdleTimeout:           120 * time.Second,
	})

	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
		Next:   websocket.IsWebSocketUpgrade,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: m.config.AllowedOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
	}))

	m.setupRoutes(app)
	return app
}

// setupRoutes configures all HTTP routes.
func (m *APIModule) setupRoutes(app *fiber.App) {
	app.Get("/health", m.healthHandler)

	app.Use("/ws", SocketAuthMiddleware(m.authAdapter))
	app.Get("/ws", websocket.New(m.handleWebSocket))

	v1 := app.Group("/api/v1")

	authRoutes := v1.Group("/auth")
	authRoutes.Post("/register", m.register)
	authRoutes.Post("/login", m.login)

	v1.Get("/stats", m.getStats)

	requireAuth := AuthMiddleware(m.authAdapter)
	v1.Get("/users", requireAuth, m.listUsers)
	v1.Get("/messages/:peerId", requireAuth, m.getConversation)
}

// customErrorHandler handles Fiber errors.
func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(ErrorResponse{
		Error:   "server_error",
		Message: message,
	})
}
