package main

import (
	"context"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/example/soundline/modules/api"
	"github.com/example/soundline/modules/auth"
	"github.com/example/soundline/modules/presence"
	"github.com/example/soundline/modules/stats"
	"github.com/example/soundline/modules/store"
	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/go-monolith/mono"
)

const shutdownTimeout = 30 * time.Second

func main() {
	log.Println("=== Soundline - Presence, Activity and Chat ===")

	port := getEnv("PORT", "3000")
	redisAddr := getEnv("REDIS_ADDR", "")

	jwtConfig := auth.DefaultJWTConfig()
	jwtConfig.SecretKey = getEnv("JWT_SECRET_KEY", jwtConfig.SecretKey)
	jwtConfig.Issuer = getEnv("JWT_ISSUER", jwtConfig.Issuer)

	// Create mono application
	app, err := mono.NewMonoApplication(
		mono.WithShutdownTimeout(shutdownTimeout),
		mono.WithLogLevel(mono.LogLevelInfo),
		mono.WithLogFormat(mono.LogFormatText),
	)
	if err != nil {
		log.Fatalf("Failed to create application: %v", err)
	}

	// Create modules
	authModule := auth.NewModule(auth.Config{
		DBPath: getEnv("AUTH_DB_PATH", "soundline_users.db"),
		JWT:    jwtConfig,
	}, app.Logger())
	storeModule := store.NewModule(store.Config{
		DBPath:    getEnv("STORE_DB_PATH", "soundline_messages.db"),
		RedisAddr: redisAddr,
		CacheTTL:  getEnvDuration("HISTORY_CACHE_TTL", 2*time.Minute),
	}, app.Logger())
	presenceModule := presence.NewModule(presence.Config{
		SendBuffer: getEnvInt("SOCKET_SEND_BUFFER", presence.DefaultSendBuffer),
	}, app.Logger())
	statsModule := stats.NewModule()
	apiModule := api.NewModule(api.Config{
		Port:              port,
		AllowedOrigins:    getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:3000"),
		MessagesPerSecond: getEnvFloat("SOCKET_MESSAGES_PER_SECOND", 10),
		Burst:             getEnvInt("SOCKET_BURST", 20),
	}, app.Logger())

	// The hub is not exposed via ServiceContainer; the socket handler drives it directly.
	apiModule.SetHub(presenceModule.Hub())

	// Register modules with the framework.
	// - auth: users and session credentials (ServiceProviderModule)
	// - store: message persistence with optional redis history cache (ServiceProviderModule)
	// - presence: hub for presence, activity and relay (EventEmitterModule, depends on store)
	// - stats: counters fed by presence events (EventConsumerModule + ServiceProviderModule)
	// - api: Fiber HTTP/WebSocket driving adapter
	app.Register(authModule)
	app.Register(storeModule)
	app.Register(presenceModule)
	app.Register(statsModule)
	app.Register(apiModule)

	// Start application
	if err := app.Start(context.Background()); err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}

	printStartupInfo(port, redisAddr)

	// Graceful shutdown
	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		shutdownTimeout,
		map[string]gfshutdown.Operation{
			"mono-app": func(ctx context.Context) error {
				log.Println("Graceful shutdown initiated...")
				return app.Stop(ctx)
			},
		},
	)

	exitCode := <-wait
	log.Printf("Application exited with code: %d", exitCode)
	os.Exit(exitCode)
}

func printStartupInfo(port, redisAddr string) {
	cache := "disabled"
	if redisAddr != "" {
		cache = redisAddr
	}

	log.Println("")
	log.Println("Application started successfully!")
	log.Println("")
	log.Println("Architecture:")
	log.Println("  - HTTP Framework: Fiber with WebSocket support")
	log.Println("  - Event Bus: NATS JetStream (presence and message events)")
	log.Println("  - Storage: SQLite via GORM")
	log.Printf("  - History cache: %s", cache)
	log.Println("")
	log.Printf("REST API Endpoints (http://localhost:%s):", port)
	log.Println("  GET    /health                   - Health check")
	log.Println("  POST   /api/v1/auth/register     - Create an account")
	log.Println("  POST   /api/v1/auth/login        - Obtain a session token")
	log.Println("  GET    /api/v1/users             - Users with online status and activity (auth)")
	log.Println("  GET    /api/v1/messages/:peerId  - Conversation history (auth)")
	log.Println("  GET    /api/v1/stats             - Presence and message counters")
	log.Println("")
	log.Printf("WebSocket Endpoint (ws://localhost:%s/ws):", port)
	log.Printf("  Connect with: ws://localhost:%s/ws?token=<access_token>", port)
	log.Println("  Client events: user_connected, update_activity, send_message")
	log.Println("  Server events: users_online, activities, user_connected, user_disconnected,")
	log.Println("                 activity_updated, receive_message, message_sent, message_error")
	log.Println("")
	log.Println("Press Ctrl+C to shutdown gracefully")
}

// getEnv returns environment variable value or default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns environment variable as int or default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
		log.Printf("Warning: invalid int value for %s: %s, using default: %d", key, value, defaultValue)
	}
	return defaultValue
}

// getEnvFloat returns environment variable as float64 or default.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
		log.Printf("Warning: invalid float value for %s: %s, using default: %g", key, value, defaultValue)
	}
	return defaultValue
}

// getEnvDuration returns environment variable as time.Duration or default.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		log.Printf("Warning: invalid duration value for %s: %s, using default: %s", key, value, defaultValue)
	}
	return defaultValue
}
