package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	domain "github.com/example/soundline/domain/chat"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Config configures the store module.
type Config struct {
	DBPath string
	// RedisAddr enables the history cache when set.
	RedisAddr   string
	CachePrefix string
	CacheTTL    time.Duration
}

// StoreModule is the durable message store.
type StoreModule struct {
	config  Config
	db      *gorm.DB
	cache   *HistoryCache
	service *MessageService
	logger  types.Logger
}

var (
	_ mono.Module                = (*StoreModule)(nil)
	_ mono.ServiceProviderModule = (*StoreModule)(nil)
	_ mono.HealthCheckableModule = (*StoreModule)(nil)
)

// NewModule creates a new StoreModule.
func NewModule(config Config, logger types.Logger) *StoreModule {
	if config.DBPath == "" {
		config.DBPath = "soundline_messages.db"
	}
	if config.CachePrefix == "" {
		config.CachePrefix = "soundline:"
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = 2 * time.Minute
	}
	return &StoreModule{config: config, logger: logger}
}

// Name returns the module name.
func (m *StoreModule) Name() string {
	return "store"
}

// Start opens the message database and, when configured, the redis history cache.
// An unreachable redis disables the cache instead of failing startup.
func (m *StoreModule) Start(ctx context.Context) error {
	db, err := gorm.Open(sqlite.Open(m.config.DBPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	m.db = db

	repo := NewMessageRepository(db)
	if err := repo.Migrate(); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	if m.config.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:         m.config.RedisAddr,
			PoolSize:     20,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			m.logger.Warn("Redis unavailable, history cache disabled", "addr", m.config.RedisAddr, "error", err)
			_ = client.Close()
		} else {
			m.cache = NewHistoryCache(client, m.config.CachePrefix, m.config.CacheTTL)
			m.logger.Info("History cache enabled", "addr", m.config.RedisAddr, "ttl", m.config.CacheTTL)
		}
	}

	m.service = NewMessageService(repo, m.cache, m.logger)
	m.logger.Info("Store module started", "database", m.config.DBPath)
	return nil
}

// Stop closes the database and the cache.
func (m *StoreModule) Stop(_ context.Context) error {
	if m.cache != nil {
		if err := m.cache.Close(); err != nil {
			m.logger.Warn("Failed to close redis client", "error", err)
		}
	}
	if m.db != nil {
		if sqlDB, err := m.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	m.logger.Info("Store module stopped")
	return nil
}

// Health reports database reachability and cache statistics.
func (m *StoreModule) Health(ctx context.Context) mono.HealthStatus {
	if m.db == nil {
		return mono.HealthStatus{Healthy: false, Message: "database not initialized"}
	}
	sqlDB, err := m.db.DB()
	if err != nil {
		return mono.HealthStatus{Healthy: false, Message: fmt.Sprintf("failed to get database connection: %v", err)}
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return mono.HealthStatus{Healthy: false, Message: fmt.Sprintf("database ping failed: %v", err)}
	}

	details := map[string]any{"database": m.config.DBPath, "cache_enabled": m.cache != nil}
	if m.cache != nil {
		details["cache"] = m.cache.Stats()
		if err := m.cache.Ping(ctx); err != nil {
			details["cache_error"] = err.Error()
		}
	}
	return mono.HealthStatus{Healthy: true, Message: "operational", Details: details}
}

// RegisterServices registers request-reply services in the service container.
func (m *StoreModule) RegisterServices(container mono.ServiceContainer) error {
	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceSaveMessage, json.Unmarshal, json.Marshal, m.handleSaveMessage,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceSaveMessage, err)
	}
	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceConversation, json.Unmarshal, json.Marshal, m.handleConversation,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceConversation, err)
	}

	m.logger.Info("Registered services", "services", []string{ServiceSaveMessage, ServiceConversation})
	return nil
}

func (m *StoreModule) handleSaveMessage(ctx context.Context, req SaveMessageRequest, _ *mono.Msg) (SaveMessageResponse, error) {
	msg, err := m.service.Save(ctx, req.SenderID, req.ReceiverID, req.Content)
	if err != nil {
		return SaveMessageResponse{}, err
	}
	return SaveMessageResponse{Message: *msg}, nil
}

func (m *StoreModule) handleConversation(ctx context.Context, req ConversationRequest, _ *mono.Msg) (ConversationResponse, error) {
	messages, err := m.service.Conversation(ctx, req.UserA, req.UserB, req.Limit)
	if err != nil {
		return ConversationResponse{}, err
	}
	if messages == nil {
		messages = []domain.Message{}
	}
	return ConversationResponse{Messages: messages}, nil
}
