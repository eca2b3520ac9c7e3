package presence

import (
	"context"
	"errors"
	"time"

	domain "github.com/example/soundline/domain/chat"
	"github.com/example/soundline/events"
	"github.com/example/soundline/modules/store"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/types"
)

// Config configures the presence module.
type Config struct {
	SendBuffer int
}

// PresenceModule hosts the Hub and publishes its state changes on the event bus.
type PresenceModule struct {
	hub      *Hub
	store    *storeLink
	eventBus mono.EventBus
	logger   types.Logger
}

// Compile-time interface checks.
var (
	_ mono.Module                = (*PresenceModule)(nil)
	_ mono.DependentModule       = (*PresenceModule)(nil)
	_ mono.EventBusAwareModule   = (*PresenceModule)(nil)
	_ mono.EventEmitterModule    = (*PresenceModule)(nil)
	_ mono.HealthCheckableModule = (*PresenceModule)(nil)
	_ Notifier                   = (*PresenceModule)(nil)
)

// NewModule creates a new PresenceModule. The hub exists immediately so the
// transport can be wired before the application starts.
func NewModule(config Config, logger types.Logger) *PresenceModule {
	m := &PresenceModule{
		store:  &storeLink{},
		logger: logger,
	}
	m.hub = NewHub(m.store, m, logger, config.SendBuffer)
	return m
}

// Name returns the module name.
func (m *PresenceModule) Name() string {
	return "presence"
}

// Dependencies returns the modules this module depends on.
func (m *PresenceModule) Dependencies() []string {
	return []string{"store"}
}

// SetDependencyServiceContainer receives service containers from dependencies.
func (m *PresenceModule) SetDependencyServiceContainer(dependency string, container mono.ServiceContainer) {
	if dependency == "store" {
		m.store.port = store.NewStoreAdapter(container)
	}
}

// SetEventBus receives the EventBus from the framework.
func (m *PresenceModule) SetEventBus(bus mono.EventBus) {
	m.eventBus = bus
}

// EmitEvents declares the events this module can emit.
func (m *PresenceModule) EmitEvents() []mono.BaseEventDefinition {
	return []mono.BaseEventDefinition{
		events.UserConnectedV1.ToBase(),
		events.UserDisconnectedV1.ToBase(),
		events.ActivityUpdatedV1.ToBase(),
		events.MessageRelayedV1.ToBase(),
		events.MessageFailedV1.ToBase(),
	}
}

// Start starts the module.
func (m *PresenceModule) Start(_ context.Context) error {
	if m.store.port == nil {
		return errors.New("required dependency 'store' not initialized")
	}
	m.logger.Info("Presence module started", "sendBuffer", m.hub.sendBuffer)
	return nil
}

// Stop closes every live connection.
func (m *PresenceModule) Stop(_ context.Context) error {
	connections := m.hub.ConnectionCount()
	m.hub.Close()
	m.logger.Info("Presence module stopped", "connections", connections)
	return nil
}

// Health returns the health status.
func (m *PresenceModule) Health(_ context.Context) mono.HealthStatus {
	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: map[string]any{
			"connections":  m.hub.ConnectionCount(),
			"online_users": m.hub.UserCount(),
		},
	}
}

// Hub returns the presence hub.
func (m *PresenceModule) Hub() *Hub {
	return m.hub
}

// UserConnected publishes a UserConnected event.
func (m *PresenceModule) UserConnected(userID, connID string) {
	m.publish("UserConnected", func(bus mono.EventBus) error {
		return events.UserConnectedV1.Publish(bus, events.UserConnectedEvent{
			UserID: userID, ConnID: connID, Timestamp: time.Now(),
		}, nil)
	})
}

// UserDisconnected publishes a UserDisconnected event.
func (m *PresenceModule) UserDisconnected(userID, connID string) {
	m.publish("UserDisconnected", func(bus mono.EventBus) error {
		return events.UserDisconnectedV1.Publish(bus, events.UserDisconnectedEvent{
			UserID: userID, ConnID: connID, Timestamp: time.Now(),
		}, nil)
	})
}

// ActivityUpdated publishes an ActivityUpdated event.
func (m *PresenceModule) ActivityUpdated(userID, activity string) {
	m.publish("ActivityUpdated", func(bus mono.EventBus) error {
		return events.ActivityUpdatedV1.Publish(bus, events.ActivityUpdatedEvent{
			UserID: userID, Activity: activity, Timestamp: time.Now(),
		}, nil)
	})
}

// MessageRelayed publishes a MessageRelayed event.
func (m *PresenceModule) MessageRelayed(msg domain.Message, delivered bool) {
	m.publish("MessageRelayed", func(bus mono.EventBus) error {
		return events.MessageRelayedV1.Publish(bus, events.MessageRelayedEvent{
			MessageID:  msg.ID,
			SenderID:   msg.SenderID,
			ReceiverID: msg.ReceiverID,
			Delivered:  delivered,
			Timestamp:  time.Now(),
		}, nil)
	})
}

// MessageFailed publishes a MessageFailed event.
func (m *PresenceModule) MessageFailed(senderID, receiverID, reason string) {
	m.publish("MessageFailed", func(bus mono.EventBus) error {
		return events.MessageFailedV1.Publish(bus, events.MessageFailedEvent{
			SenderID: senderID, ReceiverID: receiverID, Reason: reason, Timestamp: time.Now(),
		}, nil)
	})
}

// publish is fire-and-forget; a failed publish is logged only.
func (m *PresenceModule) publish(name string, fn func(mono.EventBus) error) {
	if m.eventBus == nil {
		return
	}
	if err := fn(m.eventBus); err != nil {
		m.logger.Warn("Failed to publish event", "event", name, "error", err)
	}
}

// storeLink forwards to the store adapter once the dependency container arrives.
type storeLink struct {
	port store.StorePort
}

func (l *storeLink) SaveMessage(ctx context.Context, senderID, receiverID, content string) (*domain.Message, error) {
	if l.port == nil {
		return nil, errors.New("message store not available")
	}
	return l.port.SaveMessage(ctx, senderID, receiverID, content)
}
