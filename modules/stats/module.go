package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/example/soundline/events"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
)

// ServiceGetStats returns the current Snapshot.
const ServiceGetStats = "get-stats"

// GetStatsRequest is empty.
type GetStatsRequest struct{}

// StatsModule consumes presence events and serves aggregate counters.
type StatsModule struct {
	collector *Collector
}

var (
	_ mono.Module                = (*StatsModule)(nil)
	_ mono.EventConsumerModule   = (*StatsModule)(nil)
	_ mono.ServiceProviderModule = (*StatsModule)(nil)
)

// NewModule creates a new StatsModule.
func NewModule() *StatsModule {
	return &StatsModule{collector: NewCollector()}
}

func (m *StatsModule) Name() string {
	return "stats"
}

func (m *StatsModule) RegisterEventConsumers(registry mono.EventRegistry) error {
	if err := helper.RegisterTypedEventConsumer(registry, events.UserConnectedV1, m.handleUserConnected, m); err != nil {
		return fmt.Errorf("failed to register UserConnected consumer: %w", err)
	}
	if err := helper.RegisterTypedEventConsumer(registry, events.UserDisconnectedV1, m.handleUserDisconnected, m); err != nil {
		return fmt.Errorf("failed to register UserDisconnected consumer: %w", err)
	}
	if err := helper.RegisterTypedEventConsumer(registry, events.ActivityUpdatedV1, m.handleActivityUpdated, m); err != nil {
		return fmt.Errorf("failed to register ActivityUpdated consumer: %w", err)
	}
	if err := helper.RegisterTypedEventConsumer(registry, events.MessageRelayedV1, m.handleMessageRelayed, m); err != nil {
		return fmt.Errorf("failed to register MessageRelayed consumer: %w", err)
	}
	if err := helper.RegisterTypedEventConsumer(registry, events.MessageFailedV1, m.handleMessageFailed, m); err != nil {
		return fmt.Errorf("failed to register MessageFailed consumer: %w", err)
	}

	log.Printf("[stats] Registered event consumers: UserConnected, UserDisconnected, ActivityUpdated, MessageRelayed, MessageFailed")
	return nil
}

func (m *StatsModule) RegisterServices(container mono.ServiceContainer) error {
	return helper.RegisterTypedRequestReplyService(
		container, ServiceGetStats, json.Unmarshal, json.Marshal, m.handleGetStats,
	)
}

func (m *StatsModule) handleUserConnected(_ context.Context, event events.UserConnectedEvent, _ *mono.Msg) error {
	m.collector.Connected(event.Timestamp)
	return nil
}

func (m *StatsModule) handleUserDisconnected(_ context.Context, event events.UserDisconnectedEvent, _ *mono.Msg) error {
	m.collector.Disconnected(event.Timestamp)
	return nil
}

func (m *StatsModule) handleActivityUpdated(_ context.Context, event events.ActivityUpdatedEvent, _ *mono.Msg) error {
	m.collector.ActivityUpdated(event.Timestamp)
	return nil
}

func (m *StatsModule) handleMessageRelayed(_ context.Context, event events.MessageRelayedEvent, _ *mono.Msg) error {
	m.collector.MessageRelayed(event.Delivered, event.Timestamp)
	return nil
}

func (m *StatsModule) handleMessageFailed(_ context.Context, event events.MessageFailedEvent, _ *mono.Msg) error {
	log.Printf("[stats] Message from %s to %s failed: %s", event.SenderID, event.ReceiverID, event.Reason)
	m.collector.MessageFailed(event.Timestamp)
	return nil
}

func (m *StatsModule) handleGetStats(_ context.Context, _ GetStatsRequest, _ *mono.Msg) (Snapshot, error) {
	return m.collector.Snapshot(), nil
}

func (m *StatsModule) Start(_ context.Context) error {
	log.Println("[stats] Module started - listening for presence events")
	return nil
}

func (m *StatsModule) Stop(_ context.Context) error {
	s := m.collector.Snapshot()
	log.Printf("[stats] Module stopped - %d messages relayed, peak %d users online", s.MessagesRelayed, s.PeakOnlineUsers)
	return nil
}
