package events

import (
	"time"

	"github.com/go-monolith/mono/pkg/helper"
)

// UserConnectedEvent is emitted when a user gains their first live connection.
type UserConnectedEvent struct {
	UserID    string    `json:"user_id"`
	ConnID    string    `json:"conn_id"`
	Timestamp time.Time `json:"timestamp"`
}

// UserDisconnectedEvent is emitted when a user's last live connection closes.
type UserDisconnectedEvent struct {
	UserID    string    `json:"user_id"`
	ConnID    string    `json:"conn_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ActivityUpdatedEvent is emitted whenever a user's now-playing status changes.
type ActivityUpdatedEvent struct {
	UserID    string    `json:"user_id"`
	Activity  string    `json:"activity"`
	Timestamp time.Time `json:"timestamp"`
}

// MessageRelayedEvent is emitted after a chat message is persisted.
type MessageRelayedEvent struct {
	MessageID  string    `json:"message_id"`
	SenderID   string    `json:"sender_id"`
	ReceiverID string    `json:"receiver_id"`
	Delivered  bool      `json:"delivered"`
	Timestamp  time.Time `json:"timestamp"`
}

// MessageFailedEvent is emitted when a relay is rejected or cannot be persisted.
type MessageFailedEvent struct {
	SenderID   string    `json:"sender_id"`
	ReceiverID string    `json:"receiver_id"`
	Reason     string    `json:"reason"`
	Timestamp  time.Time `json:"timestamp"`
}

// Event definitions for the presence domain.
// Subject: events.presence.v1.<event-name>
var (
	UserConnectedV1 = helper.EventDefinition[UserConnectedEvent](
		"presence", "UserConnected", "v1",
	)

	UserDisconnectedV1 = helper.EventDefinition[UserDisconnectedEvent](
		"presence", "UserDisconnected", "v1",
	)

	ActivityUpdatedV1 = helper.EventDefinition[ActivityUpdatedEvent](
		"presence", "ActivityUpdated", "v1",
	)

	MessageRelayedV1 = helper.EventDefinition[MessageRelayedEvent](
		"presence", "MessageRelayed", "v1",
	)

	MessageFailedV1 = helper.EventDefinition[MessageFailedEvent](
		"presence", "MessageFailed", "v1",
	)
)
