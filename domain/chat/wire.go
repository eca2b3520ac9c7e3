package chat

import "encoding/json"

// Socket event names shared by the server and the client session.
const (
	// client -> server
	EventUserConnected  = "user_connected"
	EventUpdateActivity = "update_activity"
	EventSendMessage    = "send_message"

	// server -> client
	EventUsersOnline      = "users_online"
	EventActivities       = "activities"
	EventUserDisconnected = "user_disconnected"
	EventActivityUpdated  = "activity_updated"
	EventReceiveMessage   = "receive_message"
	EventMessageSent      = "message_sent"
	EventMessageError     = "message_error"
)

// Envelope is the frame exchanged over the websocket in both directions.
// EventUserConnected is used by both sides: the client announces itself
// and the server reports a peer coming online.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ActivityPayload carries a "now playing" change.
type ActivityPayload struct {
	UserID   string `json:"userId"`
	Activity string `json:"activity"`
}

// SendMessagePayload is what a client emits to send a chat message.
type SendMessagePayload struct {
	ReceiverID string `json:"receiverId"`
	SenderID   string `json:"senderId"`
	Content    string `json:"content"`
}

// ActivityEntry is one [userId, activity] pair of the activities snapshot.
// It is encoded as a two element JSON array.
type ActivityEntry struct {
	UserID   string
	Activity string
}

// MarshalJSON encodes the entry as ["userId", "activity"].
func (e ActivityEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{e.UserID, e.Activity})
}

// UnmarshalJSON decodes a ["userId", "activity"] pair.
func (e *ActivityEntry) UnmarshalJSON(data []byte) error {
	var pair [2]string
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	e.UserID, e.Activity = pair[0], pair[1]
	return nil
}

// NewEnvelope marshals payload into an envelope of the given type.
func NewEnvelope(eventType string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: eventType, Payload: data}, nil
}
