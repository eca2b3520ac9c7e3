package store

import domain "github.com/example/soundline/domain/chat"

// Service names registered in the store module's service container.
const (
	ServiceSaveMessage  = "save-message"
	ServiceConversation = "conversation"
)

// SaveMessageRequest asks the store to persist a new message.
type SaveMessageRequest struct {
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
	Content    string `json:"content"`
}

// SaveMessageResponse carries the persisted message.
type SaveMessageResponse struct {
	Message domain.Message `json:"message"`
}

// ConversationRequest asks for the history between two users.
type ConversationRequest struct {
	UserA string `json:"userA"`
	UserB string `json:"userB"`
	Limit int    `json:"limit,omitempty"`
}

// ConversationResponse lists messages oldest first.
type ConversationResponse struct {
	Messages []domain.Message `json:"messages"`
}
