package store

import (
	"context"
	"encoding/json"
	"fmt"

	domain "github.com/example/soundline/domain/chat"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
)

// StorePort is the Message Store as seen by other modules.
type StorePort interface {
	SaveMessage(ctx context.Context, senderID, receiverID, content string) (*domain.Message, error)
	Conversation(ctx context.Context, userA, userB string, limit int) ([]domain.Message, error)
}

// StoreAdapter implements StorePort over the store module's service container.
type StoreAdapter struct {
	container mono.ServiceContainer
}

// NewStoreAdapter creates a new StoreAdapter.
func NewStoreAdapter(container mono.ServiceContainer) *StoreAdapter {
	if container == nil {
		panic("store: ServiceContainer is nil")
	}
	return &StoreAdapter{container: container}
}

// SaveMessage persists a message and returns the stored record.
func (a *StoreAdapter) SaveMessage(ctx context.Context, senderID, receiverID, content string) (*domain.Message, error) {
	req := SaveMessageRequest{SenderID: senderID, ReceiverID: receiverID, Content: content}
	var resp SaveMessageResponse
	if err := helper.CallRequestReplyService(
		ctx, a.container, ServiceSaveMessage, json.Marshal, json.Unmarshal, &req, &resp,
	); err != nil {
		return nil, fmt.Errorf("save-message request failed: %w", err)
	}
	return &resp.Message, nil
}

// Conversation returns the history between two users, oldest first.
func (a *StoreAdapter) Conversation(ctx context.Context, userA, userB string, limit int) ([]domain.Message, error) {
	req := ConversationRequest{UserA: userA, UserB: userB, Limit: limit}
	var resp ConversationResponse
	if err := helper.CallRequestReplyService(
		ctx, a.container, ServiceConversation, json.Marshal, json.Unmarshal, &req, &resp,
	); err != nil {
		return nil, fmt.Errorf("conversation request failed: %w", err)
	}
	return resp.Messages, nil
}
