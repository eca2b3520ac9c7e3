package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/example/soundline/domain/chat"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultHistoryLimit is used when a conversation is requested without a limit.
	DefaultHistoryLimit = 50
	// MaxHistoryLimit caps a single conversation page.
	MaxHistoryLimit = 200
)

var (
	// ErrEmptySender is returned when a message has no sender.
	ErrEmptySender = errors.New("sender is required")
	// ErrEmptyReceiver is returned when a message has no receiver.
	ErrEmptyReceiver = errors.New("receiver is required")
	// ErrEmptyContent is returned when a message has no content.
	ErrEmptyContent = errors.New("message content is required")
)

// MessageService stores messages and serves conversation history.
type MessageService struct {
	repo   *MessageRepository
	cache  *HistoryCache
	group  singleflight.Group
	logger types.Logger
	now    func() time.Time
}

// NewMessageService creates a new MessageService. cache may be nil.
func NewMessageService(repo *MessageRepository, cache *HistoryCache, logger types.Logger) *MessageService {
	return &MessageService{
		repo:   repo,
		cache:  cache,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Save assigns an identifier and timestamp to a new message and persists it.
func (s *MessageService) Save(ctx context.Context, senderID, receiverID, content string) (*domain.Message, error) {
	if strings.TrimSpace(senderID) == "" {
		return nil, ErrEmptySender
	}
	if strings.TrimSpace(receiverID) == "" {
		return nil, ErrEmptyReceiver
	}
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}

	msg := &domain.Message{
		ID:         uuid.New().String(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
		CreatedAt:  s.now(),
	}
	if err := s.repo.Save(ctx, msg); err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.InvalidatePair(ctx, senderID, receiverID); err != nil {
			s.logger.Warn("Failed to invalidate history cache", "error", err, "senderID", senderID, "receiverID", receiverID)
		}
	}
	return msg, nil
}

// Conversation returns up to limit messages between a and b, oldest first.
func (s *MessageService) Conversation(ctx context.Context, a, b string, limit int) ([]domain.Message, error) {
	if a == "" || b == "" {
		return nil, fmt.Errorf("both participants are required")
	}
	limit = normalizeLimit(limit)

	if s.cache != nil {
		messages, hit, err := s.cache.Get(ctx, a, b, limit)
		if err != nil {
			s.logger.Warn("History cache read failed", "error", err)
		} else if hit {
			return messages, nil
		}
	}

	key := fmt.Sprintf("%s:%d", pairKey(a, b), limit)
	v, err, _ := s.group.Do(key, func() (any, error) {
		messages, err := s.repo.Conversation(ctx, a, b, limit)
		if err != nil {
			return nil, err
		}
		if s.cache != nil {
			if err := s.cache.Set(ctx, a, b, limit, messages); err != nil {
				s.logger.Warn("History cache write failed", "error", err)
			}
		}
		return messages, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]domain.Message), nil
}

// Count returns the total number of stored messages.
func (s *MessageService) Count(ctx context.Context) (int64, error) {
	return s.repo.Count(ctx)
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		return MaxHistoryLimit
	}
	return limit
}
