package api

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	domain "github.com/example/soundline/domain/chat"
	"github.com/example/soundline/modules/auth"
	"github.com/example/soundline/modules/presence"
	"github.com/example/soundline/modules/stats"
	"github.com/go-monolith/mono/pkg/types"
)

// mockLogger implements types.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(_ string, _ ...any)         {}
func (m *mockLogger) Info(_ string, _ ...any)          {}
func (m *mockLogger) Warn(_ string, _ ...any)          {}
func (m *mockLogger) Error(_ string, _ ...any)         {}
func (m *mockLogger) With(_ ...any) types.Logger       { return m }
func (m *mockLogger) WithModule(_ string) types.Logger { return m }
func (m *mockLogger) WithError(_ error) types.Logger   { return m }

// mockAuthPort implements auth.AuthPort for testing
type mockAuthPort struct {
	registerFunc      func(ctx context.Context, username, password string) (*auth.RegisterResponse, error)
	loginFunc         func(ctx context.Context, username, password string) (*auth.LoginResponse, error)
	validateTokenFunc func(ctx context.Context, token string) (*domain.Identity, error)
	listUsersFunc     func(ctx context.Context) ([]auth.UserSummary, error)
}

func (m *mockAuthPort) Register(ctx context.Context, username, password string) (*auth.RegisterResponse, error) {
	if m.registerFunc != nil {
		return m.registerFunc(ctx, username, password)
	}
	return nil, errors.New("not implemented")
}

func (m *mockAuthPort) Login(ctx context.Context, username, password string) (*auth.LoginResponse, error) {
	if m.loginFunc != nil {
		return m.loginFunc(ctx, username, password)
	}
	return nil, errors.New("not implemented")
}

func (m *mockAuthPort) ValidateToken(ctx context.Context, token string) (*domain.Identity, error) {
	if m.validateTokenFunc != nil {
		return m.validateTokenFunc(ctx, token)
	}
	return tokenIdentity(ctx, token)
}

func (m *mockAuthPort) ListUsers(ctx context.Context) ([]auth.UserSummary, error) {
	if m.listUsersFunc != nil {
		return m.listUsersFunc(ctx)
	}
	return nil, errors.New("not implemented")
}

// tokenIdentity accepts tokens of the form "token-<userID>".
func tokenIdentity(_ context.Context, token string) (*domain.Identity, error) {
	userID, ok := strings.CutPrefix(token, "token-")
	if !ok || userID == "" {
		return nil, errors.New("token validation failed: invalid token")
	}
	return &domain.Identity{UserID: userID, Username: "user-" + userID}, nil
}

// memoryStore implements store.StorePort in memory.
type memoryStore struct {
	mu       sync.Mutex
	messages []domain.Message
	fail     error

	conversationFunc func(ctx context.Context, a, b string, limit int) ([]domain.Message, error)
}

func (s *memoryStore) SaveMessage(_ context.Context, senderID, receiverID, content string) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return nil, s.fail
	}
	msg := domain.Message{
		ID:         fmt.Sprintf("msg-%d", len(s.messages)+1),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
		CreatedAt:  time.Now().UTC(),
	}
	s.messages = append(s.messages, msg)
	return &msg, nil
}

func (s *memoryStore) Conversation(ctx context.Context, a, b string, limit int) ([]domain.Message, error) {
	if s.conversationFunc != nil {
		return s.conversationFunc(ctx, a, b, limit)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Message
	for _, m := range s.messages {
		if (m.SenderID == a && m.ReceiverID == b) || (m.SenderID == b && m.ReceiverID == a) {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *memoryStore) saved() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Message(nil), s.messages...)
}

// mockStatsPort implements stats.StatsPort for testing
type mockStatsPort struct {
	snapshot *stats.Snapshot
	err      error
}

func (m *mockStatsPort) GetStats(_ context.Context) (*stats.Snapshot, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.snapshot, nil
}

// nopConn is a presence.Conn that discards frames.
type nopConn struct{}

func (nopConn) Send([]byte) error { return nil }
func (nopConn) Close() error      { return nil }

var _ presence.Conn = nopConn{}

// newTestModule wires an APIModule with in-memory collaborators and a real hub.
func newTestModule(config Config, authPort auth.AuthPort, st *memoryStore) (*APIModule, *presence.Hub) {
	m := NewModule(config, &mockLogger{})
	hub := presence.NewHub(st, nil, &mockLogger{}, 0)
	m.authAdapter = authPort
	m.storeAdapter = st
	m.statsAdapter = &mockStatsPort{snapshot: &stats.Snapshot{MessagesRelayed: 7}}
	m.SetHub(hub)
	return m, hub
}
