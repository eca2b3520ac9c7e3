package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	domain "github.com/example/soundline/domain/chat"
	"github.com/example/soundline/modules/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func doJSON(t *testing.T, m *APIModule, method, path, token, body string) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := m.buildApp().Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func TestRegisterHandler(t *testing.T) {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name           string
		body           string
		registerErr    error
		expectedStatus int
		expectedBody   string
	}{
		{name: "success", body: `{"username":"alice","password":"password123"}`, expectedStatus: http.StatusCreated, expectedBody: `"username":"alice"`},
		{name: "invalid body", body: `{not json`, expectedStatus: http.StatusBadRequest, expectedBody: "Invalid request body"},
		{name: "missing fields", body: `{"username":"alice"}`, expectedStatus: http.StatusBadRequest, expectedBody: "Username and password are required"},
		{name: "username taken", body: `{"username":"alice","password":"password123"}`, registerErr: auth.ErrUserExists, expectedStatus: http.StatusConflict, expectedBody: "Username already taken"},
		{name: "weak password", body: `{"username":"alice","password":"short"}`, registerErr: auth.ErrWeakPassword, expectedStatus: http.StatusBadRequest, expectedBody: "at least 8"},
		{name: "unexpected failure", body: `{"username":"alice","password":"password123"}`, registerErr: errors.New("nats timeout"), expectedStatus: http.StatusInternalServerError, expectedBody: "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			authPort := &mockAuthPort{
				registerFunc: func(_ context.Context, username, _ string) (*auth.RegisterResponse, error) {
					if tt.registerErr != nil {
						// Errors arrive from the service bus as wrapped text.
						return nil, fmt.Errorf("register request failed: %s", tt.registerErr.Error())
					}
					return &auth.RegisterResponse{ID: "u1", Username: username, CreatedAt: created}, nil
				},
			}
			m, _ := newTestModule(Config{}, authPort, &memoryStore{})

			resp, body := doJSON(t, m, "POST", "/api/v1/auth/register", "", tt.body)
			assert.Equal(t, tt.expectedStatus, resp.StatusCode)
			assert.Contains(t, string(body), tt.expectedBody)
		})
	}
}

func TestLoginHandler(t *testing.T) {
	authPort := &mockAuthPort{
		loginFunc: func(_ context.Context, username, password string) (*auth.LoginResponse, error) {
			if password != "password123" {
				return nil, fmt.Errorf("login request failed: %s", auth.ErrInvalidCredentials.Error())
			}
			return &auth.LoginResponse{AccessToken: "token-u1", ExpiresIn: 3600, TokenType: "Bearer", UserID: "u1", Username: username}, nil
		},
	}
	m, _ := newTestModule(Config{}, authPort, &memoryStore{})

	resp, body := doJSON(t, m, "POST", "/api/v1/auth/login", "", `{"username":"alice","password":"password123"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var token TokenResponse
	require.NoError(t, json.Unmarshal(body, &token))
	assert.Equal(t, "token-u1", token.AccessToken)
	assert.Equal(t, "u1", token.UserID)

	resp, body = doJSON(t, m, "POST", "/api/v1/auth/login", "", `{"username":"alice","password":"wrong-password"}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, string(body), "Invalid username or password")
}

func TestListUsersHandler(t *testing.T) {
	authPort := &mockAuthPort{
		listUsersFunc: func(context.Context) ([]auth.UserSummary, error) {
			return []auth.UserSummary{
				{ID: "u1", Username: "alice"},
				{ID: "u2", Username: "bob"},
				{ID: "u3", Username: "carol"},
			}, nil
		},
	}
	m, hub := newTestModule(Config{}, authPort, &memoryStore{})
	defer hub.Close()

	_, err := hub.Register("u2", nopConn{})
	require.NoError(t, err)
	require.NoError(t, hub.SetActivity("u2", "Playing Foo by Bar"))

	resp, body := doJSON(t, m, "GET", "/api/v1/users", "token-u1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var list UserListResponse
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Equal(t, []UserResponse{
		{ID: "u2", Username: "bob", Online: true, Activity: "Playing Foo by Bar"},
		{ID: "u3", Username: "carol", Online: false},
	}, list.Users)

	resp, _ = doJSON(t, m, "GET", "/api/v1/users", "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestConversationHandler(t *testing.T) {
	var gotLimit int
	st := &memoryStore{}
	st.conversationFunc = func(_ context.Context, a, b string, limit int) ([]domain.Message, error) {
		gotLimit = limit
		if b == "broken" {
			return nil, errors.New("db down")
		}
		return []domain.Message{{ID: "m1", SenderID: a, ReceiverID: b, Content: "hi"}}, nil
	}
	m, _ := newTestModule(Config{}, &mockAuthPort{}, st)

	tests := []struct {
		name           string
		path           string
		expectedStatus int
		expectedLimit  int
	}{
		{name: "default limit", path: "/api/v1/messages/u2", expectedStatus: http.StatusOK, expectedLimit: 50},
		{name: "custom limit", path: "/api/v1/messages/u2?limit=10", expectedStatus: http.StatusOK, expectedLimit: 10},
		{name: "limit capped", path: "/api/v1/messages/u2?limit=5000", expectedStatus: http.StatusOK, expectedLimit: 200},
		{name: "invalid limit", path: "/api/v1/messages/u2?limit=abc", expectedStatus: http.StatusBadRequest},
		{name: "negative limit", path: "/api/v1/messages/u2?limit=-1", expectedStatus: http.StatusBadRequest},
		{name: "store failure", path: "/api/v1/messages/broken", expectedStatus: http.StatusInternalServerError, expectedLimit: 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotLimit = 0
			resp, body := doJSON(t, m, "GET", tt.path, "token-u1", "")
			assert.Equal(t, tt.expectedStatus, resp.StatusCode)
			if tt.expectedLimit != 0 {
				assert.Equal(t, tt.expectedLimit, gotLimit)
			}
			if resp.StatusCode == http.StatusOK {
				var conv ConversationResponse
				require.NoError(t, json.Unmarshal(body, &conv))
				assert.Equal(t, "u2", conv.PeerID)
				require.Len(t, conv.Messages, 1)
				assert.Equal(t, "u1", conv.Messages[0].SenderID)
			}
		})
	}
}

func TestStatsAndHealthHandlers(t *testing.T) {
	m, hub := newTestModule(Config{}, &mockAuthPort{}, &memoryStore{})
	defer hub.Close()

	_, err := hub.Register("u1", nopConn{})
	require.NoError(t, err)

	resp, body := doJSON(t, m, "GET", "/api/v1/stats", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var st StatsResponse
	require.NoError(t, json.Unmarshal(body, &st))
	assert.Equal(t, uint64(7), st.Counters.MessagesRelayed)
	assert.Equal(t, 1, st.Connections)
	assert.Equal(t, 1, st.OnlineUsers)

	resp, body = doJSON(t, m, "GET", "/health", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"status":"healthy"`)

	m.statsAdapter = &mockStatsPort{err: errors.New("down")}
	resp, _ = doJSON(t, m, "GET", "/api/v1/stats", "", "")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestAPIModule_Basics(t *testing.T) {
	m := NewModule(Config{}, &mockLogger{})

	assert.Equal(t, "api", m.Name())
	assert.Equal(t, []string{"auth", "store", "stats"}, m.Dependencies())
	assert.Equal(t, "3000", m.config.Port)
	assert.Error(t, m.Start(context.Background()), "start without dependencies")
	assert.NoError(t, m.Stop(context.Background()))
}
