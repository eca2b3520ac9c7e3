package api

import (
	"time"

	domain "github.com/example/soundline/domain/chat"
	"github.com/example/soundline/modules/stats"
)

// RegisterRequest represents a user registration request.
type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginRequest represents a user login request.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// TokenResponse represents an authentication token response.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
	UserID      string `json:"user_id"`
	Username    string `json:"username"`
}

// AccountResponse is returned after registration.
type AccountResponse struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

// UserResponse is one entry of the user directory.
type UserResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Online   bool   `json:"online"`
	Activity string `json:"activity,omitempty"`
}

// UserListResponse lists the other known users.
type UserListResponse struct {
	Users []UserResponse `json:"users"`
}

// ConversationResponse is the history between the caller and a peer, oldest first.
type ConversationResponse struct {
	PeerID   string           `json:"peer_id"`
	Messages []domain.Message `json:"messages"`
}

// StatsResponse combines event counters with live hub figures.
type StatsResponse struct {
	Counters    *stats.Snapshot `json:"counters"`
	Connections int             `json:"connections"`
	OnlineUsers int             `json:"online_users"`
}

// HealthResponse represents a health check response.
type HealthResponse struct {
	Status  string         `json:"status"`
	Details map[string]any `json:"details,omitempty"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
