package auth

import (
	"context"
	"encoding/json"
	"fmt"

	domain "github.com/example/soundline/domain/chat"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
)

// AuthPort is the Identity Resolver as seen by other modules.
type AuthPort interface {
	Register(ctx context.Context, username, password string) (*RegisterResponse, error)
	Login(ctx context.Context, username, password string) (*LoginResponse, error)
	ValidateToken(ctx context.Context, token string) (*domain.Identity, error)
	ListUsers(ctx context.Context) ([]UserSummary, error)
}

// AuthAdapter implements AuthPort over the auth module's service container.
type AuthAdapter struct {
	container mono.ServiceContainer
}

// NewAuthAdapter creates a new AuthAdapter.
func NewAuthAdapter(container mono.ServiceContainer) *AuthAdapter {
	if container == nil {
		panic("auth: ServiceContainer is nil")
	}
	return &AuthAdapter{container: container}
}

// Register creates a user account.
func (a *AuthAdapter) Register(ctx context.Context, username, password string) (*RegisterResponse, error) {
	req := RegisterRequest{Username: username, Password: password}
	var resp RegisterResponse
	if err := helper.CallRequestReplyService(
		ctx, a.container, ServiceRegister, json.Marshal, json.Unmarshal, &req, &resp,
	); err != nil {
		return nil, fmt.Errorf("register request failed: %w", err)
	}
	return &resp, nil
}

// Login exchanges credentials for a session token.
func (a *AuthAdapter) Login(ctx context.Context, username, password string) (*LoginResponse, error) {
	req := LoginRequest{Username: username, Password: password}
	var resp LoginResponse
	if err := helper.CallRequestReplyService(
		ctx, a.container, ServiceLogin, json.Marshal, json.Unmarshal, &req, &resp,
	); err != nil {
		return nil, fmt.Errorf("login request failed: %w", err)
	}
	return &resp, nil
}

// ValidateToken resolves a session token to its identity.
func (a *AuthAdapter) ValidateToken(ctx context.Context, token string) (*domain.Identity, error) {
	req := ValidateTokenRequest{Token: token}
	var resp ValidateTokenResponse
	if err := helper.CallRequestReplyService(
		ctx, a.container, ServiceValidateToken, json.Marshal, json.Unmarshal, &req, &resp,
	); err != nil {
		return nil, fmt.Errorf("validate-token request failed: %w", err)
	}
	if !resp.Valid {
		return nil, fmt.Errorf("token validation failed: %s", resp.Error)
	}
	return &domain.Identity{UserID: resp.UserID, Username: resp.Username}, nil
}

// ListUsers returns the user directory.
func (a *AuthAdapter) ListUsers(ctx context.Context) ([]UserSummary, error) {
	var resp ListUsersResponse
	if err := helper.CallRequestReplyService(
		ctx, a.container, ServiceListUsers, json.Marshal, json.Unmarshal, &ListUsersRequest{}, &resp,
	); err != nil {
		return nil, fmt.Errorf("list-users request failed: %w", err)
	}
	return resp.Users, nil
}
