package api

import (
	"strconv"
	"strings"

	domain "github.com/example/soundline/domain/chat"
	"github.com/example/soundline/modules/auth"
	"github.com/example/soundline/modules/store"
	"github.com/gofiber/fiber/v2"
)

// healthHandler handles GET /health.
func (m *APIModule) healthHandler(c *fiber.Ctx) error {
	return c.JSON(HealthResponse{
		Status: "healthy",
		Details: map[string]any{
			"module":       "api",
			"connections":  m.hub.ConnectionCount(),
			"online_users": m.hub.UserCount(),
		},
	})
}

// register handles POST /api/v1/auth/register.
func (m *APIModule) register(c *fiber.Ctx) error {
	var req RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Error:   "bad_request",
			Message: "Invalid request body",
		})
	}
	if req.Username == "" || req.Password == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Error:   "bad_request",
			Message: "Username and password are required",
		})
	}

	resp, err := m.authAdapter.Register(c.UserContext(), req.Username, req.Password)
	if err != nil {
		return m.handleAuthError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(AccountResponse{
		ID:        resp.ID,
		Username:  resp.Username,
		CreatedAt: resp.CreatedAt,
	})
}

// login handles POST /api/v1/auth/login.
func (m *APIModule) login(c *fiber.Ctx) error {
	var req LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Error:   "bad_request",
			Message: "Invalid request body",
		})
	}
	if req.Username == "" || req.Password == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Error:   "bad_request",
			Message: "Username and password are required",
		})
	}

	resp, err := m.authAdapter.Login(c.UserContext(), req.Username, req.Password)
	if err != nil {
		return m.handleAuthError(c, err)
	}

	return c.JSON(TokenResponse{
		AccessToken: resp.AccessToken,
		ExpiresIn:   resp.ExpiresIn,
		TokenType:   resp.TokenType,
		UserID:      resp.UserID,
		Username:    resp.Username,
	})
}

// listUsers handles GET /api/v1/users. The caller is left out of the list.
func (m *APIModule) listUsers(c *fiber.Ctx) error {
	caller, ok := c.Locals(IdentityContextKey).(*domain.Identity)
	if !ok {
		return fiber.ErrUnauthorized
	}

	users, err := m.authAdapter.ListUsers(c.UserContext())
	if err != nil {
		m.logger.Error("Failed to list users", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Error:   "list_failed",
			Message: "Failed to list users",
		})
	}

	activities := m.hub.Activities()
	response := UserListResponse{Users: make([]UserResponse, 0, len(users))}
	for _, u := range users {
		if u.ID == caller.UserID {
			continue
		}
		activity, online := activities[u.ID]
		response.Users = append(response.Users, UserResponse{
			ID:       u.ID,
			Username: u.Username,
			Online:   online,
			Activity: activity,
		})
	}
	return c.JSON(response)
}

// getConversation handles GET /api/v1/messages/:peerId.
func (m *APIModule) getConversation(c *fiber.Ctx) error {
	caller, ok := c.Locals(IdentityContextKey).(*domain.Identity)
	if !ok {
		return fiber.ErrUnauthorized
	}

	peerID := c.Params("peerId")
	if peerID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Error:   "bad_request",
			Message: "Peer ID is required",
		})
	}

	limit := store.DefaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
				Error:   "bad_request",
				Message: "limit must be a positive integer",
			})
		}
		limit = min(parsed, store.MaxHistoryLimit)
	}

	messages, err := m.storeAdapter.Conversation(c.UserContext(), caller.UserID, peerID, limit)
	if err != nil {
		m.logger.Error("Failed to load conversation", "error", err, "userID", caller.UserID, "peerID", peerID)
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Error:   "history_failed",
			Message: "Failed to load messages",
		})
	}
	if messages == nil {
		messages = []domain.Message{}
	}
	return c.JSON(ConversationResponse{PeerID: peerID, Messages: messages})
}

// getStats handles GET /api/v1/stats.
func (m *APIModule) getStats(c *fiber.Ctx) error {
	snapshot, err := m.statsAdapter.GetStats(c.UserContext())
	if err != nil {
		m.logger.Error("Failed to load stats", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Error:   "stats_failed",
			Message: "Failed to load stats",
		})
	}
	return c.JSON(StatsResponse{
		Counters:    snapshot,
		Connections: m.hub.ConnectionCount(),
		OnlineUsers: m.hub.UserCount(),
	})
}

// handleAuthError maps auth failures, which cross the service bus as text,
// onto HTTP responses without exposing internals.
func (m *APIModule) handleAuthError(c *fiber.Ctx, err error) error {
	errStr := err.Error()

	switch {
	case strings.Contains(errStr, auth.ErrInvalidCredentials.Error()):
		return c.Status(fiber.StatusUnauthorized).JSON(ErrorResponse{
			Error:   "unauthorized",
			Message: "Invalid username or password",
		})
	case strings.Contains(errStr, auth.ErrUserExists.Error()):
		return c.Status(fiber.StatusConflict).JSON(ErrorResponse{
			Error:   "conflict",
			Message: "Username already taken",
		})
	case strings.Contains(errStr, auth.ErrInvalidUsername.Error()):
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Error:   "bad_request",
			Message: "Username must be 1-50 characters",
		})
	case strings.Contains(errStr, auth.ErrWeakPassword.Error()):
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Error:   "bad_request",
			Message: "Password must be at least 8 characters",
		})
	case strings.Contains(errStr, auth.ErrPasswordTooLong.Error()):
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Error:   "bad_request",
			Message: "Password must be at most 72 characters",
		})
	default:
		m.logger.Error("Internal auth error", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Error:   "internal_error",
			Message: "An internal error occurred",
		})
	}
}
