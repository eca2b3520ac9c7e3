package api

import (
	"encoding/json"
	"time"
	"unicode/utf8"

	domain "github.com/example/soundline/domain/chat"
	"github.com/gofiber/contrib/websocket"
	"golang.org/x/time/rate"
)

const (
	maxMessageLength = 4096
	writeWait        = 10 * time.Second
)

// Reasons reported to the client for socket-level rejections.
const (
	reasonRateLimited    = "Too many messages, slow down"
	reasonBadPayload     = "Invalid message payload"
	reasonSenderMismatch = "Sender does not match the authenticated user"
	reasonTooLong        = "Message is too long"
)

// socketConn adapts a fiber websocket connection to presence.Conn.
type socketConn struct {
	conn *websocket.Conn
}

func (s socketConn) Send(data []byte) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s socketConn) Close() error {
	return s.conn.Close()
}

// handleWebSocket serves one authenticated socket. Inbound events are handled
// in arrival order; everything outbound goes through the hub's writer.
func (m *APIModule) handleWebSocket(c *websocket.Conn) {
	identity, ok := c.Locals(IdentityContextKey).(*domain.Identity)
	if !ok || identity == nil {
		_ = c.Close()
		return
	}

	client, err := m.hub.Register(identity.UserID, socketConn{conn: c})
	if err != nil {
		m.logger.Error("Failed to register connection", "userID", identity.UserID, "error", err)
		_ = c.Close()
		return
	}
	defer func() {
		m.hub.Unregister(client.ID)
		<-client.Done()
	}()

	limiter := rate.NewLimiter(rate.Limit(m.config.MessagesPerSecond), m.config.Burst)
	m.logger.Info("WebSocket connected", "connID", client.ID, "userID", identity.UserID)

	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				m.logger.Warn("WebSocket error", "connID", client.ID, "error", err)
			}
			break
		}

		var env domain.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			m.logger.Debug("Ignoring malformed frame", "connID", client.ID, "error", err)
			continue
		}

		if !limiter.Allow() {
			if env.Type == domain.EventSendMessage {
				_ = m.hub.SendError(client.ID, reasonRateLimited)
			}
			m.logger.Debug("Rate limited socket event", "connID", client.ID, "type", env.Type)
			continue
		}

		m.dispatch(client.ID, identity, env)
	}

	m.logger.Info("WebSocket disconnected", "connID", client.ID, "userID", identity.UserID)
}

func (m *APIModule) dispatch(connID string, identity *domain.Identity, env domain.Envelope) {
	switch env.Type {
	case domain.EventUserConnected:
		if err := m.hub.Announce(connID); err != nil {
			m.logger.Debug("Announce failed", "connID", connID, "error", err)
		}

	case domain.EventUpdateActivity:
		var payload domain.ActivityPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			m.logger.Debug("Invalid activity payload", "connID", connID, "error", err)
			return
		}
		if payload.UserID != "" && payload.UserID != identity.UserID {
			m.logger.Warn("Ignoring activity for another user", "connID", connID, "userID", identity.UserID, "claimed", payload.UserID)
			return
		}
		if err := m.hub.SetActivity(identity.UserID, payload.Activity); err != nil {
			m.logger.Debug("Activity update failed", "connID", connID, "error", err)
		}

	case domain.EventSendMessage:
		var payload domain.SendMessagePayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			_ = m.hub.SendError(connID, reasonBadPayload)
			return
		}
		senderID := payload.SenderID
		if senderID == "" {
			senderID = identity.UserID
		}
		if senderID != identity.UserID {
			_ = m.hub.SendError(connID, reasonSenderMismatch)
			return
		}
		if utf8.RuneCountInString(payload.Content) > maxMessageLength {
			_ = m.hub.SendError(connID, reasonTooLong)
			return
		}
		if _, err := m.hub.Relay(m.ctx, connID, senderID, payload.ReceiverID, payload.Content); err != nil {
			m.logger.Debug("Relay failed", "connID", connID, "error", err)
		}

	default:
		m.logger.Debug("Unknown socket event", "connID", connID, "type", env.Type)
	}
}
