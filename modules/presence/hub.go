package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	domain "github.com/example/soundline/domain/chat"
	"github.com/go-monolith/mono/pkg/types"
	nanoid "github.com/jaevor/go-nanoid"
)

// DefaultSendBuffer is the per-connection outbound queue length.
const DefaultSendBuffer = 256

// Reasons reported to the sender in message_error events.
const (
	ReasonMissingSender   = "Sender is required"
	ReasonMissingReceiver = "Receiver is required"
	ReasonEmptyContent    = "Message content is required"
	ReasonPersistFailed   = "Failed to send message, please try again"
)

var (
	// ErrUnknownConnection is returned for a connection id the hub does not hold.
	ErrUnknownConnection = errors.New("unknown connection")
	// ErrNoIdentity is returned when registering a connection without a user.
	ErrNoIdentity = errors.New("connection has no user identity")
	// ErrUserOffline is returned when changing the activity of a user with no live connection.
	ErrUserOffline = errors.New("user is not connected")
	// ErrInvalidMessage is returned when a relayed message is missing a field.
	ErrInvalidMessage = errors.New("invalid message")
	// ErrPersistFailed is returned when the message store rejects a message.
	ErrPersistFailed = errors.New("failed to persist message")
)

var newConnID = mustConnIDGenerator()

func mustConnIDGenerator() func() string {
	gen, err := nanoid.Standard(21)
	if err != nil {
		panic(fmt.Sprintf("presence: connection id generator: %v", err))
	}
	return gen
}

// MessageStore persists chat messages.
type MessageStore interface {
	SaveMessage(ctx context.Context, senderID, receiverID, content string) (*domain.Message, error)
}

// Notifier observes hub state changes. It is called after the hub lock is released.
type Notifier interface {
	UserConnected(userID, connID string)
	UserDisconnected(userID, connID string)
	ActivityUpdated(userID, activity string)
	MessageRelayed(msg domain.Message, delivered bool)
	MessageFailed(senderID, receiverID, reason string)
}

type noopNotifier struct{}

func (noopNotifier) UserConnected(string, string)         {}
func (noopNotifier) UserDisconnected(string, string)      {}
func (noopNotifier) ActivityUpdated(string, string)       {}
func (noopNotifier) MessageRelayed(domain.Message, bool)  {}
func (noopNotifier) MessageFailed(string, string, string) {}

// Hub owns the presence registry, the activity map and every connection's
// outbound queue. All three are guarded by mu, so a snapshot and the
// broadcasts that follow it are observed in one order by every connection.
type Hub struct {
	mu         sync.RWMutex
	clients    map[string]*Client             // connID -> client
	presence   map[string]map[string]struct{} // userID -> set of connIDs
	activities map[string]string              // userID -> activity

	store      MessageStore
	notifier   Notifier
	logger     types.Logger
	sendBuffer int
}

// NewHub creates a Hub. notifier may be nil.
func NewHub(store MessageStore, notifier Notifier, logger types.Logger, sendBuffer int) *Hub {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	if sendBuffer <= 0 {
		sendBuffer = DefaultSendBuffer
	}
	return &Hub{
		clients:    make(map[string]*Client),
		presence:   make(map[string]map[string]struct{}),
		activities: make(map[string]string),
		store:      store,
		notifier:   notifier,
		logger:     logger,
		sendBuffer: sendBuffer,
	}
}

// Register binds conn to userID and starts its writer. The new connection
// receives the presence and activity snapshot. When this is the user's first
// connection the user goes online with activity Idle and every other
// connection is told so.
func (h *Hub) Register(userID string, conn Conn) (*Client, error) {
	if userID == "" {
		return nil, ErrNoIdentity
	}
	client := newClient(newConnID(), userID, conn, h.sendBuffer)

	h.mu.Lock()
	h.clients[client.ID] = client
	conns, online := h.presence[userID]
	if !online {
		conns = make(map[string]struct{})
		h.presence[userID] = conns
		h.activities[userID] = domain.IdleActivity
	}
	conns[client.ID] = struct{}{}

	h.sendSnapshotLocked(client)
	if !online {
		h.broadcastLocked(domain.EventUserConnected, userID, client.ID)
		h.broadcastLocked(domain.EventActivityUpdated, domain.ActivityPayload{UserID: userID, Activity: domain.IdleActivity}, client.ID)
	}
	h.mu.Unlock()

	go client.writeLoop(h.handleWriteError)

	h.logger.Info("Connection registered", "connID", client.ID, "userID", userID, "firstConnection", !online)
	if !online {
		h.notifier.UserConnected(userID, client.ID)
		h.notifier.ActivityUpdated(userID, domain.IdleActivity)
	}
	return client, nil
}

// Unregister removes a connection. Unknown ids are ignored. When the user has
// no connection left it leaves the presence set and the activity map and the
// remaining connections receive user_disconnected.
func (h *Hub) Unregister(connID string) {
	h.mu.Lock()
	client, ok := h.clients[connID]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, connID)
	client.shutdown()

	conns := h.presence[client.UserID]
	delete(conns, connID)
	last := len(conns) == 0
	if last {
		delete(h.presence, client.UserID)
		delete(h.activities, client.UserID)
		h.broadcastLocked(domain.EventUserDisconnected, client.UserID, "")
	}
	h.mu.Unlock()

	h.logger.Info("Connection unregistered", "connID", connID, "userID", client.UserID, "lastConnection", last)
	if last {
		h.notifier.UserDisconnected(client.UserID, connID)
	}
}

// Announce re-sends the snapshot to a connection.
func (h *Hub) Announce(connID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	client, ok := h.clients[connID]
	if !ok {
		return ErrUnknownConnection
	}
	h.sendSnapshotLocked(client)
	return nil
}

// SetActivity overwrites the user's activity and broadcasts it to every
// connection, the originator included. An empty activity means Idle.
func (h *Hub) SetActivity(userID, activity string) error {
	if activity == "" {
		activity = domain.IdleActivity
	}

	h.mu.Lock()
	if _, ok := h.presence[userID]; !ok {
		h.mu.Unlock()
		return ErrUserOffline
	}
	h.activities[userID] = activity
	h.broadcastLocked(domain.EventActivityUpdated, domain.ActivityPayload{UserID: userID, Activity: activity}, "")
	h.mu.Unlock()

	h.notifier.ActivityUpdated(userID, activity)
	return nil
}

// Relay persists a message and delivers it. The receiver's connections get
// receive_message if the receiver is online; the originating connection gets
// message_sent. Failures are reported to the originating connection only.
func (h *Hub) Relay(ctx context.Context, connID, senderID, receiverID, content string) (*domain.Message, error) {
	if reason := validateRelay(senderID, receiverID, content); reason != "" {
		h.reject(connID, senderID, receiverID, reason)
		return nil, fmt.Errorf("%w: %s", ErrInvalidMessage, reason)
	}

	msg, err := h.store.SaveMessage(ctx, senderID, receiverID, content)
	if err != nil {
		h.logger.Error("Failed to persist message", "error", err, "senderID", senderID, "receiverID", receiverID)
		h.reject(connID, senderID, receiverID, ReasonPersistFailed)
		return nil, fmt.Errorf("%w: %v", ErrPersistFailed, err)
	}

	receive, err := encodeFrame(domain.EventReceiveMessage, msg)
	if err != nil {
		return nil, err
	}
	sent, err := encodeFrame(domain.EventMessageSent, msg)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	delivered := false
	for id := range h.presence[receiverID] {
		if c, ok := h.clients[id]; ok {
			h.enqueueLocked(c, receive)
			delivered = true
		}
	}
	if origin, ok := h.clients[connID]; ok {
		h.enqueueLocked(origin, sent)
	}
	h.mu.Unlock()

	h.logger.Debug("Message relayed", "messageID", msg.ID, "senderID", senderID, "receiverID", receiverID, "delivered", delivered)
	h.notifier.MessageRelayed(*msg, delivered)
	return msg, nil
}

func validateRelay(senderID, receiverID, content string) string {
	switch {
	case senderID == "":
		return ReasonMissingSender
	case receiverID == "":
		return ReasonMissingReceiver
	case strings.TrimSpace(content) == "":
		return ReasonEmptyContent
	}
	return ""
}

// SendError queues a message_error carrying reason for one connection.
func (h *Hub) SendError(connID, reason string) error {
	frame, err := encodeFrame(domain.EventMessageError, reason)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	origin, ok := h.clients[connID]
	if !ok {
		return ErrUnknownConnection
	}
	h.enqueueLocked(origin, frame)
	return nil
}

func (h *Hub) reject(connID, senderID, receiverID, reason string) {
	if err := h.SendError(connID, reason); err != nil {
		h.logger.Debug("Could not report relay failure", "connID", connID, "error", err)
	}
	h.notifier.MessageFailed(senderID, receiverID, reason)
}

// OnlineUsers returns the sorted presence set.
func (h *Hub) OnlineUsers() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.onlineUsersLocked()
}

// Activities returns a copy of the activity map.
func (h *Hub) Activities() map[string]string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make(map[string]string, len(h.activities))
	for userID, activity := range h.activities {
		out[userID] = activity
	}
	return out
}

// IsOnline reports whether the user has at least one live connection.
func (h *Hub) IsOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.presence[userID]
	return ok
}

// ConnectionCount returns the number of registered connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// UserCount returns the number of online users.
func (h *Hub) UserCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.presence)
}

// Close stops every writer and empties the registry without broadcasting.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, client := range h.clients {
		client.shutdown()
	}
	h.clients = make(map[string]*Client)
	h.presence = make(map[string]map[string]struct{})
	h.activities = make(map[string]string)
}

func (h *Hub) onlineUsersLocked() []string {
	users := make([]string, 0, len(h.presence))
	for userID := range h.presence {
		users = append(users, userID)
	}
	sort.Strings(users)
	return users
}

func (h *Hub) sendSnapshotLocked(client *Client) {
	users := h.onlineUsersLocked()
	entries := make([]domain.ActivityEntry, 0, len(h.activities))
	for _, userID := range users {
		if activity, ok := h.activities[userID]; ok {
			entries = append(entries, domain.ActivityEntry{UserID: userID, Activity: activity})
		}
	}

	if frame, err := encodeFrame(domain.EventUsersOnline, users); err == nil {
		h.enqueueLocked(client, frame)
	}
	if frame, err := encodeFrame(domain.EventActivities, entries); err == nil {
		h.enqueueLocked(client, frame)
	}
}

// broadcastLocked queues one event for every connection except skipConnID.
func (h *Hub) broadcastLocked(eventType string, payload any, skipConnID string) {
	frame, err := encodeFrame(eventType, payload)
	if err != nil {
		h.logger.Error("Failed to encode broadcast", "type", eventType, "error", err)
		return
	}
	for id, client := range h.clients {
		if id == skipConnID {
			continue
		}
		h.enqueueLocked(client, frame)
	}
}

// enqueueLocked drops a connection whose queue is full. Its read side then
// fails and the transport unregisters it.
func (h *Hub) enqueueLocked(client *Client, frame []byte) {
	if client.enqueue(frame) {
		return
	}
	h.logger.Warn("Outbound queue full, closing connection", "connID", client.ID, "userID", client.UserID)
	client.shutdown()
}

func (h *Hub) handleWriteError(client *Client, err error) {
	h.logger.Debug("Socket write failed", "connID", client.ID, "error", err)
	client.shutdown()
}

func encodeFrame(eventType string, payload any) ([]byte, error) {
	env, err := domain.NewEnvelope(eventType, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", eventType, err)
	}
	return json.Marshal(env)
}
