// Package client keeps a listener's local view of presence, activity and
// conversations in step with the server's socket events.
package client

import (
	"encoding/json"
	"fmt"
	"sort"

	domain "github.com/example/soundline/domain/chat"
)

// NowPlaying builds the activity string for a track.
func NowPlaying(title, artist string) string {
	return fmt.Sprintf("Playing %s by %s", title, artist)
}

// State is the reconciled client view. It is not safe for concurrent use;
// a Session owns one and mutates it from its event loop only.
//
// Unread counts and last messages are derived from events seen during the
// current process only. They are not rebuilt from history.
type State struct {
	selfID    string
	connected bool

	online     map[string]struct{}
	activities map[string]string

	selected    string
	logs        map[string][]domain.Message // peer -> conversation log
	unread      map[string]int
	lastMessage map[string]domain.Message
	lastError   string
}

// NewState creates an empty view for selfID.
func NewState(selfID string) *State {
	return &State{
		selfID:      selfID,
		online:      make(map[string]struct{}),
		activities:  make(map[string]string),
		logs:        make(map[string][]domain.Message),
		unread:      make(map[string]int),
		lastMessage: make(map[string]domain.Message),
	}
}

// Apply decodes a server event and applies it. For receive_message it
// returns the sending peer; otherwise peer is empty.
func (s *State) Apply(env domain.Envelope) (peer string, err error) {
	switch env.Type {
	case domain.EventUsersOnline:
		var users []string
		if err := decode(env, &users); err != nil {
			return "", err
		}
		s.SetOnline(users)

	case domain.EventActivities:
		var entries []domain.ActivityEntry
		if err := decode(env, &entries); err != nil {
			return "", err
		}
		s.SetActivities(entries)

	case domain.EventUserConnected:
		var userID string
		if err := decode(env, &userID); err != nil {
			return "", err
		}
		s.UserConnected(userID)

	case domain.EventUserDisconnected:
		var userID string
		if err := decode(env, &userID); err != nil {
			return "", err
		}
		s.UserDisconnected(userID)

	case domain.EventActivityUpdated:
		var payload domain.ActivityPayload
		if err := decode(env, &payload); err != nil {
			return "", err
		}
		s.ActivityUpdated(payload.UserID, payload.Activity)

	case domain.EventReceiveMessage:
		var msg domain.Message
		if err := decode(env, &msg); err != nil {
			return "", err
		}
		s.ReceiveMessage(msg)
		return msg.SenderID, nil

	case domain.EventMessageSent:
		var msg domain.Message
		if err := decode(env, &msg); err != nil {
			return "", err
		}
		s.MessageSent(msg)

	case domain.EventMessageError:
		var reason string
		if err := decode(env, &reason); err != nil {
			return "", err
		}
		s.MessageError(reason)

	default:
		return "", fmt.Errorf("unknown event type %q", env.Type)
	}
	return "", nil
}

func decode(env domain.Envelope, v any) error {
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return fmt.Errorf("invalid %s payload: %w", env.Type, err)
	}
	return nil
}

// SetOnline replaces the presence set with a snapshot.
func (s *State) SetOnline(users []string) {
	s.connected = true
	s.online = make(map[string]struct{}, len(users))
	for _, userID := range users {
		s.online[userID] = struct{}{}
	}
}

// SetActivities replaces the activity map with a snapshot.
func (s *State) SetActivities(entries []domain.ActivityEntry) {
	s.activities = make(map[string]string, len(entries))
	for _, e := range entries {
		s.activities[e.UserID] = e.Activity
	}
}

func (s *State) UserConnected(userID string) {
	s.online[userID] = struct{}{}
}

func (s *State) UserDisconnected(userID string) {
	delete(s.online, userID)
	delete(s.activities, userID)
}

func (s *State) ActivityUpdated(userID, activity string) {
	s.activities[userID] = activity
}

// ReceiveMessage records an inbound message. The log only grows while the
// sender's conversation is open, but the unread count for the sender always
// goes up by one; MarkAsRead brings it back down.
func (s *State) ReceiveMessage(msg domain.Message) {
	peer := s.peerOf(msg)
	if s.selected == peer {
		s.appendLog(peer, msg)
	}
	s.unread[peer]++
	s.lastMessage[peer] = msg
}

// MessageSent records the server's confirmation of an outbound message.
func (s *State) MessageSent(msg domain.Message) {
	s.appendLog(s.peerOf(msg), msg)
	s.lastError = ""
}

// SelectConversation opens the conversation with peer. The previously open
// conversation and the new one are both marked read.
func (s *State) SelectConversation(peer string) {
	if s.selected != "" && s.selected != peer {
		s.unread[s.selected] = 0
	}
	s.selected = peer
	if peer != "" {
		s.unread[peer] = 0
	}
}

func (s *State) MarkAsRead(peer string) {
	s.unread[peer] = 0
}

// LoadHistory replaces the log for peer with messages fetched from the
// store, keeping any live message that arrived after the fetch.
func (s *State) LoadHistory(peer string, messages []domain.Message) {
	seen := make(map[string]struct{}, len(messages))
	log := make([]domain.Message, 0, len(messages)+len(s.logs[peer]))
	for _, msg := range messages {
		seen[msg.ID] = struct{}{}
		log = append(log, msg)
	}
	for _, msg := range s.logs[peer] {
		if _, ok := seen[msg.ID]; !ok {
			log = append(log, msg)
		}
	}
	s.logs[peer] = log
}

func (s *State) MessageError(reason string) {
	s.lastError = reason
}

func (s *State) ClearError() {
	s.lastError = ""
}

// Disconnected drops everything learned from the live connection. The next
// snapshot rebuilds it. Conversations and unread counts are kept.
func (s *State) Disconnected() {
	s.connected = false
	s.online = make(map[string]struct{})
	s.activities = make(map[string]string)
}

func (s *State) peerOf(msg domain.Message) string {
	if msg.SenderID == s.selfID {
		return msg.ReceiverID
	}
	return msg.SenderID
}

func (s *State) appendLog(peer string, msg domain.Message) {
	for _, existing := range s.logs[peer] {
		if existing.ID == msg.ID {
			return
		}
	}
	s.logs[peer] = append(s.logs[peer], msg)
}

func (s *State) SelfID() string    { return s.selfID }
func (s *State) Connected() bool   { return s.connected }
func (s *State) Selected() string  { return s.selected }
func (s *State) LastError() string { return s.lastError }

// OnlineUsers returns the presence set in sorted order.
func (s *State) OnlineUsers() []string {
	users := make([]string, 0, len(s.online))
	for userID := range s.online {
		users = append(users, userID)
	}
	sort.Strings(users)
	return users
}

func (s *State) IsOnline(userID string) bool {
	_, ok := s.online[userID]
	return ok
}

// Activity returns the user's activity, or "" when unknown.
func (s *State) Activity(userID string) string {
	return s.activities[userID]
}

func (s *State) Activities() map[string]string {
	out := make(map[string]string, len(s.activities))
	for k, v := range s.activities {
		out[k] = v
	}
	return out
}

func (s *State) Unread(peer string) int {
	return s.unread[peer]
}

// UnreadCounts returns the non-zero unread counters.
func (s *State) UnreadCounts() map[string]int {
	out := make(map[string]int)
	for peer, n := range s.unread {
		if n > 0 {
			out[peer] = n
		}
	}
	return out
}

func (s *State) LastMessage(peer string) (domain.Message, bool) {
	msg, ok := s.lastMessage[peer]
	return msg, ok
}

// Messages returns a copy of the conversation log with peer.
func (s *State) Messages(peer string) []domain.Message {
	return append([]domain.Message(nil), s.logs[peer]...)
}
