package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	domain "github.com/example/soundline/domain/chat"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/gorilla/websocket"
)

const (
	DefaultInitialBackoff = 500 * time.Millisecond
	DefaultMaxBackoff     = 30 * time.Second
	DefaultMarkReadDelay  = 500 * time.Millisecond
	writeWait             = 10 * time.Second
)

var (
	// ErrNotConnected is returned by commands that need a live socket.
	ErrNotConnected = errors.New("session is not connected")
	// ErrClosed is returned once Run has exited.
	ErrClosed = errors.New("session closed")
)

// Config configures a Session.
type Config struct {
	// URL is the socket endpoint, e.g. ws://localhost:3000/ws.
	URL    string
	Token  string
	UserID string

	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MarkReadDelay  time.Duration

	Dialer *websocket.Dialer
	// OnEvent is called from the event loop after each server event has
	// been applied. It may read st but must not call Session methods.
	OnEvent func(env domain.Envelope, st *State)
}

type command struct {
	run   func(conn *websocket.Conn) error
	reply chan error
}

// Session maintains one socket to the server and the State built from it.
// All State mutation happens on the goroutine running Run.
type Session struct {
	config   Config
	logger   types.Logger
	state    *State
	commands chan command
	marks    chan string
	done     chan struct{}

	// activity is re-announced after a reconnect.
	activity  string
	markTimer *time.Timer
}

// NewSession creates a Session. Call Run to connect.
func NewSession(config Config, logger types.Logger) *Session {
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = DefaultInitialBackoff
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = DefaultMaxBackoff
	}
	if config.MarkReadDelay <= 0 {
		config.MarkReadDelay = DefaultMarkReadDelay
	}
	if config.Dialer == nil {
		config.Dialer = websocket.DefaultDialer
	}
	return &Session{
		config:   config,
		logger:   logger,
		state:    NewState(config.UserID),
		commands: make(chan command),
		marks:    make(chan string),
		done:     make(chan struct{}),
	}
}

// Run connects and processes events until ctx is cancelled. A dropped
// connection clears presence and is retried with exponential backoff.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.done)
	defer s.stopMarkTimer()

	var (
		conn    *websocket.Conn
		frames  chan domain.Envelope
		readErr chan error
		quit    chan struct{}
		retry   <-chan time.Time
		timer   *time.Timer
	)
	backoff := s.config.InitialBackoff

	closeConn := func() {
		if conn == nil {
			return
		}
		close(quit)
		_ = conn.Close()
		conn, frames, readErr = nil, nil, nil
	}
	scheduleRetry := func() {
		s.logger.Info("Reconnecting", "in", backoff)
		timer = time.NewTimer(backoff)
		retry = timer.C
		backoff = nextBackoff(backoff, s.config.MaxBackoff)
	}
	defer func() {
		closeConn()
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		if conn == nil && retry == nil {
			c, err := s.dial(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				s.logger.Warn("Connection failed", "error", err)
				scheduleRetry()
			} else {
				conn = c
				backoff = s.config.InitialBackoff
				frames = make(chan domain.Envelope)
				readErr = make(chan error, 1)
				quit = make(chan struct{})
				go readLoop(c, frames, readErr, quit)
				if err := s.onConnect(c); err != nil {
					s.logger.Warn("Announce failed", "error", err)
				}
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-retry:
			retry, timer = nil, nil

		case env := <-frames:
			s.handle(env)

		case err := <-readErr:
			s.logger.Warn("Connection lost", "error", err)
			closeConn()
			s.state.Disconnected()
			scheduleRetry()

		case peer := <-s.marks:
			if s.state.Selected() == peer {
				s.state.MarkAsRead(peer)
			}

		case cmd := <-s.commands:
			cmd.reply <- cmd.run(conn)
		}
	}
}

func nextBackoff(current, limit time.Duration) time.Duration {
	next := current * 2
	if next > limit {
		return limit
	}
	return next
}

func (s *Session) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(s.config.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid socket url: %w", err)
	}
	q := u.Query()
	q.Set("token", s.config.Token)
	u.RawQuery = q.Encode()

	conn, resp, err := s.config.Dialer.DialContext(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// onConnect announces the connection and restores the last activity.
func (s *Session) onConnect(conn *websocket.Conn) error {
	s.logger.Info("Connected", "userID", s.config.UserID)
	if err := writeEvent(conn, domain.EventUserConnected, s.config.UserID); err != nil {
		return err
	}
	if s.activity != "" && s.activity != domain.IdleActivity {
		return writeEvent(conn, domain.EventUpdateActivity, domain.ActivityPayload{UserID: s.config.UserID, Activity: s.activity})
	}
	return nil
}

func (s *Session) handle(env domain.Envelope) {
	peer, err := s.state.Apply(env)
	if err != nil {
		s.logger.Debug("Ignoring server event", "type", env.Type, "error", err)
		return
	}
	if peer != "" && peer == s.state.Selected() {
		s.scheduleMarkRead(peer)
	}
	if s.config.OnEvent != nil {
		s.config.OnEvent(env, s.state)
	}
}

// scheduleMarkRead posts a delayed mark-as-read for the open conversation.
func (s *Session) scheduleMarkRead(peer string) {
	s.stopMarkTimer()
	s.markTimer = time.AfterFunc(s.config.MarkReadDelay, func() {
		select {
		case s.marks <- peer:
		case <-s.done:
		}
	})
}

func (s *Session) stopMarkTimer() {
	if s.markTimer != nil {
		s.markTimer.Stop()
		s.markTimer = nil
	}
}

func readLoop(conn *websocket.Conn, frames chan<- domain.Envelope, readErr chan<- error, quit <-chan struct{}) {
	for {
		var env domain.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			readErr <- err
			return
		}
		select {
		case frames <- env:
		case <-quit:
			return
		}
	}
}

func writeEvent(conn *websocket.Conn, eventType string, payload any) error {
	env, err := domain.NewEnvelope(eventType, payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (s *Session) do(ctx context.Context, run func(conn *websocket.Conn) error) error {
	cmd := command{run: run, reply: make(chan error, 1)}
	select {
	case s.commands <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrClosed
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SelectConversation opens the conversation with peer and marks it read.
func (s *Session) SelectConversation(ctx context.Context, peer string) error {
	return s.do(ctx, func(*websocket.Conn) error {
		s.state.SelectConversation(peer)
		return nil
	})
}

// MarkAsRead zeroes the unread count for peer.
func (s *Session) MarkAsRead(ctx context.Context, peer string) error {
	return s.do(ctx, func(*websocket.Conn) error {
		s.state.MarkAsRead(peer)
		return nil
	})
}

// LoadHistory merges fetched history into the conversation log for peer.
func (s *Session) LoadHistory(ctx context.Context, peer string, messages []domain.Message) error {
	return s.do(ctx, func(*websocket.Conn) error {
		s.state.LoadHistory(peer, messages)
		return nil
	})
}

// SendMessage asks the server to relay content to receiverID. The
// conversation log is updated when message_sent comes back.
func (s *Session) SendMessage(ctx context.Context, receiverID, content string) error {
	return s.do(ctx, func(conn *websocket.Conn) error {
		if conn == nil {
			return ErrNotConnected
		}
		s.state.ClearError()
		return writeEvent(conn, domain.EventSendMessage, domain.SendMessagePayload{
			ReceiverID: receiverID,
			SenderID:   s.config.UserID,
			Content:    content,
		})
	})
}

// UpdateActivity publishes the local activity. It is remembered and sent
// again after a reconnect; while offline it is only remembered.
func (s *Session) UpdateActivity(ctx context.Context, activity string) error {
	return s.do(ctx, func(conn *websocket.Conn) error {
		s.activity = activity
		if conn == nil {
			return ErrNotConnected
		}
		return writeEvent(conn, domain.EventUpdateActivity, domain.ActivityPayload{UserID: s.config.UserID, Activity: activity})
	})
}

// Inspect runs fn on the event loop with the current state.
func (s *Session) Inspect(ctx context.Context, fn func(st *State)) error {
	return s.do(ctx, func(*websocket.Conn) error {
		fn(s.state)
		return nil
	})
}
