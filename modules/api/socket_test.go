package api

import (
	"encoding/json"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/example/soundline/client"
	domain "github.com/example/soundline/domain/chat"
	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startServer serves the module's app on a loopback port and returns its address.
func startServer(t *testing.T, m *APIModule) string {
	t.Helper()

	app := m.buildApp()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() { _ = app.Listener(ln) }()
	t.Cleanup(func() {
		_ = app.Shutdown()
	})
	return ln.Addr().String()
}

func dial(t *testing.T, addr, userID string) *gws.Conn {
	t.Helper()
	conn, resp, err := gws.DefaultDialer.Dial("ws://"+addr+"/ws?token=token-"+userID, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func read(t *testing.T, conn *gws.Conn) domain.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env domain.Envelope
	require.NoError(t, conn.ReadJSON(&env))
	return env
}

func expectSilence(t *testing.T, conn *gws.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(150*time.Millisecond)))
	var env domain.Envelope
	err := conn.ReadJSON(&env)
	require.Error(t, err, "unexpected frame %s", env.Type)
}

func send(t *testing.T, conn *gws.Conn, eventType string, payload any) {
	t.Helper()
	env, err := domain.NewEnvelope(eventType, payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(env))
}

// readSnapshot consumes the users_online and activities frames sent on connect.
func readSnapshot(t *testing.T, conn *gws.Conn) []domain.Envelope {
	t.Helper()
	users := read(t, conn)
	require.Equal(t, domain.EventUsersOnline, users.Type)
	acts := read(t, conn)
	require.Equal(t, domain.EventActivities, acts.Type)
	return []domain.Envelope{users, acts}
}

func payloadMessage(t *testing.T, env domain.Envelope) domain.Message {
	t.Helper()
	var msg domain.Message
	require.NoError(t, json.Unmarshal(env.Payload, &msg))
	return msg
}

func TestSocket_RejectsUnauthenticatedHandshake(t *testing.T) {
	m, hub := newTestModule(Config{}, &mockAuthPort{}, &memoryStore{})
	defer hub.Close()
	addr := startServer(t, m)

	_, resp, err := gws.DefaultDialer.Dial("ws://"+addr+"/ws?token=bogus", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Zero(t, hub.ConnectionCount())
}

func TestSocket_MessageToOnlineReceiver(t *testing.T) {
	st := &memoryStore{}
	m, hub := newTestModule(Config{}, &mockAuthPort{}, st)
	defer hub.Close()
	addr := startServer(t, m)

	a := dial(t, addr, "u1")
	readSnapshot(t, a)

	b := dial(t, addr, "u2")
	bState := client.NewState("u2")
	for _, env := range readSnapshot(t, b) {
		_, err := bState.Apply(env)
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"u1", "u2"}, bState.OnlineUsers())

	connected := read(t, a)
	assert.Equal(t, domain.EventUserConnected, connected.Type)
	assert.Equal(t, domain.EventActivityUpdated, read(t, a).Type)

	send(t, a, domain.EventSendMessage, domain.SendMessagePayload{ReceiverID: "u2", SenderID: "u1", Content: "hi"})

	sent := read(t, a)
	require.Equal(t, domain.EventMessageSent, sent.Type)
	received := read(t, b)
	require.Equal(t, domain.EventReceiveMessage, received.Type)

	saved := st.saved()
	require.Len(t, saved, 1)
	assert.Equal(t, "u1", saved[0].SenderID)
	assert.Equal(t, "u2", saved[0].ReceiverID)
	assert.Equal(t, "hi", saved[0].Content)

	sentMsg, receivedMsg := payloadMessage(t, sent), payloadMessage(t, received)
	assert.Equal(t, saved[0].ID, sentMsg.ID)
	assert.Equal(t, sentMsg.ID, receivedMsg.ID)
	assert.Equal(t, sentMsg.Content, receivedMsg.Content)

	_, err := bState.Apply(received)
	require.NoError(t, err)
	assert.Equal(t, 1, bState.Unread("u1"))
}

func TestSocket_MessageToOfflineReceiver(t *testing.T) {
	st := &memoryStore{}
	m, hub := newTestModule(Config{}, &mockAuthPort{}, st)
	defer hub.Close()
	addr := startServer(t, m)

	a := dial(t, addr, "u1")
	readSnapshot(t, a)

	send(t, a, domain.EventSendMessage, domain.SendMessagePayload{ReceiverID: "u2", SenderID: "u1", Content: "later"})
	assert.Equal(t, domain.EventMessageSent, read(t, a).Type)
	require.Len(t, st.saved(), 1)

	b := dial(t, addr, "u2")
	readSnapshot(t, b)
	expectSilence(t, b)
}

func TestSocket_ActivityBroadcast(t *testing.T) {
	m, hub := newTestModule(Config{}, &mockAuthPort{}, &memoryStore{})
	defer hub.Close()
	addr := startServer(t, m)

	a := dial(t, addr, "u1")
	readSnapshot(t, a)
	b := dial(t, addr, "u2")
	readSnapshot(t, b)
	read(t, a)
	read(t, a)

	send(t, a, domain.EventUpdateActivity, domain.ActivityPayload{UserID: "u1", Activity: "Playing Foo by Bar"})

	for _, conn := range []*gws.Conn{a, b} {
		env := read(t, conn)
		require.Equal(t, domain.EventActivityUpdated, env.Type)
		var payload domain.ActivityPayload
		require.NoError(t, json.Unmarshal(env.Payload, &payload))
		assert.Equal(t, domain.ActivityPayload{UserID: "u1", Activity: "Playing Foo by Bar"}, payload)
	}

	// Activity claimed for another user is ignored.
	send(t, a, domain.EventUpdateActivity, domain.ActivityPayload{UserID: "u2", Activity: "Playing Spoof by Me"})
	expectSilence(t, b)
	assert.Equal(t, "Playing Foo by Bar", hub.Activities()["u1"])
	assert.Equal(t, domain.IdleActivity, hub.Activities()["u2"])
}

func TestSocket_SenderIdentity(t *testing.T) {
	st := &memoryStore{}
	m, hub := newTestModule(Config{}, &mockAuthPort{}, st)
	defer hub.Close()
	addr := startServer(t, m)

	a := dial(t, addr, "u1")
	readSnapshot(t, a)

	send(t, a, domain.EventSendMessage, domain.SendMessagePayload{ReceiverID: "u2", SenderID: "u2", Content: "spoof"})
	env := read(t, a)
	require.Equal(t, domain.EventMessageError, env.Type)
	var reason string
	require.NoError(t, json.Unmarshal(env.Payload, &reason))
	assert.Equal(t, reasonSenderMismatch, reason)
	assert.Empty(t, st.saved())

	send(t, a, domain.EventSendMessage, domain.SendMessagePayload{ReceiverID: "u2", Content: "implicit sender"})
	env = read(t, a)
	require.Equal(t, domain.EventMessageSent, env.Type)
	assert.Equal(t, "u1", payloadMessage(t, env).SenderID)
}

func TestSocket_EmptyContentAndAnnounce(t *testing.T) {
	m, hub := newTestModule(Config{}, &mockAuthPort{}, &memoryStore{})
	defer hub.Close()
	addr := startServer(t, m)

	a := dial(t, addr, "u1")
	readSnapshot(t, a)

	send(t, a, domain.EventSendMessage, domain.SendMessagePayload{ReceiverID: "u2", SenderID: "u1", Content: ""})
	assert.Equal(t, domain.EventMessageError, read(t, a).Type)

	send(t, a, domain.EventUserConnected, "u1")
	readSnapshot(t, a)
}

func TestSocket_RateLimit(t *testing.T) {
	st := &memoryStore{}
	m, hub := newTestModule(Config{MessagesPerSecond: 0.001, Burst: 1}, &mockAuthPort{}, st)
	defer hub.Close()
	addr := startServer(t, m)

	a := dial(t, addr, "u1")
	readSnapshot(t, a)

	send(t, a, domain.EventSendMessage, domain.SendMessagePayload{ReceiverID: "u2", Content: "one"})
	send(t, a, domain.EventSendMessage, domain.SendMessagePayload{ReceiverID: "u2", Content: "two"})

	assert.Equal(t, domain.EventMessageSent, read(t, a).Type)
	env := read(t, a)
	require.Equal(t, domain.EventMessageError, env.Type)
	var reason string
	require.NoError(t, json.Unmarshal(env.Payload, &reason))
	assert.Equal(t, reasonRateLimited, reason)
	assert.Len(t, st.saved(), 1)
}

func TestSocket_DisconnectBroadcast(t *testing.T) {
	m, hub := newTestModule(Config{}, &mockAuthPort{}, &memoryStore{})
	defer hub.Close()
	addr := startServer(t, m)

	a := dial(t, addr, "u1")
	readSnapshot(t, a)
	b := dial(t, addr, "u2")
	readSnapshot(t, b)
	read(t, a)
	read(t, a)

	require.NoError(t, b.Close())

	env := read(t, a)
	require.Equal(t, domain.EventUserDisconnected, env.Type)
	var userID string
	require.NoError(t, json.Unmarshal(env.Payload, &userID))
	assert.Equal(t, "u2", userID)
	assert.Eventually(t, func() bool { return !hub.IsOnline("u2") }, time.Second, 10*time.Millisecond)
}
