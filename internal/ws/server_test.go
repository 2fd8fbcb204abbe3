package ws

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/fathima-sithara/chat-relay/internal/auth"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/golang-jwt/jwt/v5"
	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type captureNotifier struct {
	mu   sync.Mutex
	keys []string
}

func (n *captureNotifier) Publish(_ context.Context, key, _ string, _ any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.keys = append(n.keys, key)
	return nil
}

func (n *captureNotifier) Close() error { return nil }

func (n *captureNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.keys)
}

func startServer(t *testing.T, srv *Server) string {
	t.Helper()
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Get("/ws", websocket.New(srv.HandleWS()))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = app.Listener(ln) }()
	t.Cleanup(func() { _ = app.Shutdown() })
	return "ws://" + ln.Addr().String() + "/ws"
}

func dial(t *testing.T, url string) *gorilla.Conn {
	t.Helper()
	conn, _, err := gorilla.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func emit(t *testing.T, conn *gorilla.Conn, event string, payload any) {
	t.Helper()
	b, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(Envelope{Type: event, Payload: b}))
}

func TestSendMsgRelayedAsMsgRecieve(t *testing.T) {
	hub := NewHub(nil, zap.NewNop().Sugar())
	notifier := &captureNotifier{}
	url := startServer(t, NewServer(hub, nil, notifier, Options{}, zap.NewNop().Sugar()))

	alice := dial(t, url)
	bob := dial(t, url)
	emit(t, alice, EventAddUser, "alice")
	emit(t, bob, EventAddUser, "bob")
	require.Eventually(t, func() bool { return hub.Online("alice") && hub.Online("bob") }, 2*time.Second, 10*time.Millisecond)

	msg := SendMsg{To: "bob", From: "alice", Message: "hello", ID: "64b7f0c2a1b2c3d4e5f60718"}
	emit(t, alice, EventSendMsg, msg)
	emit(t, alice, EventSendNotification, Notification{To: "bob", From: "alice", Message: "hello"})

	_ = bob.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env Envelope
	require.NoError(t, bob.ReadJSON(&env))
	assert.Equal(t, EventMsgReceive, env.Type)

	var got SendMsg
	require.NoError(t, json.Unmarshal(env.Payload, &got))
	assert.Equal(t, msg, got)

	require.Eventually(t, func() bool { return notifier.count() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestDeleteMsgRelayedAsMsgDeleted(t *testing.T) {
	hub := NewHub(nil, zap.NewNop().Sugar())
	url := startServer(t, NewServer(hub, nil, nil, Options{}, zap.NewNop().Sugar()))

	alice := dial(t, url)
	bob := dial(t, url)
	emit(t, bob, EventAddUser, "bob")
	require.Eventually(t, func() bool { return hub.Online("bob") }, 2*time.Second, 10*time.Millisecond)

	emit(t, alice, EventDeleteMsg, DeleteMsg{To: "bob", ID: "64b7f0c2a1b2c3d4e5f60718"})

	_ = bob.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env Envelope
	require.NoError(t, bob.ReadJSON(&env))
	assert.Equal(t, EventMsgDeleted, env.Type)
}

func TestDisconnectClearsPresence(t *testing.T) {
	hub := NewHub(nil, zap.NewNop().Sugar())
	url := startServer(t, NewServer(hub, nil, nil, Options{}, zap.NewNop().Sugar()))

	conn := dial(t, url)
	emit(t, conn, EventAddUser, "carol")
	require.Eventually(t, func() bool { return hub.Online("carol") }, 2*time.Second, 10*time.Millisecond)

	_ = conn.Close()
	require.Eventually(t, func() bool { return !hub.Online("carol") }, 2*time.Second, 10*time.Millisecond)
}

func TestMalformedFramesIgnored(t *testing.T) {
	hub := NewHub(nil, zap.NewNop().Sugar())
	url := startServer(t, NewServer(hub, nil, nil, Options{}, zap.NewNop().Sugar()))

	conn := dial(t, url)
	require.NoError(t, conn.WriteMessage(gorilla.TextMessage, []byte("{oops")))
	emit(t, conn, "unknown-event", map[string]string{"x": "y"})
	emit(t, conn, EventAddUser, "dave")
	require.Eventually(t, func() bool { return hub.Online("dave") }, 2*time.Second, 10*time.Millisecond)
}

func TestTokenRequiredWhenAuthEnabled(t *testing.T) {
	jv, err := auth.NewJWTValidatorHS256("s3cret")
	require.NoError(t, err)
	hub := NewHub(nil, zap.NewNop().Sugar())
	url := startServer(t, NewServer(hub, jv, nil, Options{}, zap.NewNop().Sugar()))

	anon := dial(t, url)
	_ = anon.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = anon.ReadMessage()
	assert.Error(t, err)

	tok, err := jv.Sign("erin", jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))})
	require.NoError(t, err)
	conn := dial(t, url+"?token="+tok)
	emit(t, conn, EventAddUser, "mallory")
	emit(t, conn, EventAddUser, "erin")
	require.Eventually(t, func() bool { return hub.Online("erin") }, 2*time.Second, 10*time.Millisecond)
	assert.False(t, hub.Online("mallory"))
}

func TestBearerHeaderAcceptedOnUpgrade(t *testing.T) {
	jv, err := auth.NewJWTValidatorHS256("s3cret")
	require.NoError(t, err)
	hub := NewHub(nil, zap.NewNop().Sugar())
	url := startServer(t, NewServer(hub, jv, nil, Options{}, zap.NewNop().Sugar()))

	tok, err := jv.Sign("frank", jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))})
	require.NoError(t, err)
	conn, _, err := gorilla.DefaultDialer.Dial(url, http.Header{"Authorization": []string{"Bearer " + tok}})
	require.NoError(t, err)
	defer conn.Close()

	emit(t, conn, EventAddUser, "frank")
	require.Eventually(t, func() bool { return hub.Online("frank") }, 2*time.Second, 10*time.Millisecond)
}

func TestRelayRequiresTokenSender(t *testing.T) {
	jv, err := auth.NewJWTValidatorHS256("s3cret")
	require.NoError(t, err)
	hub := NewHub(nil, zap.NewNop().Sugar())
	url := startServer(t, NewServer(hub, jv, nil, Options{}, zap.NewNop().Sugar()))

	token := func(uid string) string {
		tok, err := jv.Sign(uid, jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))})
		require.NoError(t, err)
		return tok
	}
	bob := dial(t, url+"?token="+token("bob"))
	emit(t, bob, EventAddUser, "bob")
	require.Eventually(t, func() bool { return hub.Online("bob") }, 2*time.Second, 10*time.Millisecond)

	// mallory claims to be alice; the second socket never announces itself
	mallory := dial(t, url+"?token="+token("mallory"))
	emit(t, mallory, EventAddUser, "mallory")
	require.Eventually(t, func() bool { return hub.Online("mallory") }, 2*time.Second, 10*time.Millisecond)
	emit(t, mallory, EventSendMsg, SendMsg{To: "bob", From: "alice", Message: "spoofed"})
	anon := dial(t, url+"?token="+token("alice"))
	emit(t, anon, EventSendMsg, SendMsg{To: "bob", From: "alice", Message: "unannounced"})

	alice := dial(t, url+"?token="+token("alice"))
	emit(t, alice, EventAddUser, "alice")
	require.Eventually(t, func() bool { return hub.Online("alice") }, 2*time.Second, 10*time.Millisecond)
	emit(t, alice, EventSendMsg, SendMsg{To: "bob", From: "alice", Message: "genuine"})

	_ = bob.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env Envelope
	require.NoError(t, bob.ReadJSON(&env))
	var got SendMsg
	require.NoError(t, json.Unmarshal(env.Payload, &got))
	assert.Equal(t, "genuine", got.Message)
}
