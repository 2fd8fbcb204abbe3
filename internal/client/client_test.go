package client

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/fathima-sithara/chat-relay/internal/api"
	"github.com/fathima-sithara/chat-relay/internal/domain"
	"github.com/fathima-sithara/chat-relay/internal/repository"
	"github.com/fathima-sithara/chat-relay/internal/service"
	"github.com/fathima-sithara/chat-relay/internal/ws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// startBackend runs the full server on a loopback port and returns its
// http and ws base URLs.
func startBackend(t *testing.T) (string, string, *ws.Hub) {
	t.Helper()
	log := zap.NewNop().Sugar()
	svc := service.NewMessageService(repository.NewMemoryStore(), nil, log)
	hub := ws.NewHub(nil, log)
	app := api.NewServer(api.Deps{
		Handlers:    api.NewHandlers(svc, api.FallbackPresence{Local: hub, Log: log}, time.Second, log),
		WS:          ws.NewServer(hub, nil, nil, ws.Options{}, log),
		CORSOrigins: "*",
		Log:         log,
	})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = app.Listener(ln) }()
	t.Cleanup(func() { _ = app.Shutdown() })
	addr := ln.Addr().String()
	return "http://" + addr, "ws://" + addr + "/ws", hub
}

type peer struct {
	id     string
	rec    *Reconciler
	socket *Socket
}

func connectPeer(t *testing.T, ctx context.Context, httpURL, wsURL, self, other string, hub *ws.Hub) peer {
	t.Helper()
	log := zap.NewNop().Sugar()
	sock, err := DialSocket(ctx, wsURL, self, "", log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sock.Close() })

	rec := NewReconciler(self, other, NewAPI(APIConfig{BaseURL: httpURL}), sock, log)
	go func() { _ = sock.Listen(ctx, rec) }()
	require.Eventually(t, func() bool { return hub.Online(self) }, 2*time.Second, 10*time.Millisecond)
	return peer{id: self, rec: rec, socket: sock}
}

func TestConversationEndToEnd(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	httpURL, wsURL, hub := startBackend(t)

	aliceID, bobID := primitive.NewObjectID().Hex(), primitive.NewObjectID().Hex()
	alice := connectPeer(t, ctx, httpURL, wsURL, aliceID, bobID, hub)
	bob := connectPeer(t, ctx, httpURL, wsURL, bobID, aliceID, hub)

	id, err := alice.rec.Send(ctx, "hello bob")
	require.NoError(t, err)
	assert.False(t, MessageView{ID: id}.Temporary())

	require.Eventually(t, func() bool { return len(bob.rec.Messages()) == 1 }, 2*time.Second, 10*time.Millisecond)
	got := bob.rec.Messages()[0]
	assert.Equal(t, id, got.ID)
	assert.Equal(t, "hello bob", got.Text)
	assert.False(t, got.FromSelf)

	require.NoError(t, alice.rec.Delete(ctx, id))
	assert.Equal(t, domain.DeletedPlaceholder, alice.rec.Messages()[0].Text)
	require.Eventually(t, func() bool { return bob.rec.Messages()[0].IsDeleted }, 2*time.Second, 10*time.Millisecond)

	// a fresh load sees the persisted, redacted state
	fresh := NewReconciler(bobID, aliceID, NewAPI(APIConfig{BaseURL: httpURL}), &fakeEmitter{}, zap.NewNop().Sugar())
	require.NoError(t, fresh.Load(ctx))
	msgs := fresh.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, id, msgs[0].ID)
	assert.True(t, msgs[0].IsDeleted)
	assert.Equal(t, domain.DeletedPlaceholder, msgs[0].Text)

	contacts := fresh.ContactsWithHistory(ctx, []string{aliceID, primitive.NewObjectID().Hex()})
	assert.Equal(t, []string{aliceID}, contacts)
}

func TestAPIErrorsCarryServerMessage(t *testing.T) {
	httpURL, _, _ := startBackend(t)
	c := NewAPI(APIConfig{BaseURL: httpURL})

	_, err := c.DeleteMessage(context.Background(), "bad-id", true)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 400, se.Code)
	assert.Equal(t, "Invalid message ID format", se.Msg)

	_, err = c.GetMessages(context.Background(), "nope", "nope")
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 400, se.Code)
}
