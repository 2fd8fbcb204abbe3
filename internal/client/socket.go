package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/fathima-sithara/chat-relay/internal/ws"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Sink receives frames relayed from the peer.
type Sink interface {
	Receive(in Incoming) bool
	ApplyRemoteDelete(id string) bool
}

// Socket is the live connection of one user.
type Socket struct {
	conn *websocket.Conn
	wmu  sync.Mutex
	log  *zap.SugaredLogger
}

// DialSocket connects to wsURL and announces userID. token, when non-empty,
// is sent as a bearer Authorization header on the upgrade.
func DialSocket(ctx context.Context, wsURL, userID, token string, log *zap.SugaredLogger) (*Socket, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, err
	}
	var header http.Header
	if token != "" {
		header = http.Header{"Authorization": []string{"Bearer " + token}}
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", wsURL, err)
	}
	s := &Socket{conn: conn, log: log}
	if err := s.Emit(ws.EventAddUser, userID); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *Socket) Emit(event string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return s.conn.WriteJSON(ws.Envelope{Type: event, Payload: b})
}

// Listen dispatches relayed frames into sink until the connection closes or
// ctx is cancelled.
func (s *Socket) Listen(ctx context.Context, sink Sink) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = s.conn.Close()
		case <-stop:
		}
	}()

	for {
		var env ws.Envelope
		if err := s.conn.ReadJSON(&env); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		switch env.Type {
		case ws.EventMsgReceive:
			var in Incoming
			if err := json.Unmarshal(env.Payload, &in); err != nil {
				s.log.Debugw("bad msg-recieve payload", "error", err)
				continue
			}
			sink.Receive(in)
		case ws.EventMsgDeleted:
			var d ws.DeleteMsg
			if err := json.Unmarshal(env.Payload, &d); err != nil || d.ID == "" {
				continue
			}
			sink.ApplyRemoteDelete(d.ID)
		}
	}
}

func (s *Socket) Close() error {
	s.wmu.Lock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	s.wmu.Unlock()
	return s.conn.Close()
}
