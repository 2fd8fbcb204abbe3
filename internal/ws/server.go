package ws

import (
	"context"
	"encoding/json"
	"time"

	"github.com/fathima-sithara/chat-relay/internal/auth"
	"github.com/fathima-sithara/chat-relay/internal/kafka"
	"github.com/fathima-sithara/chat-relay/internal/metric"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"
)

type Server struct {
	hub      *Hub
	jv       *auth.JWTValidator
	notifier kafka.Publisher
	opts     Options
	log      *zap.SugaredLogger
}

// NewServer wires the socket handler. jv may be nil, in which case any
// connection may announce any user id.
func NewServer(hub *Hub, jv *auth.JWTValidator, notifier kafka.Publisher, opts Options, log *zap.SugaredLogger) *Server {
	if notifier == nil {
		notifier = kafka.Nop{}
	}
	return &Server{hub: hub, jv: jv, notifier: notifier, opts: opts.withDefaults(), log: log}
}

func (s *Server) HandleWS() func(*websocket.Conn) {
	return func(conn *websocket.Conn) {
		var authUID string
		if s.jv != nil {
			uid, err := s.jv.Validate(upgradeToken(conn))
			if err != nil {
				s.log.Infow("ws auth rejected", "error", err)
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unauthorized"),
					time.Now().Add(time.Second))
				_ = conn.Close()
				return
			}
			authUID = uid
		}

		c := newConnection(conn, authUID, s.opts)
		metric.Connections.Inc()
		defer metric.Connections.Dec()

		// the conn is recycled once this handler returns, so wait for the
		// writer to stop first
		written := make(chan struct{})
		go func() {
			defer close(written)
			c.writePump(s.opts)
		}()
		s.readPump(c)
		<-written
	}
}

// upgradeToken reads the token query parameter, falling back to an
// Authorization bearer header on the upgrade request.
func upgradeToken(conn *websocket.Conn) string {
	if tok := conn.Query("token"); tok != "" {
		return tok
	}
	tok, err := auth.ParseBearerToken(conn.Headers(fiber.HeaderAuthorization))
	if err != nil {
		return ""
	}
	return tok
}

func (s *Server) readPump(c *Connection) {
	defer func() {
		if c.uid != "" {
			s.hub.Unregister(c.uid, c)
		}
		c.close()
	}()

	readWait := 2 * s.opts.PingInterval
	c.ws.SetReadLimit(s.opts.MaxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(readWait))
	c.ws.SetPongHandler(func(string) error {
		if c.uid != "" {
			s.hub.Touch(c.uid, c)
		}
		return c.ws.SetReadDeadline(time.Now().Add(readWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(readWait))
		if !c.limiter.Allow() {
			s.log.Debugw("ws rate limited", "conn", c.id, "user", c.uid)
			continue
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.log.Debugw("ws malformed frame", "conn", c.id, "error", err)
			continue
		}
		s.dispatch(c, env)
	}
}

func (s *Server) dispatch(c *Connection, env Envelope) {
	switch env.Type {
	case EventAddUser:
		s.addUser(c, env.Payload)
	case EventSendMsg:
		s.relay(c, env.Payload, EventMsgReceive)
	case EventDeleteMsg:
		s.relay(c, env.Payload, EventMsgDeleted)
	case EventSendNotification:
		s.notify(env.Payload)
	default:
		s.log.Debugw("ws unknown event", "type", env.Type)
	}
}

// relay forwards payload to its recipient. With authentication on, the frame
// must come from an announced user and name that user as its sender.
func (s *Server) relay(c *Connection, payload json.RawMessage, event string) {
	r := addressing(payload)
	if c.authUID != "" && (c.uid == "" || r.From != c.authUID) {
		s.log.Warnw("relay sender mismatch, dropping", "conn", c.id, "event", event, "from", r.From, "token_user", c.authUID)
		return
	}
	s.hub.Relay(r.To, event, payload)
}

func (s *Server) addUser(c *Connection, payload json.RawMessage) {
	var uid string
	if err := json.Unmarshal(payload, &uid); err != nil || uid == "" {
		s.log.Debugw("add-user without user id", "conn", c.id)
		return
	}
	if c.authUID != "" && uid != c.authUID {
		s.log.Warnw("add-user does not match token", "conn", c.id, "claimed", uid, "token_user", c.authUID)
		return
	}
	if c.uid != "" && c.uid != uid {
		s.hub.Unregister(c.uid, c)
	}
	c.uid = uid
	s.hub.Register(uid, c)
	s.log.Debugw("user online", "user", uid, "conn", c.id)
}

func (s *Server) notify(payload json.RawMessage) {
	var n Notification
	if err := json.Unmarshal(payload, &n); err != nil || n.To == "" {
		s.log.Debugw("send-notification without recipient")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.notifier.Publish(ctx, n.To, kafka.EventNotification, n); err != nil {
		s.log.Warnw("notification publish failed", "to", n.To, "error", err)
	}
}
