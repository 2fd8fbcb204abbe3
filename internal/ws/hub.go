package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/fathima-sithara/chat-relay/internal/metric"
	"go.uber.org/zap"
)

// PresenceMirror publishes presence outside this process.
type PresenceMirror interface {
	SetOnline(ctx context.Context, userID, connID string) error
	SetOffline(ctx context.Context, userID, connID string) error
	Touch(ctx context.Context, userID, connID string) error
}

// Hub maps each user to the connection that registered last. A user with
// several open sockets only receives on the newest one.
type Hub struct {
	mu       sync.RWMutex
	users    map[string]*Connection
	presence PresenceMirror
	log      *zap.SugaredLogger
}

func NewHub(presence PresenceMirror, log *zap.SugaredLogger) *Hub {
	return &Hub{
		users:    make(map[string]*Connection),
		presence: presence,
		log:      log,
	}
}

// Register points userID at c, replacing any earlier connection.
func (h *Hub) Register(userID string, c *Connection) {
	h.mu.Lock()
	h.users[userID] = c
	h.mu.Unlock()

	if h.presence != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := h.presence.SetOnline(ctx, userID, c.id); err != nil {
			h.log.Warnw("presence mirror set failed", "user", userID, "error", err)
		}
	}
}

// Unregister removes userID only while c is still its current connection.
// It reports whether the entry was removed.
func (h *Hub) Unregister(userID string, c *Connection) bool {
	h.mu.Lock()
	cur, ok := h.users[userID]
	removed := ok && cur == c
	if removed {
		delete(h.users, userID)
	}
	h.mu.Unlock()

	if removed && h.presence != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := h.presence.SetOffline(ctx, userID, c.id); err != nil {
			h.log.Warnw("presence mirror clear failed", "user", userID, "error", err)
		}
	}
	return removed
}

// Touch keeps the mirrored entry for userID alive while c is its current
// connection.
func (h *Hub) Touch(userID string, c *Connection) {
	if h.presence == nil {
		return
	}
	if cur, ok := h.Lookup(userID); !ok || cur != c {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.presence.Touch(ctx, userID, c.id); err != nil {
		h.log.Warnw("presence mirror refresh failed", "user", userID, "error", err)
	}
}

func (h *Hub) Lookup(userID string) (*Connection, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.users[userID]
	return c, ok
}

func (h *Hub) Online(userID string) bool {
	_, ok := h.Lookup(userID)
	return ok
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users)
}

// Relay queues payload for userID under the given event name. Delivery is
// best effort: an offline user or a full queue drops the frame. The return
// value reports whether it was queued.
func (h *Hub) Relay(userID, event string, payload json.RawMessage) bool {
	if userID == "" {
		metric.Relayed.WithLabelValues(event, "no_target").Inc()
		return false
	}
	b, ok := encodeFrame(event, payload)
	if !ok {
		metric.Relayed.WithLabelValues(event, "invalid").Inc()
		return false
	}

	c, online := h.Lookup(userID)
	if !online {
		metric.Relayed.WithLabelValues(event, "offline").Inc()
		return false
	}
	if !c.enqueue(b) {
		metric.Relayed.WithLabelValues(event, "dropped").Inc()
		h.log.Warnw("relay queue full, dropping", "user", userID, "event", event)
		return false
	}
	metric.Relayed.WithLabelValues(event, "delivered").Inc()
	return true
}

// IsOnline reports local presence only.
func (h *Hub) IsOnline(_ context.Context, userID string) (bool, error) {
	return h.Online(userID), nil
}
