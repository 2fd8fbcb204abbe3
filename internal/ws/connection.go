package ws

import (
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Options tunes each live connection.
type Options struct {
	PingInterval   time.Duration
	WriteDeadline  time.Duration
	MaxMessageSize int64
	SendBuffer     int
	RatePerSec     int
}

func (o Options) withDefaults() Options {
	if o.PingInterval <= 0 {
		o.PingInterval = 25 * time.Second
	}
	if o.WriteDeadline <= 0 {
		o.WriteDeadline = 10 * time.Second
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 64 * 1024
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	if o.RatePerSec <= 0 {
		o.RatePerSec = 20
	}
	return o
}

// Connection is one socket. uid is the user it announced through add-user
// and is only touched by the read loop.
type Connection struct {
	id      string
	ws      *websocket.Conn
	send    chan []byte
	done    chan struct{}
	once    sync.Once
	uid     string
	authUID string
	limiter *rate.Limiter
}

func newConnection(conn *websocket.Conn, authUID string, opts Options) *Connection {
	return &Connection{
		id:      uuid.NewString(),
		ws:      conn,
		send:    make(chan []byte, opts.SendBuffer),
		done:    make(chan struct{}),
		authUID: authUID,
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSec), opts.RatePerSec),
	}
}

func (c *Connection) ID() string { return c.id }

// enqueue never blocks. The send channel is never closed; shutdown goes
// through done so a concurrent relay cannot panic.
func (c *Connection) enqueue(b []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- b:
		return true
	default:
		return false
	}
}

func (c *Connection) close() {
	c.once.Do(func() { close(c.done) })
}

func (c *Connection) writePump(opts Options) {
	ticker := time.NewTicker(opts.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()
	for {
		select {
		case <-c.done:
			_ = c.ws.WriteControl(websocket.CloseMessage, []byte{}, time.Now().Add(time.Second))
			return
		case b := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(opts.WriteDeadline))
			if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(opts.WriteDeadline)); err != nil {
				c.close()
				return
			}
		}
	}
}
