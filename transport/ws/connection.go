// Package ws implements transport.Connection over a gorilla/websocket
// connection, giving the core a real network transport to run against
// in addition to the in-memory test harness.
package ws

import (
	"net/http"
	"sync"

	"github.com/google/uuid"
	gorilla "github.com/gorilla/websocket"

	"github.com/lzh06550107/eventmux/pkg/events"
	"github.com/lzh06550107/eventmux/pkg/log"
	"github.com/lzh06550107/eventmux/transport"
)

var ws_log = log.NewLog("eventmux:transport:ws")

// Connection adapts a *gorilla.Conn to transport.Connection. Write is
// safe for concurrent use; ReadLoop must be run on its own goroutine
// and owns the socket's read side for the connection's lifetime.
type Connection struct {
	*events.EventEmitter

	id     string
	conn   *gorilla.Conn
	req    *http.Request

	writeMu sync.Mutex

	mu            sync.Mutex
	readyState    transport.ReadyState
	initialPacket any
}

// New wraps an already-upgraded websocket connection, captured from
// the HTTP request that served the upgrade.
func New(conn *gorilla.Conn, req *http.Request) *Connection {
	return &Connection{
		EventEmitter: events.New(),
		id:           uuid.NewString(),
		conn:         conn,
		req:          req,
		readyState:   transport.Open,
	}
}

func (c *Connection) Id() string { return c.id }

func (c *Connection) ReadyState() transport.ReadyState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readyState
}

// Writable reports whether the socket is open. gorilla/websocket
// exposes no separate backpressure signal, so this degenerates to the
// open/closed check; a future write-queue-depth tracker would refine it.
func (c *Connection) Writable() bool {
	return c.ReadyState() == transport.Open
}

// Write sends frame as a text message (string) or binary message ([]byte).
func (c *Connection) Write(frame any, opts *transport.WriteOptions) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	switch f := frame.(type) {
	case string:
		return c.conn.WriteMessage(gorilla.TextMessage, []byte(f))
	case []byte:
		return c.conn.WriteMessage(gorilla.BinaryMessage, f)
	default:
		return c.conn.WriteMessage(gorilla.TextMessage, []byte{})
	}
}

func (c *Connection) SetInitialPacket(frame any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.initialPacket = frame
}

func (c *Connection) RemoteAddress() string {
	return c.req.RemoteAddr
}

func (c *Connection) Headers() map[string][]string {
	return map[string][]string(c.req.Header)
}

func (c *Connection) Query() map[string][]string {
	return map[string][]string(c.req.URL.Query())
}

func (c *Connection) URL() string {
	return c.req.URL.String()
}

func (c *Connection) Secure() bool {
	return c.req.TLS != nil
}

// ReadLoop blocks reading frames off the socket, emitting "data" for
// each, until the connection errors or closes, at which point it
// emits "error" (only for an unexpected close) followed by "close",
// each at most once, and returns.
func (c *Connection) ReadLoop() {
	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			c.closeOnce(err)
			return
		}
		switch mt {
		case gorilla.TextMessage:
			c.Emit("data", string(data))
		case gorilla.BinaryMessage:
			c.Emit("data", data)
		}
	}
}

func (c *Connection) closeOnce(err error) {
	c.mu.Lock()
	if c.readyState == transport.Closed {
		c.mu.Unlock()
		return
	}
	c.readyState = transport.Closed
	c.mu.Unlock()

	if gorilla.IsUnexpectedCloseError(err) {
		ws_log.Debug("connection error: %v", err)
		c.Emit("error", err)
	}
	c.Emit("close", "transport close")
}

// Close sends a close frame and tears the socket down from this side.
// ReadLoop observes the resulting read error and unwinds through the
// same closeOnce path, so "close" still fires exactly once.
func (c *Connection) Close(reason string) {
	c.mu.Lock()
	if c.readyState == transport.Closed {
		c.mu.Unlock()
		return
	}
	c.readyState = transport.Closed
	c.mu.Unlock()

	c.writeMu.Lock()
	_ = c.conn.WriteMessage(gorilla.CloseMessage, gorilla.FormatCloseMessage(gorilla.CloseNormalClosure, reason))
	c.writeMu.Unlock()
	_ = c.conn.Close()

	c.Emit("close", reason)
}

var _ transport.Connection = (*Connection)(nil)
