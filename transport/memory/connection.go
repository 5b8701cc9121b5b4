// Package memory provides an in-process transport.Connection used by
// the core's own tests, standing in for a real socket so namespace,
// socket, client, and adapter lifecycle tests run without a network.
package memory

import (
	"errors"
	"sync"

	"github.com/lzh06550107/eventmux/pkg/events"
	"github.com/lzh06550107/eventmux/transport"
)

// Connection is a transport.Connection whose peer is the test itself:
// Feed simulates an inbound frame, Written inspects what was sent out.
type Connection struct {
	*events.EventEmitter

	id            string
	remoteAddress string
	url           string
	headers       map[string][]string
	query         map[string][]string
	secure        bool

	mu            sync.Mutex
	readyState    transport.ReadyState
	writable      bool
	written       []any
	initialPacket any
}

// New returns an open in-memory Connection identified by id.
func New(id string) *Connection {
	return &Connection{
		EventEmitter: events.New(),
		id:           id,
		readyState:   transport.Open,
		writable:     true,
		headers:      map[string][]string{},
		query:        map[string][]string{},
	}
}

func (c *Connection) Id() string { return c.id }

func (c *Connection) ReadyState() transport.ReadyState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readyState
}

// Writable reports whether the connection can currently accept a
// write; see SetWritable.
func (c *Connection) Writable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writable
}

// SetWritable lets a test simulate backpressure (writable=false) on an
// otherwise open connection, to exercise volatile-packet skipping.
func (c *Connection) SetWritable(writable bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writable = writable
}

// Write records frame for inspection by Written, failing once closed.
func (c *Connection) Write(frame any, opts *transport.WriteOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.readyState != transport.Open {
		return errors.New("write on a closed connection")
	}
	c.written = append(c.written, frame)
	return nil
}

// Written returns a snapshot of every frame written so far.
func (c *Connection) Written() []any {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]any, len(c.written))
	copy(out, c.written)
	return out
}

func (c *Connection) SetInitialPacket(frame any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.initialPacket = frame
}

// InitialPacket returns whatever was piggy-backed via SetInitialPacket.
func (c *Connection) InitialPacket() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initialPacket
}

func (c *Connection) RemoteAddress() string          { return c.remoteAddress }
func (c *Connection) Headers() map[string][]string    { return c.headers }
func (c *Connection) Query() map[string][]string      { return c.query }
func (c *Connection) URL() string                     { return c.url }
func (c *Connection) Secure() bool                     { return c.secure }

// SetRemoteAddress, SetURL, SetSecure, SetHeaders and SetQuery let a
// test shape the handshake metadata before the Connection is handed
// to the Server.
func (c *Connection) SetRemoteAddress(addr string)         { c.remoteAddress = addr }
func (c *Connection) SetURL(url string)                    { c.url = url }
func (c *Connection) SetSecure(secure bool)                { c.secure = secure }
func (c *Connection) SetHeaders(h map[string][]string)     { c.headers = h }
func (c *Connection) SetQuery(q map[string][]string)       { c.query = q }

// Feed simulates an inbound frame arriving from the peer.
func (c *Connection) Feed(frame any) {
	c.Emit("data", frame)
}

// Err simulates a transport-level error.
func (c *Connection) Err(err error) {
	c.Emit("error", err)
}

// Close simulates the peer closing the connection.
func (c *Connection) Close(reason string) {
	c.mu.Lock()
	if c.readyState == transport.Closed {
		c.mu.Unlock()
		return
	}
	c.readyState = transport.Closed
	c.mu.Unlock()
	c.Emit("close", reason)
}

var _ transport.Connection = (*Connection)(nil)
