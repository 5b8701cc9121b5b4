package socket

import (
	"sync"

	"github.com/lzh06550107/eventmux/pkg/log"
	"github.com/lzh06550107/eventmux/pkg/types"
	"github.com/lzh06550107/eventmux/pkg/utils"
	"github.com/lzh06550107/eventmux/parser"
	"github.com/lzh06550107/eventmux/transport"
)

var client_log = log.NewLog("eventmux:client")

// Client demultiplexes one transport Connection into the Namespace(s)
// it has connected to. A Client outlives any single Namespace: closing
// the last Socket on it does not close the Connection, but closing the
// Connection tears down every Socket on it.
type Client struct {
	conn    transport.Connection
	id      string
	server  *Server
	encoder parser.Encoder
	decoder parser.Decoder

	sockets *types.Map[SocketId, *Socket]
	nsps    *types.Map[string, *Socket]

	connectTimeout *utils.Timer

	// connectBuffer holds CONNECT requests for non-default namespaces
	// that arrived before the default namespace's handshake completed.
	// It is replayed (or drained with a rejection) once that handshake
	// is settled.
	connectBuffer   []string
	connectBufferMu sync.Mutex

	// piggyback, when set, makes the next _packet call hand its encoded
	// frame to conn.SetInitialPacket instead of writing it, fusing a
	// default-namespace CONNECT ack into the transport handshake
	// response. Consumed (cleared) by the first _packet call it reaches.
	piggyback   bool
	piggybackMu sync.Mutex
}

// Conn returns the underlying transport Connection.
func (c *Client) Conn() transport.Connection {
	return c.conn
}

// NewClient builds a Client over conn, wiring up its decoder and
// arming the connect timeout that closes conn if no namespace is
// joined in time.
func NewClient(server *Server, conn transport.Connection) *Client {
	c := &Client{}
	c.sockets = types.NewMap[SocketId, *Socket]()
	c.nsps = types.NewMap[string, *Socket]()
	c.server = server
	c.conn = conn
	c.encoder = server.Encoder()
	c.decoder = server.Parser().Decoder()
	c.id = conn.Id()
	c.setup()

	return c
}

// setup wires transport/decoder events and arms the connect timeout.
func (c *Client) setup() {
	c.decoder.On("decoded", c.ondecoded)
	c.conn.On("data", c.ondata)
	c.conn.On("error", c.onerror)
	c.conn.On("close", c.onclose)
	c.connectTimeout = utils.SetTimeout(func() {
		if c.nsps.Len() == 0 {
			client_log.Debug("no namespace joined yet, close the client")
			c.close()
		} else {
			client_log.Debug("the client has already joined a namespace, nothing to do")
		}
	}, c.server.ConnectTimeout())
}

// connect routes an inbound CONNECT to name, buffering it if this is a
// non-default namespace and the default namespace hasn't finished its
// own handshake yet.
func (c *Client) connect(name string, auth any) {
	if name != "/" {
		if _, ok := c.nsps.Load("/"); !ok {
			client_log.Debug("buffering connect packet to namespace %s", name)
			c.connectBufferMu.Lock()
			c.connectBuffer = append(c.connectBuffer, name)
			c.connectBufferMu.Unlock()
			return
		}
	}
	c.doConnectNamed(name, auth)
}

func (c *Client) doConnectNamed(name string, auth any) {
	if _, ok := c.server.Nsps().Load(name); ok {
		client_log.Debug("connecting to namespace %s", name)
		c.doConnect(name, auth)
		return
	}
	c.server.CheckNamespace(name, auth, func(dynamicNsp *Namespace) {
		if dynamicNsp != nil {
			c.doConnect(name, auth)
		} else {
			client_log.Debug("creation of namespace %s was denied", name)
			c._packet(&parser.Packet{
				Type: parser.CONNECT_ERROR,
				Nsp:  name,
				Data: map[string]string{
					"message": "Invalid namespace",
				},
			}, nil)
		}
	})
}

// doConnect adds this Client's Socket to nsp, then — once that socket
// finishes connecting — clears the connect timeout and, if nsp was the
// default namespace, replays (or rejects) whatever accumulated in
// connectBuffer while the handshake was in flight.
func (c *Client) doConnect(name string, auth any) {
	nsp := c.server.Of(name, nil)
	nsp.Add(c, auth, func(socket *Socket) {
		c.sockets.Store(socket.Id(), socket)
		c.nsps.Store(nsp.Name(), socket)
		if c.connectTimeout != nil {
			utils.ClearTimeout(c.connectTimeout)
			c.connectTimeout = nil
		}

		if name == "/" {
			c.drainConnectBuffer(func(bufferedName string) {
				c.doConnectNamed(bufferedName, auth)
			})
		}
	}, func(err *types.ExtendedError) {
		if name == "/" {
			c.drainConnectBuffer(func(bufferedName string) {
				client_log.Debug("rejecting buffered connect to %s, default namespace refused", bufferedName)
				c._packet(&parser.Packet{
					Type: parser.CONNECT_ERROR,
					Nsp:  bufferedName,
					Data: map[string]string{
						"message": "Invalid namespace",
					},
				}, nil)
			})
		}
	})
}

// connectPiggybacked auto-connects this client to namespace name without
// waiting for an explicit CONNECT packet from the peer, fusing the
// resulting CONNECT ack into the transport handshake response instead
// of sending it as a separate frame. Callers must only use this for a
// namespace with no connect-middleware: one that might reject still
// needs the peer's own CONNECT to learn the outcome on.
func (c *Client) connectPiggybacked(name string, auth any) {
	c.piggybackMu.Lock()
	c.piggyback = true
	c.piggybackMu.Unlock()
	c.doConnect(name, auth)
}

// drainConnectBuffer empties connectBuffer, invoking handle once per
// buffered namespace name in arrival order.
func (c *Client) drainConnectBuffer(handle func(name string)) {
	c.connectBufferMu.Lock()
	buffered := c.connectBuffer
	c.connectBuffer = nil
	c.connectBufferMu.Unlock()

	for _, name := range buffered {
		handle(name)
	}
}

func (c *Client) _disconnect() {
	for _, socket := range c.sockets.All() {
		socket.Disconnect(false)
	}
	c.close()
}

// _remove unregisters socket. Called by Socket on close.
func (c *Client) _remove(socket *Socket) {
	if nsp, ok := c.sockets.LoadAndDelete(socket.Id()); ok {
		c.nsps.Delete(nsp.Nsp().Name())
	} else {
		client_log.Debug("ignoring remove for %s", socket.Id())
	}
}

// close forces the underlying transport closed. The transport emits
// "close" as a result, which onclose (already wired in setup) handles.
func (c *Client) close() {
	if c.conn.ReadyState() == transport.Open {
		client_log.Debug("forcing transport close")
		c.conn.Close("forced server close")
	}
}

// _packet writes packet's frames to the transport, reusing opts.PreEncoded
// when a broadcast already produced them instead of encoding again here.
func (c *Client) _packet(packet *parser.Packet, opts *WriteOptions) {
	if c.conn.ReadyState() != transport.Open {
		client_log.Debug("ignoring packet write %v", packet)
		return
	}

	if opts == nil {
		opts = &WriteOptions{}
	}

	encoded := opts.PreEncoded
	if encoded == nil {
		encoded = c.encoder.Encode(packet)
	}

	c.piggybackMu.Lock()
	piggyback := c.piggyback
	c.piggyback = false
	c.piggybackMu.Unlock()

	if piggyback && len(encoded) == 1 {
		client_log.Debug("piggybacking packet onto transport handshake")
		c.conn.SetInitialPacket(encoded[0])
		return
	}

	c.writeToEngine(encoded, opts)
}

func (c *Client) writeToEngine(encodedPackets []any, opts *WriteOptions) {
	if opts.Volatile && !c.conn.Writable() {
		client_log.Debug("skipping volatile packet, transport not writable")
		return
	}
	for _, encodedPacket := range encodedPackets {
		if err := c.conn.Write(encodedPacket, &transport.WriteOptions{Compress: opts.Compress}); err != nil {
			client_log.Debug("write failed: %v", err)
		}
	}
}

// ondata handles inbound transport frames.
func (c *Client) ondata(args ...any) {
	if err := c.decoder.Add(args[0]); err != nil {
		client_log.Debug("invalid packet format")
		c.onerror(err)
	}
}

// ondecoded is called once the decoder has reassembled a full packet.
func (c *Client) ondecoded(args ...any) {
	packet, _ := args[0].(*parser.Packet)
	namespace := packet.Nsp
	authPayload := packet.Data

	socket, ok := c.nsps.Load(namespace)
	switch {
	case !ok && packet.Type == parser.CONNECT:
		c.connect(namespace, authPayload)
	case ok && packet.Type != parser.CONNECT && packet.Type != parser.CONNECT_ERROR:
		socket._onpacket(packet)
	default:
		client_log.Debug("invalid state (packet type: %v)", packet.Type)
		c.close()
	}
}

// onerror notifies every socket on this client, then tears down the transport.
func (c *Client) onerror(args ...any) {
	var err any
	if len(args) > 0 {
		err = args[0]
	}
	c.sockets.Range(func(_ SocketId, socket *Socket) bool {
		socket._onerror(err)
		return true
	})
	c.conn.Close("transport error")
}

// onclose runs on transport close: every socket is torn down and the
// decoder is released.
func (c *Client) onclose(args ...any) {
	var reason any
	if len(args) > 0 {
		reason = args[0]
	}
	client_log.Debug("client close with reason %v", reason)
	c.destroy()
	for id, socket := range c.sockets.All() {
		socket._onclose(reason)
		c.sockets.Delete(id)
	}
	c.decoder.Destroy()
}

// destroy removes this Client's listeners from the transport and decoder.
func (c *Client) destroy() {
	c.conn.RemoveListener("data", c.ondata)
	c.conn.RemoveListener("error", c.onerror)
	c.conn.RemoveListener("close", c.onclose)
	c.decoder.RemoveListener("decoded", c.ondecoded)
	if c.connectTimeout != nil {
		utils.ClearTimeout(c.connectTimeout)
		c.connectTimeout = nil
	}
}
