package socket

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lzh06550107/eventmux/pkg/log"
	"github.com/lzh06550107/eventmux/pkg/types"
	"github.com/lzh06550107/eventmux/transport"
)

var (
	namespace_log = log.NewLog("eventmux:namespace")

	NAMESPACE_RESERVED_EVENTS = types.NewSet("connect", "connection", "new_namespace")
)

// Namespace is a named scope that holds its own connected sockets,
// connect-time middleware chain, and Adapter instance — a way to
// split application logic over a single shared transport.
type Namespace struct {
	// _ids has to be first in the struct to guarantee alignment for atomic
	// operations. http://golang.org/pkg/sync/atomic/#pkg-note-BUG
	_ids uint64

	*StrictEventEmitter

	name    string
	sockets *types.Map[SocketId, *Socket]
	adapter Adapter
	server  *Server
	_fns    []func(*Socket, func(*types.ExtendedError))

	_fns_mu sync.RWMutex

	_remove func(socket *Socket)
}

func (n *Namespace) Sockets() *types.Map[SocketId, *Socket] { return n.sockets }
func (n *Namespace) Server() *Server                        { return n.server }
func (n *Namespace) Adapter() Adapter                       { return n.adapter }
func (n *Namespace) Name() string                           { return n.name }

func (n *Namespace) Ids() uint64 {
	return atomic.AddUint64(&n._ids, 1)
}

func (n *Namespace) EventEmitter() *StrictEventEmitter {
	return n.StrictEventEmitter
}

// NewNamespace constructs a Namespace named name under server, building
// its Adapter instance immediately.
func NewNamespace(server *Server, name string) *Namespace {
	n := &Namespace{}
	n.StrictEventEmitter = NewStrictEventEmitter()
	n.sockets = types.NewMap[SocketId, *Socket]()
	n._fns = []func(*Socket, func(*types.ExtendedError)){}
	n.server = server
	n.name = name
	n._remove = n.namespace_remove
	n._initAdapter()

	return n
}

// _initAdapter (re)builds the Adapter for this namespace. Run on
// construction and again whenever Server.SetAdapter changes the builder.
func (n *Namespace) _initAdapter() {
	n.adapter = n.server.Adapter().New(n)
	n.adapter.Init()
}

// Use registers connect-time middleware, run for every incoming Socket
// before it is added to the namespace.
func (n *Namespace) Use(fn func(*Socket, func(*types.ExtendedError))) NamespaceInterface {
	n._fns_mu.Lock()
	defer n._fns_mu.Unlock()

	n._fns = append(n._fns, fn)
	return n
}

// hasMiddleware reports whether any connect-middleware is registered.
// A default namespace with none lets Server.Onconnection auto-connect
// and piggyback the CONNECT ack instead of waiting on the peer.
func (n *Namespace) hasMiddleware() bool {
	n._fns_mu.RLock()
	defer n._fns_mu.RUnlock()
	return len(n._fns) > 0
}

// run executes the connect-middleware chain, short-circuiting on the
// first error and deferring its completion one scheduling tick.
func (n *Namespace) run(socket *Socket, fn func(err *types.ExtendedError)) {
	n._fns_mu.RLock()
	fns := make([]func(*Socket, func(*types.ExtendedError)), len(n._fns))
	copy(fns, n._fns)
	n._fns_mu.RUnlock()

	if length := len(fns); length > 0 {
		var step func(i int)
		step = func(i int) {
			fns[i](socket, func(err *types.ExtendedError) {
				if err != nil {
					go fn(err)
					return
				}
				if i >= length-1 {
					go fn(nil)
					return
				}
				step(i + 1)
			})
		}
		step(0)
	} else {
		go fn(nil)
	}
}

// To targets a room when emitting.
func (n *Namespace) To(room ...Room) *BroadcastOperator {
	return NewBroadcastOperator(n.adapter, nil, nil, nil).To(room...)
}

// In targets a room when emitting.
func (n *Namespace) In(room ...Room) *BroadcastOperator {
	return NewBroadcastOperator(n.adapter, nil, nil, nil).In(room...)
}

// Except excludes a room when emitting.
func (n *Namespace) Except(room ...Room) *BroadcastOperator {
	return NewBroadcastOperator(n.adapter, nil, nil, nil).Except(room...)
}

// Add runs connect-middleware for a newly arrived client, then either
// registers the socket (_doConnect) or rejects it with a CONNECT_ERROR.
// onError, if non-nil, is additionally invoked on rejection so a caller
// that buffered follow-up work pending this handshake (see Client's
// connectBuffer) can unwind it instead of hanging indefinitely.
func (n *Namespace) Add(client *Client, auth any, onConnect func(*Socket), onError func(*types.ExtendedError)) *Socket {
	namespace_log.Debug("adding socket to nsp %s", n.name)
	socket := NewSocket(n, client, auth)

	n.run(socket, func(err *types.ExtendedError) {
		if client.conn.ReadyState() != transport.Open {
			namespace_log.Debug("next called after client was closed - ignoring socket")
			socket._cleanup()
			return
		}
		if err != nil {
			namespace_log.Debug("middleware error, sending CONNECT_ERROR packet to the client")
			socket._cleanup()
			socket._error(map[string]any{
				"message": err.Error(),
				"data":    err.Data,
			})
			if onError != nil {
				onError(err)
			}
			return
		}

		n._doConnect(socket, onConnect)
	})
	return socket
}

func (n *Namespace) _doConnect(socket *Socket, fn func(*Socket)) {
	// track socket
	n.sockets.Store(socket.Id(), socket)

	// it's paramount that the internal onconnect logic fires before
	// user-set events, to prevent state-order violations (such as a
	// disconnect before the connection logic is complete).
	socket._onconnect()
	if fn != nil {
		fn(socket)
	}

	n.EmitReserved("connect", socket)
	n.EmitReserved("connection", socket)
}

// remove unregisters socket. Called by Socket on close.
func (n *Namespace) remove(socket *Socket) {
	n._remove(socket)
}

func (n *Namespace) namespace_remove(socket *Socket) {
	if _, ok := n.sockets.LoadAndDelete(socket.Id()); !ok {
		namespace_log.Debug("ignoring remove for %s", socket.Id())
	}
}

// Emit sends ev to every connected client in this namespace.
func (n *Namespace) Emit(ev string, args ...any) error {
	return NewBroadcastOperator(n.adapter, nil, nil, nil).Emit(ev, args...)
}

// EmitWithAck emits ev and waits for one acknowledgement per client.
func (n *Namespace) EmitWithAck(ev string, args ...any) func(func([]any, error)) {
	return func(ack func([]any, error)) {
		n.Emit(ev, append(args, func(err error, responses []any) {
			ack(responses, err)
		})...)
	}
}

// Send emits a "message" event to all clients.
func (n *Namespace) Send(args ...any) NamespaceInterface {
	n.Emit("message", args...)
	return n
}

// Write is an alias of Send.
func (n *Namespace) Write(args ...any) NamespaceInterface {
	n.Emit("message", args...)
	return n
}

// ServerSideEmit sends ev to every other Socket.IO server in the cluster.
func (n *Namespace) ServerSideEmit(ev string, args ...any) error {
	if NAMESPACE_RESERVED_EVENTS.Has(ev) {
		return fmt.Errorf("%q is a reserved event name", ev)
	}
	return n.adapter.ServerSideEmit(ev, args...)
}

// ServerSideEmitWithAck returns a func that passes ack to the Adapter
// as the trailing argument of ServerSideEmit and returns at once; the
// error from ServerSideEmit is dropped, and ack runs only if the
// Adapter calls it (the in-memory Adapter never does).
func (n *Namespace) ServerSideEmitWithAck(ev string, args ...any) func(func([]any, error)) {
	return func(ack func([]any, error)) {
		n.ServerSideEmit(ev, append(args, ack)...)
	}
}

// _onServerSideEmit is called when a packet arrives from another Socket.IO server.
func (n *Namespace) _onServerSideEmit(ev string, args ...any) {
	n.EmitUntyped(ev, args...)
}

// AllSockets returns the sids of every connected client.
//
// Deprecated: prefer FetchSockets, which also works across a cluster.
func (n *Namespace) AllSockets() (*types.Set[SocketId], error) {
	return NewBroadcastOperator(n.adapter, nil, nil, nil).AllSockets()
}

func (n *Namespace) Compress(compress bool) *BroadcastOperator {
	return NewBroadcastOperator(n.adapter, nil, nil, nil).Compress(compress)
}

func (n *Namespace) Volatile() *BroadcastOperator {
	return NewBroadcastOperator(n.adapter, nil, nil, nil).Volatile()
}

func (n *Namespace) Local() *BroadcastOperator {
	return NewBroadcastOperator(n.adapter, nil, nil, nil).Local()
}

func (n *Namespace) Timeout(timeout time.Duration) *BroadcastOperator {
	return NewBroadcastOperator(n.adapter, nil, nil, nil).Timeout(timeout)
}

// FetchSockets returns the matching socket instances, including remote
// ones when the Adapter is distributed.
func (n *Namespace) FetchSockets() ([]*RemoteSocket, error) {
	return NewBroadcastOperator(n.adapter, nil, nil, nil).FetchSockets(), nil
}

func (n *Namespace) SocketsJoin(room ...Room) {
	NewBroadcastOperator(n.adapter, nil, nil, nil).SocketsJoin(room...)
}

func (n *Namespace) SocketsLeave(room ...Room) {
	NewBroadcastOperator(n.adapter, nil, nil, nil).SocketsLeave(room...)
}

func (n *Namespace) DisconnectSockets(closeTransport bool) {
	NewBroadcastOperator(n.adapter, nil, nil, nil).DisconnectSockets(closeTransport)
}
