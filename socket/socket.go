package socket

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/lzh06550107/eventmux/pkg/events"
	"github.com/lzh06550107/eventmux/pkg/log"
	"github.com/lzh06550107/eventmux/pkg/types"
	"github.com/lzh06550107/eventmux/pkg/utils"
	"github.com/lzh06550107/eventmux/parser"
)

var (
	SOCKET_RESERVED_EVENTS = types.NewSet("connect", "connect_error", "disconnect", "disconnecting", "newListener", "removeListener")
	socket_log             = log.NewLog("eventmux:socket")
)

// Handshake is an immutable snapshot captured at Socket construction.
type Handshake struct {
	Headers map[string][]string
	Time    string
	Address string
	Xdomain bool
	Secure  bool
	Issued  int64
	Url     string
	Query   map[string][]string
	Auth    any
}

// Socket is a logical endpoint in one Namespace, over one Client's
// Connection. All client-facing emit/receive/join/leave/ack behavior
// lives here.
type Socket struct {
	*StrictEventEmitter

	nsp    *Namespace
	client *Client
	id     SocketId

	handshake *Handshake

	data    any
	data_mu sync.RWMutex

	connected    bool
	connected_mu sync.RWMutex
	canJoin      bool
	canJoin_mu   sync.RWMutex

	server                *Server
	adapter               Adapter
	acks                  *types.Map[uint64, func(...any)]
	fns                   []func([]any, func(error))
	flags                 *BroadcastFlags
	_anyListeners         []events.Listener
	_anyOutgoingListeners []events.Listener

	flags_mu                 sync.RWMutex
	fns_mu                   sync.RWMutex
	_anyListeners_mu         sync.RWMutex
	_anyOutgoingListeners_mu sync.RWMutex
}

func (s *Socket) Nsp() *Namespace { return s.nsp }
func (s *Socket) Id() SocketId    { return s.id }
func (s *Socket) Client() *Client { return s.client }

func (s *Socket) Handshake() *Handshake { return s.handshake }

func (s *Socket) Connected() bool {
	s.connected_mu.RLock()
	defer s.connected_mu.RUnlock()
	return s.connected
}

func (s *Socket) Data() any {
	s.data_mu.RLock()
	defer s.data_mu.RUnlock()
	return s.data
}

func (s *Socket) SetData(data any) {
	s.data_mu.Lock()
	defer s.data_mu.Unlock()
	s.data = data
}

// NewSocket constructs a Socket for client in namespace nsp, capturing
// its handshake from client's Connection and auth.
func NewSocket(nsp *Namespace, client *Client, auth any) *Socket {
	s := &Socket{}
	s.StrictEventEmitter = NewStrictEventEmitter()
	s.nsp = nsp
	s.client = client
	s.data = nil
	s.connected = false
	s.canJoin = true
	s.acks = types.NewMap[uint64, func(...any)]()
	s.fns = []func([]any, func(error)){}
	s.flags = &BroadcastFlags{}
	s.server = nsp.Server()
	s.adapter = s.nsp.Adapter()

	if name := nsp.Name(); name != "/" {
		s.id = SocketId(name + "#" + uuid.NewString())
	} else {
		s.id = SocketId(uuid.NewString())
	}
	s.handshake = s.buildHandshake(auth)
	return s
}

func (s *Socket) buildHandshake(auth any) *Handshake {
	conn := s.client.conn
	return &Handshake{
		Headers: conn.Headers(),
		Time:    time.Now().Format("2006-01-02 15:04:05"),
		Address: conn.RemoteAddress(),
		Xdomain: len(conn.Headers()["Origin"]) > 0,
		Secure:  conn.Secure(),
		Issued:  time.Now().UnixMilli(),
		Url:     conn.URL(),
		Query:   conn.Query(),
		Auth:    auth,
	}
}

// Emit sends an event to this client, registering the trailing
// function argument (if any) as its ack callback.
func (s *Socket) Emit(ev string, args ...any) error {
	if SOCKET_RESERVED_EVENTS.Has(ev) {
		return fmt.Errorf("%q is a reserved event name", ev)
	}
	data := append([]any{ev}, args...)
	dataLen := len(data)
	packet := &parser.Packet{
		Type: parser.EVENT,
		Data: data,
	}
	if fn, ok := data[dataLen-1].(func(...any)); ok {
		id := s.nsp.Ids()
		socket_log.Debug("emitting packet with ack id %d", id)
		packet.Data = data[:dataLen-1]
		s.registerAckCallback(id, fn)
		packet.Id = &id
	}
	s.flags_mu.Lock()
	flags := *s.flags
	s.flags = &BroadcastFlags{}
	s.flags_mu.Unlock()
	s.notifyOutgoingListeners(packet)
	s.packet(packet, &flags)
	return nil
}

func (s *Socket) registerAckCallback(id uint64, ack func(...any)) {
	s.flags_mu.RLock()
	timeout := s.flags.Timeout
	s.flags_mu.RUnlock()
	if timeout == nil {
		s.acks.Store(id, ack)
		return
	}
	timer := utils.SetTimeout(func() {
		socket_log.Debug("event with ack id %d has timed out after %d ms", id, *timeout/time.Millisecond)
		s.acks.Delete(id)
		ack(errors.New("operation has timed out"))
	}, *timeout)
	s.acks.Store(id, func(args ...any) {
		utils.ClearTimeout(timer)
		ack(append([]any{nil}, args...)...)
	})
}

// To targets a room when broadcasting.
func (s *Socket) To(room ...Room) *BroadcastOperator {
	return s.newBroadcastOperator().To(room...)
}

// In targets a room when broadcasting.
func (s *Socket) In(room ...Room) *BroadcastOperator {
	return s.newBroadcastOperator().In(room...)
}

// Except excludes a room when broadcasting.
func (s *Socket) Except(room ...Room) *BroadcastOperator {
	return s.newBroadcastOperator().Except(room...)
}

// Send emits a "message" event.
func (s *Socket) Send(args ...any) *Socket {
	s.Emit("message", args...)
	return s
}

// Write is an alias for Send.
func (s *Socket) Write(args ...any) *Socket {
	s.Emit("message", args...)
	return s
}

func (s *Socket) packet(packet *parser.Packet, opts *BroadcastFlags) {
	packet.Nsp = s.nsp.Name()
	if opts == nil {
		opts = &BroadcastFlags{}
	}
	s.client._packet(packet, &opts.WriteOptions)
}

// Join adds this socket to rooms.
func (s *Socket) Join(rooms ...Room) {
	s.canJoin_mu.Lock()
	if !s.canJoin {
		s.canJoin_mu.Unlock()
		return
	}
	s.canJoin_mu.Unlock()

	socket_log.Debug("join room %v", rooms)
	s.adapter.AddAll(s.id, types.NewSet(rooms...))
}

// Leave removes this socket from room.
func (s *Socket) Leave(room Room) {
	socket_log.Debug("leave room %s", room)
	s.adapter.Del(s.id, room)
}

func (s *Socket) leaveAll() {
	s.adapter.DelAll(s.id)
}

// _onconnect is called by Namespace upon successful middleware
// execution. The socket is registered in the namespace before Join is
// called, so adapters can observe it mid-join.
func (s *Socket) _onconnect() {
	socket_log.Debug("socket connected - writing packet")

	s.connected_mu.Lock()
	s.connected = true
	s.connected_mu.Unlock()

	s.Join(Room(s.id))
	s.packet(&parser.Packet{
		Type: parser.CONNECT,
		Data: map[string]any{
			"sid": s.id,
		},
	}, nil)
}

// _onpacket is called by Client for each inbound packet addressed to this socket.
func (s *Socket) _onpacket(packet *parser.Packet) {
	socket_log.Debug("got packet %v", packet)
	switch packet.Type {
	case parser.EVENT, parser.BINARY_EVENT:
		s.onevent(packet)
	case parser.ACK, parser.BINARY_ACK:
		s.onack(packet)
	case parser.DISCONNECT:
		s.ondisconnect()
	}
}

func (s *Socket) onevent(packet *parser.Packet) {
	args, _ := packet.Data.([]any)
	socket_log.Debug("emitting event %v", args)
	if packet.Id != nil {
		socket_log.Debug("attaching ack callback to event")
		args = append(args, s.ack(*packet.Id))
	}
	s._anyListeners_mu.RLock()
	listeners := append([]events.Listener{}, s._anyListeners...)
	s._anyListeners_mu.RUnlock()
	for _, listener := range listeners {
		listener(args...)
	}
	s.dispatch(args)
}

// ack produces a single-shot ack callback to send back to this event's sender.
func (s *Socket) ack(id uint64) func(...any) {
	var sent int32
	return func(args ...any) {
		if atomic.CompareAndSwapInt32(&sent, 0, 1) {
			socket_log.Debug("sending ack %v", args)
			s.packet(&parser.Packet{
				Id:   &id,
				Type: parser.ACK,
				Data: args,
			}, nil)
		}
	}
}

func (s *Socket) onack(packet *parser.Packet) {
	if packet.Id == nil {
		socket_log.Debug("bad ack nil")
		return
	}
	if ack, ok := s.acks.LoadAndDelete(*packet.Id); ok {
		socket_log.Debug("calling ack %d with %v", *packet.Id, packet.Data)
		args, _ := packet.Data.([]any)
		ack(args...)
	} else {
		socket_log.Debug("bad ack %d", *packet.Id)
	}
}

func (s *Socket) ondisconnect() {
	socket_log.Debug("got disconnect packet")
	s._onclose("client namespace disconnect")
}

func (s *Socket) _onerror(err any) {
	if s.ListenerCount("error") > 0 {
		s.EmitReserved("error", err)
	} else {
		socket_log.Error("missing error handler on socket")
		socket_log.Error("%v", err)
	}
}

// _onclose runs the disconnect lifecycle: disconnecting → cleanup →
// unregister from namespace/client → disconnect.
func (s *Socket) _onclose(reason any) *Socket {
	if !s.Connected() {
		return s
	}

	socket_log.Debug("closing socket - reason %v", reason)
	s.EmitReserved("disconnecting", reason)
	s._cleanup()
	s.nsp._remove(s)
	s.client._remove(s)
	s.connected_mu.Lock()
	s.connected = false
	s.connected_mu.Unlock()
	s.EmitReserved("disconnect", reason)
	return nil
}

func (s *Socket) _cleanup() {
	s.leaveAll()
	s.canJoin_mu.Lock()
	s.canJoin = false
	s.canJoin_mu.Unlock()
}

// _error sends a CONNECT_ERROR packet (namespace authorization rejection).
func (s *Socket) _error(err any) {
	s.packet(&parser.Packet{
		Type: parser.CONNECT_ERROR,
		Data: err,
	}, nil)
}

// Disconnect closes this socket; if closeTransport is true the whole
// transport connection is torn down, otherwise only this namespace is left.
func (s *Socket) Disconnect(closeTransport bool) *Socket {
	if !s.Connected() {
		return s
	}
	if closeTransport {
		s.client._disconnect()
	} else {
		s.packet(&parser.Packet{Type: parser.DISCONNECT}, nil)
		s._onclose("server namespace disconnect")
	}
	return s
}

func (s *Socket) Compress(compress bool) *Socket {
	s.flags_mu.Lock()
	s.flags.Compress = compress
	s.flags_mu.Unlock()
	return s
}

func (s *Socket) Volatile() *Socket {
	s.flags_mu.Lock()
	s.flags.Volatile = true
	s.flags_mu.Unlock()
	return s
}

// Broadcast scopes the next emit to everyone but this socket.
func (s *Socket) Broadcast() *BroadcastOperator {
	return s.newBroadcastOperator()
}

// Local scopes the next emit to this node only.
func (s *Socket) Local() *BroadcastOperator {
	return s.newBroadcastOperator().Local()
}

// Timeout arms an ack-timeout for the next Emit call.
func (s *Socket) Timeout(timeout time.Duration) *Socket {
	s.flags_mu.Lock()
	s.flags.Timeout = &timeout
	s.flags_mu.Unlock()
	return s
}

func (s *Socket) dispatch(event []any) {
	socket_log.Debug("dispatching an event %v", event)
	s.run(event, func(err error) {
		if err != nil {
			s._onerror(err)
			return
		}
		if s.Connected() {
			s.EmitUntyped(event[0].(string), event[1:]...)
		} else {
			socket_log.Debug("ignore packet received after disconnection")
		}
	})
}

// Use registers per-event middleware, run before every dispatched event.
func (s *Socket) Use(fn func([]any, func(error))) *Socket {
	s.fns_mu.Lock()
	defer s.fns_mu.Unlock()

	s.fns = append(s.fns, fn)
	return s
}

// run executes the event middleware chain, short-circuiting on the
// first error, deferring its completion one goroutine scheduling tick
// so that connect-handler-registered listeners observe consistent state.
func (s *Socket) run(event []any, fn func(err error)) {
	s.fns_mu.RLock()
	fns := append([]func([]any, func(error)){}, s.fns...)
	s.fns_mu.RUnlock()

	if length := len(fns); length > 0 {
		var step func(i int)
		step = func(i int) {
			fns[i](event, func(err error) {
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

func (s *Socket) Disconnected() bool {
	return !s.Connected()
}

// Conn returns the underlying transport Connection.
func (s *Socket) Conn() any {
	return s.client.conn
}

func (s *Socket) Rooms() *types.Set[Room] {
	if rooms := s.adapter.SocketRooms(s.id); rooms != nil {
		return rooms
	}
	return types.NewSet[Room]()
}

// OnAny adds a catch-all listener fired for every inbound event, with
// the event name as the listener's first argument.
func (s *Socket) OnAny(listener events.Listener) *Socket {
	s._anyListeners_mu.Lock()
	defer s._anyListeners_mu.Unlock()
	s._anyListeners = append(s._anyListeners, listener)
	return s
}

// PrependAny is like OnAny but runs before existing catch-all listeners.
func (s *Socket) PrependAny(listener events.Listener) *Socket {
	s._anyListeners_mu.Lock()
	defer s._anyListeners_mu.Unlock()
	s._anyListeners = append([]events.Listener{listener}, s._anyListeners...)
	return s
}

// OffAny removes listener (or every catch-all listener, if nil).
func (s *Socket) OffAny(listener events.Listener) *Socket {
	s._anyListeners_mu.Lock()
	defer s._anyListeners_mu.Unlock()

	if len(s._anyListeners) == 0 {
		return s
	}
	if listener == nil {
		s._anyListeners = nil
		return s
	}
	target := reflect.ValueOf(listener).Pointer()
	for i, l := range s._anyListeners {
		if reflect.ValueOf(l).Pointer() == target {
			s._anyListeners = append(s._anyListeners[:i], s._anyListeners[i+1:]...)
			return s
		}
	}
	return s
}

func (s *Socket) ListenersAny() []events.Listener {
	s._anyListeners_mu.RLock()
	defer s._anyListeners_mu.RUnlock()
	return append([]events.Listener{}, s._anyListeners...)
}

// OnAnyOutgoing adds a catch-all listener fired for every outgoing emit.
func (s *Socket) OnAnyOutgoing(listener events.Listener) *Socket {
	s._anyOutgoingListeners_mu.Lock()
	defer s._anyOutgoingListeners_mu.Unlock()
	s._anyOutgoingListeners = append(s._anyOutgoingListeners, listener)
	return s
}

// PrependAnyOutgoing is like OnAnyOutgoing but runs first.
func (s *Socket) PrependAnyOutgoing(listener events.Listener) *Socket {
	s._anyOutgoingListeners_mu.Lock()
	defer s._anyOutgoingListeners_mu.Unlock()
	s._anyOutgoingListeners = append([]events.Listener{listener}, s._anyOutgoingListeners...)
	return s
}

// OffAnyOutgoing removes listener (or every outgoing catch-all, if nil).
func (s *Socket) OffAnyOutgoing(listener events.Listener) *Socket {
	s._anyOutgoingListeners_mu.Lock()
	defer s._anyOutgoingListeners_mu.Unlock()

	if len(s._anyOutgoingListeners) == 0 {
		return s
	}
	if listener == nil {
		s._anyOutgoingListeners = nil
		return s
	}
	target := reflect.ValueOf(listener).Pointer()
	for i, l := range s._anyOutgoingListeners {
		if reflect.ValueOf(l).Pointer() == target {
			s._anyOutgoingListeners = append(s._anyOutgoingListeners[:i], s._anyOutgoingListeners[i+1:]...)
			return s
		}
	}
	return s
}

func (s *Socket) ListenersAnyOutgoing() []events.Listener {
	s._anyOutgoingListeners_mu.RLock()
	defer s._anyOutgoingListeners_mu.RUnlock()
	return append([]events.Listener{}, s._anyOutgoingListeners...)
}

func (s *Socket) notifyOutgoingListeners(packet *parser.Packet) {
	s._anyOutgoingListeners_mu.RLock()
	listeners := append([]events.Listener{}, s._anyOutgoingListeners...)
	s._anyOutgoingListeners_mu.RUnlock()

	for _, listener := range listeners {
		if args, ok := packet.Data.([]any); ok {
			listener(args...)
		} else {
			listener(packet.Data)
		}
	}
}

func (s *Socket) newBroadcastOperator() *BroadcastOperator {
	s.flags_mu.Lock()
	flags := *s.flags
	s.flags = &BroadcastFlags{}
	s.flags_mu.Unlock()
	return NewBroadcastOperator(s.adapter, types.NewSet[Room](), types.NewSet[Room](Room(s.id)), &flags)
}
