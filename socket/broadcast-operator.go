package socket

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lzh06550107/eventmux/pkg/types"
	"github.com/lzh06550107/eventmux/pkg/utils"
	"github.com/lzh06550107/eventmux/parser"
)

// BroadcastOperator is the immutable, chainable builder every
// broadcasting entrypoint (Namespace, Socket.Broadcast, Server) returns.
// Each To/Except/Compress/... call produces a new operator rather than
// mutating the receiver, so `a := io.To("x"); a.To("y")` never lets the
// second call leak into a.
type BroadcastOperator struct {
	adapter     Adapter
	rooms       *types.Set[Room]
	exceptRooms *types.Set[Room]
	flags       *BroadcastFlags
}

func NewBroadcastOperator(adapter Adapter, rooms *types.Set[Room], exceptRooms *types.Set[Room], flags *BroadcastFlags) *BroadcastOperator {
	b := &BroadcastOperator{adapter: adapter}
	if rooms == nil {
		b.rooms = types.NewSet[Room]()
	} else {
		b.rooms = rooms
	}
	if exceptRooms == nil {
		b.exceptRooms = types.NewSet[Room]()
	} else {
		b.exceptRooms = exceptRooms
	}
	if flags == nil {
		b.flags = &BroadcastFlags{}
	} else {
		b.flags = flags
	}
	return b
}

// To targets a room (or several) for the next operation.
func (b *BroadcastOperator) To(room ...Room) *BroadcastOperator {
	rooms := types.NewSet(b.rooms.Keys()...)
	rooms.Add(room...)
	return NewBroadcastOperator(b.adapter, rooms, b.exceptRooms, b.flags)
}

// In is an alias of To.
func (b *BroadcastOperator) In(room ...Room) *BroadcastOperator {
	return b.To(room...)
}

// Except excludes a room (or several) from the next operation.
func (b *BroadcastOperator) Except(room ...Room) *BroadcastOperator {
	exceptRooms := types.NewSet(b.exceptRooms.Keys()...)
	exceptRooms.Add(room...)
	return NewBroadcastOperator(b.adapter, b.rooms, exceptRooms, b.flags)
}

func (b *BroadcastOperator) Compress(compress bool) *BroadcastOperator {
	flags := *b.flags
	flags.Compress = compress
	return NewBroadcastOperator(b.adapter, b.rooms, b.exceptRooms, &flags)
}

// Volatile marks the next emit droppable if a recipient isn't
// currently able to receive it.
func (b *BroadcastOperator) Volatile() *BroadcastOperator {
	flags := *b.flags
	flags.Volatile = true
	return NewBroadcastOperator(b.adapter, b.rooms, b.exceptRooms, &flags)
}

// Local restricts the next emit to sockets known to this process,
// suppressing any cross-cluster forwarding a distributed Adapter would
// otherwise perform.
func (b *BroadcastOperator) Local() *BroadcastOperator {
	flags := *b.flags
	flags.Local = true
	return NewBroadcastOperator(b.adapter, b.rooms, b.exceptRooms, &flags)
}

// Timeout arms an ack-collection deadline for the next Emit call that
// supplies a trailing ack callback.
func (b *BroadcastOperator) Timeout(timeout time.Duration) *BroadcastOperator {
	flags := *b.flags
	flags.Timeout = &timeout
	return NewBroadcastOperator(b.adapter, b.rooms, b.exceptRooms, &flags)
}

// Emit broadcasts ev to every socket this operator resolves to. If the
// trailing argument is a func(error, []any) ack callback, the call
// instead collects one response per matched socket (and, if Timeout
// was set, fails the ack after that deadline) before invoking it.
func (b *BroadcastOperator) Emit(ev string, args ...any) error {
	if SOCKET_RESERVED_EVENTS.Has(ev) {
		return fmt.Errorf("%q is a reserved event name", ev)
	}
	data := append([]any{ev}, args...)
	dataLen := len(data)

	packet := &parser.Packet{
		Type: parser.EVENT,
		Data: data,
	}

	ack, withAck := data[dataLen-1].(func(error, []any))
	if !withAck {
		b.adapter.Broadcast(packet, &BroadcastOptions{
			Rooms:  b.rooms,
			Except: b.exceptRooms,
			Flags:  b.flags,
		})
		return nil
	}

	packet.Data = data[:dataLen-1]

	var timedOut atomic.Bool
	var responsesMu sync.Mutex
	responses := []any{}

	var timer *utils.Timer
	if b.flags.Timeout != nil {
		timer = utils.SetTimeout(func() {
			timedOut.Store(true)
			responsesMu.Lock()
			collected := append([]any{}, responses...)
			responsesMu.Unlock()
			ack(errors.New("operation has timed out"), collected)
		}, *b.flags.Timeout)
	}

	var expectedServerCount atomic.Int64
	expectedServerCount.Store(-1)
	var actualServerCount atomic.Int64
	var expectedClientCount atomic.Uint64

	checkCompleteness := func() {
		responsesMu.Lock()
		count := uint64(len(responses))
		collected := append([]any{}, responses...)
		responsesMu.Unlock()

		if !timedOut.Load() && expectedServerCount.Load() == actualServerCount.Load() && count == expectedClientCount.Load() {
			utils.ClearTimeout(timer)
			ack(nil, collected)
		}
	}

	b.adapter.BroadcastWithAck(packet, &BroadcastOptions{
		Rooms:  b.rooms,
		Except: b.exceptRooms,
		Flags:  b.flags,
	}, func(clientCount uint64) {
		// each Socket.IO-style server in the cluster reports how many
		// clients it notified
		expectedClientCount.Add(clientCount)
		actualServerCount.Add(1)
		checkCompleteness()
	}, func(clientResponse ...any) {
		responsesMu.Lock()
		responses = append(responses, clientResponse...)
		responsesMu.Unlock()
		checkCompleteness()
	})
	expectedServerCount.Store(b.adapter.ServerCount())
	checkCompleteness()
	return nil
}

// AllSockets returns the sids this operator resolves to.
//
// Deprecated: prefer FetchSockets, which also works across a cluster.
func (b *BroadcastOperator) AllSockets() (*types.Set[SocketId], error) {
	if b.adapter == nil {
		return nil, errors.New("no adapter for this namespace, are you trying to get the list of clients of a dynamic namespace?")
	}
	return b.adapter.Sockets(b.rooms), nil
}

// FetchSockets returns the matching socket instances, including remote
// ones when the Adapter is distributed.
func (b *BroadcastOperator) FetchSockets() (remoteSockets []*RemoteSocket) {
	for _, socket := range b.adapter.FetchSockets(&BroadcastOptions{
		Rooms:  b.rooms,
		Except: b.exceptRooms,
		Flags:  b.flags,
	}) {
		if s, ok := socket.(*RemoteSocket); ok {
			remoteSockets = append(remoteSockets, s)
		} else if sd, ok := socket.(SocketDetails); ok {
			remoteSockets = append(remoteSockets, NewRemoteSocket(b.adapter, sd))
		}
	}
	return remoteSockets
}

func (b *BroadcastOperator) SocketsJoin(room ...Room) {
	b.adapter.AddSockets(&BroadcastOptions{
		Rooms:  b.rooms,
		Except: b.exceptRooms,
		Flags:  b.flags,
	}, room)
}

func (b *BroadcastOperator) SocketsLeave(room ...Room) {
	b.adapter.DelSockets(&BroadcastOptions{
		Rooms:  b.rooms,
		Except: b.exceptRooms,
		Flags:  b.flags,
	}, room)
}

func (b *BroadcastOperator) DisconnectSockets(closeTransport bool) {
	b.adapter.DisconnectSockets(&BroadcastOptions{
		Rooms:  b.rooms,
		Except: b.exceptRooms,
		Flags:  b.flags,
	}, closeTransport)
}

// RemoteSocket is a read-only handle to a socket that may live on
// another node in the cluster: its Handshake/Rooms/Data are a
// snapshot, but Emit/Join/Leave/Disconnect still reach the real socket
// via the Adapter's broadcast machinery.
type RemoteSocket struct {
	id        SocketId
	handshake *Handshake
	rooms     *types.Set[Room]
	data      any

	operator *BroadcastOperator
}

func (r *RemoteSocket) Id() SocketId        { return r.id }
func (r *RemoteSocket) Handshake() *Handshake { return r.handshake }
func (r *RemoteSocket) Rooms() *types.Set[Room] { return r.rooms }
func (r *RemoteSocket) Data() any           { return r.data }

func NewRemoteSocket(adapter Adapter, details SocketDetails) *RemoteSocket {
	r := &RemoteSocket{}
	r.id = details.Id()
	r.handshake = details.Handshake()
	r.rooms = types.NewSet(details.Rooms().Keys()...)
	r.data = details.Data()
	r.operator = NewBroadcastOperator(adapter, types.NewSet(Room(r.id)), nil, nil)
	return r
}

func (r *RemoteSocket) Emit(ev string, args ...any) error {
	return r.operator.Emit(ev, args...)
}

func (r *RemoteSocket) Join(room ...Room) {
	r.operator.SocketsJoin(room...)
}

func (r *RemoteSocket) Leave(room ...Room) {
	r.operator.SocketsLeave(room...)
}

func (r *RemoteSocket) Disconnect(closeTransport bool) *RemoteSocket {
	r.operator.DisconnectSockets(closeTransport)
	return r
}
