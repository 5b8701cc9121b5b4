package socket

import (
	"errors"
	"sync/atomic"

	"github.com/lzh06550107/eventmux/pkg/events"
	"github.com/lzh06550107/eventmux/pkg/types"
	"github.com/lzh06550107/eventmux/parser"
)

// inMemoryAdapter is the default, single-process Adapter: room
// membership lives in two maps, kept in sync (rooms->sids, sids->rooms),
// and broadcasts walk the Namespace's own socket table directly. A
// zero-value *inMemoryAdapter{} serves as its own AdapterBuilder —
// New returns a fresh instance bound to the given namespace.
type inMemoryAdapter struct {
	*events.EventEmitter

	nsp       NamespaceInterface
	rooms     *types.Map[Room, *types.Set[SocketId]]
	sids      *types.Map[SocketId, *types.Set[Room]]
	encoder   parser.Encoder
	broadcast func(*parser.Packet, *BroadcastOptions)
}

// NewInMemoryAdapter returns the unbound adapter instance a Server uses
// as its default AdapterBuilder.
func NewInMemoryAdapter() Adapter {
	return &inMemoryAdapter{}
}

func (a *inMemoryAdapter) New(nsp NamespaceInterface) Adapter {
	n := &inMemoryAdapter{
		EventEmitter: events.New(),
		rooms:        types.NewMap[Room, *types.Set[SocketId]](),
		sids:         types.NewMap[SocketId, *types.Set[Room]](),
		nsp:          nsp,
		encoder:      nsp.Server().Encoder(),
	}
	return n
}

func (a *inMemoryAdapter) Rooms() *types.Map[Room, *types.Set[SocketId]] { return a.rooms }
func (a *inMemoryAdapter) Sids() *types.Map[SocketId, *types.Set[Room]]  { return a.sids }
func (a *inMemoryAdapter) Nsp() NamespaceInterface                       { return a.nsp }

func (a *inMemoryAdapter) Init()  {}
func (a *inMemoryAdapter) Close() {}

func (a *inMemoryAdapter) ServerCount() int64 { return 1 }

// SetBroadcast overrides how Broadcast dispatches, letting a
// ParentNamespace fan a packet out across every child it has spawned
// instead of this (template, sockets-less) namespace's own table.
func (a *inMemoryAdapter) SetBroadcast(fn func(*parser.Packet, *BroadcastOptions)) {
	a.broadcast = fn
}

// AddAll adds id to every room in rooms, creating rooms that don't yet exist.
func (a *inMemoryAdapter) AddAll(id SocketId, rooms *types.Set[Room]) {
	joined, _ := a.sids.LoadOrStore(id, types.NewSet[Room]())
	for _, room := range rooms.Keys() {
		joined.Add(room)
		ids, existed := a.rooms.LoadOrStore(room, types.NewSet[SocketId]())
		if !existed {
			a.Emit("create-room", room)
		}
		if !ids.Has(id) {
			ids.Add(id)
			a.Emit("join-room", room, id)
		}
	}
}

// Del removes id from room, deleting room if it becomes empty.
func (a *inMemoryAdapter) Del(id SocketId, room Room) {
	if rooms, ok := a.sids.Load(id); ok {
		rooms.Delete(room)
	}
	a.del(room, id)
}

func (a *inMemoryAdapter) del(room Room, id SocketId) {
	ids, ok := a.rooms.Load(room)
	if !ok {
		return
	}
	if ids.Delete(id) {
		a.Emit("leave-room", room, id)
	}
	if ids.Len() == 0 {
		if _, ok := a.rooms.LoadAndDelete(room); ok {
			a.Emit("delete-room", room)
		}
	}
}

// DelAll removes id from every room it has joined.
func (a *inMemoryAdapter) DelAll(id SocketId) {
	rooms, ok := a.sids.Load(id)
	if !ok {
		return
	}
	for _, room := range rooms.Keys() {
		a.del(room, id)
	}
	a.sids.Delete(id)
}

func (a *inMemoryAdapter) Broadcast(packet *parser.Packet, opts *BroadcastOptions) {
	if a.broadcast != nil {
		a.broadcast(packet, opts)
		return
	}

	flags := &BroadcastFlags{}
	if opts != nil && opts.Flags != nil {
		flags = opts.Flags
	}

	packet.Nsp = a.nsp.Name()
	// encode once; every matched socket writes the same frames instead
	// of each re-encoding the identical packet.
	encoded := a.encoder.Encode(packet)
	writeOpts := &WriteOptions{Compress: flags.Compress, Volatile: flags.Volatile, PreEncoded: encoded}

	a.apply(opts, func(socket *Socket) {
		socket.notifyOutgoingListeners(packet)
		socket.client._packet(packet, writeOpts)
	})
}

func (a *inMemoryAdapter) BroadcastWithAck(packet *parser.Packet, opts *BroadcastOptions, clientCountCb func(uint64), ack func(...any)) {
	flags := &BroadcastFlags{}
	if opts != nil && opts.Flags != nil {
		flags = opts.Flags
	}

	packet.Nsp = a.nsp.Name()
	// the _ids counter is shared across an entire namespace, so every
	// recipient can be given the same ack id for this one packet.
	id := a.nsp.Ids()
	packet.Id = &id
	// encode once, after the shared ack id is stamped on, so every
	// recipient writes the same frames and replies against the same id.
	encoded := a.encoder.Encode(packet)
	writeOpts := &WriteOptions{Compress: flags.Compress, Volatile: flags.Volatile, PreEncoded: encoded}

	var clientCount atomic.Uint64
	a.apply(opts, func(socket *Socket) {
		clientCount.Add(1)
		socket.acks.Store(id, ack)
		socket.notifyOutgoingListeners(packet)
		socket.client._packet(packet, writeOpts)
	})
	clientCountCb(clientCount.Load())
}

// Sockets returns the sids of sockets that have joined any room in rooms
// (every socket when rooms is empty).
func (a *inMemoryAdapter) Sockets(rooms *types.Set[Room]) *types.Set[SocketId] {
	sids := types.NewSet[SocketId]()
	a.apply(&BroadcastOptions{Rooms: rooms}, func(socket *Socket) {
		sids.Add(socket.Id())
	})
	return sids
}

func (a *inMemoryAdapter) SocketRooms(id SocketId) *types.Set[Room] {
	if rooms, ok := a.sids.Load(id); ok {
		return rooms
	}
	return nil
}

func (a *inMemoryAdapter) FetchSockets(opts *BroadcastOptions) []any {
	sockets := []any{}
	a.apply(opts, func(socket *Socket) {
		sockets = append(sockets, socket)
	})
	return sockets
}

func (a *inMemoryAdapter) AddSockets(opts *BroadcastOptions, rooms []Room) {
	a.apply(opts, func(socket *Socket) {
		socket.Join(rooms...)
	})
}

func (a *inMemoryAdapter) DelSockets(opts *BroadcastOptions, rooms []Room) {
	a.apply(opts, func(socket *Socket) {
		for _, room := range rooms {
			socket.Leave(room)
		}
	})
}

func (a *inMemoryAdapter) DisconnectSockets(opts *BroadcastOptions, closeTransport bool) {
	a.apply(opts, func(socket *Socket) {
		socket.Disconnect(closeTransport)
	})
}

// apply invokes callback once per socket matched by opts: every socket
// in every room of opts.Rooms (minus opts.Except), or — when Rooms is
// empty — every socket in the namespace (minus opts.Except).
func (a *inMemoryAdapter) apply(opts *BroadcastOptions, callback func(*Socket)) {
	if opts == nil {
		opts = &BroadcastOptions{Rooms: types.NewSet[Room](), Except: types.NewSet[Room]()}
	}

	rooms := opts.Rooms
	except := a.computeExceptSids(opts.Except)

	if rooms != nil && rooms.Len() > 0 {
		seen := types.NewSet[SocketId]()
		for _, room := range rooms.Keys() {
			ids, ok := a.rooms.Load(room)
			if !ok {
				continue
			}
			for _, id := range ids.Keys() {
				if seen.Has(id) || except.Has(id) {
					continue
				}
				if socket, ok := a.nsp.Sockets().Load(id); ok {
					callback(socket)
					seen.Add(id)
				}
			}
		}
		return
	}

	for _, id := range a.sids.Keys() {
		if except.Has(id) {
			continue
		}
		if socket, ok := a.nsp.Sockets().Load(id); ok {
			callback(socket)
		}
	}
}

func (a *inMemoryAdapter) computeExceptSids(exceptRooms *types.Set[Room]) *types.Set[SocketId] {
	exceptSids := types.NewSet[SocketId]()
	if exceptRooms != nil && exceptRooms.Len() > 0 {
		for _, room := range exceptRooms.Keys() {
			if ids, ok := a.rooms.Load(room); ok {
				exceptSids.Add(ids.Keys()...)
			}
		}
	}
	return exceptSids
}

// ServerSideEmit is unsupported: there is only ever one process behind
// this adapter, so there are no other servers to notify.
func (a *inMemoryAdapter) ServerSideEmit(string, ...any) error {
	return errors.New("this adapter does not support the ServerSideEmit() functionality")
}
