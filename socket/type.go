package socket

import (
	"time"

	"github.com/lzh06550107/eventmux/pkg/events"
	"github.com/lzh06550107/eventmux/pkg/types"
	"github.com/lzh06550107/eventmux/parser"
)

// SocketId identifies a Socket within a Namespace.
type SocketId string

// Room identifies a named group of sockets tracked by an Adapter.
type Room string

// WriteOptions controls how a single packet is written to a transport.
type WriteOptions struct {
	Compress bool
	Volatile bool

	// PreEncoded, when non-nil, carries frames already produced by one
	// Encode call shared across every Socket targeted by a broadcast;
	// Client._packet writes them verbatim instead of re-encoding the
	// same packet once per recipient.
	PreEncoded []any
}

// BroadcastFlags carries WriteOptions plus the cross-socket semantics
// that only make sense on a broadcast (as opposed to a single write).
type BroadcastFlags struct {
	WriteOptions

	Local     bool
	Broadcast bool
	Binary    bool
	Timeout   *time.Duration
}

// BroadcastOptions scopes a broadcast to a set of rooms, an exclusion
// set, and a set of flags.
type BroadcastOptions struct {
	Rooms  *types.Set[Room]
	Except *types.Set[Room]
	Flags  *BroadcastFlags
}

// Adapter tracks room membership for a Namespace and dispatches
// broadcasts to the sockets it resolves to. The default implementation
// is in-memory and single-process; a distributed Adapter (e.g. backed
// by Redis Pub/Sub) fans the same operations out across a cluster.
type Adapter interface {
	Rooms() *types.Map[Room, *types.Set[SocketId]]
	Sids() *types.Map[SocketId, *types.Set[Room]]
	Nsp() NamespaceInterface

	New(NamespaceInterface) Adapter

	// Init is called once, right after New, for setup (e.g. subscribing
	// to a pub/sub channel). To be overridden by distributed adapters.
	Init()

	// Close tears down any resources Init acquired. To be overridden.
	Close()

	// ServerCount returns the number of Socket.IO servers in the cluster.
	ServerCount() int64

	// AddAll adds a socket to a list of rooms.
	AddAll(SocketId, *types.Set[Room])

	// Del removes a socket from a room.
	Del(SocketId, Room)

	// DelAll removes a socket from every room it has joined.
	DelAll(SocketId)

	SetBroadcast(func(*parser.Packet, *BroadcastOptions))
	// Broadcast dispatches a packet to every socket matched by opts.
	Broadcast(*parser.Packet, *BroadcastOptions)

	// BroadcastWithAck dispatches a packet and collects one
	// acknowledgement per matched socket; clientCountCb reports how
	// many acks to expect, ack is invoked once per reply.
	BroadcastWithAck(packet *parser.Packet, opts *BroadcastOptions, clientCountCb func(uint64), ack func(...any))

	// Sockets returns the sids of sockets that have joined any room in
	// rooms (every socket when rooms is empty).
	Sockets(rooms *types.Set[Room]) *types.Set[SocketId]

	// SocketRooms returns the rooms a given socket has joined.
	SocketRooms(SocketId) *types.Set[Room]

	// FetchSockets returns the matching socket instances (or remote
	// handles to them, for a distributed adapter).
	FetchSockets(*BroadcastOptions) []any

	// AddSockets makes the matching socket instances join rooms.
	AddSockets(*BroadcastOptions, []Room)

	// DelSockets makes the matching socket instances leave rooms.
	DelSockets(*BroadcastOptions, []Room)

	// DisconnectSockets makes the matching socket instances disconnect.
	DisconnectSockets(opts *BroadcastOptions, closeTransport bool)

	// ServerSideEmit sends an event to the other Socket.IO servers in the cluster.
	ServerSideEmit(string, ...any) error
}

// SocketDetails is the minimal read-only surface an Adapter needs to
// resolve FetchSockets results without depending on *Socket directly.
type SocketDetails interface {
	Id() SocketId
	Handshake() *Handshake
	Rooms() *types.Set[Room]
	Data() any
}

// NamespaceInterface is the surface ParentNamespace and BroadcastOperator
// need from a Namespace, kept as an interface so a dynamically-created
// child namespace can be swapped in without either depending on the
// other's concrete type.
type NamespaceInterface interface {
	EventEmitter() *StrictEventEmitter

	On(string, ...events.Listener) error
	Once(string, ...events.Listener) error
	EmitReserved(string, ...any)
	EmitUntyped(string, ...any)
	Listeners(string) []events.Listener

	Sockets() *types.Map[SocketId, *Socket]
	Server() *Server
	Adapter() Adapter
	Name() string
	Ids() uint64
	Use(func(*Socket, func(*types.ExtendedError))) NamespaceInterface
	To(...Room) *BroadcastOperator
	In(...Room) *BroadcastOperator
	Except(...Room) *BroadcastOperator
	Add(client *Client, auth any, onConnect func(*Socket), onError func(*types.ExtendedError)) *Socket
	Emit(string, ...any) error
	Send(...any) NamespaceInterface
	Write(...any) NamespaceInterface
	ServerSideEmit(string, ...any) error
	AllSockets() (*types.Set[SocketId], error)
	Compress(bool) *BroadcastOperator
	Volatile() *BroadcastOperator
	Local() *BroadcastOperator
	Timeout(time.Duration) *BroadcastOperator
	FetchSockets() ([]*RemoteSocket, error)
	SocketsJoin(...Room)
	SocketsLeave(...Room)
	DisconnectSockets(bool)
}
