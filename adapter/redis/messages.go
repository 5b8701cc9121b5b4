package redis

import (
	"github.com/lzh06550107/eventmux/parser"
	"github.com/lzh06550107/eventmux/socket"
)

// requestKind discriminates the request/response envelopes exchanged
// on the request and response channels.
type requestKind uint8

const (
	kindRemoteJoin requestKind = iota
	kindRemoteLeave
	kindRemoteDisconnect
	kindRemoteFetch
	kindServerSideEmit
	kindBroadcastWithAck
)

// wireFlags is BroadcastFlags trimmed to msgpack-friendly fields.
type wireFlags struct {
	Compress  bool
	Volatile  bool
	Local     bool
	Broadcast bool
	Binary    bool
	TimeoutMs int64
	HasTimeout bool
}

// wireOptions is socket.BroadcastOptions in wire form.
type wireOptions struct {
	Rooms  []socket.Room
	Except []socket.Room
	Flags  *wireFlags
}

// broadcastMessage is published on the namespace's broadcast channel
// (optionally room-scoped) whenever a local Broadcast isn't Local-flagged.
type broadcastMessage struct {
	Uid    string
	Packet *parser.Packet
	Opts   *wireOptions
}

// requestMessage is published on the namespace's request channel.
type requestMessage struct {
	Uid       string
	RequestId string
	Kind      requestKind

	Rooms []socket.Room
	Opts  *wireOptions

	Packet *parser.Packet // kindBroadcastWithAck

	Data []any // kindServerSideEmit

	Close bool // kindRemoteDisconnect
}

// socketSnapshot is the wire form of socket.SocketDetails, used to
// answer a kindRemoteFetch request.
type socketSnapshot struct {
	Id        socket.SocketId
	Handshake *socket.Handshake
	Rooms     []socket.Room
	Data      any
}

// responseMessage is published on the namespace's response channel.
type responseMessage struct {
	RequestId   string
	Kind        requestKind
	Sockets     []*socketSnapshot
	ClientCount uint64
	AckArgs     []any
	Data        []any
}

func encodeOptions(opts *socket.BroadcastOptions) *wireOptions {
	if opts == nil {
		return nil
	}
	w := &wireOptions{}
	if opts.Rooms != nil {
		w.Rooms = opts.Rooms.Keys()
	}
	if opts.Except != nil {
		w.Except = opts.Except.Keys()
	}
	if opts.Flags != nil {
		f := &wireFlags{
			Compress:  opts.Flags.Compress,
			Volatile:  opts.Flags.Volatile,
			Local:     opts.Flags.Local,
			Broadcast: opts.Flags.Broadcast,
			Binary:    opts.Flags.Binary,
		}
		if opts.Flags.Timeout != nil {
			f.HasTimeout = true
			f.TimeoutMs = opts.Flags.Timeout.Milliseconds()
		}
		w.Flags = f
	}
	return w
}

func decodeOptions(w *wireOptions) *socket.BroadcastOptions {
	if w == nil {
		return &socket.BroadcastOptions{}
	}
	opts := &socket.BroadcastOptions{
		Rooms:  socketRoomSet(w.Rooms),
		Except: socketRoomSet(w.Except),
	}
	if w.Flags != nil {
		flags := &socket.BroadcastFlags{
			WriteOptions: socket.WriteOptions{
				Compress: w.Flags.Compress,
				Volatile: w.Flags.Volatile,
			},
			Local:     w.Flags.Local,
			Broadcast: w.Flags.Broadcast,
			Binary:    w.Flags.Binary,
		}
		if w.Flags.HasTimeout {
			d := msToDuration(w.Flags.TimeoutMs)
			flags.Timeout = &d
		}
		opts.Flags = flags
	}
	return opts
}
