// Package transport defines the seam between the mux core and
// whatever carries bytes between process and peer. The core never
// dials, listens, or upgrades a connection itself — it only consumes
// this interface, exactly as a Connection already attached and open.
package transport

import "github.com/lzh06550107/eventmux/pkg/events"

// ReadyState mirrors a Connection's lifecycle stage.
type ReadyState string

const (
	Opening ReadyState = "opening"
	Open    ReadyState = "open"
	Closing ReadyState = "closing"
	Closed  ReadyState = "closed"
)

// WriteOptions controls how a single frame is written.
type WriteOptions struct {
	Compress bool
}

// Connection is the external transport collaborator. Implementations
// emit "data" (frame any: string|[]byte), "error" (err error), and
// "close" (reason string) on their embedded EventEmitter.
type Connection interface {
	Id() string
	ReadyState() ReadyState

	// Writable reports whether the transport can currently accept a
	// write without blocking or dropping it — distinct from ReadyState,
	// which only tracks open/closed. A volatile packet is skipped for a
	// connection that is open but not writable.
	Writable() bool

	// Write sends one frame (string for a text frame, []byte for a
	// binary attachment) to the peer.
	Write(frame any, opts *WriteOptions) error

	// Close tears the connection down. Idempotent: a second call is a
	// no-op. Implementations emit "close" exactly once, whether torn
	// down via Close or by the peer.
	Close(reason string)

	On(ev events.EventName, listeners ...events.Listener) error
	Once(ev events.EventName, listeners ...events.Listener) error
	RemoveListener(ev events.EventName, l events.Listener) bool
	RemoveAllListeners(ev events.EventName) bool

	// SetInitialPacket piggy-backs frame on the handshake response,
	// letting a Client skip a round trip for its CONNECT ack.
	SetInitialPacket(frame any)

	// Handshake metadata, captured once at connection time.
	RemoteAddress() string
	Headers() map[string][]string
	Query() map[string][]string
	URL() string
	Secure() bool
}
