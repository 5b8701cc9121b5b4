package socket

import (
	"testing"
	"time"

	"github.com/lzh06550107/eventmux/pkg/types"
	"github.com/lzh06550107/eventmux/parser"
	"github.com/lzh06550107/eventmux/transport"
	"github.com/lzh06550107/eventmux/transport/memory"
)

// newTestServer builds a Server with a short connect timeout, suitable
// for tests that want to observe the timeout firing quickly.
func newTestServer(connectTimeout time.Duration) *Server {
	opts := DefaultServerOptions()
	opts.SetConnectTimeout(connectTimeout)
	return NewServer(opts)
}

func encodeFrame(t *testing.T, p *parser.Packet) any {
	t.Helper()
	frames := parser.NewEncoder().Encode(p)
	if len(frames) != 1 {
		t.Fatalf("expected a single frame, got %d", len(frames))
	}
	return frames[0]
}

// connectClient establishes nsp on conn. The default namespace
// auto-connects at Onconnection time when it carries no middleware (its
// CONNECT ack is piggy-backed onto the transport handshake rather than
// written as a frame — see Server.Onconnection), so in that case this
// only waits for that to have happened instead of feeding a redundant
// explicit CONNECT, which the client would reject as out-of-order.
func connectClient(t *testing.T, server *Server, conn *memory.Connection, nsp string) {
	t.Helper()
	if nsp == "/" {
		if n, ok := server.Nsps().Load("/"); ok && !n.hasMiddleware() {
			waitFor(t, func() bool { return conn.InitialPacket() != nil })
			return
		}
	}
	conn.Feed(encodeFrame(t, &parser.Packet{Type: parser.CONNECT, Nsp: nsp}))
	waitFor(t, func() bool { return len(conn.Written()) > 0 })
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}

// decodeOne decodes a single wire frame into its Packet, failing the
// test if the frame is malformed.
func decodeOne(t *testing.T, frame any) *parser.Packet {
	t.Helper()
	dec := parser.NewParser().Decoder()
	var got *parser.Packet
	dec.On("decoded", func(args ...any) { got = args[0].(*parser.Packet) })
	s, ok := frame.(string)
	if !ok {
		t.Fatalf("expected a string frame, got %T", frame)
	}
	if err := dec.Add(s); err != nil || got == nil {
		t.Fatalf("failed to decode frame %v: %v", frame, err)
	}
	return got
}

func TestDefaultNamespacePiggybacksConnectPacket(t *testing.T) {
	server := newTestServer(time.Second)
	connected := make(chan *Socket, 1)
	server.Sockets().(*Namespace).On("connection", func(args ...any) {
		connected <- args[0].(*Socket)
	})

	conn := memory.New("c1")
	server.Onconnection(conn)

	select {
	case s := <-connected:
		if !s.Connected() {
			t.Fatal("socket should be connected")
		}
	case <-time.After(time.Second):
		t.Fatal("never received connection event")
	}

	waitFor(t, func() bool { return conn.InitialPacket() != nil })

	pkt := decodeOne(t, conn.InitialPacket())
	if pkt.Type != parser.CONNECT {
		t.Fatalf("expected the piggy-backed frame to be a CONNECT packet, got type %v", pkt.Type)
	}
	if len(conn.Written()) != 0 {
		t.Fatalf("expected the CONNECT ack to be piggy-backed, not written separately, got %d frames", len(conn.Written()))
	}
}

func TestMiddlewareDisablesConnectPiggyback(t *testing.T) {
	server := newTestServer(time.Second)
	server.Sockets().Use(func(s *Socket, next func(*types.ExtendedError)) {
		next(nil)
	})

	conn := memory.New("c1b")
	server.Onconnection(conn)

	// With middleware installed, "/" no longer auto-connects: nothing is
	// piggy-backed, and the client must send its own CONNECT packet.
	time.Sleep(20 * time.Millisecond)
	if conn.InitialPacket() != nil {
		t.Fatal("expected no piggy-backed packet once / carries middleware")
	}

	connectClient(t, server, conn, "/")
	if len(conn.Written()) != 1 {
		t.Fatalf("expected the CONNECT ack to be written normally, got %d frames", len(conn.Written()))
	}
}

func TestSocketEventDispatch(t *testing.T) {
	server := newTestServer(time.Second)
	received := make(chan []any, 1)
	server.Sockets().(*Namespace).On("connection", func(args ...any) {
		s := args[0].(*Socket)
		s.On("greet", func(ev ...any) {
			received <- ev
		})
	})

	conn := memory.New("c2")
	server.Onconnection(conn)
	connectClient(t, server, conn, "/")

	evPacket := &parser.Packet{Type: parser.EVENT, Data: []any{"greet", "hello"}}
	conn.Feed(encodeFrame(t, evPacket))

	select {
	case args := <-received:
		if len(args) != 1 || args[0] != "hello" {
			t.Fatalf("unexpected event args %v", args)
		}
	case <-time.After(time.Second):
		t.Fatal("event never dispatched")
	}
}

func TestSocketAckRoundTrip(t *testing.T) {
	server := newTestServer(time.Second)
	server.Sockets().(*Namespace).On("connection", func(args ...any) {
		s := args[0].(*Socket)
		s.On("ping", func(ev ...any) {
			ack := ev[len(ev)-1].(func(...any))
			ack("pong")
		})
	})

	conn := memory.New("c3")
	server.Onconnection(conn)
	connectClient(t, server, conn, "/")

	id := uint64(1)
	conn.Feed(encodeFrame(t, &parser.Packet{Type: parser.EVENT, Data: []any{"ping"}, Id: &id}))

	waitFor(t, func() bool { return len(conn.Written()) >= 1 })
	frames := conn.Written()
	ackFrame, ok := frames[0].(string)
	if !ok || ackFrame[0] != byte(parser.ACK) {
		t.Fatalf("expected an ACK frame, got %v", frames[0])
	}
}

func TestSocketDisconnectRemovesFromNamespace(t *testing.T) {
	server := newTestServer(time.Second)
	conn := memory.New("c4")
	server.Onconnection(conn)
	connectClient(t, server, conn, "/")

	nsp := server.Sockets().(*Namespace)
	if nsp.Sockets().Len() != 1 {
		t.Fatalf("expected 1 socket registered, got %d", nsp.Sockets().Len())
	}

	conn.Feed(encodeFrame(t, &parser.Packet{Type: parser.DISCONNECT}))
	waitFor(t, func() bool { return nsp.Sockets().Len() == 0 })
}

func TestTransportCloseCascadesToSocket(t *testing.T) {
	server := newTestServer(time.Second)
	disconnected := make(chan any, 1)
	server.Sockets().(*Namespace).On("connection", func(args ...any) {
		s := args[0].(*Socket)
		s.On("disconnect", func(ev ...any) {
			if len(ev) > 0 {
				disconnected <- ev[0]
			} else {
				disconnected <- nil
			}
		})
	})

	conn := memory.New("c5")
	server.Onconnection(conn)
	connectClient(t, server, conn, "/")

	conn.Close("peer hung up")

	select {
	case <-disconnected:
	case <-time.After(time.Second):
		t.Fatal("socket never observed the transport close")
	}
}

func TestConnectTimeoutClosesIdleClient(t *testing.T) {
	server := newTestServer(20 * time.Millisecond)
	// Middleware disables the default-namespace auto-connect so the
	// client stays idle until the connect timeout forces it closed.
	server.Sockets().Use(func(s *Socket, next func(*types.ExtendedError)) {
		next(nil)
	})

	conn := memory.New("c6")
	server.Onconnection(conn)

	waitFor(t, func() bool { return conn.ReadyState() == transport.Closed })
}

func TestVolatilePacketSkippedWhenTransportNotWritable(t *testing.T) {
	server := newTestServer(time.Second)
	ready := make(chan *Socket, 1)
	server.Sockets().(*Namespace).On("connection", func(args ...any) {
		ready <- args[0].(*Socket)
	})

	conn := memory.New("volatile1")
	server.Onconnection(conn)
	<-ready

	conn.SetWritable(false)
	server.Sockets().Volatile().Emit("tick")
	time.Sleep(20 * time.Millisecond)
	if len(conn.Written()) != 0 {
		t.Fatalf("expected the volatile packet to be skipped, got %d frames", len(conn.Written()))
	}

	conn.SetWritable(true)
	server.Sockets().Volatile().Emit("tick")
	waitFor(t, func() bool { return len(conn.Written()) == 1 })
}
