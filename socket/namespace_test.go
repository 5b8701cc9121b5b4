package socket

import (
	"testing"
	"time"

	"github.com/lzh06550107/eventmux/pkg/types"
	"github.com/lzh06550107/eventmux/parser"
	"github.com/lzh06550107/eventmux/transport/memory"
)

func TestNamespaceMiddlewareRejection(t *testing.T) {
	server := newTestServer(time.Second)
	server.Sockets().Use(func(s *Socket, next func(*types.ExtendedError)) {
		next(types.NewExtendedError("nope", nil))
	})

	conn := memory.New("mw1")
	server.Onconnection(conn)
	conn.Feed(encodeFrame(t, &parser.Packet{Type: parser.CONNECT, Nsp: "/"}))

	waitFor(t, func() bool { return len(conn.Written()) > 0 })
	frame, ok := conn.Written()[0].(string)
	if !ok || frame[0] != byte(parser.CONNECT_ERROR) {
		t.Fatalf("expected a CONNECT_ERROR frame, got %v", conn.Written()[0])
	}
}

func TestNamespaceBroadcastRoomAndExcept(t *testing.T) {
	server := newTestServer(time.Second)
	ready := make(chan *Socket, 2)
	server.Sockets().(*Namespace).On("connection", func(args ...any) {
		ready <- args[0].(*Socket)
	})

	connA := memory.New("a")
	connB := memory.New("b")
	server.Onconnection(connA)
	server.Onconnection(connB)
	connectClient(t, server, connA, "/")
	connectClient(t, server, connB, "/")

	sa := <-ready
	sb := <-ready
	// middleware completion runs on its own goroutine, so the two
	// "connection" events can arrive in either order.
	if sa.client.conn != connA {
		sa, sb = sb, sa
	}
	sa.Join("room1")

	// Broadcast to room1 except sa: sb never joined room1, so neither
	// should receive the event.
	server.Sockets().(*Namespace).To("room1").Except(Room(sa.Id())).Emit("ping")
	time.Sleep(30 * time.Millisecond)
	if len(connA.Written()) != 0 || len(connB.Written()) != 0 {
		t.Fatalf("expected no frames delivered, got a=%d b=%d", len(connA.Written()), len(connB.Written()))
	}

	sb.Join("room1")
	server.Sockets().(*Namespace).To("room1").Except(Room(sa.Id())).Emit("ping")
	waitFor(t, func() bool { return len(connB.Written()) == 1 })
	if len(connA.Written()) != 0 {
		t.Fatalf("sa should have been excluded, got %d frames", len(connA.Written()))
	}
}

func TestNamespaceServerSideEmitRejectsReservedEvent(t *testing.T) {
	server := newTestServer(time.Second)
	nsp := server.Sockets().(*Namespace)
	if err := nsp.ServerSideEmit("connect"); err == nil {
		t.Fatal("expected ServerSideEmit to reject a reserved event name")
	}
}

func TestParentNamespaceDynamicMatch(t *testing.T) {
	server := newTestServer(time.Second)
	connectedNames := make(chan string, 1)

	match := func(name string, auth any, next func(error, bool)) {
		next(nil, name == "/tenant-1")
	}
	matchFn := ParentNspMatchFn(&match)
	server.Of(matchFn, func(args ...any) {
		s := args[0].(*Socket)
		connectedNames <- s.Nsp().Name()
	})

	conn := memory.New("dyn1")
	server.Onconnection(conn)
	connectClient(t, server, conn, "/tenant-1")

	select {
	case name := <-connectedNames:
		if name != "/tenant-1" {
			t.Fatalf("expected /tenant-1, got %s", name)
		}
	case <-time.After(time.Second):
		t.Fatal("dynamic namespace never connected")
	}

	if _, ok := server.Nsps().Load("/tenant-1"); !ok {
		t.Fatal("expected /tenant-1 to be registered as a concrete namespace")
	}
}

func TestParentNamespaceRejectsUnmatchedName(t *testing.T) {
	server := newTestServer(time.Second)
	match := func(name string, auth any, next func(error, bool)) {
		next(nil, name == "/tenant-1")
	}
	matchFn := ParentNspMatchFn(&match)
	server.Of(matchFn, nil)

	conn := memory.New("dyn2")
	server.Onconnection(conn)
	conn.Feed(encodeFrame(t, &parser.Packet{Type: parser.CONNECT, Nsp: "/unknown"}))

	waitFor(t, func() bool { return len(conn.Written()) > 0 })
	frame, ok := conn.Written()[0].(string)
	if !ok || frame[0] != byte(parser.CONNECT_ERROR) {
		t.Fatalf("expected CONNECT_ERROR for an unmatched dynamic namespace, got %v", conn.Written()[0])
	}
}

func TestClientConnectBufferReplaysAfterDefaultHandshake(t *testing.T) {
	server := newTestServer(time.Second)
	// Middleware on "/" (even one that always accepts) disables the
	// auto-connect piggyback, so the default namespace only finishes its
	// handshake once the client's own CONNECT packet is processed —
	// which is what this test needs in order to observe buffering.
	server.Sockets().Use(func(s *Socket, next func(*types.ExtendedError)) {
		next(nil)
	})
	server.Of("/chat", nil)
	connectedTo := make(chan string, 2)
	server.Sockets().(*Namespace).On("connection", func(args ...any) {
		connectedTo <- args[0].(*Socket).Nsp().Name()
	})
	server.Of("/chat", nil).On("connection", func(args ...any) {
		connectedTo <- args[0].(*Socket).Nsp().Name()
	})

	conn := memory.New("buf1")
	server.Onconnection(conn)

	// Non-default namespace CONNECT arrives first; it must be buffered
	// rather than rejected or processed out of order.
	conn.Feed(encodeFrame(t, &parser.Packet{Type: parser.CONNECT, Nsp: "/chat"}))
	conn.Feed(encodeFrame(t, &parser.Packet{Type: parser.CONNECT, Nsp: "/"}))

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case name := <-connectedTo:
			seen[name] = true
		case <-time.After(time.Second):
			t.Fatalf("only saw %d of 2 expected connections", i)
		}
	}
	if !seen["/"] || !seen["/chat"] {
		t.Fatalf("expected both / and /chat to connect, got %v", seen)
	}
}

func TestClientConnectBufferDrainsRejectionOnDefaultNamespaceDenial(t *testing.T) {
	server := newTestServer(time.Second)
	server.Sockets().Use(func(s *Socket, next func(*types.ExtendedError)) {
		next(types.NewExtendedError("denied", nil))
	})
	server.Of("/chat", nil)

	conn := memory.New("buf2")
	server.Onconnection(conn)

	conn.Feed(encodeFrame(t, &parser.Packet{Type: parser.CONNECT, Nsp: "/chat"}))
	conn.Feed(encodeFrame(t, &parser.Packet{Type: parser.CONNECT, Nsp: "/"}))

	waitFor(t, func() bool { return len(conn.Written()) >= 2 })

	errorNsps := map[string]bool{}
	for _, f := range conn.Written() {
		s, ok := f.(string)
		if !ok || s[0] != byte(parser.CONNECT_ERROR) {
			continue
		}
		dec := parser.NewParser().Decoder()
		var got *parser.Packet
		dec.On("decoded", func(args ...any) { got = args[0].(*parser.Packet) })
		if err := dec.Add(s); err == nil && got != nil {
			nsp := got.Nsp
			if nsp == "" {
				nsp = "/"
			}
			errorNsps[nsp] = true
		}
	}
	if !errorNsps["/"] || !errorNsps["/chat"] {
		t.Fatalf("expected CONNECT_ERROR for both / and /chat, got %v", errorNsps)
	}
}
