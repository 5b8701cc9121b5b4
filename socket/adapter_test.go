package socket

import (
	"testing"
	"time"

	"github.com/lzh06550107/eventmux/transport/memory"
)

func TestInMemoryAdapterRoomLifecycle(t *testing.T) {
	server := newTestServer(time.Second)
	ready := make(chan *Socket, 1)
	server.Sockets().(*Namespace).On("connection", func(args ...any) {
		ready <- args[0].(*Socket)
	})

	conn := memory.New("room1")
	server.Onconnection(conn)
	connectClient(t, server, conn, "/")
	s := <-ready

	s.Join("lobby")
	if rooms := s.Rooms(); !rooms.Has("lobby") || !rooms.Has(Room(s.Id())) {
		t.Fatalf("expected socket to have joined its own room and lobby, got %v", rooms.Keys())
	}

	s.Leave("lobby")
	if s.Rooms().Has("lobby") {
		t.Fatal("expected lobby to be left")
	}
}

func TestInMemoryAdapterExceptByRoom(t *testing.T) {
	server := newTestServer(time.Second)
	ready := make(chan *Socket, 2)
	server.Sockets().(*Namespace).On("connection", func(args ...any) {
		ready <- args[0].(*Socket)
	})

	connA := memory.New("ex-a")
	connB := memory.New("ex-b")
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
	_ = sb

	sa.Join("muted")

	server.Sockets().(*Namespace).Except("muted").Emit("announce")
	waitFor(t, func() bool { return len(connB.Written()) == 1 })
	if len(connA.Written()) != 0 {
		t.Fatalf("expected sa (in the excepted room) to not receive the broadcast, got %d frames", len(connA.Written()))
	}
}

func TestInMemoryAdapterDelAllOnDisconnect(t *testing.T) {
	server := newTestServer(time.Second)
	ready := make(chan *Socket, 1)
	server.Sockets().(*Namespace).On("connection", func(args ...any) {
		ready <- args[0].(*Socket)
	})

	conn := memory.New("leave-all")
	server.Onconnection(conn)
	connectClient(t, server, conn, "/")
	s := <-ready
	s.Join("room-a", "room-b")

	s.Disconnect(false)
	waitFor(t, func() bool { return server.Sockets().Adapter().SocketRooms(s.Id()) == nil })
}
