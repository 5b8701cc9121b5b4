package socket

import (
	"testing"
	"time"

	"github.com/lzh06550107/eventmux/parser"
	"github.com/lzh06550107/eventmux/transport/memory"
)

// autoAck watches conn for the next EVENT frame carrying an ack id and,
// as soon as it shows up, feeds back a matching ACK frame — standing in
// for a real client replying to a server-initiated ack request.
func autoAck(t *testing.T, conn *memory.Connection, reply any) {
	t.Helper()
	baseline := len(conn.Written())
	go func() {
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			frames := conn.Written()
			if len(frames) > baseline {
				frame, ok := frames[baseline].(string)
				if ok {
					dec := parser.NewParser().Decoder()
					var pkt *parser.Packet
					dec.On("decoded", func(args ...any) { pkt = args[0].(*parser.Packet) })
					if dec.Add(frame) == nil && pkt != nil && pkt.Id != nil {
						conn.Feed(encodeFrame(t, &parser.Packet{
							Type: parser.ACK,
							Id:   pkt.Id,
							Data: []any{reply},
						}))
					}
				}
				return
			}
			time.Sleep(2 * time.Millisecond)
		}
	}()
}

func TestBroadcastOperatorEmitWithAckAggregates(t *testing.T) {
	server := newTestServer(time.Second)
	ready := make(chan *Socket, 2)
	server.Sockets().(*Namespace).On("connection", func(args ...any) {
		ready <- args[0].(*Socket)
	})

	connA := memory.New("poll-a")
	connB := memory.New("poll-b")
	server.Onconnection(connA)
	server.Onconnection(connB)
	connectClient(t, server, connA, "/")
	connectClient(t, server, connB, "/")
	<-ready
	<-ready

	autoAck(t, connA, "a-reply")
	autoAck(t, connB, "b-reply")

	done := make(chan []any, 1)
	server.Sockets().(*Namespace).EmitWithAck("poll")(func(responses []any, err error) {
		if err != nil {
			t.Errorf("unexpected error: %v", err)
			return
		}
		done <- responses
	})

	select {
	case responses := <-done:
		if len(responses) != 2 {
			t.Fatalf("expected 2 acks, got %d: %v", len(responses), responses)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ack never completed")
	}
}

func TestBroadcastOperatorEmitWithAckTimesOut(t *testing.T) {
	server := newTestServer(time.Second)
	ready := make(chan *Socket, 1)
	server.Sockets().(*Namespace).On("connection", func(args ...any) {
		ready <- args[0].(*Socket)
	})

	conn := memory.New("noreply")
	server.Onconnection(conn)
	connectClient(t, server, conn, "/")
	<-ready
	// deliberately never reply

	done := make(chan error, 1)
	server.Sockets().(*Namespace).Timeout(30 * time.Millisecond).Emit("poll", func(err error, responses []any) {
		done <- err
	})

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected a timeout error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ack callback never fired")
	}
}
