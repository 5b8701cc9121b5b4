package redis

import (
	"testing"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/lzh06550107/eventmux/pkg/types"
	"github.com/lzh06550107/eventmux/socket"
)

func TestEncodeDecodeOptionsRoundTrip(t *testing.T) {
	timeout := msToDuration(1500)
	opts := &socket.BroadcastOptions{
		Rooms:  types.NewSet[socket.Room]("a", "b"),
		Except: types.NewSet[socket.Room]("c"),
		Flags: &socket.BroadcastFlags{
			WriteOptions: socket.WriteOptions{Compress: true},
			Local:        true,
			Broadcast:    true,
			Timeout:      &timeout,
		},
	}

	decoded := decodeOptions(encodeOptions(opts))

	if !decoded.Rooms.Has("a") || !decoded.Rooms.Has("b") || decoded.Rooms.Len() != 2 {
		t.Fatalf("rooms did not round-trip: %v", decoded.Rooms.Keys())
	}
	if !decoded.Except.Has("c") {
		t.Fatalf("except did not round-trip: %v", decoded.Except.Keys())
	}
	if !decoded.Flags.Compress || !decoded.Flags.Local || !decoded.Flags.Broadcast {
		t.Fatalf("flags did not round-trip: %+v", decoded.Flags)
	}
	if decoded.Flags.Timeout == nil || *decoded.Flags.Timeout != timeout {
		t.Fatalf("timeout did not round-trip: %v", decoded.Flags.Timeout)
	}
}

func TestEncodeOptionsNilIsNil(t *testing.T) {
	if encodeOptions(nil) != nil {
		t.Fatal("expected encodeOptions(nil) to return nil")
	}
	decoded := decodeOptions(nil)
	if decoded == nil || decoded.Rooms != nil {
		t.Fatalf("expected decodeOptions(nil) to return zero-value options, got %+v", decoded)
	}
}

func TestRequestMessageMsgpackRoundTrip(t *testing.T) {
	original := &requestMessage{
		Uid:       "node-a",
		RequestId: "req-1",
		Kind:      kindRemoteJoin,
		Rooms:     []socket.Room{"lobby"},
	}

	payload, err := msgpack.Marshal(original)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded requestMessage
	if err := msgpack.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if decoded.Uid != original.Uid || decoded.RequestId != original.RequestId || decoded.Kind != original.Kind {
		t.Fatalf("request header did not round-trip: %+v", decoded)
	}
	if len(decoded.Rooms) != 1 || decoded.Rooms[0] != "lobby" {
		t.Fatalf("rooms did not round-trip: %v", decoded.Rooms)
	}
}

func TestResponseMessageMsgpackRoundTrip(t *testing.T) {
	original := &responseMessage{
		RequestId:   "req-2",
		Kind:        kindRemoteFetch,
		ClientCount: 3,
		Sockets: []*socketSnapshot{
			{Id: "sid-1", Rooms: []socket.Room{"lobby"}, Data: "meta"},
		},
	}

	payload, err := msgpack.Marshal(original)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded responseMessage
	if err := msgpack.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if decoded.RequestId != original.RequestId || decoded.ClientCount != 3 {
		t.Fatalf("response header did not round-trip: %+v", decoded)
	}
	if len(decoded.Sockets) != 1 || decoded.Sockets[0].Id != "sid-1" {
		t.Fatalf("socket snapshots did not round-trip: %v", decoded.Sockets)
	}
}

func TestSnapshotsOfFiltersNonSocketDetails(t *testing.T) {
	details := []any{"not-a-socket", 42}
	snapshots := snapshotsOf(details)
	if len(snapshots) != 0 {
		t.Fatalf("expected non-SocketDetails values to be filtered out, got %d", len(snapshots))
	}
}

func TestRemoteSnapshotImplementsSocketDetails(t *testing.T) {
	snap := &socketSnapshot{Id: "sid-2", Rooms: []socket.Room{"room-a", "room-b"}, Data: "payload"}
	rs := remoteSnapshot{snap}

	if rs.Id() != "sid-2" {
		t.Fatalf("unexpected id: %v", rs.Id())
	}
	if rs.Rooms().Len() != 2 || !rs.Rooms().Has("room-a") {
		t.Fatalf("unexpected rooms: %v", rs.Rooms().Keys())
	}
	if rs.Data() != "payload" {
		t.Fatalf("unexpected data: %v", rs.Data())
	}
}

func TestOptionsWithDefaults(t *testing.T) {
	var nilOpts *Options
	resolved := nilOpts.withDefaults()
	if resolved.Key != defaultChannelPrefix || resolved.RequestsTimeout != defaultRequestsTimeout {
		t.Fatalf("expected defaults to be filled in, got %+v", resolved)
	}

	partial := &Options{Key: "custom"}
	resolved = partial.withDefaults()
	if resolved.Key != "custom" {
		t.Fatalf("expected custom key to be preserved, got %q", resolved.Key)
	}
	if resolved.RequestsTimeout != defaultRequestsTimeout {
		t.Fatalf("expected a zero timeout to fall back to the default, got %v", resolved.RequestsTimeout)
	}
}
