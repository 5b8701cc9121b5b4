package parser

import (
	"reflect"
	"testing"
)

func decodeOne(t *testing.T, frames ...any) *Packet {
	t.Helper()
	d := NewDecoder()
	defer d.Destroy()

	var got *Packet
	d.On("decoded", func(args ...any) { got = args[0].(*Packet) })

	for _, f := range frames {
		if err := d.Add(f); err != nil {
			t.Fatalf("Add(%v) failed: %v", f, err)
		}
	}
	if got == nil {
		t.Fatal("decoder never emitted a packet")
	}
	return got
}

func TestEncodeDecodeEventRoundTrip(t *testing.T) {
	id := uint64(7)
	packet := &Packet{
		Type: EVENT,
		Nsp:  "/chat",
		Id:   &id,
		Data: []any{"greet", "hello"},
	}
	frames := NewEncoder().Encode(packet)
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame for a non-binary event, got %d", len(frames))
	}

	got := decodeOne(t, frames[0])
	if got.Type != EVENT || got.Nsp != "/chat" || got.Id == nil || *got.Id != 7 {
		t.Fatalf("unexpected decode result: %+v", got)
	}
	data, ok := got.Data.([]any)
	if !ok || len(data) != 2 || data[0] != "greet" || data[1] != "hello" {
		t.Fatalf("unexpected decoded payload: %v", got.Data)
	}
}

func TestEncodeDecodeDefaultNamespaceOmitsNsp(t *testing.T) {
	packet := &Packet{Type: CONNECT, Nsp: "/"}
	frames := NewEncoder().Encode(packet)
	str := frames[0].(string)
	if str != string(CONNECT) {
		t.Fatalf("expected the default namespace to be omitted from the wire form, got %q", str)
	}

	got := decodeOne(t, str)
	if got.Nsp != "/" {
		t.Fatalf("expected decode to default Nsp to /, got %q", got.Nsp)
	}
}

func TestEncodeDecodeBinaryEventReconstructsAttachments(t *testing.T) {
	packet := &Packet{
		Type: EVENT,
		Data: []any{"upload", []byte("file-bytes"), map[string]any{"nested": []byte("more-bytes")}},
	}
	frames := NewEncoder().Encode(packet)
	if len(frames) != 3 {
		t.Fatalf("expected a header frame plus 2 attachments, got %d", len(frames))
	}
	if packet.Type != BINARY_EVENT {
		t.Fatalf("expected HasBinary to upgrade the packet to BINARY_EVENT, got %v", packet.Type)
	}

	got := decodeOne(t, frames...)
	data, ok := got.Data.([]any)
	if !ok || len(data) != 3 {
		t.Fatalf("unexpected reconstructed payload: %v", got.Data)
	}
	if string(data[1].([]byte)) != "file-bytes" {
		t.Fatalf("expected first attachment to round-trip, got %v", data[1])
	}
	nested, ok := data[2].(map[string]any)
	if !ok || string(nested["nested"].([]byte)) != "more-bytes" {
		t.Fatalf("expected nested attachment to round-trip, got %v", data[2])
	}
}

func TestIsPayloadValidRejectsMalformedEvent(t *testing.T) {
	d := NewDecoder()
	defer d.Destroy()
	// EVENT payload must be a non-empty array.
	if err := d.Add(string(EVENT) + "{}"); err == nil {
		t.Fatal("expected an object payload for an EVENT packet to be rejected")
	}
	if err := d.Add(string(EVENT) + "[]"); err == nil {
		t.Fatal("expected an empty array payload for an EVENT packet to be rejected")
	}
}

func TestDeconstructReconstructPacketIdentity(t *testing.T) {
	original := &Packet{Data: []any{"x", []byte("raw")}}
	deconstructed, buffers := DeconstructPacket(original)
	if len(buffers) != 1 || string(buffers[0]) != "raw" {
		t.Fatalf("unexpected extracted buffers: %v", buffers)
	}

	reconstructed, err := ReconstructPacket(deconstructed, buffers)
	if err != nil {
		t.Fatalf("ReconstructPacket failed: %v", err)
	}
	want := []any{"x", []byte("raw")}
	got, ok := reconstructed.Data.([]any)
	if !ok || got[0] != want[0] || !reflect.DeepEqual(got[1], want[1]) {
		t.Fatalf("reconstruction mismatch: %v", reconstructed.Data)
	}
}
