package parser

// PacketType is the single-byte marker that opens every encoded packet.
type PacketType byte

// Valid reports whether t is one of the known packet type markers.
func (t PacketType) Valid() bool {
	return t >= '0' && t <= '6'
}

const (
	CONNECT       PacketType = '0'
	DISCONNECT    PacketType = '1'
	EVENT         PacketType = '2'
	ACK           PacketType = '3'
	CONNECT_ERROR PacketType = '4'
	BINARY_EVENT  PacketType = '5'
	BINARY_ACK    PacketType = '6'
)

// Packet is the decoded form of a single wire packet.
type Packet struct {
	Type        PacketType
	Nsp         string
	Data        any
	Id          *uint64
	Attachments *uint64
}
