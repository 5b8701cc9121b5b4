package parser

import (
	"github.com/lzh06550107/eventmux/pkg/events"
)

// Protocol is the wire protocol version this package implements.
const Protocol = 5

// Encoder turns a Packet into one or more wire frames: a string for
// the leading text frame, and a []byte for each binary attachment.
type Encoder interface {
	Encode(*Packet) []any
}

// Decoder accumulates wire frames and emits a "decoded" event with the
// reassembled *Packet once a full packet (and any binary attachments
// it declares) has arrived.
type Decoder interface {
	On(ev events.EventName, listeners ...events.Listener) error
	Once(ev events.EventName, listeners ...events.Listener) error
	RemoveListener(ev events.EventName, l events.Listener) bool

	Add(any) error
	Destroy()
}

// Parser builds matched Encoder/Decoder pairs.
type Parser interface {
	Encoder() Encoder
	Decoder() Decoder
}

type parser struct{}

func (p *parser) Encoder() Encoder {
	return NewEncoder()
}

func (p *parser) Decoder() Decoder {
	return NewDecoder()
}

// NewParser returns the default Parser implementation.
func NewParser() Parser {
	return &parser{}
}
