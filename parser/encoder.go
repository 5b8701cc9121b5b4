package parser

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/lzh06550107/eventmux/pkg/log"
)

var parser_log = log.NewLog("eventmux:parser")

// encoder is the default Encoder implementation.
type encoder struct{}

// NewEncoder returns the default Encoder.
func NewEncoder() Encoder {
	return &encoder{}
}

// Encode turns packet into a single text frame, or, when its data
// contains binary leaves, a text frame describing placeholders
// followed by the extracted binary frames in attachment order.
func (e *encoder) Encode(packet *Packet) []any {
	parser_log.Debug("encoding packet %v", packet)
	if packet.Type == EVENT || packet.Type == ACK {
		if HasBinary(packet.Data) {
			if packet.Type == EVENT {
				packet.Type = BINARY_EVENT
			} else {
				packet.Type = BINARY_ACK
			}
			return e.encodeAsBinary(packet)
		}
	}
	return []any{e.encodeAsString(packet)}
}

func (e *encoder) encodeAsString(packet *Packet) string {
	str := bytes.NewBuffer(nil)
	str.WriteByte(byte(packet.Type))

	if packet.Type == BINARY_EVENT || packet.Type == BINARY_ACK {
		if packet.Attachments != nil {
			str.WriteString(strconv.FormatUint(*packet.Attachments, 10))
		}
		str.WriteByte('-')
	}

	if len(packet.Nsp) > 0 && packet.Nsp != "/" {
		str.WriteString(packet.Nsp)
		str.WriteByte(',')
	}

	if packet.Id != nil {
		str.WriteString(strconv.FormatUint(*packet.Id, 10))
	}

	if packet.Data != nil {
		if b, err := json.Marshal(packet.Data); err == nil {
			str.Write(b)
		}
	}

	parser_log.Debug("encoded %v as %v", packet, str.String())
	return str.String()
}

// encodeAsBinary deconstructs obj's binary leaves into placeholders
// and returns the packet's text frame followed by each raw buffer.
func (e *encoder) encodeAsBinary(obj *Packet) []any {
	packet, buffers := DeconstructPacket(obj)
	frames := make([]any, 0, len(buffers)+1)
	frames = append(frames, e.encodeAsString(packet))
	for _, b := range buffers {
		frames = append(frames, b)
	}
	return frames
}
