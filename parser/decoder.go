package parser

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/lzh06550107/eventmux/pkg/events"
)

// decoder is the default Decoder implementation.
type decoder struct {
	*events.EventEmitter

	reconstructor *binaryreconstructor
	mu            sync.RWMutex
}

// NewDecoder returns the default Decoder.
func NewDecoder() Decoder {
	return &decoder{EventEmitter: events.New()}
}

// Add feeds the decoder one wire frame: a string for a text frame, or
// a []byte/io.Reader for a binary attachment while a binary packet is
// being reconstructed. Emits "decoded" once a full Packet is ready.
func (d *decoder) Add(data any) error {
	switch tdata := data.(type) {
	case string:
		d.mu.RLock()
		reconstructing := d.reconstructor != nil
		d.mu.RUnlock()
		if reconstructing {
			return errors.New("got plaintext data when reconstructing a packet")
		}
		return d.decodeAsString(tdata)
	default:
		if IsBinary(data) {
			d.mu.RLock()
			reconstructing := d.reconstructor != nil
			d.mu.RUnlock()
			if !reconstructing {
				return errors.New("got binary data when not reconstructing a packet")
			}

			var raw []byte
			switch tdata := data.(type) {
			case io.Reader:
				if c, ok := data.(io.Closer); ok {
					defer c.Close()
				}
				b, err := io.ReadAll(tdata)
				if err != nil {
					return err
				}
				raw = b
			case []byte:
				raw = tdata
			}

			d.mu.Lock()
			packet, err := d.reconstructor.takeBinaryData(raw)
			if err != nil {
				d.mu.Unlock()
				return fmt.Errorf("decode error: %w", err)
			}
			if packet != nil {
				d.reconstructor = nil
			}
			d.mu.Unlock()

			if packet != nil {
				d.Emit("decoded", packet)
			}
			return nil
		}
		return fmt.Errorf("unknown type: %v", data)
	}
}

func (d *decoder) decodeAsString(str string) error {
	packet, err := d.decodeString(str)
	if err != nil {
		parser_log.Debug("decode err %v", err)
		return err
	}
	if packet.Type == BINARY_EVENT || packet.Type == BINARY_ACK {
		if attachments := packet.Attachments; attachments != nil && *attachments == 0 {
			d.Emit("decoded", packet)
			return nil
		}
		d.mu.Lock()
		d.reconstructor = NewBinaryReconstructor(packet)
		d.mu.Unlock()
	} else {
		d.Emit("decoded", packet)
	}
	return nil
}

// decodeString parses a single text frame into a Packet.
func (d *decoder) decodeString(s string) (packet *Packet, err error) {
	defer func(s string) {
		if err == nil {
			parser_log.Debug("decoded %s as %v", s, packet)
		}
	}(s)

	str := newCursor(s)
	packet = &Packet{}

	msgType, err := str.ReadByte()
	if err != nil {
		return nil, errors.New("invalid payload")
	}
	packet.Type = PacketType(msgType)
	if !packet.Type.Valid() {
		return nil, fmt.Errorf("unknown packet type %d", packet.Type)
	}

	if packet.Type == BINARY_EVENT || packet.Type == BINARY_ACK {
		buf, err := str.ReadString('-')
		if err != nil {
			return nil, errors.New("illegal attachments")
		}
		l := len(buf)
		if l < 2 {
			return nil, errors.New("illegal attachments")
		}
		attachments, err := strconv.ParseUint(buf[:l-1], 10, 64)
		if err != nil {
			return nil, errors.New("illegal attachments")
		}
		packet.Attachments = &attachments
	}

	if nsp, err := str.ReadByte(); err == nil {
		if nsp == '/' {
			rest, err := str.ReadString(',')
			if err != nil {
				if err != io.EOF {
					return nil, errors.New("illegal namespace")
				}
				packet.Nsp = "/" + rest
			} else {
				l := len(rest)
				if l < 1 {
					return nil, errors.New("illegal namespace")
				}
				packet.Nsp = "/" + rest[:l-1]
			}
		} else {
			if err := str.UnreadByte(); err != nil {
				return nil, errors.New("illegal namespace")
			}
			packet.Nsp = "/"
		}
	} else {
		if err != io.EOF {
			return nil, errors.New("illegal namespace")
		}
		packet.Nsp = "/"
	}

	if str.Len() > 0 {
		id := new(strings.Builder)
		for {
			b, err := str.ReadByte()
			if err != nil {
				if err == io.EOF {
					break
				}
				return nil, err
			}
			if b >= '0' && b <= '9' {
				id.WriteByte(b)
			} else {
				if err := str.UnreadByte(); err != nil {
					return nil, errors.New("illegal id")
				}
				break
			}
		}
		if id.Len() > 0 {
			parsedID, err := strconv.ParseUint(id.String(), 10, 64)
			if err != nil {
				return nil, err
			}
			packet.Id = &parsedID
		}
	}

	if str.Len() > 0 {
		var payload any
		if json.NewDecoder(str.Reader()).Decode(&payload) != nil {
			return nil, errors.New("invalid payload")
		}
		if isPayloadValid(packet.Type, payload) {
			packet.Data = payload
		} else {
			return nil, errors.New("invalid payload")
		}
	}

	return packet, nil
}

func isPayloadValid(t PacketType, payload any) bool {
	switch t {
	case CONNECT:
		_, ok := payload.(map[string]any)
		return ok
	case DISCONNECT:
		return payload == nil
	case CONNECT_ERROR:
		_, ok := payload.(map[string]any)
		if !ok {
			_, ok = payload.(string)
		}
		return ok
	case EVENT, BINARY_EVENT:
		data, ok := payload.([]any)
		return ok && len(data) > 0
	case ACK, BINARY_ACK:
		_, ok := payload.([]any)
		return ok
	}
	return false
}

// Destroy releases any in-progress binary reconstruction state.
func (d *decoder) Destroy() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.reconstructor != nil {
		d.reconstructor.finishedReconstruction()
		d.reconstructor = nil
	}
}
