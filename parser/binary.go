package parser

import (
	"bytes"
	"errors"
	"io"
)

// Placeholder stands in for a binary attachment inside a deconstructed
// packet's JSON payload; Num indexes into the attachment list that
// follows the packet's leading text frame.
type Placeholder struct {
	Placeholder bool `json:"_placeholder"`
	Num         int  `json:"num"`
}

// DeconstructPacket replaces every []byte/io.Reader leaf in packet.Data
// with a numbered Placeholder and returns the extracted buffers in
// attachment order, alongside the now-placeholder-only packet.
func DeconstructPacket(packet *Packet) (pack *Packet, buffers [][]byte) {
	pack = packet
	pack.Data = deconstructValue(packet.Data, &buffers)
	attachments := uint64(len(buffers))
	pack.Attachments = &attachments
	return pack, buffers
}

func deconstructValue(data any, buffers *[][]byte) any {
	if data == nil {
		return nil
	}

	if IsBinary(data) {
		placeholder := &Placeholder{Placeholder: true, Num: len(*buffers)}
		buf := bytes.NewBuffer(nil)
		switch tdata := data.(type) {
		case io.Reader:
			if c, ok := data.(io.Closer); ok {
				defer c.Close()
			}
			buf.ReadFrom(tdata)
		case []byte:
			buf.Write(tdata)
		}
		*buffers = append(*buffers, buf.Bytes())
		return placeholder
	}

	switch tdata := data.(type) {
	case []any:
		newData := make([]any, 0, len(tdata))
		for _, v := range tdata {
			newData = append(newData, deconstructValue(v, buffers))
		}
		return newData
	case map[string]any:
		newData := map[string]any{}
		for k, v := range tdata {
			newData[k] = deconstructValue(v, buffers)
		}
		return newData
	}
	return data
}

// ReconstructPacket replaces every Placeholder in data.Data with its
// corresponding entry from buffers, in natural placeholder order.
func ReconstructPacket(data *Packet, buffers [][]byte) (*Packet, error) {
	reconstructed, err := reconstructValue(data.Data, buffers)
	if err != nil {
		return nil, err
	}
	data.Data = reconstructed
	data.Attachments = nil
	return data, nil
}

func reconstructValue(data any, buffers [][]byte) (any, error) {
	if data == nil {
		return nil, nil
	}
	switch d := data.(type) {
	case *Placeholder:
		if d.Num < 0 || d.Num >= len(buffers) {
			return nil, errors.New("illegal attachments")
		}
		return buffers[d.Num], nil
	case []any:
		newData := make([]any, 0, len(d))
		for _, v := range d {
			rv, err := reconstructValue(v, buffers)
			if err != nil {
				return nil, err
			}
			newData = append(newData, rv)
		}
		return newData, nil
	case map[string]any:
		if num, ok := placeholderNum(d); ok {
			if num < 0 || num >= len(buffers) {
				return nil, errors.New("illegal attachments")
			}
			return buffers[num], nil
		}
		newData := map[string]any{}
		for k, v := range d {
			rv, err := reconstructValue(v, buffers)
			if err != nil {
				return nil, err
			}
			newData[k] = rv
		}
		return newData, nil
	}
	return data, nil
}

// placeholderNum reports whether d is a decoded Placeholder object,
// returning its attachment index when it is.
func placeholderNum(d map[string]any) (int, bool) {
	flag, ok := d["_placeholder"].(bool)
	if !ok || !flag {
		return 0, false
	}
	switch n := d["num"].(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	}
	return 0, false
}
