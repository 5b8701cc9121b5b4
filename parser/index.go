package parser

import "sync"

// binaryreconstructor accumulates a BINARY_EVENT/BINARY_ACK packet's
// attachments as they arrive, one takeBinaryData call per attachment,
// until the declared attachment count is reached.
type binaryreconstructor struct {
	buffers   [][]byte
	reconPack *Packet

	mu sync.Mutex
}

// NewBinaryReconstructor starts reconstruction for a just-decoded
// binary packet header.
func NewBinaryReconstructor(packet *Packet) *binaryreconstructor {
	return &binaryreconstructor{reconPack: packet}
}

// takeBinaryData records one attachment, returning the fully
// reconstructed Packet once the declared attachment count is reached.
func (b *binaryreconstructor) takeBinaryData(data []byte) (*Packet, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.reconPack == nil {
		return nil, nil
	}

	b.buffers = append(b.buffers, data)

	if attachments := b.reconPack.Attachments; attachments != nil && uint64(len(b.buffers)) == *attachments {
		packet, err := ReconstructPacket(b.reconPack, b.buffers)
		if err != nil {
			return nil, err
		}
		b.reconPack = nil
		b.buffers = nil
		return packet, nil
	}
	return nil, nil
}

// finishedReconstruction abandons an in-progress reconstruction.
func (b *binaryreconstructor) finishedReconstruction() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.reconPack = nil
	b.buffers = nil
}
