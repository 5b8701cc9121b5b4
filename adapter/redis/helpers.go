package redis

import (
	"time"

	"github.com/lzh06550107/eventmux/pkg/types"
	"github.com/lzh06550107/eventmux/socket"
)

func socketRoomSet(rooms []socket.Room) *types.Set[socket.Room] {
	return types.NewSet(rooms...)
}

func msToDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func snapshotsOf(details []any) []*socketSnapshot {
	snapshots := make([]*socketSnapshot, 0, len(details))
	for _, d := range details {
		sd, ok := d.(socket.SocketDetails)
		if !ok {
			continue
		}
		snapshots = append(snapshots, &socketSnapshot{
			Id:        sd.Id(),
			Handshake: sd.Handshake(),
			Rooms:     sd.Rooms().Keys(),
			Data:      sd.Data(),
		})
	}
	return snapshots
}

// remoteSnapshot implements socket.SocketDetails over a socketSnapshot
// received from another node, so it can be handed to
// socket.NewRemoteSocket the same way a local *socket.Socket would be.
type remoteSnapshot struct {
	s *socketSnapshot
}

func (r remoteSnapshot) Id() socket.SocketId           { return r.s.Id }
func (r remoteSnapshot) Handshake() *socket.Handshake  { return r.s.Handshake }
func (r remoteSnapshot) Rooms() *types.Set[socket.Room] { return types.NewSet(r.s.Rooms...) }
func (r remoteSnapshot) Data() any                     { return r.s.Data }
