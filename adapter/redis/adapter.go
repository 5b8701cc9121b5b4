package redis

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/lzh06550107/eventmux/pkg/log"
	"github.com/lzh06550107/eventmux/pkg/types"
	"github.com/lzh06550107/eventmux/pkg/utils"
	"github.com/lzh06550107/eventmux/parser"
	"github.com/lzh06550107/eventmux/socket"
)

var redis_log = log.NewLog("eventmux:adapter:redis")

// pendingFetch accumulates kindRemoteFetch responses across the cluster.
type pendingFetch struct {
	snapshots []*socketSnapshot
	count     int
	want      int
	timer     *utils.Timer
	resolve   func([]*socketSnapshot)
	mu        sync.Mutex
}

// pendingServerSideEmit accumulates kindServerSideEmit responses.
type pendingServerSideEmit struct {
	responses [][]any
	count     int
	want      int
	timer     *utils.Timer
	resolve   func([][]any)
	mu        sync.Mutex
}

// pendingAck tracks an in-flight BroadcastWithAck fan-out.
type pendingAck struct {
	clientCountCb func(uint64)
	ack           func(...any)
	timer         *utils.Timer
}

// redisAdapter is the distributed Adapter. It embeds a bound in-memory
// Adapter for local bookkeeping (room membership, local delivery) and
// layers Redis Pub/Sub on top for everything that must reach the rest
// of the cluster.
type redisAdapter struct {
	socket.Adapter

	client *goredis.Client
	opts   *Options

	uid string

	channel         string
	requestChannel  string
	responseChannel string

	requests    *types.Map[string, *pendingFetch]
	ssePending  *types.Map[string, *pendingServerSideEmit]
	ackRequests *types.Map[string, *pendingAck]

	ctx    context.Context
	cancel context.CancelFunc
	psub   *goredis.PubSub
	sub    *goredis.PubSub
}

// NewAdapterBuilder returns the unbound Adapter builder a ServerOptions
// installs; every namespace gets its own bound instance via New.
func NewAdapterBuilder(client *goredis.Client, opts *Options) socket.Adapter {
	return &redisAdapter{
		Adapter: socket.NewInMemoryAdapter(),
		client:  client,
		opts:    opts.withDefaults(),
	}
}

func (r *redisAdapter) New(nsp socket.NamespaceInterface) socket.Adapter {
	n := &redisAdapter{
		Adapter:     r.Adapter.New(nsp),
		client:      r.client,
		opts:        r.opts,
		uid:         uuid.NewString(),
		requests:    types.NewMap[string, *pendingFetch](),
		ssePending:  types.NewMap[string, *pendingServerSideEmit](),
		ackRequests: types.NewMap[string, *pendingAck](),
	}
	n.channel = n.opts.Key + "#" + nsp.Name() + "#"
	n.requestChannel = n.opts.Key + "-request#" + nsp.Name() + "#"
	n.responseChannel = n.opts.Key + "-response#" + nsp.Name() + "#"
	return n
}

// Init subscribes to this namespace's broadcast, request, and response
// channels and starts the goroutines that drain them.
func (r *redisAdapter) Init() {
	r.Adapter.Init()

	r.ctx, r.cancel = context.WithCancel(context.Background())

	r.psub = r.client.PSubscribe(r.ctx, r.channel+"*")
	r.sub = r.client.Subscribe(r.ctx, r.requestChannel, r.responseChannel)

	go r.readLoop(r.psub.Channel(), r.onBroadcast)
	go r.readLoop(r.sub.Channel(), r.onRequestOrResponse)
}

func (r *redisAdapter) readLoop(ch <-chan *goredis.Message, handle func(channel string, payload []byte)) {
	for msg := range ch {
		handle(msg.Channel, []byte(msg.Payload))
	}
}

// Close tears down the Redis subscriptions for this namespace.
func (r *redisAdapter) Close() {
	if r.cancel != nil {
		r.cancel()
	}
	if r.psub != nil {
		_ = r.psub.Close()
	}
	if r.sub != nil {
		_ = r.sub.Close()
	}
	r.Adapter.Close()
}

// ServerCount reports the number of processes subscribed to this
// namespace's request channel, i.e. the size of the cluster.
func (r *redisAdapter) ServerCount() int64 {
	result, err := r.client.PubSubNumSub(r.ctx, r.requestChannel).Result()
	if err != nil {
		redis_log.Debug("PubSubNumSub failed: %v", err)
		return 1
	}
	return result[r.requestChannel]
}

// Broadcast delivers packet locally and, unless flagged Local,
// publishes it for every other node subscribed to this namespace.
func (r *redisAdapter) Broadcast(packet *parser.Packet, opts *socket.BroadcastOptions) {
	r.publishBroadcast(packet, opts)
	r.Adapter.Broadcast(packet, opts)
}

func (r *redisAdapter) publishBroadcast(packet *parser.Packet, opts *socket.BroadcastOptions) {
	if opts != nil && opts.Flags != nil && opts.Flags.Local {
		return
	}
	channel := r.channel
	if opts != nil && opts.Rooms != nil && opts.Rooms.Len() == 1 {
		channel += string(opts.Rooms.Keys()[0]) + "#"
	}
	payload, err := msgpack.Marshal(&broadcastMessage{Uid: r.uid, Packet: packet, Opts: encodeOptions(opts)})
	if err != nil {
		redis_log.Debug("failed to encode broadcast message: %v", err)
		return
	}
	if err := r.client.Publish(r.ctx, channel, payload).Err(); err != nil {
		redis_log.Debug("failed to publish broadcast: %v", err)
	}
}

func (r *redisAdapter) onBroadcast(channel string, payload []byte) {
	if !strings.HasPrefix(channel, r.channel) {
		return
	}
	room := ""
	if len(channel) > len(r.channel) {
		room = channel[len(r.channel) : len(channel)-1]
	}
	if room != "" {
		if _, ok := r.Rooms().Load(socket.Room(room)); !ok {
			return
		}
	}

	var msg broadcastMessage
	if err := msgpack.Unmarshal(payload, &msg); err != nil {
		redis_log.Debug("ignoring malformed broadcast message: %v", err)
		return
	}
	if msg.Uid == r.uid {
		return
	}
	if msg.Packet.Nsp == "" {
		msg.Packet.Nsp = "/"
	}
	if msg.Packet.Nsp != r.Nsp().Name() {
		return
	}
	r.Adapter.Broadcast(msg.Packet, decodeOptions(msg.Opts))
}

// BroadcastWithAck collects acks from local sockets directly and from
// remote nodes via the request/response channel, merging both into the
// caller's clientCountCb/ack callbacks.
func (r *redisAdapter) BroadcastWithAck(packet *parser.Packet, opts *socket.BroadcastOptions, clientCountCb func(uint64), ack func(...any)) {
	onlyLocal := opts != nil && opts.Flags != nil && opts.Flags.Local

	if !onlyLocal {
		requestId := uuid.NewString()
		req := &requestMessage{
			Uid:       r.uid,
			RequestId: requestId,
			Kind:      kindBroadcastWithAck,
			Packet:    packet,
			Opts:      encodeOptions(opts),
		}
		if payload, err := msgpack.Marshal(req); err == nil {
			timeout := r.opts.RequestsTimeout
			if opts != nil && opts.Flags != nil && opts.Flags.Timeout != nil {
				timeout = *opts.Flags.Timeout
			}
			timer := utils.SetTimeout(func() {
				r.ackRequests.Delete(requestId)
			}, timeout)
			r.ackRequests.Store(requestId, &pendingAck{clientCountCb: clientCountCb, ack: ack, timer: timer})
			if err := r.client.Publish(r.ctx, r.requestChannel, payload).Err(); err != nil {
				redis_log.Debug("failed to publish broadcastWithAck request: %v", err)
			}
		}
	}

	r.Adapter.BroadcastWithAck(packet, opts, clientCountCb, ack)
}

// FetchSockets returns local matches immediately merged with whatever
// remote matches arrive before RequestsTimeout elapses.
func (r *redisAdapter) FetchSockets(opts *socket.BroadcastOptions) []any {
	local := r.Adapter.FetchSockets(opts)

	if opts != nil && opts.Flags != nil && opts.Flags.Local {
		return local
	}

	numSub := r.ServerCount()
	if numSub <= 1 {
		return local
	}

	requestId := uuid.NewString()
	req := &requestMessage{Uid: r.uid, RequestId: requestId, Kind: kindRemoteFetch, Opts: encodeOptions(opts)}
	payload, err := msgpack.Marshal(req)
	if err != nil {
		return local
	}

	done := make(chan []*socketSnapshot, 1)
	pending := &pendingFetch{want: int(numSub) - 1, snapshots: snapshotsOf(local)}
	pending.resolve = func(snapshots []*socketSnapshot) { done <- snapshots }
	pending.timer = utils.SetTimeout(func() {
		r.requests.Delete(requestId)
		pending.mu.Lock()
		collected := append([]*socketSnapshot{}, pending.snapshots...)
		pending.mu.Unlock()
		select {
		case done <- collected:
		default:
		}
	}, r.opts.RequestsTimeout)
	r.requests.Store(requestId, pending)

	if err := r.client.Publish(r.ctx, r.requestChannel, payload).Err(); err != nil {
		redis_log.Debug("failed to publish remoteFetch request: %v", err)
	}

	snapshots := <-done
	results := make([]any, 0, len(snapshots))
	for _, s := range snapshots {
		results = append(results, remoteSnapshot{s})
	}
	return results
}

func (r *redisAdapter) AddSockets(opts *socket.BroadcastOptions, rooms []socket.Room) {
	if opts == nil || opts.Flags == nil || !opts.Flags.Local {
		r.publishRoomRequest(kindRemoteJoin, opts, rooms)
	}
	r.Adapter.AddSockets(opts, rooms)
}

func (r *redisAdapter) DelSockets(opts *socket.BroadcastOptions, rooms []socket.Room) {
	if opts == nil || opts.Flags == nil || !opts.Flags.Local {
		r.publishRoomRequest(kindRemoteLeave, opts, rooms)
	}
	r.Adapter.DelSockets(opts, rooms)
}

func (r *redisAdapter) publishRoomRequest(kind requestKind, opts *socket.BroadcastOptions, rooms []socket.Room) {
	req := &requestMessage{Uid: r.uid, RequestId: uuid.NewString(), Kind: kind, Opts: encodeOptions(opts), Rooms: rooms}
	payload, err := msgpack.Marshal(req)
	if err != nil {
		return
	}
	if err := r.client.Publish(r.ctx, r.requestChannel, payload).Err(); err != nil {
		redis_log.Debug("failed to publish room request: %v", err)
	}
}

func (r *redisAdapter) DisconnectSockets(opts *socket.BroadcastOptions, closeTransport bool) {
	if opts == nil || opts.Flags == nil || !opts.Flags.Local {
		req := &requestMessage{Uid: r.uid, RequestId: uuid.NewString(), Kind: kindRemoteDisconnect, Opts: encodeOptions(opts), Close: closeTransport}
		if payload, err := msgpack.Marshal(req); err == nil {
			if err := r.client.Publish(r.ctx, r.requestChannel, payload).Err(); err != nil {
				redis_log.Debug("failed to publish remoteDisconnect request: %v", err)
			}
		}
	}
	r.Adapter.DisconnectSockets(opts, closeTransport)
}

// ServerSideEmit notifies every other process in the cluster. If the
// trailing argument is a func([]any, error) ack callback, it is
// stripped and invoked once every other server has replied or
// RequestsTimeout elapses.
func (r *redisAdapter) ServerSideEmit(ev string, args ...any) error {
	data := append([]any{ev}, args...)
	dataLen := len(data)

	ack, withAck := data[dataLen-1].(func([]any, error))
	if !withAck {
		req := &requestMessage{Uid: r.uid, Kind: kindServerSideEmit, Data: data}
		payload, err := msgpack.Marshal(req)
		if err != nil {
			return err
		}
		return r.client.Publish(r.ctx, r.requestChannel, payload).Err()
	}

	numSub := r.ServerCount() - 1
	if numSub <= 0 {
		ack(nil, nil)
		return nil
	}

	requestId := uuid.NewString()
	req := &requestMessage{Uid: r.uid, RequestId: requestId, Kind: kindServerSideEmit, Data: data[:dataLen-1]}
	payload, err := msgpack.Marshal(req)
	if err != nil {
		return err
	}

	pending := &pendingServerSideEmit{want: int(numSub)}
	pending.resolve = func(responses [][]any) {
		args := make([]any, len(responses))
		for i, resp := range responses {
			args[i] = resp
		}
		ack(args, nil)
	}
	pending.timer = utils.SetTimeout(func() {
		r.ssePending.Delete(requestId)
		pending.mu.Lock()
		collected := append([][]any{}, pending.responses...)
		pending.mu.Unlock()
		args := make([]any, len(collected))
		for i, resp := range collected {
			args[i] = resp
		}
		ack(args, errors.New("timed out waiting for every server to respond"))
	}, r.opts.RequestsTimeout)
	r.ssePending.Store(requestId, pending)

	return r.client.Publish(r.ctx, r.requestChannel, payload).Err()
}

func (r *redisAdapter) onRequestOrResponse(channel string, payload []byte) {
	switch channel {
	case r.requestChannel:
		r.onRequest(payload)
	case r.responseChannel:
		r.onResponse(payload)
	}
}

func (r *redisAdapter) onRequest(payload []byte) {
	var req requestMessage
	if err := msgpack.Unmarshal(payload, &req); err != nil {
		redis_log.Debug("ignoring malformed request: %v", err)
		return
	}
	if req.Uid == r.uid {
		return
	}

	switch req.Kind {
	case kindRemoteJoin:
		r.Adapter.AddSockets(decodeOptions(req.Opts), req.Rooms)
	case kindRemoteLeave:
		r.Adapter.DelSockets(decodeOptions(req.Opts), req.Rooms)
	case kindRemoteDisconnect:
		r.Adapter.DisconnectSockets(decodeOptions(req.Opts), req.Close)
	case kindRemoteFetch:
		local := r.Adapter.FetchSockets(decodeOptions(req.Opts))
		resp := &responseMessage{RequestId: req.RequestId, Kind: req.Kind, Sockets: snapshotsOf(local)}
		r.publishResponse(resp)
	case kindServerSideEmit:
		ev, _ := req.Data[0].(string)
		if req.RequestId == "" {
			r.Nsp().EmitUntyped(ev, req.Data[1:]...)
			return
		}
		called := &sync.Once{}
		ackCb := func(args []any, _ error) {
			called.Do(func() {
				resp := &responseMessage{RequestId: req.RequestId, Kind: req.Kind, Data: args}
				r.publishResponse(resp)
			})
		}
		evArgs := append(append([]any{}, req.Data[1:]...), ackCb)
		r.Nsp().EmitUntyped(ev, evArgs...)
	case kindBroadcastWithAck:
		if req.RequestId == "" {
			return
		}
		r.Adapter.BroadcastWithAck(req.Packet, decodeOptions(req.Opts), func(count uint64) {
			r.publishResponse(&responseMessage{RequestId: req.RequestId, Kind: req.Kind, ClientCount: count})
		}, func(args ...any) {
			r.publishResponse(&responseMessage{RequestId: req.RequestId, Kind: req.Kind, AckArgs: args})
		})
	}
}

func (r *redisAdapter) publishResponse(resp *responseMessage) {
	payload, err := msgpack.Marshal(resp)
	if err != nil {
		redis_log.Debug("failed to encode response: %v", err)
		return
	}
	if err := r.client.Publish(r.ctx, r.responseChannel, payload).Err(); err != nil {
		redis_log.Debug("failed to publish response: %v", err)
	}
}

func (r *redisAdapter) onResponse(payload []byte) {
	var resp responseMessage
	if err := msgpack.Unmarshal(payload, &resp); err != nil {
		redis_log.Debug("ignoring malformed response: %v", err)
		return
	}

	switch resp.Kind {
	case kindBroadcastWithAck:
		pending, ok := r.ackRequests.Load(resp.RequestId)
		if !ok {
			return
		}
		if resp.AckArgs != nil {
			pending.ack(resp.AckArgs...)
		} else if pending.clientCountCb != nil {
			pending.clientCountCb(resp.ClientCount)
		}

	case kindRemoteFetch:
		pending, ok := r.requests.Load(resp.RequestId)
		if !ok {
			return
		}
		pending.mu.Lock()
		pending.snapshots = append(pending.snapshots, resp.Sockets...)
		pending.count++
		done := pending.count >= pending.want
		var snapshots []*socketSnapshot
		if done {
			snapshots = append([]*socketSnapshot{}, pending.snapshots...)
		}
		pending.mu.Unlock()
		if done {
			utils.ClearTimeout(pending.timer)
			r.requests.Delete(resp.RequestId)
			pending.resolve(snapshots)
		}

	case kindServerSideEmit:
		pending, ok := r.ssePending.Load(resp.RequestId)
		if !ok {
			return
		}
		pending.mu.Lock()
		pending.responses = append(pending.responses, resp.Data)
		pending.count++
		done := pending.count >= pending.want
		var responses [][]any
		if done {
			responses = append([][]any{}, pending.responses...)
		}
		pending.mu.Unlock()
		if done {
			utils.ClearTimeout(pending.timer)
			r.ssePending.Delete(resp.RequestId)
			pending.resolve(responses)
		}
	}
}
