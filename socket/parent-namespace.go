package socket

import (
	"errors"
	"strconv"
	"sync/atomic"

	"github.com/lzh06550107/eventmux/pkg/log"
	"github.com/lzh06550107/eventmux/pkg/types"
	"github.com/lzh06550107/eventmux/parser"
)

var parent_namespace_log = log.NewLog("eventmux:parent-namespace")

var parentNamespaceCount uint64

// ParentNamespace is a template namespace matched by predicate or regex
// (see Server.Of) that lazily spawns a real child Namespace the first
// time a connecting client's name matches. Its own Emit/Broadcast fan
// out across every child spawned so far.
type ParentNamespace struct {
	*Namespace

	children *types.Set[*Namespace]
}

// NewParentNamespace builds a ParentNamespace under server, named with
// an internal, never-user-addressable "/_N" scheme.
func NewParentNamespace(server *Server) *ParentNamespace {
	p := &ParentNamespace{}
	p.Namespace = NewNamespace(server, "/_"+strconv.FormatUint(atomic.AddUint64(&parentNamespaceCount, 1), 10))
	p.children = types.NewSet[*Namespace]()
	p._initAdapter()

	return p
}

func (p *ParentNamespace) _initAdapter() {
	broadcast := func(packet *parser.Packet, opts *BroadcastOptions) {
		for _, nsp := range p.children.Keys() {
			nsp.adapter.Broadcast(packet, opts)
		}
	}
	p.adapter.SetBroadcast(broadcast)
}

// Emit fans ev out to every spawned child namespace.
func (p *ParentNamespace) Emit(ev string, args ...any) error {
	for _, nsp := range p.children.Keys() {
		nsp.Emit(ev, args...)
	}
	return nil
}

// CreateChild spawns a real Namespace named name, inheriting this
// template's connect-middleware chain and connect/connection listeners.
func (p *ParentNamespace) CreateChild(name string) *Namespace {
	parent_namespace_log.Debug("creating child namespace %s", name)
	namespace := NewNamespace(p.server, name)

	p._fns_mu.RLock()
	namespace._fns = make([]func(*Socket, func(*types.ExtendedError)), len(p._fns))
	copy(namespace._fns, p._fns)
	p._fns_mu.RUnlock()

	namespace.AddListener("connect", p.Listeners("connect")...)
	namespace.AddListener("connection", p.Listeners("connection")...)
	p.children.Add(namespace)

	if p.server.Opts().CleanupEmptyChildNamespaces() {
		namespace._remove = func(socket *Socket) {
			namespace.namespace_remove(socket)
			if namespace.sockets.Len() == 0 {
				parent_namespace_log.Debug("closing child namespace %s", name)
				namespace.adapter.Close()
				p.server._nsps.Delete(namespace.name)
				p.children.Delete(namespace)
			}
		}
	}

	p.server._nsps.Store(name, namespace)
	return namespace
}

// FetchSockets is not supported on a ParentNamespace: which Socket.IO
// server in the cluster holds a given dynamically-created namespace
// isn't knowable without also shipping the predicate/regex across the
// wire, and a predicate built from an arbitrary function can't be
// shipped at all.
func (p *ParentNamespace) FetchSockets() ([]*RemoteSocket, error) {
	return nil, errors.New("FetchSockets() is not supported on parent namespaces")
}
