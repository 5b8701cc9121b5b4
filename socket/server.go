package socket

import (
	"regexp"
	"strings"
	"time"

	"github.com/lzh06550107/eventmux/pkg/log"
	"github.com/lzh06550107/eventmux/pkg/types"
	"github.com/lzh06550107/eventmux/parser"
	"github.com/lzh06550107/eventmux/transport"
)

var server_log = log.NewLog("eventmux:server")

// ParentNspMatchFn decides whether a dynamically-requested namespace
// name should be allowed to spawn a child of some ParentNamespace.
// Stored by pointer identity so the same predicate registered twice is
// still a single map key, matching Go's rule that func values aren't
// comparable.
type ParentNspMatchFn = *func(name string, auth any, next func(err error, allow bool))

// Server is the root registry: it owns every Namespace (including
// dynamically-spawned children), the default Adapter builder, and the
// wire Parser, and is the entrypoint a transport hands freshly
// connected Connections to.
type Server struct {
	*StrictEventEmitter

	sockets NamespaceInterface

	_parser parser.Parser
	encoder parser.Encoder

	_nsps      *types.Map[string, *Namespace]
	parentNsps *types.Map[ParentNspMatchFn, *ParentNamespace]

	_adapter Adapter
	opts     *ServerOptions

	_connectTimeout time.Duration
}

func (s *Server) Sockets() NamespaceInterface { return s.sockets }
func (s *Server) Encoder() parser.Encoder     { return s.encoder }
func (s *Server) Parser() parser.Parser       { return s._parser }
func (s *Server) Opts() *ServerOptions        { return s.opts }
func (s *Server) Nsps() *types.Map[string, *Namespace] { return s._nsps }

// NewServer builds a Server. opts may be nil, in which case every
// option takes its default (in-memory adapter, default parser, 45s
// connect timeout, no dynamic-namespace cleanup).
func NewServer(opts *ServerOptions) *Server {
	s := &Server{}
	s._nsps = types.NewMap[string, *Namespace]()
	s.parentNsps = types.NewMap[ParentNspMatchFn, *ParentNamespace]()

	if opts == nil {
		opts = DefaultServerOptions()
	}

	s.SetConnectTimeout(opts.ConnectTimeout())
	if p := opts.Parser(); p != nil {
		s._parser = p
	} else {
		s._parser = parser.NewParser()
	}
	s.encoder = s._parser.Encoder()
	if a := opts.Adapter(); a != nil {
		s.SetAdapter(a)
	} else {
		s.SetAdapter(NewInMemoryAdapter())
	}

	s.sockets = s.Of("/", nil)
	s.StrictEventEmitter = s.sockets.EventEmitter()
	s.opts = opts

	return s
}

// SetConnectTimeout sets how long a Client may stay without a joined
// namespace before it is forcibly closed.
func (s *Server) SetConnectTimeout(v time.Duration) *Server {
	s._connectTimeout = v
	return s
}
func (s *Server) ConnectTimeout() time.Duration { return s._connectTimeout }

// SetAdapter installs v as the AdapterBuilder for every namespace,
// rebuilding the Adapter on every namespace already registered.
func (s *Server) SetAdapter(v Adapter) *Server {
	s._adapter = v
	s._nsps.Range(func(_ string, nsp *Namespace) bool {
		nsp._initAdapter()
		return true
	})
	return s
}
func (s *Server) Adapter() Adapter { return s._adapter }

// CheckNamespace runs name against the registered parent matchers in
// the iteration order of the parentNsps map, which is not their
// registration order; on first acceptance it creates (or reuses) the
// child namespace and invokes fn with it, otherwise fn(nil).
func (s *Server) CheckNamespace(name string, auth any, fn func(nsp *Namespace)) {
	found := false
	s.parentNsps.Range(func(matchFn ParentNspMatchFn, pnsp *ParentNamespace) bool {
		accepted := false
		(*matchFn)(name, auth, func(err error, allow bool) {
			if err != nil || !allow {
				return
			}
			if nsp, ok := s._nsps.Load(name); ok {
				server_log.Debug("dynamic namespace %s already exists", name)
				accepted = true
				fn(nsp)
				return
			}
			namespace := pnsp.CreateChild(name)
			server_log.Debug("dynamic namespace %s was created", name)
			s.sockets.EmitReserved("new_namespace", namespace)
			accepted = true
			fn(namespace)
		})
		if accepted {
			found = true
			return false
		}
		return true
	})
	if !found {
		fn(nil)
	}
}

// Of looks up (or lazily creates) a namespace. name is one of:
//   - string: a concrete namespace path, created on first use
//   - *regexp.Regexp: a template namespace matching any name it accepts
//   - ParentNspMatchFn: a template namespace with a custom predicate
//
// fn, if non-nil, is registered as a "connect" listener.
func (s *Server) Of(name any, fn func(...any)) NamespaceInterface {
	switch n := name.(type) {
	case ParentNspMatchFn:
		parentNsp := NewParentNamespace(s)
		server_log.Debug("initializing parent namespace %s", parentNsp.Name())
		s.parentNsps.Store(n, parentNsp)
		if fn != nil {
			parentNsp.On("connect", fn)
		}
		return parentNsp
	case *regexp.Regexp:
		parentNsp := NewParentNamespace(s)
		server_log.Debug("initializing parent namespace %s", parentNsp.Name())
		match := func(nsp string, _ any, next func(error, bool)) {
			next(nil, n.MatchString(nsp))
		}
		s.parentNsps.Store(ParentNspMatchFn(&match), parentNsp)
		if fn != nil {
			parentNsp.On("connect", fn)
		}
		return parentNsp
	}

	path, ok := name.(string)
	if !ok || path == "" {
		path = "/"
	} else if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	namespace, ok := s._nsps.Load(path)
	if !ok {
		server_log.Debug("initializing namespace %s", path)
		namespace = NewNamespace(s, path)
		s._nsps.Store(path, namespace)
		if path != "/" {
			s.sockets.EmitReserved("new_namespace", namespace)
		}
	}

	if fn != nil {
		namespace.On("connect", fn)
	}
	return namespace
}

// Onconnection is the entrypoint a transport hands a freshly
// established Connection to; it wraps conn in a Client and begins its
// default-namespace handshake. When "/" carries no connect-middleware,
// the handshake doesn't wait for the peer's own CONNECT packet: the
// client is connected immediately and its CONNECT ack is piggy-backed
// onto the transport handshake response via conn.SetInitialPacket,
// eliding a full round trip. Middleware on "/" forces the normal path,
// since a chain that might reject still needs the peer's CONNECT to
// report the failure against.
func (s *Server) Onconnection(conn transport.Connection) *Client {
	server_log.Debug("incoming connection with id %s", conn.Id())
	client := NewClient(s, conn)

	if nsp, ok := s._nsps.Load("/"); ok && !nsp.hasMiddleware() {
		client.connectPiggybacked(nsp.Name(), nil)
	}

	return client
}

// Close disconnects every default-namespace socket, then invokes fn.
func (s *Server) Close(fn func()) {
	for _, socket := range s.sockets.Sockets().All() {
		socket._onclose("server shutting down")
	}
	if fn != nil {
		fn()
	}
}

func (s *Server) Use(fn func(*Socket, func(*types.ExtendedError))) *Server {
	s.sockets.Use(fn)
	return s
}

func (s *Server) To(room ...Room) *BroadcastOperator     { return s.sockets.To(room...) }
func (s *Server) In(room ...Room) *BroadcastOperator      { return s.sockets.In(room...) }
func (s *Server) Except(room ...Room) *BroadcastOperator  { return s.sockets.Except(room...) }

func (s *Server) Send(args ...any) *Server {
	s.sockets.Emit("message", args...)
	return s
}
func (s *Server) Write(args ...any) *Server {
	s.sockets.Emit("message", args...)
	return s
}

func (s *Server) ServerSideEmit(ev string, args ...any) error {
	return s.sockets.ServerSideEmit(ev, args...)
}

func (s *Server) AllSockets() (*types.Set[SocketId], error) {
	return s.sockets.AllSockets()
}

func (s *Server) Compress(compress bool) *BroadcastOperator { return s.sockets.Compress(compress) }
func (s *Server) Volatile() *BroadcastOperator              { return s.sockets.Volatile() }
func (s *Server) Local() *BroadcastOperator                 { return s.sockets.Local() }
func (s *Server) Timeout(timeout time.Duration) *BroadcastOperator {
	return s.sockets.Timeout(timeout)
}

func (s *Server) FetchSockets() ([]*RemoteSocket, error) { return s.sockets.FetchSockets() }
func (s *Server) SocketsJoin(room ...Room)                { s.sockets.SocketsJoin(room...) }
func (s *Server) SocketsLeave(room ...Room)               { s.sockets.SocketsLeave(room...) }
func (s *Server) DisconnectSockets(closeTransport bool)   { s.sockets.DisconnectSockets(closeTransport) }
