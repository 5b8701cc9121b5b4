package socket

import (
	"time"

	"github.com/lzh06550107/eventmux/parser"
)

// ServerOptionsInterface is the fluent config surface a Server is built
// with. Fields behind it are private; set them via the Set* methods
// and read them back via the matching getters.
type ServerOptionsInterface interface {
	SetAdapter(adapter Adapter)
	GetRawAdapter() Adapter
	Adapter() Adapter

	SetParser(parser parser.Parser)
	GetRawParser() parser.Parser
	Parser() parser.Parser

	SetConnectTimeout(connectTimeout time.Duration)
	GetRawConnectTimeout() *time.Duration
	ConnectTimeout() time.Duration

	SetCleanupEmptyChildNamespaces(cleanup bool)
	GetRawCleanupEmptyChildNamespaces() *bool
	CleanupEmptyChildNamespaces() bool

	Assign(data ServerOptionsInterface) ServerOptionsInterface
}

type ServerOptions struct {
	adapter                     Adapter
	parser                      parser.Parser
	connectTimeout              *time.Duration
	cleanupEmptyChildNamespaces *bool
}

func DefaultServerOptions() *ServerOptions {
	return &ServerOptions{}
}

// Assign fills every field of s that hasn't been explicitly set from data.
func (s *ServerOptions) Assign(data ServerOptionsInterface) ServerOptionsInterface {
	if data == nil {
		return s
	}
	if s.GetRawAdapter() == nil {
		s.SetAdapter(data.Adapter())
	}
	if s.GetRawParser() == nil {
		s.SetParser(data.Parser())
	}
	if s.GetRawConnectTimeout() == nil {
		s.SetConnectTimeout(data.ConnectTimeout())
	}
	if s.GetRawCleanupEmptyChildNamespaces() == nil {
		s.SetCleanupEmptyChildNamespaces(data.CleanupEmptyChildNamespaces())
	}
	return s
}

func (s *ServerOptions) SetAdapter(adapter Adapter) { s.adapter = adapter }
func (s *ServerOptions) GetRawAdapter() Adapter     { return s.adapter }
func (s *ServerOptions) Adapter() Adapter           { return s.adapter }

func (s *ServerOptions) SetParser(p parser.Parser)   { s.parser = p }
func (s *ServerOptions) GetRawParser() parser.Parser { return s.parser }
func (s *ServerOptions) Parser() parser.Parser {
	if s.parser == nil {
		return parser.NewParser()
	}
	return s.parser
}

func (s *ServerOptions) SetConnectTimeout(v time.Duration) { s.connectTimeout = &v }
func (s *ServerOptions) GetRawConnectTimeout() *time.Duration {
	return s.connectTimeout
}
func (s *ServerOptions) ConnectTimeout() time.Duration {
	if s.connectTimeout == nil {
		return 45 * time.Second
	}
	return *s.connectTimeout
}

func (s *ServerOptions) SetCleanupEmptyChildNamespaces(v bool) { s.cleanupEmptyChildNamespaces = &v }
func (s *ServerOptions) GetRawCleanupEmptyChildNamespaces() *bool {
	return s.cleanupEmptyChildNamespaces
}
func (s *ServerOptions) CleanupEmptyChildNamespaces() bool {
	if s.cleanupEmptyChildNamespaces == nil {
		return false
	}
	return *s.cleanupEmptyChildNamespaces
}
