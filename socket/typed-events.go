package socket

import (
	"github.com/lzh06550107/eventmux/pkg/events"
)

// StrictEventEmitter wraps the generic events.EventEmitter with the
// string-keyed surface Socket/Namespace/Server build their public API
// on top of, and separates "reserved" lifecycle events (connect,
// disconnect, ...) from ordinary ones only by naming convention — Go
// has no access-control mechanism to truly protect them.
type StrictEventEmitter struct {
	*events.EventEmitter
}

func NewStrictEventEmitter() *StrictEventEmitter {
	return &StrictEventEmitter{EventEmitter: events.New()}
}

func (s *StrictEventEmitter) On(ev string, listeners ...events.Listener) error {
	return s.EventEmitter.On(ev, listeners...)
}

func (s *StrictEventEmitter) Once(ev string, listeners ...events.Listener) error {
	return s.EventEmitter.Once(ev, listeners...)
}

func (s *StrictEventEmitter) Emit(ev string, args ...any) {
	s.EventEmitter.Emit(ev, args...)
}

// EmitReserved emits a lifecycle event (connect, disconnect, disconnecting, ...).
func (s *StrictEventEmitter) EmitReserved(ev string, args ...any) {
	s.EventEmitter.Emit(ev, args...)
}

// EmitUntyped emits an event without the compile-time event-map checking
// a fully generic implementation would otherwise provide.
func (s *StrictEventEmitter) EmitUntyped(ev string, args ...any) {
	s.EventEmitter.Emit(ev, args...)
}

func (s *StrictEventEmitter) Listeners(ev string) []events.Listener {
	return s.EventEmitter.Listeners(ev)
}

func (s *StrictEventEmitter) ListenerCount(ev string) int {
	return s.EventEmitter.ListenerCount(ev)
}

func (s *StrictEventEmitter) RemoveListener(ev string, l events.Listener) bool {
	return s.EventEmitter.RemoveListener(ev, l)
}

func (s *StrictEventEmitter) RemoveAllListeners(ev string) bool {
	return s.EventEmitter.RemoveAllListeners(ev)
}
