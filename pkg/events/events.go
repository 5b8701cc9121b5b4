// Package events provides the EventEmitter used throughout the mux
// core in place of language-level inheritance: every object that
// needs a publish/subscribe surface (Socket, Namespace, Server,
// Decoder, ...) embeds one instead of extending a base class.
//
// Source shape: https://github.com/kataras/go-events, adapted to a
// single package instead of a types+events split since there is no
// second consumer of the types here.
package events

import (
	"reflect"
	"sync"
)

// EventName identifies an event channel on an EventEmitter.
type EventName = string

// Listener receives the arguments passed to Emit.
type Listener = func(args ...any)

// EventEmitter is a concurrency-safe registry of named listener lists.
type EventEmitter struct {
	mu        sync.RWMutex
	listeners map[EventName][]Listener
	once      map[EventName]map[int]bool
}

// New returns an empty EventEmitter.
func New() *EventEmitter {
	return &EventEmitter{
		listeners: map[EventName][]Listener{},
		once:      map[EventName]map[int]bool{},
	}
}

// On registers one or more listeners for ev. Alias: AddListener.
func (e *EventEmitter) On(ev EventName, listeners ...Listener) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.listeners[ev] = append(e.listeners[ev], listeners...)
	return nil
}

// AddListener is an alias for On.
func (e *EventEmitter) AddListener(ev EventName, listeners ...Listener) error {
	return e.On(ev, listeners...)
}

// Once registers a listener that fires at most once for ev.
func (e *EventEmitter) Once(ev EventName, listeners ...Listener) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.once[ev] == nil {
		e.once[ev] = map[int]bool{}
	}
	for _, l := range listeners {
		idx := len(e.listeners[ev])
		e.listeners[ev] = append(e.listeners[ev], l)
		e.once[ev][idx] = true
	}
	return nil
}

// Emit invokes every listener registered for ev, in registration order.
// Once-listeners are removed before being invoked.
func (e *EventEmitter) Emit(ev EventName, args ...any) {
	e.mu.Lock()
	ls := e.listeners[ev]
	once := e.once[ev]
	if len(ls) == 0 {
		e.mu.Unlock()
		return
	}
	call := make([]Listener, len(ls))
	copy(call, ls)

	if len(once) > 0 {
		kept := make([]Listener, 0, len(ls))
		for i, l := range ls {
			if !once[i] {
				kept = append(kept, l)
			}
		}
		e.listeners[ev] = kept
		delete(e.once, ev)
	}
	e.mu.Unlock()

	for _, l := range call {
		l(args...)
	}
}

// RemoveListener removes the first registered listener matching l.
func (e *EventEmitter) RemoveListener(ev EventName, l Listener) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	ls := e.listeners[ev]
	target := reflect.ValueOf(l).Pointer()
	for i, existing := range ls {
		if reflect.ValueOf(existing).Pointer() == target {
			e.listeners[ev] = append(ls[:i], ls[i+1:]...)
			if once := e.once[ev]; len(once) > 0 {
				shifted := map[int]bool{}
				for idx := range once {
					if idx < i {
						shifted[idx] = true
					} else if idx > i {
						shifted[idx-1] = true
					}
				}
				e.once[ev] = shifted
			}
			return true
		}
	}
	return false
}

// RemoveAllListeners clears every listener registered for ev.
func (e *EventEmitter) RemoveAllListeners(ev EventName) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	_, ok := e.listeners[ev]
	delete(e.listeners, ev)
	delete(e.once, ev)
	return ok
}

// Listeners returns a snapshot of the listeners registered for ev.
func (e *EventEmitter) Listeners(ev EventName) []Listener {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Listener, len(e.listeners[ev]))
	copy(out, e.listeners[ev])
	return out
}

// ListenerCount returns the number of listeners registered for ev.
func (e *EventEmitter) ListenerCount(ev EventName) int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return len(e.listeners[ev])
}

// EventNames returns the set of event names with at least one listener.
func (e *EventEmitter) EventNames() []EventName {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]EventName, 0, len(e.listeners))
	for name, ls := range e.listeners {
		if len(ls) > 0 {
			out = append(out, name)
		}
	}
	return out
}

// Len returns the total number of events currently registered.
func (e *EventEmitter) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return len(e.listeners)
}

// Clear removes every listener for every event.
func (e *EventEmitter) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.listeners = map[EventName][]Listener{}
	e.once = map[EventName]map[int]bool{}
}
