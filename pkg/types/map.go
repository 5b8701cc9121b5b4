package types

import (
	"encoding/json"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

// Map is a concurrency-safe generic map, used wherever the core needs
// shared mutable lookup state (room membership, socket registries,
// ack callbacks) without hand-rolling a mutex at every call site.
type Map[KType comparable, VType any] struct {
	mu    sync.RWMutex
	cache map[KType]VType
}

// NewMap creates a new Map, optionally seeded from an existing map.
func NewMap[KType comparable, VType any](seed ...map[KType]VType) *Map[KType, VType] {
	m := &Map[KType, VType]{cache: map[KType]VType{}}
	for _, s := range seed {
		for k, v := range s {
			m.cache[k] = v
		}
	}
	return m
}

// Store sets the value for a key.
func (m *Map[KType, VType]) Store(key KType, value VType) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cache[key] = value
}

// Load returns the value stored for a key, and whether it was present.
func (m *Map[KType, VType]) Load(key KType) (VType, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.cache[key]
	return v, ok
}

// LoadOrStore returns the existing value for a key if present, otherwise
// stores and returns the given value.
func (m *Map[KType, VType]) LoadOrStore(key KType, value VType) (VType, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if v, ok := m.cache[key]; ok {
		return v, true
	}
	m.cache[key] = value
	return value, false
}

// LoadAndDelete removes a key, returning its value and whether it existed.
func (m *Map[KType, VType]) LoadAndDelete(key KType) (VType, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.cache[key]
	delete(m.cache, key)
	return v, ok
}

// Delete removes the given keys.
func (m *Map[KType, VType]) Delete(keys ...KType) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, key := range keys {
		delete(m.cache, key)
	}
}

// Has reports whether a key is present.
func (m *Map[KType, VType]) Has(key KType) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.cache[key]
	return ok
}

// Len returns the number of entries.
func (m *Map[KType, VType]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.cache)
}

// Clear empties the map.
func (m *Map[KType, VType]) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cache = map[KType]VType{}
}

// Keys returns a snapshot of the map's keys.
func (m *Map[KType, VType]) Keys() []KType {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]KType, 0, len(m.cache))
	for k := range m.cache {
		keys = append(keys, k)
	}
	return keys
}

// All returns a copy of the map's contents.
func (m *Map[KType, VType]) All() map[KType]VType {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[KType]VType, len(m.cache))
	for k, v := range m.cache {
		out[k] = v
	}
	return out
}

// Range calls f for each entry in the map; iteration stops early if f
// returns false. f is called while holding a read lock, so it must not
// call back into the same Map.
func (m *Map[KType, VType]) Range(f func(key KType, value VType) bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for k, v := range m.cache {
		if !f(k, v) {
			return
		}
	}
}

// MarshalJSON implements the json.Marshaler interface.
func (m *Map[KType, VType]) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.All())
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (m *Map[KType, VType]) UnmarshalJSON(data []byte) error {
	var tmp map[KType]VType
	if err := json.Unmarshal(data, &tmp); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache = tmp
	return nil
}

// MarshalMsgpack implements the msgpack.Marshaler interface.
func (m *Map[KType, VType]) MarshalMsgpack() ([]byte, error) {
	return msgpack.Marshal(m.All())
}

// UnmarshalMsgpack implements the msgpack.Unmarshaler interface.
func (m *Map[KType, VType]) UnmarshalMsgpack(data []byte) error {
	var tmp map[KType]VType
	if err := msgpack.Unmarshal(data, &tmp); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache = tmp
	return nil
}
