package types

import (
	"testing"
)

func TestMap(t *testing.T) {
	m := NewMap[string, int](map[string]int{"a": 1})

	m.Store("b", 2)
	if v, ok := m.Load("b"); !ok || v != 2 {
		t.Errorf("Store/Load failed, got %v %v", v, ok)
	}

	if v, loaded := m.LoadOrStore("a", 99); !loaded || v != 1 {
		t.Errorf("LoadOrStore should not overwrite existing key, got %v %v", v, loaded)
	}
	if v, loaded := m.LoadOrStore("c", 3); loaded || v != 3 {
		t.Errorf("LoadOrStore should store new key, got %v %v", v, loaded)
	}

	if len := m.Len(); len != 3 {
		t.Errorf("expected length 3, got %d", len)
	}

	if v, ok := m.LoadAndDelete("c"); !ok || v != 3 {
		t.Errorf("LoadAndDelete failed, got %v %v", v, ok)
	}
	if m.Has("c") {
		t.Errorf("expected key c to be deleted")
	}

	m.Delete("a", "b")
	if len := m.Len(); len != 0 {
		t.Errorf("Delete method failed, expected length 0, got %d", len)
	}

	m.Store("x", 1)
	m.Store("y", 2)
	sum := 0
	m.Range(func(key string, value int) bool {
		sum += value
		return true
	})
	if sum != 3 {
		t.Errorf("Range failed, expected sum 3, got %d", sum)
	}

	m.Clear()
	if len := m.Len(); len != 0 {
		t.Errorf("Clear method failed, expected length 0, got %d", len)
	}
}
