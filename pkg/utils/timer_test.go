package utils

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestSetTimeoutFires(t *testing.T) {
	var fired atomic.Bool
	SetTimeout(func() { fired.Store(true) }, 10*time.Millisecond)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if fired.Load() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("timer never fired")
}

func TestClearTimeoutPreventsFire(t *testing.T) {
	var fired atomic.Bool
	timer := SetTimeout(func() { fired.Store(true) }, 20*time.Millisecond)
	ClearTimeout(timer)

	time.Sleep(60 * time.Millisecond)
	if fired.Load() {
		t.Fatal("expected a cleared timer to never fire")
	}
}

func TestClearTimeoutOnNilIsSafe(t *testing.T) {
	ClearTimeout(nil)
}

func TestSetIntervalFiresRepeatedly(t *testing.T) {
	var count atomic.Int32
	timer := SetInterval(func() { count.Add(1) }, 10*time.Millisecond)
	defer ClearInterval(timer)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if count.Load() >= 3 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected at least 3 ticks, got %d", count.Load())
}

func TestClearIntervalStopsFurtherTicks(t *testing.T) {
	var count atomic.Int32
	timer := SetInterval(func() { count.Add(1) }, 10*time.Millisecond)

	time.Sleep(25 * time.Millisecond)
	ClearInterval(timer)
	after := count.Load()

	time.Sleep(50 * time.Millisecond)
	if count.Load() > after+1 {
		t.Fatalf("expected ticks to stop after ClearInterval, went from %d to %d", after, count.Load())
	}
}
