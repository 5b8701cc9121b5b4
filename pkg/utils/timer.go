// Package utils holds small runtime helpers shared by the mux core,
// mirroring the JS-style setTimeout/clearTimeout/setInterval idiom the
// rest of the codebase's callback-based APIs (ack timeouts, connect
// timeouts) are written against.
package utils

import (
	"time"
)

// Timer wraps a time.Timer with a stop channel so Stop is idempotent
// and safe to call from any goroutine, any number of times.
type Timer struct {
	timer  *time.Timer
	sleep  time.Duration
	fn     func()
	stopCh chan struct{}
}

// SetTimeout schedules fn to run once after sleep, on its own goroutine.
func SetTimeout(fn func(), sleep time.Duration) *Timer {
	t := &Timer{
		timer:  time.NewTimer(sleep),
		sleep:  sleep,
		stopCh: make(chan struct{}),
	}
	t.fn = func() {
		select {
		case <-t.timer.C:
			fn()
		case <-t.stopCh:
		}
	}
	go t.fn()
	return t
}

// SetInterval schedules fn to run repeatedly every sleep, on its own
// goroutine per tick, until Stop is called.
func SetInterval(fn func(), sleep time.Duration) *Timer {
	t := &Timer{
		timer:  time.NewTimer(sleep),
		sleep:  sleep,
		stopCh: make(chan struct{}),
	}
	t.fn = func() {
		for {
			select {
			case <-t.timer.C:
				t.timer.Reset(t.sleep)
				go fn()
			case <-t.stopCh:
				return
			}
		}
	}
	go t.fn()
	return t
}

// Stop cancels the timer. Safe to call more than once.
func (t *Timer) Stop() {
	if t == nil {
		return
	}
	if t.timer.Stop() {
		select {
		case t.stopCh <- struct{}{}:
		default:
		}
	}
}

// ClearTimeout stops a Timer returned by SetTimeout. Safe on a nil timer.
func ClearTimeout(timer *Timer) {
	if timer != nil {
		timer.Stop()
	}
}

// ClearInterval stops a Timer returned by SetInterval. Safe on a nil timer.
func ClearInterval(timer *Timer) {
	ClearTimeout(timer)
}
