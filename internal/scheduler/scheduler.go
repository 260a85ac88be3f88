// Package scheduler provides the timers used by the connection manager.
//
// Production code uses Clock. Tests use Fake, which only fires callbacks
// when Advance is called.
package scheduler

import (
	"sync"
	"time"
)

// Timer is a handle to a scheduled callback.
type Timer interface {
	// Stop prevents further firings. It returns false if the timer had
	// already fired (one-shot) or was already stopped.
	Stop() bool
}

// Scheduler schedules callbacks on its own goroutines.
type Scheduler interface {
	// AfterFunc calls fn once after delay.
	AfterFunc(delay time.Duration, fn func()) Timer

	// Every calls fn every interval until the returned Timer is stopped.
	Every(interval time.Duration, fn func()) Timer

	// Now returns the scheduler's current time.
	Now() time.Time
}

// Clock is a Scheduler backed by the runtime timers.
type Clock struct{}

// NewClock returns the real-time scheduler.
func NewClock() Clock {
	return Clock{}
}

func (Clock) AfterFunc(delay time.Duration, fn func()) Timer {
	return time.AfterFunc(delay, fn)
}

func (Clock) Every(interval time.Duration, fn func()) Timer {
	t := &ticker{
		ticker: time.NewTicker(interval),
		done:   make(chan struct{}),
	}
	go t.loop(fn)
	return t
}

func (Clock) Now() time.Time {
	return time.Now()
}

type ticker struct {
	ticker *time.Ticker
	done   chan struct{}
	once   sync.Once
}

func (t *ticker) loop(fn func()) {
	for {
		select {
		case <-t.done:
			return
		case <-t.ticker.C:
			// Stop may race with a tick already delivered.
			select {
			case <-t.done:
				return
			default:
			}
			fn()
		}
	}
}

func (t *ticker) Stop() bool {
	stopped := false
	t.once.Do(func() {
		t.ticker.Stop()
		close(t.done)
		stopped = true
	})
	return stopped
}
