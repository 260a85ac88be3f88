package scheduler

import (
	"sort"
	"sync"
	"time"
)

// Fake is a manually driven Scheduler. Callbacks run synchronously on the
// goroutine that calls Advance, in deadline order, with no lock held.
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	seq    uint64
	timers []*fakeTimer
}

type fakeTimer struct {
	fake     *Fake
	id       uint64
	when     time.Time
	interval time.Duration // zero for one-shot
	fn       func()
	stopped  bool
}

// NewFake returns a Fake whose clock starts at start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

func (f *Fake) AfterFunc(delay time.Duration, fn func()) Timer {
	return f.add(delay, 0, fn)
}

func (f *Fake) Every(interval time.Duration, fn func()) Timer {
	return f.add(interval, interval, fn)
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) add(delay, interval time.Duration, fn func()) *fakeTimer {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	t := &fakeTimer{
		fake:     f,
		id:       f.seq,
		when:     f.now.Add(delay),
		interval: interval,
		fn:       fn,
	}
	f.timers = append(f.timers, t)
	return t
}

// Advance moves the clock forward by d, firing every callback that comes due.
// Periodic timers fire once per elapsed interval.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now.Add(d)
	f.mu.Unlock()

	for {
		t := f.nextDue(target)
		if t == nil {
			break
		}
		t.fn()
	}

	f.mu.Lock()
	f.now = target
	f.mu.Unlock()
}

// nextDue pops the earliest timer due at or before target and moves the
// clock to its deadline.
func (f *Fake) nextDue(target time.Time) *fakeTimer {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.compact()
	sort.SliceStable(f.timers, func(i, j int) bool {
		if f.timers[i].when.Equal(f.timers[j].when) {
			return f.timers[i].id < f.timers[j].id
		}
		return f.timers[i].when.Before(f.timers[j].when)
	})
	if len(f.timers) == 0 || f.timers[0].when.After(target) {
		return nil
	}

	t := f.timers[0]
	f.now = t.when
	if t.interval > 0 {
		t.when = t.when.Add(t.interval)
	} else {
		t.stopped = true
		f.timers = f.timers[1:]
	}
	return t
}

func (f *Fake) compact() {
	live := f.timers[:0]
	for _, t := range f.timers {
		if !t.stopped {
			live = append(live, t)
		}
	}
	f.timers = live
}

// Pending returns the number of timers that have not fired or been stopped.
func (f *Fake) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.compact()
	return len(f.timers)
}

func (t *fakeTimer) Stop() bool {
	t.fake.mu.Lock()
	defer t.fake.mu.Unlock()
	if t.stopped {
		return false
	}
	t.stopped = true
	return true
}
