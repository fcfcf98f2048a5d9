// Package clock abstracts timers so the bridge's timeouts (discovery,
// shutdown grace, accessory auto-reset) can be driven by tests.
package clock

import (
	"sort"
	"sync"
	"time"
)

// Clock is the subset of the time package the host uses.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
	// AfterFunc calls f in its own goroutine once d has elapsed.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a scheduled call that can be cancelled.
type Timer interface {
	// Stop reports whether the call was cancelled before it ran.
	Stop() bool
}

// Real is the wall clock.
type Real struct{}

// New returns the wall clock.
func New() Clock {
	return Real{}
}

func (Real) Now() time.Time                         { return time.Now() }
func (Real) After(d time.Duration) <-chan time.Time { return time.After(d) }
func (Real) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Mock is a manually advanced clock.
type Mock struct {
	mu      sync.Mutex
	current time.Time
	timers  []*mockTimer
}

type mockTimer struct {
	deadline time.Time
	f        func()

	mu    sync.Mutex
	fired bool
}

// NewMock creates a mock clock set to start.
func NewMock(start time.Time) *Mock {
	return &Mock{current: start}
}

// Now returns the mock time.
func (m *Mock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// After returns a channel that receives the mock time once it has advanced
// by d.
func (m *Mock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	m.AfterFunc(d, func() { ch <- m.Now() })
	return ch
}

// AfterFunc schedules f. Unlike the real clock, f runs synchronously inside
// Advance.
func (m *Mock) AfterFunc(d time.Duration, f func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &mockTimer{deadline: m.current.Add(d), f: f}
	m.timers = append(m.timers, t)
	return t
}

// Pending returns the number of scheduled calls that have not run.
func (m *Mock) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.timers {
		if !t.done() {
			n++
		}
	}
	return n
}

// Advance moves the clock forward by d and runs every call that became due,
// in deadline order.
func (m *Mock) Advance(d time.Duration) {
	m.mu.Lock()
	m.current = m.current.Add(d)
	now := m.current

	var due, remaining []*mockTimer
	for _, t := range m.timers {
		switch {
		case t.done():
		case !t.deadline.After(now):
			due = append(due, t)
		default:
			remaining = append(remaining, t)
		}
	}
	m.timers = remaining
	m.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].deadline.Before(due[j].deadline) })

	// Run outside the lock; callbacks may schedule new timers.
	for _, t := range due {
		t.mu.Lock()
		if t.fired {
			t.mu.Unlock()
			continue
		}
		t.fired = true
		t.mu.Unlock()
		t.f()
	}
}

func (t *mockTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fired {
		return false
	}
	t.fired = true
	return true
}

func (t *mockTimer) done() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fired
}
