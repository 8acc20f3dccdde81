// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake returns a FakeClock frozen at initial. Time moves only through
// Advance.
func Fake(initial time.Time) *FakeClock {
	c := &FakeClock{now: initial}
	c.registered = sync.NewCond(&c.mu)
	return c
}

// FakeClock is a deterministic Clock for tests. Pending timers fire,
// in deadline order, when Advance moves the clock past their deadline.
// AfterFunc callbacks run synchronously inside Advance; do not call
// Advance from inside one.
//
// Safe for concurrent use.
type FakeClock struct {
	mu         sync.Mutex
	now        time.Time
	pending    []*pendingTimer
	registered *sync.Cond
}

// pendingTimer is one scheduled delivery: a channel send for After and
// NewTicker, a callback for AfterFunc. period is non-zero for tickers,
// which reschedule themselves after firing.
type pendingTimer struct {
	fireAt    time.Time
	ch        chan time.Time
	fn        func()
	period    time.Duration
	cancelled bool
	done      bool
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After returns a channel receiving the fire time once the clock has
// advanced by d. A non-positive d delivers before After returns.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.now
		return ch
	}
	c.pending = append(c.pending, &pendingTimer{fireAt: c.now.Add(d), ch: ch})
	c.registered.Broadcast()
	return ch
}

// AfterFunc schedules f to run once the clock has advanced by d. A
// non-positive d runs f synchronously before AfterFunc returns.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	if d <= 0 {
		f()
		return &Timer{stop: func() bool { return false }}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	p := &pendingTimer{fireAt: c.now.Add(d), fn: f}
	c.pending = append(c.pending, p)
	c.registered.Broadcast()

	return &Timer{stop: func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		if p.cancelled || p.done {
			return false
		}
		p.cancelled = true
		return true
	}}
}

// NewTicker returns a ticker firing every d fake-clock units. Panics
// if d <= 0.
func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: NewTicker period must be positive")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	p := &pendingTimer{fireAt: c.now.Add(d), ch: ch, period: d}
	c.pending = append(c.pending, p)
	c.registered.Broadcast()

	return &Ticker{
		C: ch,
		stop: func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			p.cancelled = true
		},
		reset: func(d time.Duration) {
			c.mu.Lock()
			defer c.mu.Unlock()
			p.period = d
			p.fireAt = c.now.Add(d)
			p.cancelled = false
		},
	}
}

// Advance moves the clock forward by d and fires every pending timer
// whose deadline falls within the new time, in deadline order. Channel
// deliveries are non-blocking (a full buffer drops the tick, matching
// time.Ticker); callbacks run in the calling goroutine. A ticker whose
// period fits multiple times into d fires once per period.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	target := c.now
	c.mu.Unlock()

	for {
		due := c.takeDue(target)
		if len(due) == 0 {
			return
		}
		sort.Slice(due, func(i, j int) bool { return due[i].fireAt.Before(due[j].fireAt) })
		for _, p := range due {
			if p.fn != nil {
				p.fn()
				continue
			}
			select {
			case p.ch <- target:
			default:
			}
		}
	}
}

// takeDue removes and returns the timers due at or before target.
// Tickers are rescheduled one period out; one-shots are marked done.
func (c *FakeClock) takeDue(target time.Time) []*pendingTimer {
	c.mu.Lock()
	defer c.mu.Unlock()

	var due, rest []*pendingTimer
	for _, p := range c.pending {
		switch {
		case p.cancelled:
		case !p.fireAt.After(target):
			due = append(due, p)
		default:
			rest = append(rest, p)
		}
	}
	for _, p := range due {
		if p.period > 0 {
			p.fireAt = p.fireAt.Add(p.period)
			rest = append(rest, p)
		} else {
			p.done = true
		}
	}
	c.pending = rest
	return due
}

// WaitForTimers blocks until at least n timers are pending. Call it
// after starting the code under test and before Advance so the timers
// are guaranteed to be registered.
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.pendingLocked() < n {
		c.registered.Wait()
	}
}

// PendingCount returns the number of live pending timers.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingLocked()
}

func (c *FakeClock) pendingLocked() int {
	n := 0
	for _, p := range c.pending {
		if !p.cancelled {
			n++
		}
	}
	return n
}
