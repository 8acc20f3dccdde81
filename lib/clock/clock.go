// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock is the subset of the time package the sync service schedules
// with. Components take a Clock instead of calling the time package so
// tests can substitute a FakeClock.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the fire time once d has
	// elapsed. A non-positive d delivers immediately.
	After(d time.Duration) <-chan time.Time

	// AfterFunc schedules f to run once after d. The returned Timer
	// can cancel the pending call; its C field is nil, matching
	// time.AfterFunc.
	AfterFunc(d time.Duration, f func()) *Timer

	// NewTicker returns a Ticker delivering on C every d. Panics if
	// d <= 0, matching time.NewTicker.
	NewTicker(d time.Duration) *Ticker
}

// Ticker delivers periodic ticks on C. C has capacity 1; a slow
// consumer loses ticks rather than queueing them, matching
// time.Ticker.
type Ticker struct {
	C <-chan time.Time

	stop  func()
	reset func(time.Duration)
}

// Stop turns the ticker off. C is not closed and no further ticks are
// sent after Stop returns.
func (t *Ticker) Stop() { t.stop() }

// Reset restarts the tick cycle with a new period. The next tick
// arrives a full period after the call.
func (t *Ticker) Reset(d time.Duration) { t.reset(d) }

// Timer is a pending one-shot scheduled by AfterFunc. C is always nil.
type Timer struct {
	C <-chan time.Time

	stop func() bool
}

// Stop cancels the pending call. It reports whether the call was still
// pending; false means it already ran or was already stopped.
func (t *Timer) Stop() bool { return t.stop() }
