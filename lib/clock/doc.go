// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts timer and wall-clock access so timer-driven
// components (the sync scheduler, upload retry backoff) can be tested
// deterministically.
//
// Production code carries a Clock field and is handed Real(). Tests
// hand in Fake(), wait for the code under test to register its timers
// with WaitForTimers, then move time with Advance:
//
//	c := clock.Fake(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
//	s := newScheduler(c)
//	c.WaitForTimers(1)
//	c.Advance(10 * time.Minute)
//
// WaitForTimers removes the registration/advancement race that makes
// timer tests flaky when they synchronize with real sleeps.
package clock
