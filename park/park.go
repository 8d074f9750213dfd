// Copyright 2026 The relock Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package park provides a per-thread parking primitive built around a
// single-slot permit.
//
// A Parker carries at most one permit.  Park consumes the permit if it is
// available and returns immediately; otherwise it blocks the calling thread
// (aka goroutine) until Unpark makes the permit available, the optional
// deadline passes, or the optional wake channel delivers.  Unpark makes the
// permit available if it is not already; permits never accumulate beyond one.
//
// Park may also return spuriously, so callers must re-check their condition
// in a loop; Park deliberately does not report which event woke it.
package park

import (
	"math"
	"time"
)

// A Parker holds the parking state for a single thread.  The parking calls
// (Park, ParkFor, ParkUntil) must only be made by the thread that owns the
// Parker; Unpark may be called from any thread.
type Parker struct {
	sem   chan struct{} // the permit; holds at most one token
	timer *time.Timer   // used for parks with deadlines
}

// New returns a Parker with no permit available.
// The enclosed deadline timer is kept stopped and drained between timed
// parks; ParkFor relies on that invariant.
func New() *Parker {
	p := &Parker{sem: make(chan struct{}, 1)}
	p.timer = time.NewTimer(time.Duration(math.MaxInt64))
	p.timer.Stop()
	return p
}

// Unpark makes the permit available, waking the owning thread if it is
// currently parked.  Unparking a thread whose permit is already available has
// no further effect.
func (p *Parker) Unpark() {
	select {
	case p.sem <- struct{}{}:
	default: // Don't block if the permit is already available.
	}
}

// Park consumes the permit, blocking until it is available or until the wake
// channel delivers or is closed.  A nil wake channel never delivers.
func (p *Parker) Park(wake <-chan struct{}) {
	select {
	case <-p.sem:
	case <-wake:
	}
}

// ParkFor is like Park, but also returns once d has elapsed.
// A non-positive d returns immediately.
func (p *Parker) ParkFor(d time.Duration, wake <-chan struct{}) {
	if d <= 0 {
		return
	}
	if p.timer.Reset(d) {
		// The timer is stopped and drained whenever the thread is not
		// in a timed park.
		panic("park: deadline timer was active")
	}
	expired := false
	select {
	case <-p.sem:
	case <-p.timer.C:
		expired = true
	case <-wake:
	}
	if !expired && !p.timer.Stop() {
		// The timer fired between the select and the Stop; its
		// expiry send is not atomic with Stop reporting false, so
		// drain the channel by hand.
		<-p.timer.C
	}
}

// ParkUntil is like Park, but also returns once the absolute deadline t has
// passed.  A deadline in the past returns immediately.
func (p *Parker) ParkUntil(t time.Time, wake <-chan struct{}) {
	p.ParkFor(time.Until(t), wake)
}
