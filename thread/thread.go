// Copyright 2026 The relock Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package thread gives goroutines a stable identity, an interrupt flag, and a
// parking slot, mirroring the facilities a synchronizer expects from its host
// threads.
//
// Current returns a handle for the calling goroutine, creating and
// registering one on first use.  The handle carries a park.Parker and a
// boolean interrupt flag; Interrupt sets the flag and wakes the thread if it
// is parked.  Handles live in a process-wide registry keyed by goroutine id;
// goroutines that obtain a handle and are long gone keep their registry entry
// until Exit is called, so pooled workers should defer Exit on teardown.
package thread

import (
	"strconv"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/go-relock/relock/park"
)

// threads maps goroutine ids to their Thread handles.  Reads dominate heavily
// (one lookup per synchronizer operation), which is the access pattern
// sync.Map is built for.
var threads sync.Map // uint64 -> *Thread

// A Thread is the identity of a single goroutine as seen by synchronizers:
// an id, a name for diagnostics, an interrupt flag, and a parking slot.
type Thread struct {
	id     uint64
	name   atomic.String
	parker *park.Parker

	// interrupted is the thread's interrupt flag.  It is sticky until
	// read-and-cleared by Interrupted.
	interrupted atomic.Bool

	// wake is poked by Interrupt so that a parked thread notices the flag.
	// A leftover token merely causes one spurious wakeup of a later park,
	// which parking callers tolerate by design of the park package.
	wake chan struct{}
}

// Current returns the Thread handle of the calling goroutine, registering a
// new one if this goroutine has none yet.
func Current() *Thread {
	id := goid()
	if v, ok := threads.Load(id); ok {
		return v.(*Thread)
	}
	t := &Thread{
		id:     id,
		parker: park.New(),
		wake:   make(chan struct{}, 1),
	}
	t.name.Store("goroutine-" + strconv.FormatUint(id, 10))
	v, _ := threads.LoadOrStore(id, t)
	return v.(*Thread)
}

// Exit removes the calling goroutine's handle from the registry.  Any Thread
// pointers already handed out remain usable; a later Current from the same
// goroutine creates a fresh handle.
func Exit() {
	threads.Delete(goid())
}

// ID returns the goroutine id the handle was registered under.
func (t *Thread) ID() uint64 { return t.id }

// Name returns the thread's name.
func (t *Thread) Name() string { return t.name.Load() }

// SetName sets the thread's name, used only for diagnostics.
func (t *Thread) SetName(name string) { t.name.Store(name) }

// Interrupt sets the thread's interrupt flag and wakes it if it is parked.
// Interrupting an already-interrupted thread has no further effect beyond
// waking it again.
func (t *Thread) Interrupt() {
	t.interrupted.Store(true)
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// Interrupted reports whether the interrupt flag was set, clearing it as a
// side effect.  Only the thread itself should call this.
func (t *Thread) Interrupted() bool {
	return t.interrupted.Swap(false)
}

// IsInterrupted reports the interrupt flag without clearing it.
func (t *Thread) IsInterrupted() bool {
	return t.interrupted.Load()
}

// Park blocks the calling goroutine until Unpark or Interrupt, consuming the
// parker's permit if one is pending.  Must only be called by the goroutine
// the handle belongs to.
func (t *Thread) Park() {
	t.parker.Park(t.wake)
}

// ParkFor is Park with a relative deadline.
func (t *Thread) ParkFor(d time.Duration) {
	t.parker.ParkFor(d, t.wake)
}

// ParkUntil is Park with an absolute deadline.
func (t *Thread) ParkUntil(deadline time.Time) {
	t.parker.ParkUntil(deadline, t.wake)
}

// Unpark makes the thread's permit available, waking it if parked.
// Callable from any goroutine.
func (t *Thread) Unpark() {
	t.parker.Unpark()
}

// String returns the thread's name and id.
func (t *Thread) String() string {
	return t.Name() + " (id " + strconv.FormatUint(t.id, 10) + ")"
}
