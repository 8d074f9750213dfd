// Copyright 2026 The relock Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package relock

import (
	"time"

	"go.uber.org/atomic"

	"github.com/go-relock/relock/thread"
)

// Implementation notes
//
// The syncer is the queued synchronizer all of the lock's blocking behaviour
// is built on.  Its only shared mutable data are the state cell, the owner
// pointer, and the queue links; every mutation goes through an atomic
// compare-and-swap, never through an outer lock.  Threads block only inside
// the park package, after publishing their intent by setting statusSignal on
// their predecessor; a release then wakes at most one successor, which
// re-runs tryAcquire and either wins or parks again.
//
// Cancellation (timeout or interrupt) marks the node statusCancelled and
// repairs links opportunistically.  A concurrently cancelling node can leave
// a stale next pointer behind, which is why wakers that find a nil or
// cancelled successor scan backward from the tail: prev pointers are always
// trustworthy.
//
// Fairness is a property of tryAcquire alone.  The fair variant refuses the
// fast path while any other thread is queued ahead (hasQueuedPredecessors);
// the non-fair variant lets callers barge.  The queue mechanics are identical
// in both modes.

// spinForTimeoutThreshold is the remaining-wait duration below which a timed
// acquire spins instead of parking, since a park/unpark round trip would
// likely overshoot the deadline.
const spinForTimeoutThreshold = time.Microsecond

// A syncer couples the hold-count state cell with the wait queue.  Its zero
// value is an unlocked, non-fair synchronizer with an empty queue; the queue
// head and tail are created lazily on first contention.
type syncer struct {
	// state is the hold count: 0 when free, N>0 when held with N nested
	// acquisitions by owner.
	state atomic.Int32

	// owner is the thread holding the synchronizer exclusively, or nil.
	// Written only by a thread completing an exclusive acquire or a full
	// release.  Reads by other threads are benign stale reads used for
	// diagnostics; the only correctness-critical read is the reentrancy
	// check a thread makes on itself.
	owner atomic.Pointer[thread.Thread]

	// head is a sentinel once the queue is non-empty; head.next is the
	// node whose thread is next in line.
	head atomic.Pointer[node]
	tail atomic.Pointer[node]

	// fair selects the acquisition policy; fixed at construction.
	fair bool
}

// ------------------------------------------
// tryAcquire / tryRelease

// tryAcquire attempts a single exclusive acquisition of acquires holds for
// cur, without blocking.  The fair policy defers to queued predecessors; see
// nonfairTryAcquire for the barging variant.
func (s *syncer) tryAcquire(cur *thread.Thread, acquires int32) bool {
	if !s.fair {
		return s.nonfairTryAcquire(cur, acquires)
	}
	c := s.state.Load()
	if c == 0 {
		if !s.hasQueuedPredecessors(cur) && s.state.CompareAndSwap(0, acquires) {
			s.owner.Store(cur)
			return true
		}
		return false
	}
	return s.tryReenter(cur, c, acquires)
}

// nonfairTryAcquire attempts acquisition with barging: a free synchronizer is
// taken by an immediate CAS regardless of queued threads.  TryLock uses this
// even on a fair lock; that asymmetry is deliberate and matches the
// documented behaviour of zero-timeout try-acquisition.
func (s *syncer) nonfairTryAcquire(cur *thread.Thread, acquires int32) bool {
	c := s.state.Load()
	if c == 0 {
		if s.state.CompareAndSwap(0, acquires) {
			s.owner.Store(cur)
			return true
		}
		return false
	}
	return s.tryReenter(cur, c, acquires)
}

// tryReenter handles the reentrant case: the state is non-zero and cur may be
// the owner.  Runs without a CAS; only the owner itself stores to state while
// it holds the synchronizer.
func (s *syncer) tryReenter(cur *thread.Thread, c, acquires int32) bool {
	if s.owner.Load() != cur {
		return false
	}
	next := c + acquires
	if next < 0 {
		panic("relock: maximum hold count exceeded")
	}
	s.state.Store(next)
	return true
}

// tryRelease removes releases holds.  It reports whether the synchronizer
// became free, in which case the caller must wake a successor.  Panics if the
// calling thread is not the owner.
func (s *syncer) tryRelease(releases int32) bool {
	if s.owner.Load() != thread.Current() {
		panic("relock: lock not held by current thread")
	}
	c := s.state.Load() - releases
	free := false
	if c == 0 {
		free = true
		s.owner.Store(nil)
	}
	s.state.Store(c)
	return free
}

// ------------------------------------------
// Queue manipulation

// enqueue appends n to the wait queue, initializing the sentinel head on
// first use, and returns n's predecessor.  The append is lock-free: a lost
// tail CAS is simply retried.
func (s *syncer) enqueue(n *node) *node {
	for {
		t := s.tail.Load()
		if t == nil {
			// Empty queue; race to install the sentinel.
			if s.head.CompareAndSwap(nil, new(node)) {
				s.tail.Store(s.head.Load())
			}
			continue
		}
		n.prev.Store(t)
		if s.tail.CompareAndSwap(t, n) {
			t.next.Store(n)
			return t
		}
	}
}

// addWaiter creates and enqueues a wait-queue node for cur.
func (s *syncer) addWaiter(cur *thread.Thread) *node {
	n := new(node)
	n.thread.Store(cur)
	s.enqueue(n)
	return n
}

// setHead promotes n to queue head after its thread has acquired.  The node
// doubles as the new sentinel, so its thread and prev links are cleared.
func (s *syncer) setHead(n *node) {
	s.head.Store(n)
	n.thread.Store(nil)
	n.prev.Store(nil)
}

// shouldPark decides whether a thread that failed tryAcquire is clear to
// park.  It may only park once its predecessor promises a wakeup by carrying
// statusSignal; until then the thread keeps retrying, setting the status or
// skipping over cancelled predecessors as needed.
func shouldPark(pred, n *node) bool {
	ws := pred.status.Load()
	if ws == statusSignal {
		return true
	}
	if ws > 0 {
		// Predecessor cancelled; splice it (and any cancelled run
		// before it) out of the queue.
		for ws > 0 {
			pred = pred.prev.Load()
			ws = pred.status.Load()
			n.prev.Store(pred)
		}
		pred.next.Store(n)
	} else {
		// Ask the predecessor for a wakeup.  The CAS can lose to a
		// concurrent cancel; the retry loop will sort it out.
		pred.status.CompareAndSwap(ws, statusSignal)
	}
	return false
}

// unparkSuccessor wakes the first live waiter behind n, if any.  next links
// may be stale or nil after concurrent cancellation, so when the immediate
// successor is unusable the search runs backward from the tail, keeping the
// earliest non-cancelled node found.
func (s *syncer) unparkSuccessor(n *node) {
	if ws := n.status.Load(); ws < 0 {
		n.status.CompareAndSwap(ws, 0)
	}
	succ := n.next.Load()
	if succ == nil || succ.status.Load() > 0 {
		succ = nil
		for t := s.tail.Load(); t != nil && t != n; t = t.prev.Load() {
			if t.status.Load() <= 0 {
				succ = t
			}
		}
	}
	if succ != nil {
		if w := succ.thread.Load(); w != nil {
			w.Unpark()
		}
	}
}

// cancelAcquire abandons n's acquisition attempt after a timeout or
// interrupt.  The node is marked cancelled and unlinked as far as the
// concurrent traffic allows; anything left dangling is cleaned up lazily by
// shouldPark and unparkSuccessor.
func (s *syncer) cancelAcquire(n *node) {
	if n == nil {
		return
	}
	n.thread.Store(nil)

	// Skip over any already-cancelled predecessors.
	pred := n.prev.Load()
	for pred.status.Load() > 0 {
		pred = pred.prev.Load()
		n.prev.Store(pred)
	}
	predNext := pred.next.Load()

	n.status.Store(statusCancelled)

	if n == s.tail.Load() && s.tail.CompareAndSwap(n, pred) {
		// n was the tail; retreat the tail and drop the stale link.
		pred.next.CompareAndSwap(predNext, nil)
		return
	}
	// If the successor still needs a signal, try to point the predecessor
	// straight at it; otherwise wake the successor so it can repair its
	// own links.
	ws := pred.status.Load()
	if pred != s.head.Load() &&
		(ws == statusSignal || (ws <= 0 && pred.status.CompareAndSwap(ws, statusSignal))) &&
		pred.thread.Load() != nil {
		next := n.next.Load()
		if next != nil && next.status.Load() <= 0 {
			pred.next.CompareAndSwap(predNext, next)
		}
	} else {
		s.unparkSuccessor(n)
	}
	n.next.Store(n) // self-link so traversals drop this node
}

// ------------------------------------------
// Acquire / release

// acquireQueued runs the main acquire loop for a node already on the wait
// queue: retry tryAcquire whenever the node is first in line, otherwise park
// once the predecessor has promised a wakeup.  Interrupts do not abort this
// variant; it reports whether one was observed so the caller can reassert the
// flag.
func (s *syncer) acquireQueued(cur *thread.Thread, n *node, arg int32) bool {
	failed := true
	defer func() {
		if failed {
			s.cancelAcquire(n)
		}
	}()
	var interrupted bool
	for {
		pred := n.prev.Load()
		if pred == s.head.Load() && s.tryAcquire(cur, arg) {
			s.setHead(n)
			pred.next.Store(nil)
			failed = false
			return interrupted
		}
		if shouldPark(pred, n) {
			cur.Park()
			if cur.Interrupted() {
				interrupted = true
			}
		}
	}
}

// acquire acquires arg holds for cur, blocking uninterruptibly.  An interrupt
// observed while queued is reasserted on the thread once the acquisition
// succeeds.
func (s *syncer) acquire(cur *thread.Thread, arg int32) {
	if !s.tryAcquire(cur, arg) && s.acquireQueued(cur, s.addWaiter(cur), arg) {
		cur.Interrupt()
	}
}

// doAcquireInterruptibly is the acquire loop that aborts on interrupt,
// cancelling the node and reporting ErrInterrupted.  The interrupt flag is
// cleared as part of reporting.
func (s *syncer) doAcquireInterruptibly(cur *thread.Thread, arg int32) error {
	n := s.addWaiter(cur)
	failed := true
	defer func() {
		if failed {
			s.cancelAcquire(n)
		}
	}()
	for {
		pred := n.prev.Load()
		if pred == s.head.Load() && s.tryAcquire(cur, arg) {
			s.setHead(n)
			pred.next.Store(nil)
			failed = false
			return nil
		}
		if shouldPark(pred, n) {
			cur.Park()
			if cur.Interrupted() {
				return ErrInterrupted
			}
		}
	}
}

// doAcquireFor is the timed acquire loop.  It reports false once d elapses
// without success, and ErrInterrupted if interrupted first; either way the
// node is cancelled on the way out.
func (s *syncer) doAcquireFor(cur *thread.Thread, arg int32, d time.Duration) (bool, error) {
	if d <= 0 {
		return false, nil
	}
	deadline := time.Now().Add(d)
	n := s.addWaiter(cur)
	failed := true
	defer func() {
		if failed {
			s.cancelAcquire(n)
		}
	}()
	for {
		pred := n.prev.Load()
		if pred == s.head.Load() && s.tryAcquire(cur, arg) {
			s.setHead(n)
			pred.next.Store(nil)
			failed = false
			return true, nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false, nil
		}
		if shouldPark(pred, n) && remaining > spinForTimeoutThreshold {
			cur.ParkFor(remaining)
		}
		if cur.Interrupted() {
			return false, ErrInterrupted
		}
	}
}

// release removes arg holds and, if the synchronizer became free, wakes the
// head's successor.
func (s *syncer) release(arg int32) bool {
	if s.tryRelease(arg) {
		if h := s.head.Load(); h != nil && h.status.Load() != 0 {
			s.unparkSuccessor(h)
		}
		return true
	}
	return false
}

// ------------------------------------------
// Queue inspection

// hasQueuedPredecessors reports whether any thread other than cur has been
// waiting longer, i.e. whether the queue is non-empty with a first waiter
// that is not cur.  The fair policy consults this before every CAS attempt.
func (s *syncer) hasQueuedPredecessors(cur *thread.Thread) bool {
	t := s.tail.Load()
	h := s.head.Load()
	if h == t {
		return false
	}
	first := h.next.Load()
	return first == nil || first.thread.Load() != cur
}

// hasQueuedThreads reports whether any thread is waiting to acquire.  Like
// all inspection methods it is a racy snapshot meant for monitoring, not
// synchronization.
func (s *syncer) hasQueuedThreads() bool {
	return s.head.Load() != s.tail.Load()
}

// queueLength counts the threads currently on the wait queue, walking prev
// links from the tail since they are always intact.
func (s *syncer) queueLength() int {
	var count int
	for p := s.tail.Load(); p != nil; p = p.prev.Load() {
		if p.thread.Load() != nil {
			count++
		}
	}
	return count
}

// isQueued reports whether w is on the wait queue.
func (s *syncer) isQueued(w *thread.Thread) bool {
	if w == nil {
		return false
	}
	for p := s.tail.Load(); p != nil; p = p.prev.Load() {
		if p.thread.Load() == w {
			return true
		}
	}
	return false
}

// ------------------------------------------
// Condition-queue transfer support

// isOnSyncQueue reports whether n, created for a condition wait, has been
// transferred to the main wait queue.  A node still carrying statusCondition
// or lacking a prev link cannot be on it; a node with a next link must be.
// In between, the enqueue CAS may be mid-flight, so search from the tail.
func (s *syncer) isOnSyncQueue(n *node) bool {
	if n.status.Load() == statusCondition || n.prev.Load() == nil {
		return false
	}
	if n.next.Load() != nil {
		return true
	}
	for p := s.tail.Load(); p != nil; p = p.prev.Load() {
		if p == n {
			return true
		}
	}
	return false
}

// transferForSignal moves a condition node to the wait queue.  It reports
// false if the node's wait was already cancelled.  The woken thread normally
// gets its wakeup from the release protocol via its new predecessor; if the
// predecessor cannot make that promise (cancelled, or its status CAS loses),
// the thread is unparked directly to resynchronize.
func (s *syncer) transferForSignal(n *node) bool {
	if !n.status.CompareAndSwap(statusCondition, 0) {
		return false
	}
	pred := s.enqueue(n)
	ws := pred.status.Load()
	if ws > 0 || !pred.status.CompareAndSwap(ws, statusSignal) {
		if w := n.thread.Load(); w != nil {
			w.Unpark()
		}
	}
	return true
}

// transferAfterCancelledWait enqueues a condition node whose wait ended by
// timeout or interrupt rather than a signal.  It reports true if the node won
// the race against a concurrent signaller; on a loss it waits for the
// in-flight transfer to finish enqueueing, so the caller always finds the
// node on the wait queue afterward.
func (s *syncer) transferAfterCancelledWait(n *node) bool {
	if n.status.CompareAndSwap(statusCondition, 0) {
		s.enqueue(n)
		return true
	}
	var attempts uint
	for !s.isOnSyncQueue(n) {
		attempts = spinDelay(attempts)
	}
	return false
}
