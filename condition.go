// Copyright 2026 The relock Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package relock

import (
	"time"

	"github.com/go-relock/relock/thread"
)

// A Condition is a waiting point bound to a single Lock, with the wait,
// signal and signal-all operations of a monitor.  Every operation requires
// that the calling thread holds the associated lock, and panics otherwise.
//
// Await atomically releases the lock in full (however many nested holds the
// caller has), parks the thread, and reacquires the same number of holds
// before returning.  As with any Mesa-style condition, wakeups may be
// spurious, so Await belongs in a loop re-checking the predicate:
//
//	l.Lock()
//	for !predicate() {
//		if err := c.Await(); err != nil {
//			// interrupted; lock is held here as usual
//		}
//	}
//	... use the predicate ...
//	l.Unlock()
//
// Signalled threads reacquire the lock in the order they were signalled,
// subject to the fairness policy of the underlying lock.
type Condition struct {
	s *syncer

	// firstWaiter/lastWaiter delimit the singly-linked queue of condition
	// nodes, threaded through node.nextWaiter.  Both are guarded by the
	// lock itself: every access happens while the caller holds it.
	firstWaiter *node
	lastWaiter  *node
}

// Interrupt handling modes for a finished wait.
const (
	// condReinterrupt: reassert the interrupt flag on exit, because the
	// interrupt arrived after the thread was signalled and must not mask
	// the successful wakeup.
	condReinterrupt = 1

	// condInterrupted: report ErrInterrupted, because the interrupt
	// arrived before any signal.
	condInterrupted = -1
)

// checkOwner panics unless cur holds the associated lock exclusively.
func (c *Condition) checkOwner(cur *thread.Thread) {
	if c.s.owner.Load() != cur {
		panic("relock: lock not held by current thread")
	}
}

// addConditionWaiter appends a fresh condition node for cur.
// Called with the lock held.
func (c *Condition) addConditionWaiter(cur *thread.Thread) *node {
	last := c.lastWaiter
	if last != nil && last.status.Load() != statusCondition {
		// The tail wait was cancelled; purge before appending.
		c.unlinkCancelledWaiters()
		last = c.lastWaiter
	}
	n := new(node)
	n.thread.Store(cur)
	n.status.Store(statusCondition)
	if last == nil {
		c.firstWaiter = n
	} else {
		last.nextWaiter = n
	}
	c.lastWaiter = n
	return n
}

// fullyRelease releases every hold the calling thread has, returning the
// count so the wait can restore it on reacquisition.  If the release panics
// (caller turned out not to own the lock) the node is cancelled so it won't
// linger on the condition queue.
func (c *Condition) fullyRelease(n *node) int32 {
	failed := true
	defer func() {
		if failed {
			n.status.Store(statusCancelled)
		}
	}()
	saved := c.s.state.Load()
	if !c.s.release(saved) {
		panic("relock: lock not held by current thread")
	}
	failed = false
	return saved
}

// unlinkCancelledWaiters removes every node no longer in statusCondition from
// the condition queue.  Called with the lock held, either when a new waiter
// arrives behind a cancelled tail or when a finished wait noticed
// cancellations.
func (c *Condition) unlinkCancelledWaiters() {
	t := c.firstWaiter
	var trail *node
	for t != nil {
		next := t.nextWaiter
		if t.status.Load() != statusCondition {
			t.nextWaiter = nil
			if trail == nil {
				c.firstWaiter = next
			} else {
				trail.nextWaiter = next
			}
			if next == nil {
				c.lastWaiter = trail
			}
		} else {
			trail = t
		}
		t = next
	}
}

// checkInterruptWhileWaiting classifies an interrupt observed while parked on
// the condition: one that beats any signal cancels the wait (the node is
// transferred out by this thread), one that loses merely gets reasserted
// later.  Returns 0 when no interrupt is pending.
func (c *Condition) checkInterruptWhileWaiting(cur *thread.Thread, n *node) int {
	if !cur.Interrupted() {
		return 0
	}
	if c.s.transferAfterCancelledWait(n) {
		return condInterrupted
	}
	return condReinterrupt
}

// reportInterrupt finishes a wait according to the interrupt mode determined
// while waiting.
func (c *Condition) reportInterrupt(cur *thread.Thread, mode int) error {
	switch mode {
	case condInterrupted:
		return ErrInterrupted
	case condReinterrupt:
		cur.Interrupt()
	}
	return nil
}

// Await releases the lock and parks until the condition is signalled or the
// thread is interrupted, then reacquires the lock with the original hold
// count.  Returns ErrInterrupted (with the interrupt flag cleared) if the
// interrupt preceded any signal; an interrupt that arrives after a signal is
// reasserted on the thread instead, and Await returns nil.  In every case
// the lock is held again when Await returns.
func (c *Condition) Await() error {
	cur := thread.Current()
	c.checkOwner(cur)
	if cur.Interrupted() {
		return ErrInterrupted
	}
	n := c.addConditionWaiter(cur)
	saved := c.fullyRelease(n)
	mode := 0
	for !c.s.isOnSyncQueue(n) {
		cur.Park()
		if mode = c.checkInterruptWhileWaiting(cur, n); mode != 0 {
			break
		}
	}
	if c.s.acquireQueued(cur, n, saved) && mode != condInterrupted {
		mode = condReinterrupt
	}
	if n.nextWaiter != nil {
		c.unlinkCancelledWaiters()
	}
	return c.reportInterrupt(cur, mode)
}

// AwaitUninterruptibly is Await without an interruption result: interrupts
// observed while waiting do not end the wait, they are reasserted on the
// thread once it returns.
func (c *Condition) AwaitUninterruptibly() {
	cur := thread.Current()
	c.checkOwner(cur)
	n := c.addConditionWaiter(cur)
	saved := c.fullyRelease(n)
	interrupted := false
	for !c.s.isOnSyncQueue(n) {
		cur.Park()
		if cur.Interrupted() {
			interrupted = true
		}
	}
	if c.s.acquireQueued(cur, n, saved) || interrupted {
		cur.Interrupt()
	}
}

// AwaitUntil is Await with an absolute deadline.  It reports false if the
// deadline passed before a signal arrived; the lock is reacquired and held on
// return regardless of the outcome.  The deadline is absolute for the same
// reason a condition wait belongs in a loop: the deadline need not be
// recomputed on each iteration.
func (c *Condition) AwaitUntil(deadline time.Time) (bool, error) {
	cur := thread.Current()
	c.checkOwner(cur)
	if cur.Interrupted() {
		return false, ErrInterrupted
	}
	n := c.addConditionWaiter(cur)
	saved := c.fullyRelease(n)
	timedOut := false
	mode := 0
	for !c.s.isOnSyncQueue(n) {
		if !time.Now().Before(deadline) {
			// Cancel the wait, unless a signaller got there first,
			// in which case the wakeup counts as successful.
			timedOut = c.s.transferAfterCancelledWait(n)
			break
		}
		cur.ParkUntil(deadline)
		if mode = c.checkInterruptWhileWaiting(cur, n); mode != 0 {
			break
		}
	}
	if c.s.acquireQueued(cur, n, saved) && mode != condInterrupted {
		mode = condReinterrupt
	}
	if n.nextWaiter != nil {
		c.unlinkCancelledWaiters()
	}
	if err := c.reportInterrupt(cur, mode); err != nil {
		return false, err
	}
	return !timedOut, nil
}

// AwaitFor is AwaitUntil with a deadline d from now.
func (c *Condition) AwaitFor(d time.Duration) (bool, error) {
	return c.AwaitUntil(time.Now().Add(d))
}

// Signal moves the longest-waiting thread, if any, from this condition's
// queue to the lock's wait queue, where the normal release protocol will wake
// it in FIFO turn.
func (c *Condition) Signal() {
	c.checkOwner(thread.Current())
	if c.firstWaiter != nil {
		c.doSignal(c.firstWaiter)
	}
}

// SignalAll moves every waiting thread to the lock's wait queue, preserving
// their relative order.
func (c *Condition) SignalAll() {
	c.checkOwner(thread.Current())
	if c.firstWaiter != nil {
		c.doSignalAll(c.firstWaiter)
	}
}

// doSignal dequeues waiters starting at first until one is successfully
// transferred (cancelled waits transfer nothing and are skipped).
func (c *Condition) doSignal(first *node) {
	for {
		c.firstWaiter = first.nextWaiter
		if c.firstWaiter == nil {
			c.lastWaiter = nil
		}
		first.nextWaiter = nil
		if c.s.transferForSignal(first) {
			return
		}
		first = c.firstWaiter
		if first == nil {
			return
		}
	}
}

// doSignalAll detaches the whole queue and transfers each node in order.
func (c *Condition) doSignalAll(first *node) {
	c.firstWaiter = nil
	c.lastWaiter = nil
	for first != nil {
		next := first.nextWaiter
		first.nextWaiter = nil
		c.s.transferForSignal(first)
		first = next
	}
}

// hasWaiters reports whether any thread is waiting on this condition.
// Called with the lock held.
func (c *Condition) hasWaiters() bool {
	for n := c.firstWaiter; n != nil; n = n.nextWaiter {
		if n.status.Load() == statusCondition {
			return true
		}
	}
	return false
}

// waitQueueLength counts the threads waiting on this condition.
// Called with the lock held.
func (c *Condition) waitQueueLength() int {
	var count int
	for n := c.firstWaiter; n != nil; n = n.nextWaiter {
		if n.status.Load() == statusCondition {
			count++
		}
	}
	return count
}
