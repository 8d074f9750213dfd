// Copyright 2026 The relock Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package relock provides a reentrant mutual-exclusion lock with selectable
// fairness and condition variables, built on a queued synchronizer: an
// atomic hold-count word, a CLH-style FIFO queue of waiting threads, and the
// parking primitive from the park package.
//
// The lock differs from sync.Mutex in that the holding thread may lock again
// (the lock counts holds, and must be unlocked as many times), waiting can be
// interrupted or given a deadline, any number of Conditions can be bound to
// one lock, and a fair variant grants the lock strictly in queue order.  Like
// sync.Mutex, a lock acquired by one thread must not be released by another;
// unlocking without holding panics.
//
// Threads (goroutines) are identified through the thread package; a
// goroutine's first use of a lock registers a handle for it, and handles are
// what Interrupt and the introspection methods traffic in.
package relock

import (
	"errors"
	"time"

	"github.com/go-relock/relock/thread"
)

// ErrInterrupted is returned by interruptible waits when the calling thread's
// interrupt flag is found set; the flag is cleared as part of reporting.
var ErrInterrupted = errors.New("relock: thread interrupted")

// A Lock is a reentrant mutual-exclusion lock.  The zero value is valid: an
// unlocked, non-fair lock.  Use NewFair for a lock granting strictly in
// arrival order.
//
// A Lock must not be copied after first use.
type Lock struct {
	s syncer
}

// New returns an unlocked lock with the default, non-fair acquisition
// policy: a thread arriving at the moment the lock is released may take it
// ahead of queued waiters, which favours throughput over ordering.
func New() *Lock {
	return &Lock{}
}

// NewFair returns an unlocked fair lock: whenever the lock is contended, it
// is granted to the queued threads in FIFO order.  Fairness costs throughput
// but bounds waiting; note TryLock is exempt (see its comment).
func NewFair() *Lock {
	l := &Lock{}
	l.s.fair = true
	return l
}

// Lock acquires the lock, blocking until it is available.  If the calling
// thread already holds the lock the hold count is incremented and Lock
// returns immediately.  An interrupt delivered while blocked does not abort
// the acquisition; the flag is reasserted once the lock is held.
func (l *Lock) Lock() {
	cur := thread.Current()
	if !l.s.fair && l.s.state.CompareAndSwap(0, 1) {
		// Barging fast path for the non-fair policy.
		l.s.owner.Store(cur)
		return
	}
	l.s.acquire(cur, 1)
}

// LockInterruptibly acquires the lock like Lock, unless the thread's
// interrupt flag is set on entry or becomes set while blocked, in which case
// it gives up its queue slot and returns ErrInterrupted with the flag
// cleared.  The lock's state is unaffected by an interrupted attempt.
func (l *Lock) LockInterruptibly() error {
	cur := thread.Current()
	if cur.Interrupted() {
		return ErrInterrupted
	}
	if l.s.tryAcquire(cur, 1) {
		return nil
	}
	return l.s.doAcquireInterruptibly(cur, 1)
}

// TryLock acquires the lock only if it is free or already held by the
// calling thread, without blocking, and reports whether it succeeded.
//
// TryLock barges even on a fair lock: it takes a free lock immediately
// although other threads are queued.  This mirrors the behaviour documented
// for zero-timeout try-acquisition; use TryLockFor with a zero-ish timeout to
// honour fairness instead.
func (l *Lock) TryLock() bool {
	return l.s.nonfairTryAcquire(thread.Current(), 1)
}

// TryLockFor acquires the lock like Lock but gives up after d, reporting
// whether the lock was acquired.  Unlike TryLock this honours the fairness
// policy.  Returns ErrInterrupted if the thread is interrupted before
// acquiring.
func (l *Lock) TryLockFor(d time.Duration) (bool, error) {
	cur := thread.Current()
	if cur.Interrupted() {
		return false, ErrInterrupted
	}
	if l.s.tryAcquire(cur, 1) {
		return true, nil
	}
	return l.s.doAcquireFor(cur, 1, d)
}

// Unlock removes one hold.  When the count reaches zero the lock is released
// and the longest-waiting thread, if any, is woken.  Panics if the calling
// thread does not hold the lock.
func (l *Lock) Unlock() {
	l.s.release(1)
}

// NewCondition returns a new Condition bound to this lock.
func (l *Lock) NewCondition() *Condition {
	return &Condition{s: &l.s}
}

// ------------------------------------------
// Introspection.  These are racy snapshots intended for monitoring, testing
// and debugging, not for synchronization; except where noted they may be
// called without holding the lock.

// IsFair reports the acquisition policy chosen at construction.
func (l *Lock) IsFair() bool {
	return l.s.fair
}

// IsLocked reports whether any thread holds the lock.
func (l *Lock) IsLocked() bool {
	return l.s.state.Load() != 0
}

// IsHeldByCurrentThread reports whether the calling thread holds the lock.
func (l *Lock) IsHeldByCurrentThread() bool {
	return l.s.owner.Load() == thread.Current()
}

// HoldCount returns the number of nested holds the calling thread has, or 0
// if it does not hold the lock.
func (l *Lock) HoldCount() int {
	if l.s.owner.Load() != thread.Current() {
		return 0
	}
	return int(l.s.state.Load())
}

// Owner returns the thread currently holding the lock, or nil.
func (l *Lock) Owner() *thread.Thread {
	if l.s.state.Load() == 0 {
		return nil
	}
	return l.s.owner.Load()
}

// HasQueuedThreads reports whether any thread is waiting to acquire.
func (l *Lock) HasQueuedThreads() bool {
	return l.s.hasQueuedThreads()
}

// HasQueuedThread reports whether w is waiting to acquire this lock.
func (l *Lock) HasQueuedThread(w *thread.Thread) bool {
	return l.s.isQueued(w)
}

// QueueLength returns an estimate of the number of threads waiting to
// acquire.
func (l *Lock) QueueLength() int {
	return l.s.queueLength()
}

// HasWaiters reports whether any thread is waiting on c, which must be bound
// to this lock.  The calling thread must hold the lock.
func (l *Lock) HasWaiters(c *Condition) bool {
	l.checkCondition(c)
	c.checkOwner(thread.Current())
	return c.hasWaiters()
}

// WaitQueueLength returns an estimate of the number of threads waiting on c,
// which must be bound to this lock.  The calling thread must hold the lock.
func (l *Lock) WaitQueueLength(c *Condition) int {
	l.checkCondition(c)
	c.checkOwner(thread.Current())
	return c.waitQueueLength()
}

func (l *Lock) checkCondition(c *Condition) {
	if c == nil || c.s != &l.s {
		panic("relock: condition not bound to this lock")
	}
}

// String describes the lock and its state, either "Lock[Unlocked]" or
// "Lock[Locked by <thread>]".
func (l *Lock) String() string {
	if o := l.Owner(); o != nil {
		return "Lock[Locked by " + o.String() + "]"
	}
	return "Lock[Unlocked]"
}
