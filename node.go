// Copyright 2026 The relock Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package relock

import (
	"go.uber.org/atomic"

	"github.com/go-relock/relock/thread"
)

// Wait status values held in node.status.
//
// A node starts at 0.  Negative values mean the node is in use; cancelled is
// the only positive value, so "status > 0" tests for cancellation.
const (
	// statusCancelled marks a node whose thread gave up waiting because of
	// a timeout or an interrupt.  Cancelled nodes are never revived; they
	// are skipped and unlinked lazily by later traversals.
	statusCancelled int32 = 1

	// statusSignal marks a node whose successor is (or is about to be)
	// parked, so the node's thread must unpark its successor when it
	// releases or cancels.
	statusSignal int32 = -1

	// statusCondition marks a node enqueued on a condition queue.  The
	// node moves to the wait queue, with status reset to 0, when the
	// condition is signalled.
	statusCondition int32 = -2
)

// A node holds one thread waiting for the synchronizer, on either the main
// wait queue or a condition queue, never both at once.
//
// The wait queue is a CLH-style doubly-linked list with a sentinel head: a
// thread blocks only if its predecessor carries statusSignal, and each
// releasing thread wakes at most its effective successor.  prev links are
// reliable; next links are an optimization and a nil or stale next only means
// a waker must scan backward from the tail.  A cancelled node self-links its
// next field so that traversals drop it.
type node struct {
	status atomic.Int32
	prev   atomic.Pointer[node]
	next   atomic.Pointer[node]

	// thread is the waiting thread; cleared when the node becomes head
	// (its thread has acquired) or is cancelled.
	thread atomic.Pointer[thread.Thread]

	// nextWaiter links nodes on a condition queue.  It is only touched
	// while the associated lock is held, so it needs no atomics.
	nextWaiter *node
}
