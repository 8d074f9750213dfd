// Copyright 2026 The relock Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package relock_test

import (
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/go-relock/relock"
	"github.com/go-relock/relock/thread"
)

// A testData is the state shared between the threads in each of the tests below.
type testData struct {
	nThreads  int // Number of test threads; constant after init.
	loopCount int // Iteration count for each test thread; constant after init.

	lock *relock.Lock // Protects i, id, and finishedThreads.
	i    int          // Counter incremented by test loops.
	id   int          // id of current lock-holding thread in some tests.

	done            *relock.Condition // Signalled when finishedThreads==nThreads.
	finishedThreads int               // Count of threads that have finished.
}

func newTestData(nThreads, loopCount int, lock *relock.Lock) *testData {
	td := &testData{nThreads: nThreads, loopCount: loopCount, lock: lock}
	td.done = lock.NewCondition()
	return td
}

// threadFinished indicates that a thread has finished its operations on
// testData by incrementing td.finishedThreads, and signalling td.done when it
// reaches td.nThreads.  See waitForAllThreads.
// We could use sync.WaitGroup here, but this code exercises the lock more.
func (td *testData) threadFinished() {
	td.lock.Lock()
	td.finishedThreads++
	if td.finishedThreads == td.nThreads {
		td.done.SignalAll()
	}
	td.lock.Unlock()
}

// waitForAllThreads waits until all td.nThreads have called threadFinished,
// and then returns.
func (td *testData) waitForAllThreads() {
	td.lock.Lock()
	for td.finishedThreads != td.nThreads {
		td.done.AwaitUninterruptibly()
	}
	td.lock.Unlock()
}

// ---------------------------------------

// countingLoop is the body of each thread executed by TestLockNThread and
// TestFairLockNThread.  *td represents the test data that the threads share,
// and id is an integer unique to each test thread.
func countingLoop(td *testData, id int) {
	defer thread.Exit()
	n := td.loopCount
	for i := 0; i != n; i++ {
		td.lock.Lock()
		td.id = id
		td.i++
		if td.id != id {
			panic("td.id != id")
		}
		td.lock.Unlock()
	}
	td.threadFinished()
}

// TestLockNThread creates a few threads, each of which increments an integer
// a fixed number of times, using a non-fair Lock for mutual exclusion.  It
// checks that the integer is incremented the correct number of times.
func TestLockNThread(t *testing.T) {
	td := newTestData(5, 40000, relock.New())
	for i := 0; i != td.nThreads; i++ {
		go countingLoop(td, i)
	}
	td.waitForAllThreads()
	if td.i != td.nThreads*td.loopCount {
		t.Fatalf("TestLockNThread final count inconsistent: want %d, got %d",
			td.nThreads*td.loopCount, td.i)
	}
}

// TestFairLockNThread is TestLockNThread on a fair lock.
func TestFairLockNThread(t *testing.T) {
	td := newTestData(5, 20000, relock.NewFair())
	for i := 0; i != td.nThreads; i++ {
		go countingLoop(td, i)
	}
	td.waitForAllThreads()
	if td.i != td.nThreads*td.loopCount {
		t.Fatalf("TestFairLockNThread final count inconsistent: want %d, got %d",
			td.nThreads*td.loopCount, td.i)
	}
}

// TestTwoThreadCounter runs the classic lost-update check: two threads each
// increment a shared counter 100000 times under the lock.
func TestTwoThreadCounter(t *testing.T) {
	td := newTestData(2, 100000, relock.New())
	for i := 0; i != td.nThreads; i++ {
		go countingLoop(td, i)
	}
	td.waitForAllThreads()
	if td.i != td.nThreads*td.loopCount {
		t.Fatalf("lost updates: want %d, got %d", td.nThreads*td.loopCount, td.i)
	}
}

// ---------------------------------------

// countingLoopTryLock is the body of each thread executed by
// TestTryLockNThread.
func countingLoopTryLock(td *testData, id int) {
	defer thread.Exit()
	n := td.loopCount
	for i := 0; i != n; i++ {
		for !td.lock.TryLock() {
			runtime.Gosched()
		}
		td.id = id
		td.i++
		if td.id != id {
			panic("td.id != id")
		}
		td.lock.Unlock()
	}
	td.threadFinished()
}

// TestTryLockNThread tests that acquiring a Lock with TryLock using several
// threads provides mutual exclusion.
func TestTryLockNThread(t *testing.T) {
	td := newTestData(5, 20000, relock.New())
	for i := 0; i != td.nThreads; i++ {
		go countingLoopTryLock(td, i)
	}
	td.waitForAllThreads()
	if td.i != td.nThreads*td.loopCount {
		t.Fatalf("TestTryLockNThread final count inconsistent: want %d, got %d",
			td.nThreads*td.loopCount, td.i)
	}
}

// ---------------------------------------

// TestReentrancy checks that nested Lock calls by one thread accumulate holds
// that must each be released, and that the hold count tracks the nesting.
func TestReentrancy(t *testing.T) {
	l := relock.New()
	const depth = 10
	for i := 1; i <= depth; i++ {
		l.Lock()
		if got := l.HoldCount(); got != i {
			t.Fatalf("hold count after %d nested locks: got %d", i, got)
		}
	}
	if !l.IsHeldByCurrentThread() {
		t.Fatalf("IsHeldByCurrentThread()==false while holding")
	}

	// No other thread can take the lock until every hold is gone.
	for i := depth; i > 1; i-- {
		l.Unlock()
		if !l.IsLocked() {
			t.Fatalf("lock became free after %d of %d unlocks", depth-i+1, depth)
		}
	}
	l.Unlock()
	if l.IsLocked() || l.HoldCount() != 0 {
		t.Fatalf("lock not free after releasing all holds: %v", l)
	}

	acquired := make(chan bool)
	go func() {
		defer thread.Exit()
		ok := l.TryLock()
		if ok {
			l.Unlock()
		}
		acquired <- ok
	}()
	if !<-acquired {
		t.Fatalf("another thread could not acquire the fully released lock")
	}
}

// TestTryLockRoundTrip checks that TryLock followed by Unlock leaves the lock
// exactly as it started.
func TestTryLockRoundTrip(t *testing.T) {
	l := relock.New()
	if !l.TryLock() {
		t.Fatalf("TryLock failed on a free lock")
	}
	if got := l.HoldCount(); got != 1 {
		t.Fatalf("hold count after TryLock: got %d, want 1", got)
	}
	l.Unlock()
	if l.IsLocked() {
		t.Fatalf("IsLocked()==true after round trip")
	}
	if got := l.HoldCount(); got != 0 {
		t.Fatalf("hold count after round trip: got %d, want 0", got)
	}
}

// TestTryLockBargesOnFairLock checks the deliberate fairness exemption:
// TryLock takes a free fair lock even though another thread is queued.
func TestTryLockBargesOnFairLock(t *testing.T) {
	l := relock.NewFair()
	l.Lock()

	handle := make(chan *thread.Thread, 1)
	unblocked := make(chan struct{})
	go func() {
		defer thread.Exit()
		handle <- thread.Current()
		l.Lock()
		l.Unlock()
		close(unblocked)
	}()
	w := <-handle
	for !l.HasQueuedThread(w) {
		runtime.Gosched()
	}

	// The queued thread is ahead of us in FIFO terms, yet TryLock on the
	// fresh-released lock must still succeed.
	l.Unlock()
	for !l.TryLock() {
		select {
		case <-unblocked:
			// The queued thread won the race instead; that's a
			// legal outcome, it just means we can't observe the
			// barge this round.
			return
		default:
			runtime.Gosched()
		}
	}
	l.Unlock()
	<-unblocked
}

// ---------------------------------------

// TestUnlockWithoutHoldPanics checks that unlocking a free lock panics.
func TestUnlockWithoutHoldPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("Unlock of an unheld lock did not panic")
		}
	}()
	relock.New().Unlock()
}

// TestUnlockFromOtherThreadPanics checks that a thread cannot release a lock
// held by another thread, and that the failed attempt leaves the lock held.
func TestUnlockFromOtherThreadPanics(t *testing.T) {
	l := relock.New()
	l.Lock()
	panicked := make(chan bool)
	go func() {
		defer thread.Exit()
		defer func() { panicked <- recover() != nil }()
		l.Unlock()
	}()
	if !<-panicked {
		t.Fatalf("Unlock from a non-owning thread did not panic")
	}
	if !l.IsHeldByCurrentThread() || l.HoldCount() != 1 {
		t.Fatalf("failed Unlock changed lock state: %v", l)
	}
	l.Unlock()
}

// ---------------------------------------

// TestLockInterruptibly checks that a thread blocked in LockInterruptibly
// returns ErrInterrupted when interrupted, with its interrupt flag cleared,
// and that the lock is untouched by the abandoned attempt.
func TestLockInterruptibly(t *testing.T) {
	l := relock.New()
	l.Lock()

	handle := make(chan *thread.Thread, 1)
	result := make(chan error, 1)
	go func() {
		defer thread.Exit()
		w := thread.Current()
		handle <- w
		err := l.LockInterruptibly()
		if err == nil {
			l.Unlock()
		}
		if w.IsInterrupted() {
			t.Errorf("interrupt flag still set after LockInterruptibly reported it")
		}
		result <- err
	}()

	w := <-handle
	for !l.HasQueuedThread(w) {
		runtime.Gosched()
	}
	w.Interrupt()
	if err := <-result; err != relock.ErrInterrupted {
		t.Fatalf("LockInterruptibly: got %v, want ErrInterrupted", err)
	}

	// The interrupted attempt must not have corrupted the lock.
	if got := l.HoldCount(); got != 1 {
		t.Fatalf("hold count after interrupted waiter: got %d, want 1", got)
	}
	l.Unlock()
	if !l.TryLock() {
		t.Fatalf("lock not acquirable after interrupted waiter gave up")
	}
	l.Unlock()
}

// TestLockInterruptiblyPendingInterrupt checks that a pending interrupt fails
// the call immediately and is consumed.
func TestLockInterruptiblyPendingInterrupt(t *testing.T) {
	l := relock.New()
	cur := thread.Current()
	cur.Interrupt()
	if err := l.LockInterruptibly(); err != relock.ErrInterrupted {
		t.Fatalf("LockInterruptibly with pending interrupt: got %v, want ErrInterrupted", err)
	}
	if cur.IsInterrupted() {
		t.Fatalf("interrupt flag not cleared by LockInterruptibly")
	}
	if l.IsLocked() {
		t.Fatalf("lock acquired despite pending interrupt")
	}
}

// ---------------------------------------

// TestTryLockForTimeout checks that a timed acquisition of a lock held
// elsewhere gives up close to its deadline, reporting false without error.
func TestTryLockForTimeout(t *testing.T) {
	// The following two values control how aggressively we police the timeout.
	const tooEarly time.Duration = 1 * time.Millisecond
	const tooLate time.Duration = 35 * time.Millisecond // longer, to accommodate scheduling delays
	const tooLateAllowed int = 2                        // number of iterations permitted to violate tooLate

	l := relock.New()
	l.Lock()

	type outcome struct {
		ok      bool
		err     error
		elapsed time.Duration
	}
	var tooLateViolations int
	for i := 0; i != 10; i++ {
		ch := make(chan outcome)
		go func() {
			defer thread.Exit()
			start := time.Now()
			ok, err := l.TryLockFor(87 * time.Millisecond)
			ch <- outcome{ok, err, time.Since(start)}
		}()
		o := <-ch
		if o.ok || o.err != nil {
			t.Fatalf("TryLockFor on a held lock: got (%v, %v), want (false, nil)", o.ok, o.err)
		}
		if o.elapsed < 87*time.Millisecond-tooEarly {
			t.Errorf("TryLockFor returned %v too early", 87*time.Millisecond-o.elapsed)
		}
		if o.elapsed > 87*time.Millisecond+tooLate {
			tooLateViolations++
		}
	}
	l.Unlock()
	if tooLateViolations > tooLateAllowed {
		t.Errorf("TryLockFor returned too late %d times", tooLateViolations)
	}
}

// TestTryLockForUncontended checks the fast path of the timed acquire.
func TestTryLockForUncontended(t *testing.T) {
	l := relock.New()
	ok, err := l.TryLockFor(time.Second)
	if !ok || err != nil {
		t.Fatalf("TryLockFor on a free lock: got (%v, %v), want (true, nil)", ok, err)
	}
	l.Unlock()
}

// ---------------------------------------

// TestFairAcquisitionOrder queues threads one at a time on a fair lock and
// checks that they acquire it in exactly the order they queued.
func TestFairAcquisitionOrder(t *testing.T) {
	l := relock.NewFair()
	l.Lock()

	const k = 6
	var order []int // guarded by l
	var wg sync.WaitGroup
	for i := 0; i != k; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			defer thread.Exit()
			l.Lock()
			order = append(order, id)
			l.Unlock()
		}(i)
		// Make sure this thread is queued before starting the next,
		// so the queue order is deterministic.
		for l.QueueLength() != i+1 {
			runtime.Gosched()
		}
	}

	if !l.HasQueuedThreads() {
		t.Fatalf("HasQueuedThreads()==false with %d queued threads", k)
	}
	l.Unlock()
	wg.Wait()

	want := []int{0, 1, 2, 3, 4, 5}
	if diff := cmp.Diff(want, order); diff != "" {
		t.Fatalf("fair lock granted out of order (-want +got):\n%s", diff)
	}
}

// ---------------------------------------

// TestLockString spot-checks the diagnostic description.
func TestLockString(t *testing.T) {
	l := relock.New()
	if got := l.String(); got != "Lock[Unlocked]" {
		t.Errorf("String() of free lock: got %q", got)
	}
	l.Lock()
	thread.Current().SetName("stringer")
	if got := l.String(); got == "Lock[Unlocked]" {
		t.Errorf("String() of held lock reports unlocked")
	}
	if l.Owner() != thread.Current() {
		t.Errorf("Owner() != current thread while holding")
	}
	l.Unlock()
	if l.Owner() != nil {
		t.Errorf("Owner() != nil after unlock")
	}
}

// ---------------------------------------

// BenchmarkLockUncontended measures the performance of an uncontended Lock.
func BenchmarkLockUncontended(b *testing.B) {
	l := relock.New()
	for i := 0; i != b.N; i++ {
		l.Lock()
		l.Unlock()
	}
}

// BenchmarkMutexUncontended measures the performance of an uncontended
// sync.Mutex, for comparison.
func BenchmarkMutexUncontended(b *testing.B) {
	var mu sync.Mutex
	for i := 0; i != b.N; i++ {
		mu.Lock()
		mu.Unlock()
	}
}

// BenchmarkLockReentrant measures a nested acquisition by the holder.
func BenchmarkLockReentrant(b *testing.B) {
	l := relock.New()
	l.Lock()
	for i := 0; i != b.N; i++ {
		l.Lock()
		l.Unlock()
	}
	l.Unlock()
}
