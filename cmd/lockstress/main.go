// Copyright 2026 The relock Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command lockstress hammers a lock implementation with concurrent
// increment loops and verifies that no updates were lost.
//
// It can drive the relock lock in either fairness mode, or sync.Mutex and
// go-deadlock's mutex for comparison:
//
//	lockstress --impl=fair --threads=8 --iters=200000
//	lockstress --impl=mutex --latency
//
// With --latency each acquisition is timed with hrtime and a small summary
// is printed per thread.
package main

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cosmosnicolaou/llog"
	"github.com/loov/hrtime"
	"github.com/sasha-s/go-deadlock"
	"github.com/spf13/pflag"

	"github.com/go-relock/relock"
	"github.com/go-relock/relock/thread"
)

var (
	impl     = pflag.String("impl", "nonfair", "lock implementation: nonfair, fair, mutex or deadlock")
	nthreads = pflag.Int("threads", 4, "number of goroutines contending for the lock")
	iters    = pflag.Int("iters", 100000, "lock/unlock iterations per goroutine")
	holdWork = pflag.Int("hold", 0, "spin iterations inside each critical section")
	latency  = pflag.Bool("latency", false, "record per-acquisition latency with hrtime")
)

func newLocker(name string) (sync.Locker, error) {
	switch name {
	case "nonfair":
		return relock.New(), nil
	case "fair":
		return relock.NewFair(), nil
	case "mutex":
		return new(sync.Mutex), nil
	case "deadlock":
		return new(deadlock.Mutex), nil
	}
	return nil, fmt.Errorf("unknown lock implementation %q", name)
}

// shared is the state the worker threads contend over.
type shared struct {
	lock    sync.Locker
	counter int // protected by lock
}

// worker increments sh.counter n times under the lock, spinning hold
// iterations inside each critical section.  If bench is non-nil it times each
// iteration.
func worker(sh *shared, n, hold int, bench *hrtime.BenchmarkTSC, wg *sync.WaitGroup) {
	defer wg.Done()
	defer thread.Exit()
	body := func() {
		sh.lock.Lock()
		sh.counter++
		for i := 0; i < hold; i++ {
		}
		sh.lock.Unlock()
	}
	if bench != nil {
		for bench.Next() {
			body()
		}
		return
	}
	for i := 0; i < n; i++ {
		body()
	}
}

func main() {
	pflag.Parse()
	log := llog.NewLogger("lockstress", 0)
	defer log.Flush()

	sh := &shared{}
	var err error
	if sh.lock, err = newLocker(*impl); err != nil {
		log.Printf(llog.ErrorLog, "%v", err)
		log.Flush()
		os.Exit(2)
	}

	var benches []*hrtime.BenchmarkTSC
	if *latency {
		benches = make([]*hrtime.BenchmarkTSC, *nthreads)
		for i := range benches {
			benches[i] = hrtime.NewBenchmarkTSC(*iters)
		}
	}

	log.Printf(llog.InfoLog, "impl=%s threads=%d iters=%d hold=%d",
		*impl, *nthreads, *iters, *holdWork)

	var wg sync.WaitGroup
	wg.Add(*nthreads)
	start := time.Now()
	for i := 0; i < *nthreads; i++ {
		var bench *hrtime.BenchmarkTSC
		if benches != nil {
			bench = benches[i]
		}
		go worker(sh, *iters, *holdWork, bench, &wg)
	}
	wg.Wait()
	elapsed := time.Since(start)

	want := *nthreads * *iters
	log.Printf(llog.InfoLog, "counter=%d elapsed=%v (%.0f ops/s)",
		sh.counter, elapsed, float64(want)/elapsed.Seconds())

	for i, bench := range benches {
		laps := bench.Laps()
		if len(laps) == 0 {
			continue
		}
		var total, max time.Duration
		for _, lap := range laps {
			total += lap
			if lap > max {
				max = lap
			}
		}
		log.Printf(llog.InfoLog, "thread %d: %d laps, avg=%v max=%v",
			i, len(laps), total/time.Duration(len(laps)), max)
	}

	if sh.counter != want {
		log.Printf(llog.ErrorLog, "lost updates: counter=%d, want %d", sh.counter, want)
		log.Flush()
		os.Exit(1)
	}
}
