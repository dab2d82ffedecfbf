// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"testing"
	"time"

	"github.com/grailbio/piccolo"
	"github.com/grailbio/piccolo/stats"
	"github.com/grailbio/piccolo/table"
)

// newTestMaster constructs a master directly, without the worker
// registration handshake, for unit tests that drive its internals.
func newTestMaster(numWorkers int, tables *table.Registry, opts Options) *Master {
	m := &Master{
		opts:        opts.withDefaults(),
		tables:      tables,
		dead:        make(map[int]bool),
		counters:    stats.NewMap(),
		methodStats: make(map[string]*methodStats),
		clock:       time.Now,
		sleep:       func(time.Duration) {},
	}
	m.start = m.clock()
	for i := 0; i < numWorkers; i++ {
		m.workers = append(m.workers, newWorkerState(i, m.start))
	}
	return m
}

// primeStats primes the method's timing estimate so the stealing
// gates see a stable, expensive method.
func primeStats(m *Master, kernel, method string, calls int64, avg time.Duration) *methodStats {
	ms := m.stats(kernel, method)
	ms.shardCalls.Add(calls)
	ms.shardTime.Add(calls * int64(avg))
	return ms
}

// stragglerSetup builds a 2-worker master where worker 0 has finished
// both of its tasks and worker 1 still has both of its pending.
func stragglerSetup(t *testing.T) (*Master, piccolo.RunDescriptor) {
	t.Helper()
	tables := table.NewRegistry()
	tab := tables.Register("ranks", 4)
	m := newTestMaster(2, tables, Options{WorkStealing: true})
	m.assignTables()
	r := piccolo.RunOnAll("k", "m", tab)
	m.assignTasks(r, r.Shards)
	w0 := m.workers[0]
	for _, task := range w0.work {
		task.status = taskActive
		w0.setFinished(task.id)
	}
	if got, want := m.workers[1].numPending(), 2; got != want {
		t.Fatalf("got %v pending on straggler, want %v", got, want)
	}
	return m, r
}

func TestStealMigratesTask(t *testing.T) {
	m, r := stragglerSetup(t)
	// At a 500ms average, the straggler's two unit tasks give an eta of
	// 2 against a move cost of 1, so the steal pays off.
	if !m.stealWork(r, 0, 500*time.Millisecond) {
		t.Fatal("steal did not happen")
	}
	w0, w1 := m.workers[0], m.workers[1]
	if got, want := w1.numPending(), 1; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	var stolen *taskState
	for _, task := range w0.work {
		if task.stolen {
			stolen = task
		}
	}
	if stolen == nil {
		t.Fatal("no stolen task on destination")
	}
	if got, want := stolen.status, taskPending; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	// Ownership moved with the task.
	if !w0.serves(stolen.id) {
		t.Error("destination does not own the stolen shard")
	}
	if w1.serves(stolen.id) {
		t.Error("source still owns the stolen shard")
	}
	if w1.isAssigned(stolen.id) {
		t.Error("source still holds the stolen task")
	}
	if got, want := m.counters.Int("stolen").Get(), int64(1); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestStealAtMostOncePerTask(t *testing.T) {
	m, r := stragglerSetup(t)
	if !m.stealWork(r, 0, 500*time.Millisecond) {
		t.Fatal("first steal did not happen")
	}
	// Both workers now have one pending task each; the stolen task is
	// the weightiest and blocks further migration of itself.
	for i := 0; i < 4; i++ {
		m.stealWork(r, 1, 500*time.Millisecond)
		m.stealWork(r, 0, 500*time.Millisecond)
	}
	stolen := 0
	for _, w := range m.workers {
		for _, task := range w.work {
			if task.stolen {
				stolen++
			}
		}
	}
	if got, want := stolen, 1; got != want {
		t.Errorf("got %v stolen tasks, want %v", got, want)
	}
}

func TestStealSuppressedByMoveCost(t *testing.T) {
	// With a single pending task, the queue's eta never exceeds the
	// round-trip move cost, so the steal must be rejected.
	tables := table.NewRegistry()
	tab := tables.Register("ranks", 2)
	m := newTestMaster(2, tables, Options{WorkStealing: true})
	m.assignTables()
	r := piccolo.RunOnAll("k", "m", tab)
	m.assignTasks(r, r.Shards)
	w0 := m.workers[0]
	for _, task := range w0.work {
		task.status = taskActive
		w0.setFinished(task.id)
	}
	if m.stealWork(r, 0, time.Second) {
		t.Error("steal happened despite unprofitable move")
	}
	for _, w := range m.workers {
		for _, task := range w.work {
			if task.stolen {
				t.Errorf("task %s marked stolen", task.id)
			}
		}
	}
}

func TestStealPassGates(t *testing.T) {
	m, r := stragglerSetup(t)
	now := time.Now()
	m.clock = func() time.Time { return now }
	m.workers[0].ping(now.Add(-time.Second)) // idle well past the threshold

	// A fast method (below the average-time gate) must not steal,
	// even though the straggler's queue is long. This is the
	// suppressed-by-cost scenario end to end.
	ms := primeStats(m, "k", "fast", 20, 50*time.Millisecond)
	if m.stealPass(r, ms) {
		t.Error("steal pass triggered for a cheap method")
	}
	// Too few calls: the estimate is not yet trustworthy.
	ms = primeStats(m, "k", "rare", 5, 500*time.Millisecond)
	if m.stealPass(r, ms) {
		t.Error("steal pass triggered without a stable estimate")
	}
	// Stable and expensive: the steal proceeds and requests a
	// re-broadcast.
	ms = primeStats(m, "k", "slow", 20, 500*time.Millisecond)
	if !m.stealPass(r, ms) {
		t.Error("steal pass did not trigger")
	}
}

func TestStealPassRespectsIdleTime(t *testing.T) {
	m, r := stragglerSetup(t)
	now := time.Now()
	m.clock = func() time.Time { return now }
	// Worker 0 finished very recently: not yet a steal destination.
	m.workers[0].ping(now.Add(-100 * time.Millisecond))
	ms := primeStats(m, "k", "slow", 20, 500*time.Millisecond)
	if m.stealPass(r, ms) {
		t.Error("steal pass triggered before the idle threshold")
	}
}

func TestStealDisabled(t *testing.T) {
	m, r := stragglerSetup(t)
	m.opts.WorkStealing = false
	if m.stealWork(r, 0, 500*time.Millisecond) {
		t.Error("steal happened with stealing disabled")
	}
}
