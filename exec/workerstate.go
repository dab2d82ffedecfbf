// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"sort"
	"time"

	"github.com/grailbio/base/must"
	"github.com/grailbio/base/status"
	"github.com/grailbio/piccolo"
	"github.com/grailbio/piccolo/rpc"
	"github.com/grailbio/piccolo/table"
)

// A workerState is the master's view of one worker slot: the table
// shards the worker is authoritative owner of, the task set for the
// current kernel epoch, and liveness and timing bookkeeping. Worker
// states live for the master's lifetime; task sets are per-epoch.
type workerState struct {
	id int

	// work holds the worker's tasks for the current epoch. Every task
	// here is backed by a shard the worker owns, except briefly while
	// a steal is in transit.
	work map[TaskID]*taskState

	// shards is the set of table shards this worker serves.
	shards map[TaskID]bool

	lastPing      time.Time
	lastTaskStart time.Time
	totalRuntime  time.Duration

	// checkpointing is reserved for checkpoint coordination; the
	// barrier does not consult it.
	checkpointing bool

	status *status.Task
}

func newWorkerState(id int, now time.Time) *workerState {
	return &workerState{
		id:       id,
		work:     make(map[TaskID]*taskState),
		shards:   make(map[TaskID]bool),
		lastPing: now,
	}
}

// ping records message receipt from the worker.
func (w *workerState) ping(now time.Time) { w.lastPing = now }

// idleTime returns how long the worker has been idle. A worker is
// idle only when every task of the current epoch has finished; the
// duration is measured from the last ping and clamped at zero in
// case of reordered pings.
func (w *workerState) idleTime(now time.Time) time.Duration {
	if w.numFinished() != len(w.work) {
		return 0
	}
	idle := now.Sub(w.lastPing)
	if idle < 0 {
		return 0
	}
	return idle
}

// serves reports whether the worker owns the given shard.
func (w *workerState) serves(id TaskID) bool { return w.shards[id] }

// isAssigned reports whether the worker holds a task for id in the
// current epoch.
func (w *workerState) isAssigned(id TaskID) bool {
	_, ok := w.work[id]
	return ok
}

// assignShard adds (or removes, when serve is false) ownership of
// the given shard index for every registered table wide enough to
// have it. Shards of all tables with the same index are co-located
// so that kernels can join against other tables locally.
func (w *workerState) assignShard(tables *table.Registry, shard int, serve bool) {
	for _, t := range tables.Tables() {
		if shard >= t.NumShards {
			continue
		}
		id := TaskID{Table: t.ID, Shard: shard}
		if serve {
			w.shards[id] = true
		} else {
			delete(w.shards, id)
		}
	}
}

func (w *workerState) assignTask(t *taskState) { w.work[t.id] = t }

func (w *workerState) removeTask(t *taskState) { delete(w.work, t.id) }

// clearTasks releases the previous epoch's task states.
func (w *workerState) clearTasks() { w.work = make(map[TaskID]*taskState) }

// setFinished marks the given task finished. The task must be active
// on this worker.
func (w *workerState) setFinished(id TaskID) {
	t := w.work[id]
	must.Truef(t != nil, "worker %d: finish for unassigned task %s", w.id, id)
	must.Truef(t.status == taskActive, "worker %d: finish for %s task %s", w.id, t.status, id)
	t.status = taskFinished
}

func (w *workerState) numStatus(s taskStatus) int {
	n := 0
	for _, t := range w.work {
		if t.status == s {
			n++
		}
	}
	return n
}

func (w *workerState) numPending() int  { return w.numStatus(taskPending) }
func (w *workerState) numActive() int   { return w.numStatus(taskActive) }
func (w *workerState) numFinished() int { return w.numStatus(taskFinished) }
func (w *workerState) numAssigned() int { return len(w.work) }

// pending returns the worker's pending tasks in TaskID order, so
// that selections among equal-weight tasks are deterministic.
func (w *workerState) pending() []*taskState {
	var out []*taskState
	for _, t := range w.work {
		if t.status == taskPending {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id.Less(out[j].id) })
	return out
}

// getNext selects the worker's best pending task, marks it active,
// and returns the kernel request to send. It reports false when the
// worker has no pending work.
func (w *workerState) getNext(r piccolo.RunDescriptor, now time.Time) (rpc.KernelRequest, bool) {
	p := w.pending()
	if len(p) == 0 {
		return rpc.KernelRequest{}, false
	}
	best := maxWeight(p)
	best.status = taskActive
	w.lastTaskStart = now
	return rpc.KernelRequest{
		Kernel: r.Kernel,
		Method: r.Method,
		Table:  r.Table.ID,
		Shard:  best.id.Shard,
	}, true
}
