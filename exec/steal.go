// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"math"
	"time"

	"github.com/grailbio/base/log"
	"github.com/grailbio/piccolo"
)

// nominalShardSize is the per-shard work estimate used to normalize
// the stealer's cost model. Task sizes are expressed in the same
// nominal units, so only the ratio matters.
const nominalShardSize = 1.0

// stealPass runs one stealing round: for every worker that has been
// idle long enough, it attempts a single steal. Stealing is
// considered only when enabled, when the method's timing estimate is
// stable, and when the average shard time is large enough for
// migration to pay off. It reports whether any steal mutated shard
// ownership, in which case the caller must re-broadcast assignments
// before dispatching further work.
func (m *Master) stealPass(r piccolo.RunDescriptor, ms *methodStats) bool {
	if !m.opts.WorkStealing {
		return false
	}
	avg := ms.avgCompletionTime()
	if ms.shardCalls.Get() <= stealMinShardCalls || avg <= stealMinAvgShardTime {
		return false
	}
	now := m.clock()
	needUpdate := false
	for _, w := range m.workers {
		if w.idleTime(now) > StealIdleTime && m.stealWork(r, w.id, avg) {
			needUpdate = true
		}
	}
	return needUpdate
}

// stealWork attempts to migrate one pending task to idleWorker from
// the alive worker with the most pending tasks. The candidate task is
// the one the dispatcher would pick next; it moves only if it has
// never been stolen before and the time remaining in the source's
// queue exceeds the cost of moving the shard's state out and the
// results back. On success the task, and ownership of its shard,
// belong to idleWorker, and the task is marked stolen so it can never
// migrate again this epoch.
//
// Callers must re-broadcast shard assignments before dispatching the
// migrated task.
func (m *Master) stealWork(r piccolo.RunDescriptor, idleWorker int, avgCompletionTime time.Duration) bool {
	if !m.opts.WorkStealing {
		return false
	}
	dst := m.workers[idleWorker]
	if !m.alive(dst.id) {
		return false
	}

	var src *workerState
	for _, w := range m.workers {
		if m.alive(w.id) && (src == nil || w.numPending() > src.numPending()) {
			src = w
		}
	}
	if src == nil || src.numPending() == 0 {
		return false
	}

	pending := src.pending()
	task := maxWeight(pending)
	if task.stolen {
		return false
	}

	avg := avgCompletionTime.Seconds()
	// Moving a shard costs a round trip: the destination pays once to
	// receive the shard's state and once to return results.
	moveCost := math.Max(1, 2*float64(task.size)*avg/nominalShardSize)
	var eta float64
	for _, p := range pending {
		eta += math.Max(1, float64(p.size)*avg/nominalShardSize)
	}
	if eta <= moveCost {
		return false
	}

	task.stolen = true
	log.Printf("worker %d is stealing task %s (size %d) from worker %d", idleWorker, task.id, task.size, src.id)
	m.counters.Int("stolen").Add(1)
	dst.assignShard(m.tables, task.id.Shard, true)
	src.assignShard(m.tables, task.id.Shard, false)
	src.removeTask(task)
	dst.assignTask(task)
	return true
}
