// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package exec implements the Piccolo master: the control plane that
// owns shard-to-worker assignment, dispatches kernel invocations,
// rebalances load by work stealing, and drives the flush/apply
// barrier that closes each kernel epoch. It also provides the worker
// engine that executes kernels against in-memory table shards.
package exec

import "fmt"

// A TaskID identifies one unit of kernel work: a single shard of a
// single table. TaskIDs order lexicographically on (table, shard).
type TaskID struct {
	Table int
	Shard int
}

// String returns the id as "table:shard".
func (t TaskID) String() string { return fmt.Sprintf("%d:%d", t.Table, t.Shard) }

// Less reports whether t orders before u.
func (t TaskID) Less(u TaskID) bool {
	return t.Table < u.Table || t.Table == u.Table && t.Shard < u.Shard
}

// taskStatus is the lifecycle state of a task within one kernel
// epoch. Transitions only move forward: pending, active, finished.
type taskStatus int

const (
	taskPending taskStatus = iota
	taskActive
	taskFinished
)

var taskStatuses = [...]string{
	taskPending:  "PENDING",
	taskActive:   "ACTIVE",
	taskFinished: "FINISHED",
}

func (s taskStatus) String() string { return taskStatuses[s] }

// A taskState is one work item in the current kernel epoch. Task
// states are created when the epoch's shard list is assigned and
// released when the epoch completes; they are owned by the worker
// state maps that hold them.
type taskState struct {
	id     TaskID
	status taskStatus
	// size estimates the amount of work in the task. Units are
	// nominal; only relative comparisons matter.
	size int64
	// stolen is set when the task migrates to another worker. A task
	// migrates at most once per epoch.
	stolen bool
}

func newTaskState(id TaskID, size int64) *taskState {
	return &taskState{id: id, size: size}
}

// weightLess orders tasks by dispatch preference: stolen tasks
// outrank everything else so a migrated shard is run promptly, and
// otherwise larger estimated sizes win so heavy tasks start early and
// do not dominate tail latency.
func weightLess(a, b *taskState) bool {
	if a.stolen != b.stolen {
		return !a.stolen
	}
	return a.size < b.size
}

// maxWeight returns the weightLess-maximal task. Ties keep the
// earliest task, so selection is deterministic for equal weights.
func maxWeight(tasks []*taskState) *taskState {
	best := tasks[0]
	for _, t := range tasks[1:] {
		if weightLess(best, t) {
			best = t
		}
	}
	return best
}
