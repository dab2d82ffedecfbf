// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"testing"
	"time"

	"github.com/grailbio/piccolo"
	"github.com/grailbio/piccolo/table"
)

func TestWorkerStateCounts(t *testing.T) {
	now := time.Now()
	w := newWorkerState(0, now)
	for shard := 0; shard < 3; shard++ {
		w.assignTask(newTaskState(TaskID{Table: 0, Shard: shard}, 1))
	}
	if got, want := w.numPending(), 3; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	w.work[TaskID{0, 1}].status = taskActive
	if got, want := w.numPending(), 2; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := w.numActive(), 1; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	w.setFinished(TaskID{0, 1})
	if got, want := w.numFinished(), 1; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := w.numAssigned(), 3; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestSetFinishedRequiresActive(t *testing.T) {
	w := newWorkerState(0, time.Now())
	w.assignTask(newTaskState(TaskID{0, 0}, 1))
	defer func() {
		if recover() == nil {
			t.Error("expected panic finishing a pending task")
		}
	}()
	w.setFinished(TaskID{0, 0})
}

func TestIdleTime(t *testing.T) {
	now := time.Now()
	w := newWorkerState(0, now)
	w.assignTask(newTaskState(TaskID{0, 0}, 1))

	// Not idle while work is unfinished.
	if got, want := w.idleTime(now.Add(time.Second)), time.Duration(0); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	w.work[TaskID{0, 0}].status = taskActive
	w.setFinished(TaskID{0, 0})
	w.ping(now)
	if got, want := w.idleTime(now.Add(2*time.Second)), 2*time.Second; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	// A ping from the future must not produce a negative idle time.
	w.ping(now.Add(time.Minute))
	if got, want := w.idleTime(now), time.Duration(0); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestGetNext(t *testing.T) {
	tables := table.NewRegistry()
	tab := tables.Register("ranks", 4)
	r := piccolo.RunDescriptor{Kernel: "k", Method: "m", Table: tab}
	now := time.Now()
	w := newWorkerState(0, now)

	if _, ok := w.getNext(r, now); ok {
		t.Error("getNext on empty queue succeeded")
	}
	small := newTaskState(TaskID{Table: tab.ID, Shard: 0}, 1)
	big := newTaskState(TaskID{Table: tab.ID, Shard: 2}, 7)
	w.assignTask(small)
	w.assignTask(big)
	req, ok := w.getNext(r, now)
	if !ok {
		t.Fatal("no task")
	}
	if got, want := req.Shard, 2; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := big.status, taskActive; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := w.lastTaskStart, now; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := req.Kernel, "k"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestAssignShardCoLocates(t *testing.T) {
	tables := table.NewRegistry()
	wide := tables.Register("wide", 8)
	narrow := tables.Register("narrow", 2)
	w := newWorkerState(0, time.Now())

	w.assignShard(tables, 5, true)
	if !w.serves(TaskID{Table: wide.ID, Shard: 5}) {
		t.Error("wide shard 5 not assigned")
	}
	if w.serves(TaskID{Table: narrow.ID, Shard: 5}) {
		t.Error("narrow table has no shard 5")
	}
	w.assignShard(tables, 1, true)
	if !w.serves(TaskID{Table: narrow.ID, Shard: 1}) || !w.serves(TaskID{Table: wide.ID, Shard: 1}) {
		t.Error("shard 1 not co-located across tables")
	}
	w.assignShard(tables, 1, false)
	if w.serves(TaskID{Table: wide.ID, Shard: 1}) {
		t.Error("shard 1 still assigned after removal")
	}
}
