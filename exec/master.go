// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/must"
	"github.com/grailbio/piccolo"
	"github.com/grailbio/piccolo/rpc"
	"github.com/grailbio/piccolo/stats"
	"github.com/grailbio/piccolo/table"
)

// StealIdleTime is how long a worker must have been idle before it is
// considered as a destination for stolen work.
var StealIdleTime = 500 * time.Millisecond

var (
	// stealMinShardCalls and stealMinAvgShardTime gate work stealing
	// until the method's timing estimate is stable and the per-shard
	// payoff is large enough to be worth a shard migration.
	stealMinShardCalls   = int64(10)
	stealMinAvgShardTime = 200 * time.Millisecond

	// dumpInterval throttles periodic progress lines during a run.
	dumpInterval = 10 * time.Second
)

// A Master drives kernel runs over a cluster of workers: it owns the
// shard-to-worker assignment for every table, dispatches kernel
// invocations one at a time per worker, steals pending work from
// stragglers, and closes each epoch with the flush/apply barrier.
//
// A Master is a single logical actor: all methods must be invoked
// from one goroutine. The messaging transport is the only point of
// interaction with the rest of the cluster.
type Master struct {
	opts    Options
	net     rpc.Transport
	tables  *table.Registry
	workers []*workerState

	// dead is the set of worker ids declared dead through MarkDead. A
	// worker is alive iff its id is absent.
	dead map[int]bool

	counters    *stats.Map
	methodStats map[string]*methodStats

	shardsAssigned bool
	kernelEpoch    int

	// finished and dispatched count reaped and sent tasks for the
	// epoch in progress.
	finished   int
	dispatched int

	currentRun piccolo.RunDescriptor
	runStart   time.Time

	start    time.Time
	lastDump time.Time

	// clock and sleep stand in for time.Now and time.Sleep so tests
	// can control timing.
	clock func() time.Time
	sleep func(time.Duration)
}

// New creates a master over the given transport and table registry
// and waits for every worker slot to register. The transport's node 0
// must be the master; nodes 1..n are workers.
func New(ctx context.Context, net rpc.Transport, tables *table.Registry, opts Options) (*Master, error) {
	opts = opts.withDefaults()
	numWorkers := net.Size() - 1
	if numWorkers < 1 {
		log.Panicf("at least one master and one worker required")
	}
	if opts.NumWorkers != 0 && opts.NumWorkers != numWorkers {
		log.Panicf("master: %d worker slots configured, but transport has %d", opts.NumWorkers, numWorkers)
	}
	m := &Master{
		opts:        opts,
		net:         net,
		tables:      tables,
		dead:        make(map[int]bool),
		counters:    stats.NewMap(),
		methodStats: make(map[string]*methodStats),
		clock:       time.Now,
		sleep:       time.Sleep,
	}
	m.start = m.clock()
	for i := 0; i < numWorkers; i++ {
		m.workers = append(m.workers, newWorkerState(i, m.start))
	}
	if opts.Status != nil {
		group := opts.Status.Group("piccolo workers")
		for _, w := range m.workers {
			w.status = group.Start()
			w.status.Title(fmt.Sprintf("worker %d", w.id))
			w.status.Print("registering")
		}
	}
	for i := 0; i < numWorkers; i++ {
		msg, _, err := net.Read(ctx, rpc.AnySource, rpc.MTypeRegisterWorker)
		if err != nil {
			return nil, errors.E(err, "master: waiting for worker registration")
		}
		req := msg.(rpc.RegisterWorkerRequest)
		log.Debug.Printf("registered worker %d; %d remaining", req.Worker, numWorkers-1-i)
	}
	log.Printf("all %d workers registered; starting up", numWorkers)
	return m, nil
}

// alive reports whether the given worker id has not been declared
// dead.
func (m *Master) alive(id int) bool { return !m.dead[id] }

func (m *Master) numAlive() int {
	n := 0
	for _, w := range m.workers {
		if m.alive(w.id) {
			n++
		}
	}
	return n
}

// stats returns the accounting record for the given kernel method,
// creating it on first use.
func (m *Master) stats(kernel, method string) *methodStats {
	key := kernel + ":" + method
	ms := m.methodStats[key]
	if ms == nil {
		ms = newMethodStats(m.counters, key)
		m.methodStats[key] = ms
	}
	return ms
}

// workerForShard returns the worker owning the given shard, or nil if
// it is unowned.
func (m *Master) workerForShard(tab, shard int) *workerState {
	id := TaskID{Table: tab, Shard: shard}
	for _, w := range m.workers {
		if w.serves(id) {
			return w
		}
	}
	return nil
}

// assignWorker ensures the given shard has an alive owner and places
// a fresh unit-size task for it in the owner's work set. When the
// shard is unowned, the alive worker serving the fewest shards wins,
// ties going to the lower id. Running out of alive workers is fatal.
func (m *Master) assignWorker(tab, shard int) *workerState {
	id := TaskID{Table: tab, Shard: shard}
	if ws := m.workerForShard(tab, shard); ws != nil && m.alive(ws.id) {
		ws.assignTask(newTaskState(id, 1))
		return ws
	}
	var best *workerState
	for _, w := range m.workers {
		if m.alive(w.id) && (best == nil || len(w.shards) < len(best.shards)) {
			best = w
		}
	}
	if best == nil {
		log.Fatalf("ran out of workers assigning %s; increase the number of partitions per worker", id)
	}
	log.Debug.Printf("assigning %s to worker %d", id, best.id)
	best.assignShard(m.tables, shard, true)
	best.assignTask(newTaskState(id, 1))
	return best
}

// assignTables performs the initial shard assignment pass over every
// registered table. It runs once, before the first kernel.
func (m *Master) assignTables() {
	m.shardsAssigned = true
	for _, t := range m.tables.Tables() {
		for shard := 0; shard < t.NumShards; shard++ {
			m.assignWorker(t.ID, shard)
		}
	}
}

// assignTasks resets every worker's task set and creates one task per
// shard in the run's shard list, placed on the owning worker.
func (m *Master) assignTasks(r piccolo.RunDescriptor, shards []int) {
	for _, w := range m.workers {
		w.clearTasks()
	}
	for _, shard := range shards {
		m.assignWorker(r.Table.ID, shard)
	}
}

// sendTableAssignments broadcasts the complete ownership map and
// waits until every alive worker has consumed it, so that no worker
// can observe a subsequent kernel request under a stale map.
func (m *Master) sendTableAssignments(ctx context.Context) error {
	var req rpc.ShardAssignmentRequest
	for _, w := range m.workers {
		for id := range w.shards {
			req.Assign = append(req.Assign, rpc.Assign{NewWorker: w.id, Table: id.Table, Shard: id.Shard})
		}
	}
	sort.Slice(req.Assign, func(i, j int) bool {
		a, b := req.Assign[i], req.Assign[j]
		return a.Table < b.Table || a.Table == b.Table && a.Shard < b.Shard
	})
	if len(m.dead) == 0 {
		return m.net.SyncBroadcast(ctx, rpc.MTypeShardAssignment, req)
	}
	for _, w := range m.workers {
		if !m.alive(w.id) {
			continue
		}
		if err := m.net.SyncSend(ctx, w.id+1, rpc.MTypeShardAssignment, req); err != nil {
			return err
		}
	}
	return nil
}

// dispatchWork sends one kernel request to every worker that has
// pending work and nothing active, keeping at most one active task
// per worker. It returns the number of requests sent.
func (m *Master) dispatchWork(r piccolo.RunDescriptor) int {
	n := 0
	for _, w := range m.workers {
		if !m.alive(w.id) || w.numPending() == 0 || w.numActive() != 0 {
			continue
		}
		req, ok := w.getNext(r, m.clock())
		if !ok {
			continue
		}
		n++
		m.counters.Int("dispatched").Add(1)
		m.net.Send(w.id+1, rpc.MTypeRunKernel, req)
	}
	return n
}

// reapOneTask attempts to read one kernel completion. On success it
// applies the reported partition metadata, marks the task finished,
// updates timing stats, and returns the worker id; otherwise it
// sleeps briefly and returns -1. Completions from dead workers are
// dropped: their tasks have already been re-planned.
func (m *Master) reapOneTask(r piccolo.RunDescriptor) int {
	msg, from, ok := m.net.TryRead(rpc.AnySource, rpc.MTypeKernelDone)
	if !ok {
		m.sleep(m.opts.SleepTime)
		return -1
	}
	wid := from - 1
	if !m.alive(wid) {
		log.Error.Printf("dropping completion from dead worker %d", wid)
		return -1
	}
	w := m.workers[wid]
	done := msg.(rpc.KernelDone)
	id := TaskID{Table: done.Kernel.Table, Shard: done.Kernel.Shard}
	for _, si := range done.Shards {
		m.tables.UpdatePartitions(si)
	}
	w.setFinished(id)
	now := m.clock()
	elapsed := now.Sub(w.lastTaskStart)
	w.totalRuntime += elapsed
	ms := m.stats(r.Kernel, r.Method)
	ms.shardTime.Add(int64(elapsed))
	ms.shardCalls.Add(1)
	m.counters.Int("reaped").Add(1)
	w.ping(now)
	if w.status != nil {
		w.status.Printf("%d/%d tasks done", w.numFinished(), w.numAssigned())
	}
	return wid
}

// Run executes one kernel epoch described by r and blocks until the
// epoch reaches quiescence. Precondition violations (an unknown
// kernel or method, a nil table, or a previous epoch still in flight)
// are fatal. The returned error reflects only context cancellation or
// transport failure.
func (m *Master) Run(ctx context.Context, r piccolo.RunDescriptor) error {
	if m.finished != len(m.currentRun.Shards) {
		log.Panicf("cannot start kernel %s before the previous one is finished", r.Kernel)
	}
	if r.Table == nil {
		log.Panicf("run %s:%s: table locality must be specified", r.Kernel, r.Method)
	}
	k := piccolo.Lookup(r.Kernel)
	if k == nil {
		log.Panicf("invalid kernel class %s", r.Kernel)
	}
	if !k.Has(r.Method) {
		log.Panicf("invalid method %s:%s", r.Kernel, r.Method)
	}
	m.tables.SetHelper(m)

	m.finished, m.dispatched = 0, 0
	ms := m.stats(r.Kernel, r.Method)
	ms.calls.Add(1)
	m.currentRun = r
	m.runStart = m.clock()

	if !m.shardsAssigned {
		// Shard assignment happens once, before the first kernel;
		// afterwards only stealing and worker death mutate it.
		m.assignTables()
		if err := m.sendTableAssignments(ctx); err != nil {
			return err
		}
	}
	m.kernelEpoch++
	log.Debug.Printf("epoch %d: %s:%s over %d shards", m.kernelEpoch, r.Kernel, r.Method, len(r.Shards))
	m.assignTasks(r, r.Shards)
	m.dispatched = m.dispatchWork(r)
	return m.barrier(ctx, r, ms)
}

// barrier drives the epoch to completion: it reaps completions,
// considers stealing after every reap (the only event that can make a
// worker idle), feeds newly idle workers, and finally runs flush
// rounds until every worker reports quiescence, followed by a single
// apply broadcast.
func (m *Master) barrier(ctx context.Context, r piccolo.RunDescriptor, ms *methodStats) error {
	for m.finished < len(r.Shards) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if now := m.clock(); now.Sub(m.lastDump) > dumpInterval {
			m.lastDump = now
			m.dumpStats()
		}
		if m.reapOneTask(r) < 0 {
			continue
		}
		m.finished++

		if m.stealPass(r, ms) {
			if err := m.sendTableAssignments(ctx); err != nil {
				return err
			}
		}
		if m.dispatched < len(r.Shards) {
			m.dispatched += m.dispatchWork(r)
		}
	}

	// Flush rounds repeat until a round in which every alive worker
	// reports zero updates done; only then is the cluster quiescent
	// and the apply broadcast sent, exactly once.
	for {
		m.counters.Int("flush_rounds").Add(1)
		m.net.Broadcast(rpc.MTypeWorkerFlush, rpc.EmptyMessage{})
		quiescent := true
		for flushed := 0; flushed < m.numAlive(); {
			msg, from, ok := m.net.TryRead(rpc.AnySource, rpc.MTypeFlushResponse)
			if !ok {
				if err := ctx.Err(); err != nil {
					return err
				}
				m.sleep(m.opts.SleepTime)
				continue
			}
			if !m.alive(from - 1) {
				continue
			}
			flushed++
			resp := msg.(rpc.FlushResponse)
			if resp.UpdatesDone > 0 {
				quiescent = false
			}
			log.Debug.Printf("flush response %d/%d from worker %d: %d updates done",
				flushed, m.numAlive(), from-1, resp.UpdatesDone)
		}
		if quiescent {
			break
		}
	}
	m.net.Broadcast(rpc.MTypeWorkerApply, rpc.EmptyMessage{})

	elapsed := m.clock().Sub(m.runStart)
	ms.totalTime.Add(int64(elapsed))
	log.Printf("kernel %s:%s finished in %s", r.Kernel, r.Method, elapsed)
	return nil
}

// MarkDead declares a worker dead. Its shard ownership is transferred
// to the remaining alive workers, its unfinished tasks are re-created
// as pending on the new owners, and the refreshed assignment map is
// delivered to the survivors before any further dispatch. MarkDead
// must be called from the goroutine driving the master.
func (m *Master) MarkDead(ctx context.Context, worker int) error {
	must.Truef(worker >= 0 && worker < len(m.workers), "no worker %d", worker)
	if m.dead[worker] {
		return nil
	}
	log.Error.Printf("worker %d declared dead; reassigning its shards", worker)
	m.dead[worker] = true
	w := m.workers[worker]

	shardIdx := make(map[int]bool)
	for id := range w.shards {
		shardIdx[id.Shard] = true
	}
	w.shards = make(map[TaskID]bool)
	lost := w.work
	w.work = make(map[TaskID]*taskState)

	idxs := make([]int, 0, len(shardIdx))
	for shard := range shardIdx {
		idxs = append(idxs, shard)
	}
	sort.Ints(idxs)
	for _, shard := range idxs {
		var best *workerState
		for _, cand := range m.workers {
			if m.alive(cand.id) && (best == nil || len(cand.shards) < len(best.shards)) {
				best = cand
			}
		}
		if best == nil {
			log.Fatalf("ran out of workers reassigning shards of dead worker %d", worker)
		}
		best.assignShard(m.tables, shard, true)
	}

	ids := make([]TaskID, 0, len(lost))
	for id := range lost {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
	for _, id := range ids {
		t := lost[id]
		if t.status == taskFinished {
			continue
		}
		owner := m.workerForShard(id.Table, id.Shard)
		must.Truef(owner != nil, "shard %s unowned after reassignment", id)
		owner.assignTask(newTaskState(id, t.size))
		if t.status == taskActive {
			// The in-flight request is lost with the worker; the new
			// pending task must be dispatched again.
			m.dispatched--
		}
	}
	if w.status != nil {
		w.status.Print("dead")
	}
	if m.shardsAssigned {
		return m.sendTableAssignments(ctx)
	}
	return nil
}

// WorkerForShard returns the id of the alive worker owning the given
// shard, or -1. It implements table.Helper for routing client
// operations.
func (m *Master) WorkerForShard(tab, shard int) int {
	if w := m.workerForShard(tab, shard); w != nil && m.alive(w.id) {
		return w.id
	}
	return -1
}

// Epoch returns the current kernel epoch, implementing table.Helper.
func (m *Master) Epoch() int { return m.kernelEpoch }

// Stats returns a snapshot of the master's counters.
func (m *Master) Stats() stats.Values { return m.counters.Values() }

// dumpStats logs a progress line for the run in flight.
func (m *Master) dumpStats() {
	var b strings.Builder
	for _, w := range m.workers {
		fmt.Fprintf(&b, "%d/%d ", w.numFinished(), w.numAssigned())
	}
	log.Printf("running %s:%s (%d shards); %s; assigned: %d done: %d",
		m.currentRun.Kernel, m.currentRun.Method, len(m.currentRun.Shards),
		strings.TrimSpace(b.String()), m.dispatched, m.finished)
}

// Shutdown dumps cumulative stats and tells all workers to exit. The
// master must not be used afterwards.
func (m *Master) Shutdown() {
	log.Printf("total runtime: %s", m.clock().Sub(m.start))
	var b strings.Builder
	for i, w := range m.workers {
		if i > 0 && i%10 == 0 {
			log.Printf("worker times: %s", strings.TrimSpace(b.String()))
			b.Reset()
		}
		fmt.Fprintf(&b, "%d:%.3fs ", w.id, w.totalRuntime.Seconds())
	}
	if b.Len() > 0 {
		log.Printf("worker times: %s", strings.TrimSpace(b.String()))
	}
	log.Printf("kernel stats: %s", m.counters.Values())
	m.net.Broadcast(rpc.MTypeWorkerShutdown, rpc.EmptyMessage{})
	for _, w := range m.workers {
		if w.status != nil {
			w.status.Done()
		}
	}
}
