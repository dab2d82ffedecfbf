// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"sync"
	"time"

	"github.com/grailbio/base/log"
	"github.com/grailbio/piccolo"
	"github.com/grailbio/piccolo/rpc"
	"github.com/grailbio/piccolo/table"
)

// A Worker executes kernel invocations against in-memory table
// shards. It registers itself with the master, then serves the
// master's messages until told to shut down. Workers keep their own
// copy of the shard ownership map, refreshed by every
// SHARD_ASSIGNMENT broadcast, for routing table operations.
type Worker struct {
	id     int
	net    rpc.Transport
	tables *table.Registry
	store  *Store

	// owners maps each shard to the worker the master last assigned
	// it to. It is read by routing clients outside the worker's loop.
	mu     sync.Mutex
	owners map[TaskID]int

	// sleepTime is the polling interval when no message is pending.
	sleepTime time.Duration
}

// NewWorker returns a worker for slot id (zero-based; its transport
// node is id+1) over the given transport and table registry.
func NewWorker(id int, net rpc.Transport, tables *table.Registry) *Worker {
	return &Worker{
		id:        id,
		net:       net,
		tables:    tables,
		store:     NewStore(),
		owners:    make(map[TaskID]int),
		sleepTime: time.Millisecond,
	}
}

// Store returns the worker's table storage.
func (w *Worker) Store() *Store { return w.store }

// Owner returns the worker id that owns the given shard according to
// the most recent assignment broadcast, or -1.
func (w *Worker) Owner(tab, shard int) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if owner, ok := w.owners[TaskID{Table: tab, Shard: shard}]; ok {
		return owner
	}
	return -1
}

// Run registers the worker with the master and serves messages until
// a shutdown broadcast arrives or the context is done.
func (w *Worker) Run(ctx context.Context) error {
	w.net.Send(0, rpc.MTypeRegisterWorker, rpc.RegisterWorkerRequest{Worker: w.id})
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		progress := false
		if msg, _, ok := w.net.TryRead(0, rpc.MTypeShardAssignment); ok {
			w.handleAssignment(msg.(rpc.ShardAssignmentRequest))
			progress = true
		}
		if msg, _, ok := w.net.TryRead(0, rpc.MTypeRunKernel); ok {
			w.runKernel(msg.(rpc.KernelRequest))
			progress = true
		}
		if _, _, ok := w.net.TryRead(0, rpc.MTypeWorkerFlush); ok {
			w.net.Send(0, rpc.MTypeFlushResponse, rpc.FlushResponse{UpdatesDone: w.store.Flush()})
			progress = true
		}
		if _, _, ok := w.net.TryRead(0, rpc.MTypeWorkerApply); ok {
			w.store.Apply()
			progress = true
		}
		if _, _, ok := w.net.TryRead(0, rpc.MTypeWorkerShutdown); ok {
			log.Debug.Printf("worker %d: shutting down", w.id)
			return nil
		}
		if !progress {
			time.Sleep(w.sleepTime)
		}
	}
}

// handleAssignment replaces the worker's routing table with the
// broadcast ownership map.
func (w *Worker) handleAssignment(req rpc.ShardAssignmentRequest) {
	owners := make(map[TaskID]int, len(req.Assign))
	for _, a := range req.Assign {
		owners[TaskID{Table: a.Table, Shard: a.Shard}] = a.NewWorker
	}
	w.mu.Lock()
	w.owners = owners
	w.mu.Unlock()
}

// runKernel instantiates the requested kernel, invokes the requested
// method over the shard, and reports completion with fresh partition
// metadata. Unknown kernels are a fatal configuration divergence
// between master and worker.
func (w *Worker) runKernel(req rpc.KernelRequest) {
	info := piccolo.Lookup(req.Kernel)
	if info == nil {
		log.Panicf("worker %d: unknown kernel %s; registries out of sync", w.id, req.Kernel)
	}
	kctx := &piccolo.Context{
		Table:   req.Table,
		Shard:   req.Shard,
		Tables:  w.tables,
		Storage: w.store,
	}
	info.Run(kctx, req.Method)
	done := rpc.KernelDone{
		Kernel: req,
		Shards: []table.ShardInfo{{
			Table:   req.Table,
			Shard:   req.Shard,
			Owner:   w.id,
			Entries: w.store.Entries(req.Table, req.Shard),
		}},
	}
	w.net.Send(0, rpc.MTypeKernelDone, done)
}
