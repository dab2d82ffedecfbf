// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package table maintains the metadata for Piccolo's partitioned
// in-memory tables: the registry of declared tables, per-shard
// partition statistics reported by workers, and key-to-shard routing.
// Table storage itself lives on workers; the master and clients see
// only the metadata kept here.
package table

import (
	"sort"
	"sync"

	"github.com/grailbio/base/log"
	"github.com/spaolacci/murmur3"
)

// A Table describes one partitioned table: its identity and the
// number of shards it is split into. Tables are created through a
// Registry; the registry assigns ids.
type Table struct {
	// ID is the table's registry-assigned identifier.
	ID int
	// Name is a human-readable label used in logs and stats.
	Name string
	// NumShards is the number of partitions of this table.
	NumShards int

	mu     sync.Mutex
	shards []ShardInfo
}

// Shard returns the most recently reported partition metadata for the
// given shard.
func (t *Table) Shard(shard int) ShardInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.shards[shard]
}

// Entries returns the total number of entries across all shards, as
// last reported by workers.
func (t *Table) Entries() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	var n int64
	for _, si := range t.shards {
		n += si.Entries
	}
	return n
}

// ShardInfo is per-partition metadata reported by workers when a
// kernel finishes running on a shard.
type ShardInfo struct {
	Table   int
	Shard   int
	Owner   int
	Entries int64
}

// A Registry holds the set of declared tables, keyed by id. The
// master and every worker construct identical registries at startup.
type Registry struct {
	mu     sync.Mutex
	tables map[int]*Table
	helper Helper
}

// NewRegistry returns an empty table registry.
func NewRegistry() *Registry {
	return &Registry{tables: make(map[int]*Table)}
}

// Register declares a new table with the given name and shard count,
// assigning it the next free id. Shard counts must be positive.
func (r *Registry) Register(name string, numShards int) *Table {
	if numShards <= 0 {
		log.Panicf("table %s: invalid shard count %d", name, numShards)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	t := &Table{
		ID:        len(r.tables),
		Name:      name,
		NumShards: numShards,
		shards:    make([]ShardInfo, numShards),
	}
	for i := range t.shards {
		t.shards[i] = ShardInfo{Table: t.ID, Shard: i, Owner: -1}
	}
	r.tables[t.ID] = t
	return t
}

// Get returns the table with the provided id, or nil if no such table
// has been registered.
func (r *Registry) Get(id int) *Table {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tables[id]
}

// Tables returns all registered tables, ordered by id.
func (r *Registry) Tables() []*Table {
	r.mu.Lock()
	defer r.mu.Unlock()
	tables := make([]*Table, 0, len(r.tables))
	for _, t := range r.tables {
		tables = append(tables, t)
	}
	sort.Slice(tables, func(i, j int) bool { return tables[i].ID < tables[j].ID })
	return tables
}

// UpdatePartitions folds worker-reported partition metadata into the
// registry. Unknown tables are a programmer error.
func (r *Registry) UpdatePartitions(info ShardInfo) {
	t := r.Get(info.Table)
	if t == nil {
		log.Panicf("update for unregistered table %d", info.Table)
	}
	t.mu.Lock()
	t.shards[info.Shard] = info
	t.mu.Unlock()
}

// SetHelper attaches the routing helper through which clients of the
// registry resolve shard ownership. The master installs itself here
// at the start of each run.
func (r *Registry) SetHelper(h Helper) {
	r.mu.Lock()
	r.helper = h
	r.mu.Unlock()
}

// Helper returns the currently installed routing helper, or nil.
func (r *Registry) Helper() Helper {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.helper
}

// A Helper exposes the master's view of the cluster to tables and
// kernels: which worker owns a shard, and the current kernel epoch.
type Helper interface {
	// WorkerForShard returns the id of the worker that owns the given
	// shard, or -1 if the shard is unassigned.
	WorkerForShard(table, shard int) int
	// Epoch returns the current kernel epoch.
	Epoch() int
}

// ShardForKey routes a key to one of n shards. Routing is stable
// across processes so that every participant agrees on placement.
func ShardForKey(key []byte, n int) int {
	return int(murmur3.Sum32(key) % uint32(n))
}
