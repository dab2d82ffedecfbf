// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"sync"
)

// An update is one buffered table write: a delta accumulated into the
// value of key in the given shard.
type update struct {
	id    TaskID
	key   string
	delta int64
}

// A Store is a worker's in-memory table storage. Kernel writes are
// staged; a flush moves staged writes into the flushed buffer, and an
// apply commits flushed writes into the committed state, where reads
// see them. The two-phase structure mirrors the master's flush/apply
// barrier: updates become visible only when the epoch closes.
type Store struct {
	mu        sync.Mutex
	committed map[TaskID]map[string]int64
	staged    []update
	flushed   []update
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{committed: make(map[TaskID]map[string]int64)}
}

// View returns the *ShardView for the given shard, implementing
// table.Viewer.
func (s *Store) View(tab, shard int) interface{} {
	return &ShardView{store: s, id: TaskID{Table: tab, Shard: shard}}
}

// Flush moves staged writes to the flushed buffer and returns how
// many were moved. A flush after quiescence returns zero.
func (s *Store) Flush() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := int64(len(s.staged))
	s.flushed = append(s.flushed, s.staged...)
	s.staged = nil
	return n
}

// Apply commits all flushed writes, making them visible to reads.
func (s *Store) Apply() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.flushed {
		m := s.committed[u.id]
		if m == nil {
			m = make(map[string]int64)
			s.committed[u.id] = m
		}
		m[u.key] += u.delta
	}
	s.flushed = nil
}

// Entries returns the number of committed entries in the given shard.
func (s *Store) Entries(tab, shard int) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.committed[TaskID{Table: tab, Shard: shard}]))
}

// A ShardView is typed access to one shard of a store, as handed to
// kernels through table.ViewAs.
type ShardView struct {
	store *Store
	id    TaskID
}

// Add stages an accumulation of delta into the value of key. The
// write becomes visible after the epoch's apply.
func (v *ShardView) Add(key string, delta int64) {
	v.store.mu.Lock()
	v.store.staged = append(v.store.staged, update{id: v.id, key: key, delta: delta})
	v.store.mu.Unlock()
}

// Get returns the committed value of key, or zero.
func (v *ShardView) Get(key string) int64 {
	v.store.mu.Lock()
	defer v.store.mu.Unlock()
	return v.store.committed[v.id][key]
}

// Len returns the number of committed keys in the shard.
func (v *ShardView) Len() int {
	v.store.mu.Lock()
	defer v.store.mu.Unlock()
	return len(v.store.committed[v.id])
}

// Keys returns the committed keys in the shard, in no particular
// order.
func (v *ShardView) Keys() []string {
	v.store.mu.Lock()
	defer v.store.mu.Unlock()
	keys := make([]string, 0, len(v.store.committed[v.id]))
	for k := range v.store.committed[v.id] {
		keys = append(keys, k)
	}
	return keys
}
