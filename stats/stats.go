// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package stats provides collections of named counters, used by the
// master to account for dispatch, steal and barrier activity and for
// per-method timing. Counters in a collection can be
// snapshotted and aggregated across processes.
package stats

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// Values is a point-in-time snapshot of the counters in a collection.
type Values map[string]int64

// Copy returns a copy of the snapshot v.
func (v Values) Copy() Values {
	w := make(Values, len(v))
	for k, val := range v {
		w[k] = val
	}
	return w
}

// String renders the snapshot as "key:value" pairs sorted by key.
func (v Values) String() string {
	keys := make([]string, 0, len(v))
	for key := range v {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for i, key := range keys {
		keys[i] = fmt.Sprintf("%s:%d", key, v[key])
	}
	return strings.Join(keys, " ")
}

// A Map is a collection of counters keyed by name. The zero Map is
// not usable; construct one with NewMap.
type Map struct {
	mu       sync.Mutex
	counters map[string]*Int
}

// NewMap returns a fresh, empty counter collection.
func NewMap() *Map {
	return &Map{counters: make(map[string]*Int)}
}

// Int returns the counter with the provided name, creating it if it
// does not yet exist.
func (m *Map) Int(name string) *Int {
	m.mu.Lock()
	v := m.counters[name]
	if v == nil {
		v = new(Int)
		m.counters[name] = v
	}
	m.mu.Unlock()
	return v
}

// AddAll adds every counter in the map into the provided snapshot.
func (m *Map) AddAll(vals Values) {
	m.mu.Lock()
	for k, v := range m.counters {
		vals[k] += v.Get()
	}
	m.mu.Unlock()
}

// Values returns a snapshot of all counters in the map.
func (m *Map) Values() Values {
	vals := make(Values)
	m.AddAll(vals)
	return vals
}

// An Int is an integer counter that may be atomically updated. A nil
// *Int is a valid no-op counter.
type Int struct {
	val int64
}

// Add increments the counter by delta.
func (v *Int) Add(delta int64) {
	if v == nil {
		return
	}
	atomic.AddInt64(&v.val, delta)
}

// Set sets the counter's value to val.
func (v *Int) Set(val int64) {
	if v == nil {
		return
	}
	atomic.StoreInt64(&v.val, val)
}

// Get returns the counter's current value.
func (v *Int) Get() int64 {
	if v == nil {
		return 0
	}
	return atomic.LoadInt64(&v.val)
}
