// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package table

import (
	"fmt"
	"testing"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	a := r.Register("ranks", 8)
	b := r.Register("links", 4)
	if got, want := a.ID, 0; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := b.ID, 1; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := r.Get(1), b; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got := r.Get(7); got != nil {
		t.Errorf("got %v, want nil", got)
	}
	tables := r.Tables()
	if got, want := len(tables), 2; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	if got, want := tables[0].Name, "ranks"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestUpdatePartitions(t *testing.T) {
	r := NewRegistry()
	tab := r.Register("ranks", 4)
	r.UpdatePartitions(ShardInfo{Table: tab.ID, Shard: 2, Owner: 1, Entries: 100})
	r.UpdatePartitions(ShardInfo{Table: tab.ID, Shard: 0, Owner: 0, Entries: 25})
	if got, want := tab.Shard(2).Entries, int64(100); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := tab.Shard(2).Owner, 1; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := tab.Entries(), int64(125); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestShardForKey(t *testing.T) {
	const n = 16
	seen := make(map[int]bool)
	for i := 0; i < 1000; i++ {
		key := []byte(fmt.Sprintf("key-%d", i))
		shard := ShardForKey(key, n)
		if shard < 0 || shard >= n {
			t.Fatalf("shard %d out of range", shard)
		}
		if got, want := ShardForKey(key, n), shard; got != want {
			t.Errorf("routing unstable: got %v, want %v", got, want)
		}
		seen[shard] = true
	}
	if got, want := len(seen), n; got != want {
		t.Errorf("got %v shards used, want %v", got, want)
	}
}

type mapViewer map[string]int64

func (v mapViewer) View(table, shard int) interface{} { return map[string]int64(v) }

func TestViewAs(t *testing.T) {
	v := mapViewer{"a": 1}
	m := ViewAs[map[string]int64](v, 0, 0)
	if got, want := m["a"], int64(1); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	defer func() {
		if recover() == nil {
			t.Error("expected panic on mismatched view type")
		}
	}()
	_ = ViewAs[map[string]string](v, 0, 0)
}
