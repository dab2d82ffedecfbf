// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package stats

import "testing"

func TestMap(t *testing.T) {
	m := NewMap()
	m.Int("dispatched").Add(3)
	m.Int("stolen").Add(1)
	m.Int("dispatched").Add(2)
	if got, want := m.Int("dispatched").Get(), int64(5); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := m.Values().String(), "dispatched:5 stolen:1"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestAddAll(t *testing.T) {
	m1, m2 := NewMap(), NewMap()
	m1.Int("reaps").Add(4)
	m2.Int("reaps").Add(6)
	m2.Int("flushes").Set(2)
	vals := make(Values)
	m1.AddAll(vals)
	m2.AddAll(vals)
	if got, want := vals["reaps"], int64(10); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := vals["flushes"], int64(2); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestNil(t *testing.T) {
	var v *Int
	v.Add(1)
	v.Set(2)
	if got, want := v.Get(), int64(0); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}
