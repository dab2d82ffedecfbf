// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import "testing"

func TestTaskIDLess(t *testing.T) {
	for _, c := range []struct {
		a, b TaskID
		want bool
	}{
		{TaskID{0, 0}, TaskID{0, 1}, true},
		{TaskID{0, 1}, TaskID{0, 0}, false},
		{TaskID{0, 5}, TaskID{1, 0}, true},
		{TaskID{1, 0}, TaskID{0, 5}, false},
		{TaskID{1, 1}, TaskID{1, 1}, false},
	} {
		if got := c.a.Less(c.b); got != c.want {
			t.Errorf("%s < %s: got %v, want %v", c.a, c.b, got, c.want)
		}
	}
}

func TestWeightCompare(t *testing.T) {
	small := newTaskState(TaskID{0, 0}, 1)
	large := newTaskState(TaskID{0, 1}, 10)
	stolen := newTaskState(TaskID{0, 2}, 1)
	stolen.stolen = true

	if got, want := maxWeight([]*taskState{small, large}), large; got != want {
		t.Errorf("got %v, want %v", got.id, want.id)
	}
	// A stolen task outranks any non-stolen task regardless of size.
	if got, want := maxWeight([]*taskState{small, large, stolen}), stolen; got != want {
		t.Errorf("got %v, want %v", got.id, want.id)
	}
	// Equal weights keep the earliest task.
	other := newTaskState(TaskID{0, 3}, 10)
	if got, want := maxWeight([]*taskState{large, other}), large; got != want {
		t.Errorf("got %v, want %v", got.id, want.id)
	}
}

func TestTaskStatusString(t *testing.T) {
	if got, want := taskPending.String(), "PENDING"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := taskFinished.String(), "FINISHED"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}
