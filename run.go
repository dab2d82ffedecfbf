// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package piccolo

import "github.com/grailbio/piccolo/table"

// A RunDescriptor names one kernel run: the kernel and method to
// invoke, the table providing shard locality, and the set of shards
// to execute. The run is complete when every listed shard has
// finished.
type RunDescriptor struct {
	Kernel string
	Method string
	Table  *table.Table
	Shards []int
}

// RunOnAll returns a descriptor running the given kernel method over
// every shard of table t.
func RunOnAll(kernel, method string, t *table.Table) RunDescriptor {
	shards := make([]int, t.NumShards)
	for i := range shards {
		shards[i] = i
	}
	return RunDescriptor{Kernel: kernel, Method: method, Table: t, Shards: shards}
}
