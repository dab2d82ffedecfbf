// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package table

import "github.com/grailbio/base/log"

// A Viewer provides access to the storage backing a table shard.
// Implementations are supplied by the storage layer; the value
// returned by View is storage-specific and is narrowed to a concrete
// type with ViewAs.
type Viewer interface {
	// View returns the storage for the given shard. The shard must be
	// resident on the calling process.
	View(table, shard int) interface{}
}

// ViewAs returns the storage for the given shard narrowed to type T.
// A type mismatch means the kernel and the table declaration disagree
// and is a fatal precondition error.
func ViewAs[T any](v Viewer, table, shard int) T {
	x, ok := v.View(table, shard).(T)
	if !ok {
		log.Panicf("table %d shard %d: storage is %T, not the requested view type", table, shard, v.View(table, shard))
	}
	return x
}
