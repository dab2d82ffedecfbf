// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"time"

	"github.com/grailbio/piccolo/stats"
)

// methodStats aggregates per-(kernel, method) accounting across
// kernel epochs: the number of runs, the number of completed shard
// invocations, and cumulative shard and wall-clock time. All values
// are nondecreasing. The counters live in the master's stats map so
// they appear in stat dumps; times are stored in nanoseconds.
type methodStats struct {
	calls      *stats.Int
	shardCalls *stats.Int
	shardTime  *stats.Int
	totalTime  *stats.Int
}

func newMethodStats(m *stats.Map, key string) *methodStats {
	return &methodStats{
		calls:      m.Int(key + ".calls"),
		shardCalls: m.Int(key + ".shard_calls"),
		shardTime:  m.Int(key + ".shard_time_ns"),
		totalTime:  m.Int(key + ".total_time_ns"),
	}
}

// avgCompletionTime returns the mean time a shard invocation of this
// method has taken, or zero if none has completed yet. It is the
// basis for the stealer's cost model.
func (s *methodStats) avgCompletionTime() time.Duration {
	calls := s.shardCalls.Get()
	if calls == 0 {
		return 0
	}
	return time.Duration(s.shardTime.Get() / calls)
}
