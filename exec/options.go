// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"flag"
	"time"

	"github.com/grailbio/base/status"
)

// Options configures a master.
type Options struct {
	// NumWorkers is the number of worker slots. It must agree with
	// the transport's size (one node per worker plus the master);
	// zero means derive it from the transport.
	NumWorkers int
	// WorkStealing enables migration of pending tasks from straggling
	// workers to idle ones during the barrier.
	WorkStealing bool
	// SleepTime is how long the master sleeps when polling finds no
	// message.
	SleepTime time.Duration
	// Status, if non-nil, receives per-worker progress displays.
	Status *status.Status
}

// RegisterFlags registers flags for the options with the provided
// FlagSet, prefixing each flag name with prefix.
func (o *Options) RegisterFlags(fs *flag.FlagSet, prefix string) {
	fs.IntVar(&o.NumWorkers, prefix+"workers", o.NumWorkers, "number of worker slots")
	fs.BoolVar(&o.WorkStealing, prefix+"work_stealing", o.WorkStealing, "enable dynamic work stealing")
	fs.DurationVar(&o.SleepTime, prefix+"sleep_time", o.SleepTime, "polling interval when no message is pending")
}

// DefaultOptions returns the default master configuration: work
// stealing on, a 1ms polling interval.
func DefaultOptions() Options {
	return Options{
		WorkStealing: true,
		SleepTime:    time.Millisecond,
	}
}

func (o Options) withDefaults() Options {
	if o.SleepTime <= 0 {
		o.SleepTime = time.Millisecond
	}
	return o
}
