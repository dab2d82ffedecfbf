// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

/*
Package piccolo implements a distributed in-memory key-value table
framework for data-parallel computations. Users express computations
as kernels: named types whose registered methods are invoked once per
table shard. A master process assigns table shards to workers,
dispatches kernel invocations, rebalances load by stealing pending
work from stragglers, and drives the flush/apply barrier that closes
each kernel epoch with globally visible table updates.

Kernels and tables must be registered identically in every process
before the cluster starts, since the master names them over the wire:

	type Ranker struct{ piccolo.Ctx }

	var _ = piccolo.RegisterKernel("Ranker", func() piccolo.Kernel { return new(Ranker) }).
		Method("Init", func(k piccolo.Kernel) { k.(*Ranker).RankInit() }).
		Method("Iterate", func(k piccolo.Kernel) { k.(*Ranker).Iterate() })

The master side is driven through package exec:

	m, _ := exec.New(ctx, net, tables, opts)
	m.Run(ctx, piccolo.RunOnAll("Ranker", "Iterate", ranks))
	m.Shutdown()

Package rpc provides the typed messaging service connecting the
master and workers, with in-process and NATS-backed transports.
*/
package piccolo
