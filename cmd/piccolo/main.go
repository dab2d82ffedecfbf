// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Command piccolo runs a demonstration Piccolo cluster in a single
// process: a master and a set of worker engines connected by the
// in-process transport, counting words into a sharded table.
package main

import (
	"context"
	"flag"
	"fmt"
	"sort"
	"strings"

	"github.com/grailbio/base/log"
	"github.com/grailbio/piccolo"
	"github.com/grailbio/piccolo/exec"
	"github.com/grailbio/piccolo/rpc"
	"github.com/grailbio/piccolo/table"
	"golang.org/x/sync/errgroup"
)

var corpus = strings.Fields(`
the quick brown fox jumps over the lazy dog
the dog barks and the fox runs
a quick dog and a lazy fox
`)

// countKernel counts the corpus words routed to its shard.
type countKernel struct{ piccolo.Ctx }

func (k *countKernel) Count() {
	tab := k.Tables().Get(k.CurrentTable())
	v := table.ViewAs[*exec.ShardView](k.Storage(), k.CurrentTable(), k.CurrentShard())
	for _, word := range corpus {
		if table.ShardForKey([]byte(word), tab.NumShards) != k.CurrentShard() {
			continue
		}
		v.Add(word, 1)
	}
}

func main() {
	log.AddFlags()
	opts := exec.DefaultOptions()
	opts.RegisterFlags(flag.CommandLine, "")
	shards := flag.Int("shards", 8, "number of table shards")
	flag.Parse()
	if opts.NumWorkers == 0 {
		opts.NumWorkers = 4
	}

	info := piccolo.RegisterKernel("WordCount", func() piccolo.Kernel { return new(countKernel) })
	piccolo.MethodOf(info, "Count", (*countKernel).Count)

	tables := table.NewRegistry()
	words := tables.Register("words", *shards)

	local := rpc.NewLocal(opts.NumWorkers + 1)
	ctx := context.Background()
	var g errgroup.Group
	workers := make([]*exec.Worker, opts.NumWorkers)
	for i := range workers {
		w := exec.NewWorker(i, local.Node(i+1), tables)
		workers[i] = w
		g.Go(func() error { return w.Run(ctx) })
	}

	m, err := exec.New(ctx, local.Node(0), tables, opts)
	if err != nil {
		log.Fatal(err)
	}
	if err := m.Run(ctx, piccolo.RunOnAll("WordCount", "Count", words)); err != nil {
		log.Fatal(err)
	}

	counts := make(map[string]int64)
	for shard := 0; shard < words.NumShards; shard++ {
		owner := m.WorkerForShard(words.ID, shard)
		v := table.ViewAs[*exec.ShardView](workers[owner].Store(), words.ID, shard)
		for _, key := range v.Keys() {
			counts[key] += v.Get(key)
		}
	}
	keys := make([]string, 0, len(counts))
	for key := range counts {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Printf("%s\t%d\n", key, counts[key])
	}

	m.Shutdown()
	if err := g.Wait(); err != nil {
		log.Fatal(err)
	}
}
