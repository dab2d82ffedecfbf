// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package piccolo

import (
	"sort"
	"sync"

	"github.com/grailbio/base/log"
	"github.com/grailbio/piccolo/table"
)

// A Context describes the invocation a kernel instance is serving:
// the table and shard being processed, the process's table registry,
// and the storage layer holding resident shards.
type Context struct {
	Table   int
	Shard   int
	Tables  *table.Registry
	Storage table.Viewer
}

// Kernel is the interface implemented by user kernels. A fresh kernel
// value is created for every invocation; Init is called once, before
// the requested method runs. Embedding Ctx satisfies the interface.
type Kernel interface {
	Init(ctx *Context)
}

// Ctx is an embeddable kernel base that records the invocation
// context and exposes it to kernel methods.
type Ctx struct {
	ctx *Context
}

// Init records the invocation context.
func (c *Ctx) Init(ctx *Context) { c.ctx = ctx }

// CurrentTable returns the id of the table being processed.
func (c *Ctx) CurrentTable() int { return c.ctx.Table }

// CurrentShard returns the shard being processed.
func (c *Ctx) CurrentShard() int { return c.ctx.Shard }

// Tables returns the process's table registry.
func (c *Ctx) Tables() *table.Registry { return c.ctx.Tables }

// Storage returns the storage layer for resident shards. Use
// table.ViewAs to obtain a typed view.
func (c *Ctx) Storage() table.Viewer { return c.ctx.Storage }

// A Method is a kernel entry point, invoked with a freshly
// initialized kernel value.
type Method func(Kernel)

// KernelInfo describes a registered kernel: how to create instances,
// and the methods that may be selected per run.
type KernelInfo struct {
	// Name is the kernel's registered name.
	Name string
	// New creates a fresh kernel instance.
	New func() Kernel

	mu      sync.Mutex
	methods map[string]Method
}

// Method registers a named entry point on the kernel, returning info
// to allow chained registration. Registering a duplicate method name
// is a programmer error.
func (i *KernelInfo) Method(name string, m Method) *KernelInfo {
	i.mu.Lock()
	defer i.mu.Unlock()
	if _, ok := i.methods[name]; ok {
		log.Panicf("kernel %s: method %s registered twice", i.Name, name)
	}
	i.methods[name] = m
	return i
}

// Has reports whether the kernel has a method with the given name.
func (i *KernelInfo) Has(method string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	_, ok := i.methods[method]
	return ok
}

// Methods returns the kernel's method names in sorted order.
func (i *KernelInfo) Methods() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	names := make([]string, 0, len(i.methods))
	for name := range i.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run creates a kernel instance, initializes it with ctx, and invokes
// the named method. The method must exist.
func (i *KernelInfo) Run(ctx *Context, method string) {
	i.mu.Lock()
	m, ok := i.methods[method]
	i.mu.Unlock()
	if !ok {
		log.Panicf("kernel %s: no method %s", i.Name, method)
	}
	k := i.New()
	k.Init(ctx)
	m(k)
}

// MethodOf registers a method implemented on a concrete kernel type,
// sparing callers the type assertion that Method requires.
func MethodOf[K Kernel](i *KernelInfo, name string, m func(K)) *KernelInfo {
	return i.Method(name, func(k Kernel) { m(k.(K)) })
}

var (
	kernelsMu sync.Mutex
	kernels   = make(map[string]*KernelInfo)
)

// RegisterKernel registers a kernel under the given name. Every
// process in the cluster must perform identical registrations before
// the cluster starts, since the master selects kernels by name.
// Registering the same name twice is a programmer error.
func RegisterKernel(name string, new func() Kernel) *KernelInfo {
	kernelsMu.Lock()
	defer kernelsMu.Unlock()
	if _, ok := kernels[name]; ok {
		log.Panicf("kernel %s registered twice", name)
	}
	info := &KernelInfo{Name: name, New: new, methods: make(map[string]Method)}
	kernels[name] = info
	return info
}

// Lookup returns the kernel registered under name, or nil if there is
// none.
func Lookup(name string) *KernelInfo {
	kernelsMu.Lock()
	defer kernelsMu.Unlock()
	return kernels[name]
}
