// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package ctxsync provides a condition variable whose wait operation
// respects context cancellation. It coordinates mailbox readers with
// message delivery in package rpc.
package ctxsync

import (
	"context"
	"sync"
)

// A Cond is a condition variable with a context-aware Wait. The
// associated Locker must be held across Broadcast, Wait and Done.
type Cond struct {
	l     sync.Locker
	waitc chan struct{}
}

// NewCond returns a new Cond based on Locker l.
func NewCond(l sync.Locker) *Cond {
	return &Cond{l: l}
}

// Broadcast wakes all goroutines blocked in Wait and invalidates any
// channel previously returned by Done.
func (c *Cond) Broadcast() {
	if c.waitc != nil {
		close(c.waitc)
		c.waitc = nil
	}
}

// Done returns a channel that is closed on the next Broadcast.
func (c *Cond) Done() <-chan struct{} {
	if c.waitc == nil {
		c.waitc = make(chan struct{})
	}
	return c.waitc
}

// Wait unlocks the cond's locker and blocks until the next Broadcast,
// or until the context is done, in which case the context's error is
// returned. The locker is re-acquired before Wait returns.
func (c *Cond) Wait(ctx context.Context) error {
	waitc := c.Done()
	c.l.Unlock()
	var err error
	select {
	case <-waitc:
	case <-ctx.Done():
		err = ctx.Err()
	}
	c.l.Lock()
	return err
}
