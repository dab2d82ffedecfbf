// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package rpc

import (
	"context"

	"github.com/grailbio/base/log"
)

// Local is an in-process messaging service connecting n nodes through
// shared mailboxes. It preserves per-destination FIFO ordering and
// implements synchronous broadcast by waiting for each recipient to
// dequeue the message.
type Local struct {
	boxes []*mailbox
}

// NewLocal returns a Local service with n nodes: the master (node 0)
// and n-1 workers.
func NewLocal(n int) *Local {
	if n < 2 {
		log.Panicf("local transport: need at least one master and one worker, got %d nodes", n)
	}
	boxes := make([]*mailbox, n)
	for i := range boxes {
		boxes[i] = newMailbox()
	}
	return &Local{boxes: boxes}
}

// Node returns the transport endpoint for node i.
func (l *Local) Node(i int) Transport {
	return &localNode{local: l, id: i}
}

type localNode struct {
	local *Local
	id    int
}

func (n *localNode) Self() int { return n.id }

func (n *localNode) Size() int { return len(n.local.boxes) }

func (n *localNode) Send(dst int, typ MessageType, msg interface{}) {
	n.local.boxes[dst].put(typ, envelope{from: n.id, msg: msg})
}

func (n *localNode) SyncSend(ctx context.Context, dst int, typ MessageType, msg interface{}) error {
	ackc := make(chan struct{})
	n.local.boxes[dst].put(typ, envelope{from: n.id, msg: msg, ackc: ackc})
	select {
	case <-ackc:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *localNode) TryRead(src int, typ MessageType) (interface{}, int, bool) {
	return n.local.boxes[n.id].tryRead(src, typ)
}

func (n *localNode) Read(ctx context.Context, src int, typ MessageType) (interface{}, int, error) {
	return n.local.boxes[n.id].read(ctx, src, typ)
}

func (n *localNode) Broadcast(typ MessageType, msg interface{}) {
	for dst := range n.local.boxes {
		if dst == n.id {
			continue
		}
		n.Send(dst, typ, msg)
	}
}

func (n *localNode) SyncBroadcast(ctx context.Context, typ MessageType, msg interface{}) error {
	acks := make([]chan struct{}, 0, len(n.local.boxes)-1)
	for dst := range n.local.boxes {
		if dst == n.id {
			continue
		}
		ackc := make(chan struct{})
		acks = append(acks, ackc)
		n.local.boxes[dst].put(typ, envelope{from: n.id, msg: msg, ackc: ackc})
	}
	for _, ackc := range acks {
		select {
		case <-ackc:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (n *localNode) Shutdown() {
	n.local.boxes[n.id].close()
}
