// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package rpc

import (
	"context"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/piccolo/ctxsync"
)

// An envelope is one queued message together with its optional
// consumption acknowledgement: ackc, if non-nil, is closed when the
// message is dequeued by the receiver.
type envelope struct {
	from int
	msg  interface{}
	ackc chan struct{}
}

// A mailbox holds one node's incoming messages, segregated by
// message type. Queues are FIFO per type; reads may filter by sender.
type mailbox struct {
	mu     sync.Mutex
	cond   *ctxsync.Cond
	queues [numMessageTypes][]envelope
	closed bool
}

func newMailbox() *mailbox {
	b := new(mailbox)
	b.cond = ctxsync.NewCond(&b.mu)
	return b
}

// put enqueues env, waking any blocked readers. Messages delivered
// after close are dropped, acknowledging them so senders don't hang.
func (b *mailbox) put(typ MessageType, env envelope) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		ack(env)
		return
	}
	b.queues[typ] = append(b.queues[typ], env)
	b.cond.Broadcast()
	b.mu.Unlock()
}

// tryRead dequeues the first message of the given type matching src,
// acknowledging it. It never blocks.
func (b *mailbox) tryRead(src int, typ MessageType) (interface{}, int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queues[typ]
	for i, env := range q {
		if src != AnySource && env.from != src {
			continue
		}
		b.queues[typ] = append(q[:i:i], q[i+1:]...)
		ack(env)
		return env.msg, env.from, true
	}
	return nil, 0, false
}

// read blocks until a matching message arrives, the context is done,
// or the mailbox is closed.
func (b *mailbox) read(ctx context.Context, src int, typ MessageType) (interface{}, int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for {
		q := b.queues[typ]
		for i, env := range q {
			if src != AnySource && env.from != src {
				continue
			}
			b.queues[typ] = append(q[:i:i], q[i+1:]...)
			ack(env)
			return env.msg, env.from, nil
		}
		if b.closed {
			return nil, 0, errors.E(errors.Unavailable, "read "+typ.String()+": transport shut down")
		}
		if err := b.cond.Wait(ctx); err != nil {
			return nil, 0, err
		}
	}
}

// close fails pending and future reads and acknowledges any messages
// still queued.
func (b *mailbox) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for typ := range b.queues {
		for _, env := range b.queues[typ] {
			ack(env)
		}
		b.queues[typ] = nil
	}
	b.cond.Broadcast()
}

func ack(env envelope) {
	if env.ackc != nil {
		close(env.ackc)
	}
}
