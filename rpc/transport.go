// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package rpc

import "context"

// AnySource matches messages from any sender in TryRead and Read.
const AnySource = -1

// A Transport is one node's endpoint onto the cluster's typed
// point-to-point and broadcast messaging service. Node 0 is the
// master; nodes 1..Size()-1 are workers. Per destination, messages
// are delivered in the order they were sent.
type Transport interface {
	// Self returns this endpoint's node id.
	Self() int
	// Size returns the total number of nodes, master included.
	Size() int
	// Send delivers msg to dst without blocking on the receiver.
	Send(dst int, typ MessageType, msg interface{})
	// SyncSend is like Send but blocks until dst has consumed the
	// message or the context is done.
	SyncSend(ctx context.Context, dst int, typ MessageType, msg interface{}) error
	// TryRead dequeues the next message of the given type from src
	// (or from any sender if src is AnySource). It does not block;
	// ok reports whether a message was available.
	TryRead(src int, typ MessageType) (msg interface{}, from int, ok bool)
	// Read is like TryRead but blocks until a message arrives, the
	// context is done, or the transport is shut down.
	Read(ctx context.Context, src int, typ MessageType) (msg interface{}, from int, err error)
	// Broadcast sends msg to every node except the sender.
	Broadcast(typ MessageType, msg interface{})
	// SyncBroadcast is like Broadcast but additionally blocks until
	// every recipient has consumed the message, so that no recipient
	// can observe a later message from this sender first.
	SyncBroadcast(ctx context.Context, typ MessageType, msg interface{}) error
	// Shutdown releases the endpoint. Blocked and future reads fail.
	Shutdown()
}
