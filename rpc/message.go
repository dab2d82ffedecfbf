// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package rpc defines Piccolo's typed messaging surface: the message
// types exchanged between the master and workers, and the Transport
// over which they travel. Two transports are provided: an in-process
// transport used by local sessions and tests, and a NATS-backed
// transport for distributed runs.
package rpc

import (
	"encoding/gob"

	"github.com/grailbio/piccolo/table"
)

// MessageType identifies the kind of a message. Each type has a fixed
// payload type; mailboxes are segregated by message type so that
// readers can wait for one kind of message without disturbing others.
type MessageType int

const (
	// MTypeRegisterWorker is sent by each worker at startup.
	// Payload: RegisterWorkerRequest.
	MTypeRegisterWorker MessageType = iota
	// MTypeShardAssignment carries the full shard ownership map.
	// Payload: ShardAssignmentRequest. Broadcast synchronously.
	MTypeShardAssignment
	// MTypeRunKernel instructs a worker to run one kernel method on
	// one shard. Payload: KernelRequest.
	MTypeRunKernel
	// MTypeKernelDone reports a completed kernel invocation.
	// Payload: KernelDone.
	MTypeKernelDone
	// MTypeWorkerFlush asks workers to flush buffered table updates.
	// Payload: EmptyMessage.
	MTypeWorkerFlush
	// MTypeFlushResponse reports how many updates a worker flushed
	// since the previous flush round. Payload: FlushResponse.
	MTypeFlushResponse
	// MTypeWorkerApply asks workers to commit flushed updates.
	// Payload: EmptyMessage.
	MTypeWorkerApply
	// MTypeWorkerShutdown tells workers to exit. Payload: EmptyMessage.
	MTypeWorkerShutdown

	numMessageTypes
)

var messageTypes = [...]string{
	MTypeRegisterWorker:  "REGISTER_WORKER",
	MTypeShardAssignment: "SHARD_ASSIGNMENT",
	MTypeRunKernel:       "RUN_KERNEL",
	MTypeKernelDone:      "KERNEL_DONE",
	MTypeWorkerFlush:     "WORKER_FLUSH",
	MTypeFlushResponse:   "FLUSH_RESPONSE",
	MTypeWorkerApply:     "WORKER_APPLY",
	MTypeWorkerShutdown:  "WORKER_SHUTDOWN",
}

// String returns the message type's wire name.
func (t MessageType) String() string {
	if t < 0 || int(t) >= len(messageTypes) {
		return "INVALID"
	}
	return messageTypes[t]
}

// RegisterWorkerRequest announces a worker slot to the master.
type RegisterWorkerRequest struct {
	Worker int
}

// Assign binds one table shard to its owning worker.
type Assign struct {
	NewWorker int
	Table     int
	Shard     int
}

// ShardAssignmentRequest carries the complete ownership map for all
// tables. Workers replace their routing tables with its contents.
type ShardAssignmentRequest struct {
	Assign []Assign
}

// KernelRequest names the kernel method to run and the shard to run
// it over.
type KernelRequest struct {
	Kernel string
	Method string
	Table  int
	Shard  int
}

// KernelDone reports the completion of a KernelRequest, along with
// fresh partition metadata for every shard the invocation touched.
type KernelDone struct {
	Kernel KernelRequest
	Shards []table.ShardInfo
}

// FlushResponse is a worker's reply to a flush round.
type FlushResponse struct {
	UpdatesDone int64
}

// EmptyMessage is the payload of messages that carry no data.
type EmptyMessage struct{}

func init() {
	gob.Register(RegisterWorkerRequest{})
	gob.Register(ShardAssignmentRequest{})
	gob.Register(KernelRequest{})
	gob.Register(KernelDone{})
	gob.Register(FlushResponse{})
	gob.Register(EmptyMessage{})
}
