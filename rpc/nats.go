// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package rpc

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/nats-io/nats.go"
)

// wireMessage is the gob-encoded frame exchanged over NATS. Reply, if
// nonempty, names an inbox to which the receiver publishes an empty
// acknowledgement when the message is consumed.
type wireMessage struct {
	From  int
	Type  MessageType
	Reply string
	Msg   interface{}
}

// natsTransport implements Transport over a NATS connection. Each
// node subscribes to a single subject, <prefix>.node.<id>; NATS
// preserves publish order per connection, so per-destination FIFO
// holds. Synchronous broadcast acknowledgements travel through
// request inboxes.
type natsTransport struct {
	nc     *nats.Conn
	prefix string
	self   int
	size   int
	box    *mailbox
	sub    *nats.Subscription
}

// DialNATS returns a transport endpoint for node self (0 is the
// master) in a cluster of size nodes, multiplexed over the provided
// NATS connection. All nodes must use the same subject prefix.
func DialNATS(nc *nats.Conn, prefix string, self, size int) (Transport, error) {
	if size < 2 {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("nats transport: need at least 2 nodes, got %d", size))
	}
	t := &natsTransport{
		nc:     nc,
		prefix: prefix,
		self:   self,
		size:   size,
		box:    newMailbox(),
	}
	sub, err := nc.Subscribe(t.subject(self), t.deliver)
	if err != nil {
		return nil, errors.E(err, "nats transport: subscribe")
	}
	t.sub = sub
	if err := nc.Flush(); err != nil {
		return nil, errors.E(err, "nats transport: flush")
	}
	return t, nil
}

func (t *natsTransport) subject(node int) string {
	return fmt.Sprintf("%s.node.%d", t.prefix, node)
}

// deliver decodes an incoming frame and queues it on the local
// mailbox. Consumption acknowledgements are forwarded to the sender's
// reply inbox.
func (t *natsTransport) deliver(m *nats.Msg) {
	var wire wireMessage
	if err := gob.NewDecoder(bytes.NewReader(m.Data)).Decode(&wire); err != nil {
		log.Error.Printf("nats transport: dropping undecodable message: %v", err)
		return
	}
	env := envelope{from: wire.From, msg: wire.Msg}
	if wire.Reply != "" {
		ackc := make(chan struct{})
		env.ackc = ackc
		reply := wire.Reply
		go func() {
			<-ackc
			if err := t.nc.Publish(reply, nil); err != nil {
				log.Error.Printf("nats transport: ack publish: %v", err)
			}
		}()
	}
	t.box.put(wire.Type, env)
}

func (t *natsTransport) publish(dst int, typ MessageType, msg interface{}, reply string) error {
	var buf bytes.Buffer
	wire := wireMessage{From: t.self, Type: typ, Reply: reply, Msg: msg}
	if err := gob.NewEncoder(&buf).Encode(&wire); err != nil {
		return errors.E(err, "nats transport: encode "+typ.String())
	}
	return t.nc.Publish(t.subject(dst), buf.Bytes())
}

func (t *natsTransport) Self() int { return t.self }

func (t *natsTransport) Size() int { return t.size }

func (t *natsTransport) Send(dst int, typ MessageType, msg interface{}) {
	if err := t.publish(dst, typ, msg, ""); err != nil {
		log.Error.Printf("nats transport: send %s to %d: %v", typ, dst, err)
	}
}

func (t *natsTransport) SyncSend(ctx context.Context, dst int, typ MessageType, msg interface{}) error {
	inbox := nats.NewInbox()
	sub, err := t.nc.SubscribeSync(inbox)
	if err != nil {
		return errors.E(err, "nats transport: sync send subscribe")
	}
	defer func() {
		if err := sub.Unsubscribe(); err != nil {
			log.Error.Printf("nats transport: unsubscribe: %v", err)
		}
	}()
	if err := t.publish(dst, typ, msg, inbox); err != nil {
		return err
	}
	if _, err := sub.NextMsgWithContext(ctx); err != nil {
		return errors.E(err, fmt.Sprintf("nats transport: sync send %s to %d", typ, dst))
	}
	return nil
}

func (t *natsTransport) TryRead(src int, typ MessageType) (interface{}, int, bool) {
	return t.box.tryRead(src, typ)
}

func (t *natsTransport) Read(ctx context.Context, src int, typ MessageType) (interface{}, int, error) {
	return t.box.read(ctx, src, typ)
}

func (t *natsTransport) Broadcast(typ MessageType, msg interface{}) {
	for dst := 0; dst < t.size; dst++ {
		if dst == t.self {
			continue
		}
		t.Send(dst, typ, msg)
	}
}

func (t *natsTransport) SyncBroadcast(ctx context.Context, typ MessageType, msg interface{}) error {
	inbox := nats.NewInbox()
	sub, err := t.nc.SubscribeSync(inbox)
	if err != nil {
		return errors.E(err, "nats transport: sync broadcast subscribe")
	}
	defer func() {
		if err := sub.Unsubscribe(); err != nil {
			log.Error.Printf("nats transport: unsubscribe: %v", err)
		}
	}()
	for dst := 0; dst < t.size; dst++ {
		if dst == t.self {
			continue
		}
		if err := t.publish(dst, typ, msg, inbox); err != nil {
			return err
		}
	}
	for n := 0; n < t.size-1; n++ {
		if _, err := sub.NextMsgWithContext(ctx); err != nil {
			return errors.E(err, fmt.Sprintf("nats transport: sync broadcast %s: %d of %d acks", typ, n, t.size-1))
		}
	}
	return nil
}

func (t *natsTransport) Shutdown() {
	if err := t.sub.Unsubscribe(); err != nil {
		log.Error.Printf("nats transport: unsubscribe: %v", err)
	}
	t.box.close()
}
