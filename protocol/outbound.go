// File: protocol/outbound.go
// Package protocol
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package protocol

import (
	"sync"

	"github.com/eapache/queue"
	"github.com/momentics/simpleweb-ws/pool"
)

// outboundQueue is the FIFO between Send callers and the send loop.
// Pushing never blocks; the signal channel wakes the send loop.
type outboundQueue struct {
	mu     sync.Mutex
	q      *queue.Queue
	closed bool
	signal chan struct{}
}

func newOutboundQueue() *outboundQueue {
	return &outboundQueue{
		q:      queue.New(),
		signal: make(chan struct{}, 1),
	}
}

// push appends buf. It reports false once the queue is closed.
func (o *outboundQueue) push(buf *pool.ArrayBuffer) bool {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return false
	}
	o.q.Add(buf)
	o.mu.Unlock()
	o.wake()
	return true
}

func (o *outboundQueue) pop() (*pool.ArrayBuffer, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.q.Length() == 0 {
		return nil, false
	}
	return o.q.Remove().(*pool.ArrayBuffer), true
}

func (o *outboundQueue) wake() {
	select {
	case o.signal <- struct{}{}:
	default:
	}
}

func (o *outboundQueue) len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.q.Length()
}

// close rejects further pushes and releases everything still queued.
func (o *outboundQueue) close() int {
	o.mu.Lock()
	o.closed = true
	var pending []*pool.ArrayBuffer
	for o.q.Length() > 0 {
		pending = append(pending, o.q.Remove().(*pool.ArrayBuffer))
	}
	o.mu.Unlock()
	for _, b := range pending {
		b.Release()
	}
	return len(pending)
}
