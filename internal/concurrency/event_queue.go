// File: internal/concurrency/event_queue.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// EventQueue funnels events from every connection goroutine to the single
// host consumer. Producers back off while the queue is full; the consumer
// never blocks.

package concurrency

import (
	"runtime"
	"sync/atomic"
	"time"

	"github.com/momentics/simpleweb-ws/api"
)

const maxEmitBackoff = time.Millisecond

// EventQueue is a bounded MPSC queue of api.Event.
type EventQueue struct {
	q       *LockFreeQueue[api.Event]
	closed  atomic.Bool
	dropped atomic.Int64
}

var _ api.EventSink = (*EventQueue)(nil)

// NewEventQueue creates a queue holding at least capacity events.
func NewEventQueue(capacity int) *EventQueue {
	return &EventQueue{q: NewLockFreeQueue[api.Event](capacity)}
}

// Emit enqueues ev, waiting for room while the queue is open. Once the queue
// is closed a full queue drops ev and releases its payload.
func (eq *EventQueue) Emit(ev api.Event) {
	backoff := time.Microsecond
	for spins := 0; ; spins++ {
		if eq.q.Enqueue(ev) {
			return
		}
		if eq.closed.Load() {
			eq.dropped.Add(1)
			if ev.Data != nil {
				ev.Data.Release()
			}
			return
		}
		if spins < 16 {
			runtime.Gosched()
			continue
		}
		time.Sleep(backoff)
		if backoff < maxEmitBackoff {
			backoff *= 2
		}
	}
}

// Drain hands up to max events to visit in FIFO order and returns how many
// were delivered. max <= 0 drains everything currently queued.
func (eq *EventQueue) Drain(max int, visit func(api.Event)) int {
	n := 0
	for max <= 0 || n < max {
		ev, ok := eq.q.Dequeue()
		if !ok {
			break
		}
		n++
		visit(ev)
	}
	return n
}

// Close stops producers from waiting on a full queue. Queued events stay
// drainable.
func (eq *EventQueue) Close() {
	eq.closed.Store(true)
}

// Reopen makes producers wait for room again after Close.
func (eq *EventQueue) Reopen() {
	eq.closed.Store(false)
}

// Discard drops every queued event, releasing data payloads.
func (eq *EventQueue) Discard() int {
	return eq.Drain(0, func(ev api.Event) {
		if ev.Data != nil {
			ev.Data.Release()
		}
	})
}

// Len returns the approximate number of queued events.
func (eq *EventQueue) Len() int { return eq.q.Len() }

// Dropped returns how many events were discarded after Close.
func (eq *EventQueue) Dropped() int64 { return eq.dropped.Load() }
