// File: pool/bucket.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pool

import (
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"
)

// BufferBucket holds free buffers of exactly one size.
type BufferBucket struct {
	arraySize int

	mu   sync.Mutex
	free *queue.Queue // of *ArrayBuffer

	inUse   atomic.Int64
	created atomic.Int64
}

func newBufferBucket(arraySize int) *BufferBucket {
	return &BufferBucket{
		arraySize: arraySize,
		free:      queue.New(),
	}
}

// Take returns a free buffer or allocates a new one. It never blocks on
// anything but the short free-list lock.
func (bb *BufferBucket) Take() *ArrayBuffer {
	bb.inUse.Add(1)

	var buf *ArrayBuffer
	bb.mu.Lock()
	if bb.free.Length() > 0 {
		buf = bb.free.Remove().(*ArrayBuffer)
	}
	bb.mu.Unlock()

	if buf == nil {
		bb.created.Add(1)
		buf = newArrayBuffer(bb, bb.arraySize)
	}
	buf.releasesRequired.Store(1)
	return buf
}

// put is the only way a buffer re-enters circulation.
func (bb *BufferBucket) put(b *ArrayBuffer) {
	if len(b.array) != bb.arraySize {
		// Not ours; let the GC have it rather than poison the free list.
		return
	}
	bb.inUse.Add(-1)
	bb.mu.Lock()
	bb.free.Add(b)
	bb.mu.Unlock()
}

// Size returns the array size served by this bucket.
func (bb *BufferBucket) Size() int { return bb.arraySize }

// FreeCount returns the number of buffers waiting for reuse.
func (bb *BufferBucket) FreeCount() int {
	bb.mu.Lock()
	defer bb.mu.Unlock()
	return bb.free.Length()
}

// InUse returns the number of buffers taken and not yet returned.
func (bb *BufferBucket) InUse() int64 { return bb.inUse.Load() }

// Created returns how many buffers this bucket has ever allocated.
func (bb *BufferBucket) Created() int64 { return bb.created.Load() }
