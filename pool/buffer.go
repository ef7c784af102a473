// File: pool/buffer.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pool

import (
	"fmt"
	"sync/atomic"

	"github.com/momentics/simpleweb-ws/api"
)

// bufferOwner receives buffers whose release count reached zero.
type bufferOwner interface {
	put(b *ArrayBuffer)
}

// ArrayBuffer is a fixed-capacity byte array with a logical length and a
// release count. The same buffer may be handed to several holders (a
// broadcast) by raising the release count before sharing it.
type ArrayBuffer struct {
	owner  bufferOwner
	array  []byte
	length int

	releasesRequired atomic.Int32
}

var _ api.Buffer = (*ArrayBuffer)(nil)

func newArrayBuffer(owner bufferOwner, size int) *ArrayBuffer {
	return &ArrayBuffer{
		owner: owner,
		array: make([]byte, size),
	}
}

// Bytes returns the valid bytes.
func (b *ArrayBuffer) Bytes() []byte { return b.array[:b.length] }

// Array returns the whole backing array regardless of Len.
func (b *ArrayBuffer) Array() []byte { return b.array }

// Len returns the number of valid bytes.
func (b *ArrayBuffer) Len() int { return b.length }

// Cap returns the fixed capacity.
func (b *ArrayBuffer) Cap() int { return len(b.array) }

// SetLength marks the first n bytes of Array as valid.
func (b *ArrayBuffer) SetLength(n int) {
	if n < 0 || n > len(b.array) {
		panic(fmt.Sprintf("pool: length %d out of range [0,%d]", n, len(b.array)))
	}
	b.length = n
}

// CopyFrom replaces the contents with src.
func (b *ArrayBuffer) CopyFrom(src []byte) error {
	if len(src) > len(b.array) {
		return fmt.Errorf("%w: source length %d greater than capacity %d",
			api.ErrInvalidArgument, len(src), len(b.array))
	}
	b.length = copy(b.array, src)
	return nil
}

// CopyTo writes the valid bytes into dst starting at offset.
func (b *ArrayBuffer) CopyTo(dst []byte, offset int) error {
	if offset < 0 || b.length > len(dst)-offset {
		return fmt.Errorf("%w: length %d does not fit target of %d at offset %d",
			api.ErrInvalidArgument, b.length, len(dst), offset)
	}
	copy(dst[offset:], b.array[:b.length])
	return nil
}

// Copy returns a standalone copy of the valid bytes.
func (b *ArrayBuffer) Copy() []byte {
	out := make([]byte, b.length)
	copy(out, b.array[:b.length])
	return out
}

// SetReleasesRequired sets how many Release calls return the buffer to its
// bucket. Values below one are treated as one. Must be called before the
// buffer is shared.
func (b *ArrayBuffer) SetReleasesRequired(n int) {
	if n < 1 {
		n = 1
	}
	b.releasesRequired.Store(int32(n))
}

// ReleasesRequired reports the outstanding release units.
func (b *ArrayBuffer) ReleasesRequired() int {
	return int(b.releasesRequired.Load())
}

// Release gives back one release unit. The call that brings the count to
// zero clears the length and recycles the buffer; surplus calls are ignored.
func (b *ArrayBuffer) Release() {
	if b.releasesRequired.Add(-1) != 0 {
		return
	}
	b.length = 0
	b.owner.put(b)
}
