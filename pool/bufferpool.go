// File: pool/bufferpool.go
// Package pool implements log-scale size class buffer pooling.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pool

import (
	"fmt"
	"math"

	"github.com/momentics/simpleweb-ws/api"
)

// BufferPool is an ordered set of buckets covering [smallest, largest].
//
// Example for NewBufferPool(5, 20, 16400): sizes 20, 107, 572, 3056, 16400.
type BufferPool struct {
	buckets  []*BufferBucket
	smallest int
	largest  int
}

// BucketStats is a point-in-time view of one bucket.
type BucketStats struct {
	Size    int
	Free    int
	InUse   int64
	Created int64
}

// NewBufferPool validates the shape eagerly and builds every bucket.
func NewBufferPool(bucketCount, smallest, largest int) (*BufferPool, error) {
	switch {
	case bucketCount < 2:
		return nil, api.NewError(api.ErrCodeInvalidArgument, "bucket count must be at least 2").
			WithContext("bucketCount", bucketCount)
	case smallest < 1:
		return nil, api.NewError(api.ErrCodeInvalidArgument, "smallest must be at least 1").
			WithContext("smallest", smallest)
	case largest < smallest:
		return nil, api.NewError(api.ErrCodeInvalidArgument, "largest must not be less than smallest").
			WithContext("smallest", smallest).
			WithContext("largest", largest)
	}

	minLog := math.Log(float64(smallest))
	maxLog := math.Log(float64(largest))
	each := (maxLog - minLog) / float64(bucketCount-1)

	p := &BufferPool{
		buckets:  make([]*BufferBucket, bucketCount),
		smallest: smallest,
		largest:  largest,
	}
	for i := range p.buckets {
		size := float64(smallest) * math.Exp(each*float64(i))
		p.buckets[i] = newBufferBucket(int(math.Ceil(size)))
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *BufferPool) validate() error {
	if first := p.buckets[0].arraySize; first != p.smallest {
		return api.NewError(api.ErrCodeInternal, "first bucket does not match smallest").
			WithContext("bucket", first).
			WithContext("smallest", p.smallest)
	}
	// ceil may round the last bucket one above largest
	last := p.buckets[len(p.buckets)-1].arraySize
	if last != p.largest && last != p.largest+1 {
		return api.NewError(api.ErrCodeInternal, "last bucket does not match largest").
			WithContext("bucket", last).
			WithContext("largest", p.largest)
	}
	for i := 1; i < len(p.buckets); i++ {
		if p.buckets[i].arraySize < p.buckets[i-1].arraySize {
			return api.NewError(api.ErrCodeInternal, "bucket sizes are not ordered").
				WithContext("index", i)
		}
	}
	return nil
}

// Take returns a buffer from the smallest bucket that can hold size bytes.
// The buffer starts with Len 0 and a release count of one.
func (p *BufferPool) Take(size int) (*ArrayBuffer, error) {
	if size < 0 {
		return nil, fmt.Errorf("%w: negative size %d", api.ErrInvalidArgument, size)
	}
	if size > p.largest {
		return nil, fmt.Errorf("%w: size %d is greater than largest %d",
			api.ErrResourceExhausted, size, p.largest)
	}
	for _, b := range p.buckets {
		if size <= b.arraySize {
			return b.Take(), nil
		}
	}
	// unreachable after validate
	return nil, fmt.Errorf("%w: size %d is greater than largest %d",
		api.ErrResourceExhausted, size, p.largest)
}

// Smallest returns the configured smallest buffer size.
func (p *BufferPool) Smallest() int { return p.smallest }

// Largest returns the configured largest buffer size.
func (p *BufferPool) Largest() int { return p.largest }

// Buckets exposes the buckets in ascending size order.
func (p *BufferPool) Buckets() []*BufferBucket { return p.buckets }

// BucketFor returns the bucket that serves size, or nil if none does.
func (p *BufferPool) BucketFor(size int) *BufferBucket {
	if size < 0 || size > p.largest {
		return nil
	}
	for _, b := range p.buckets {
		if size <= b.arraySize {
			return b
		}
	}
	return nil
}

// Stats snapshots every bucket.
func (p *BufferPool) Stats() []BucketStats {
	out := make([]BucketStats, len(p.buckets))
	for i, b := range p.buckets {
		out[i] = BucketStats{
			Size:    b.arraySize,
			Free:    b.FreeCount(),
			InUse:   b.InUse(),
			Created: b.Created(),
		}
	}
	return out
}
