package pool_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/momentics/simpleweb-ws/api"
	"github.com/momentics/simpleweb-ws/pool"
)

func TestNewBufferPoolBucketBounds(t *testing.T) {
	cases := []struct {
		count, smallest, largest int
	}{
		{2, 1, 1},
		{2, 1, 2},
		{5, 20, 16400},
		{5, 20, 16384},
		{10, 1, 65535},
		{3, 100, 101},
		{7, 64, 1 << 20},
		{40, 2, 3},
	}
	for _, tc := range cases {
		p, err := pool.NewBufferPool(tc.count, tc.smallest, tc.largest)
		if err != nil {
			t.Fatalf("NewBufferPool(%d,%d,%d): %v", tc.count, tc.smallest, tc.largest, err)
		}
		buckets := p.Buckets()
		if len(buckets) != tc.count {
			t.Fatalf("bucket count = %d, want %d", len(buckets), tc.count)
		}
		if got := buckets[0].Size(); got != tc.smallest {
			t.Errorf("(%d,%d,%d) first bucket = %d, want %d", tc.count, tc.smallest, tc.largest, got, tc.smallest)
		}
		last := buckets[len(buckets)-1].Size()
		if last != tc.largest && last != tc.largest+1 {
			t.Errorf("(%d,%d,%d) last bucket = %d, want %d or %d", tc.count, tc.smallest, tc.largest, last, tc.largest, tc.largest+1)
		}
		for i := 1; i < len(buckets); i++ {
			if buckets[i].Size() < buckets[i-1].Size() {
				t.Errorf("bucket %d size %d smaller than previous %d", i, buckets[i].Size(), buckets[i-1].Size())
			}
		}
	}
}

func TestNewBufferPoolRejectsBadShape(t *testing.T) {
	cases := []struct {
		name                     string
		count, smallest, largest int
	}{
		{"one bucket", 1, 20, 100},
		{"zero smallest", 5, 0, 100},
		{"largest below smallest", 5, 100, 99},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := pool.NewBufferPool(tc.count, tc.smallest, tc.largest)
			if !errors.Is(err, api.ErrInvalidArgument) {
				t.Fatalf("err = %v, want ErrInvalidArgument", err)
			}
		})
	}
}

func TestTakeCapacity(t *testing.T) {
	p, err := pool.NewBufferPool(5, 20, 16384)
	if err != nil {
		t.Fatal(err)
	}
	for size := 0; size <= p.Largest(); size += 97 {
		buf, err := p.Take(size)
		if err != nil {
			t.Fatalf("Take(%d): %v", size, err)
		}
		if buf.Cap() < size {
			t.Fatalf("Take(%d) capacity %d", size, buf.Cap())
		}
		if buf.Len() != 0 {
			t.Fatalf("Take(%d) length %d, want 0", size, buf.Len())
		}
		buf.Release()
	}
	buf, err := p.Take(p.Largest())
	if err != nil {
		t.Fatalf("Take(largest): %v", err)
	}
	buf.Release()

	if _, err := p.Take(p.Largest() + 1); !errors.Is(err, api.ErrResourceExhausted) {
		t.Fatalf("Take(largest+1) err = %v, want ErrResourceExhausted", err)
	}
	if _, err := p.Take(-1); !errors.Is(err, api.ErrInvalidArgument) {
		t.Fatalf("Take(-1) err = %v, want ErrInvalidArgument", err)
	}
}

func TestTakeUsesSmallestSufficientBucket(t *testing.T) {
	p, err := pool.NewBufferPool(5, 20, 16384)
	if err != nil {
		t.Fatal(err)
	}
	buckets := p.Buckets()
	for i, b := range buckets {
		buf, err := p.Take(b.Size())
		if err != nil {
			t.Fatal(err)
		}
		if buf.Cap() != b.Size() {
			t.Errorf("Take(%d) served from %d, want bucket %d", b.Size(), buf.Cap(), i)
		}
		buf.Release()
	}
}

func TestReleaseRecyclesBuffer(t *testing.T) {
	p, err := pool.NewBufferPool(2, 8, 64)
	if err != nil {
		t.Fatal(err)
	}
	buf, _ := p.Take(5)
	if err := buf.CopyFrom([]byte("hello")); err != nil {
		t.Fatal(err)
	}
	bucket := p.BucketFor(5)
	if bucket.InUse() != 1 {
		t.Fatalf("InUse = %d, want 1", bucket.InUse())
	}
	buf.Release()
	if bucket.FreeCount() != 1 || bucket.InUse() != 0 {
		t.Fatalf("after release free=%d inUse=%d", bucket.FreeCount(), bucket.InUse())
	}
	if buf.Len() != 0 {
		t.Fatalf("released buffer length = %d, want 0", buf.Len())
	}

	again, _ := p.Take(3)
	if again != buf {
		t.Fatal("expected the recycled buffer to be reused")
	}
	if bucket.Created() != 1 {
		t.Fatalf("Created = %d, want 1", bucket.Created())
	}
	again.Release()
}

func TestMultiReleaseReturnsOnlyOnLast(t *testing.T) {
	for _, n := range []int{1, 2, 3, 8} {
		p, err := pool.NewBufferPool(5, 20, 16384)
		if err != nil {
			t.Fatal(err)
		}
		bucket := p.BucketFor(5)
		buf, _ := p.Take(5)
		before := bucket.FreeCount()
		buf.SetReleasesRequired(n)

		for i := 0; i < n-1; i++ {
			buf.Release()
			if bucket.FreeCount() != before {
				t.Fatalf("n=%d: returned after %d releases", n, i+1)
			}
		}
		buf.Release()
		if bucket.FreeCount() != before+1 {
			t.Fatalf("n=%d: free count %d after last release, want %d", n, bucket.FreeCount(), before+1)
		}

		// surplus releases must not return it twice
		buf.Release()
		if bucket.FreeCount() != before+1 {
			t.Fatalf("n=%d: surplus release changed free count to %d", n, bucket.FreeCount())
		}
	}
}

func TestConcurrentReleaseSingleReturn(t *testing.T) {
	p, err := pool.NewBufferPool(3, 16, 1024)
	if err != nil {
		t.Fatal(err)
	}
	bucket := p.BucketFor(16)
	const holders = 64
	for round := 0; round < 50; round++ {
		buf, _ := p.Take(16)
		before := bucket.FreeCount()
		buf.SetReleasesRequired(holders)

		var wg sync.WaitGroup
		wg.Add(holders)
		for i := 0; i < holders; i++ {
			go func() {
				defer wg.Done()
				buf.Release()
			}()
		}
		wg.Wait()
		if got := bucket.FreeCount(); got != before+1 {
			t.Fatalf("round %d: free count %d, want %d", round, got, before+1)
		}
	}
}

func TestCopyHelpers(t *testing.T) {
	p, _ := pool.NewBufferPool(2, 4, 8)
	buf, _ := p.Take(8)
	defer buf.Release()

	if err := buf.CopyFrom(make([]byte, 9)); !errors.Is(err, api.ErrInvalidArgument) {
		t.Fatalf("oversized CopyFrom err = %v", err)
	}
	if err := buf.CopyFrom([]byte{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	dst := make([]byte, 4)
	if err := buf.CopyTo(dst, 1); err != nil {
		t.Fatal(err)
	}
	if dst[1] != 1 || dst[3] != 3 {
		t.Fatalf("CopyTo = %v", dst)
	}
	if err := buf.CopyTo(dst, 2); !errors.Is(err, api.ErrInvalidArgument) {
		t.Fatalf("short CopyTo err = %v", err)
	}
	if got := buf.Copy(); len(got) != 3 || got[2] != 3 {
		t.Fatalf("Copy = %v", got)
	}
}
