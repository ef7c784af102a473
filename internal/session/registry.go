// File: internal/session/registry.go
// Package session
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Sharded, thread-safe connection registry for high concurrency.

package session

import (
	"sync"
	"sync/atomic"
)

const defaultShards = 16

// Registry maps connection ids to live connections.
type Registry[T any] struct {
	shards []*shard[T]
	mask   uint32
	count  atomic.Int64
}

type shard[T any] struct {
	mu    sync.RWMutex
	items map[int]T
}

// NewRegistry constructs a registry with shardCount shards rounded up to a
// power of two.
func NewRegistry[T any](shardCount int) *Registry[T] {
	if shardCount <= 0 {
		shardCount = defaultShards
	}
	m := nextPowerOfTwo(uint32(shardCount))
	shards := make([]*shard[T], m)
	for i := range shards {
		shards[i] = &shard[T]{items: make(map[int]T)}
	}
	return &Registry[T]{shards: shards, mask: m - 1}
}

func (r *Registry[T]) shard(id int) *shard[T] {
	return r.shards[uint32(id)&r.mask]
}

// Add stores v under id. It reports false if id is already present.
func (r *Registry[T]) Add(id int, v T) bool {
	sh := r.shard(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, ok := sh.items[id]; ok {
		return false
	}
	sh.items[id] = v
	r.count.Add(1)
	return true
}

// Get fetches the entry for id if present.
func (r *Registry[T]) Get(id int) (T, bool) {
	sh := r.shard(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	v, ok := sh.items[id]
	return v, ok
}

// Remove deletes id and returns the removed entry.
func (r *Registry[T]) Remove(id int) (T, bool) {
	sh := r.shard(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	v, ok := sh.items[id]
	if ok {
		delete(sh.items, id)
		r.count.Add(-1)
	}
	return v, ok
}

// Range calls fn for every entry until fn returns false. Entries added or
// removed concurrently may or may not be visited.
func (r *Registry[T]) Range(fn func(id int, v T) bool) {
	for _, sh := range r.shards {
		sh.mu.RLock()
		for id, v := range sh.items {
			if !fn(id, v) {
				sh.mu.RUnlock()
				return
			}
		}
		sh.mu.RUnlock()
	}
}

// Snapshot returns the current entries.
func (r *Registry[T]) Snapshot() []T {
	out := make([]T, 0, r.Len())
	r.Range(func(_ int, v T) bool {
		out = append(out, v)
		return true
	})
	return out
}

// Len returns the number of registered entries.
func (r *Registry[T]) Len() int {
	return int(r.count.Load())
}

// nextPowerOfTwo returns the next power-of-two >= v.
func nextPowerOfTwo(v uint32) uint32 {
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v++
	return v
}
