// control/debug.go
// Author: momentics <momentics@gmail.com>
//
// Runtime debug handler and probe reflector for internal inspection.

package control

import (
	"fmt"
	"sync"

	"github.com/momentics/simpleweb-ws/pool"
)

// DebugProbes holds registered probe functions.
type DebugProbes struct {
	mu     sync.RWMutex
	probes map[string]func() any
}

// NewDebugProbes creates a probe registry.
func NewDebugProbes() *DebugProbes {
	return &DebugProbes{
		probes: make(map[string]func() any),
	}
}

// RegisterProbe inserts a named debug hook.
func (dp *DebugProbes) RegisterProbe(name string, fn func() any) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.probes[name] = fn
}

// RegisterPoolProbes exposes one probe per bucket of p under
// "<prefix>.bucket.<size>".
func (dp *DebugProbes) RegisterPoolProbes(prefix string, p *pool.BufferPool) {
	for _, b := range p.Buckets() {
		b := b
		dp.RegisterProbe(fmt.Sprintf("%s.bucket.%d", prefix, b.Size()), func() any {
			return pool.BucketStats{
				Size:    b.Size(),
				Free:    b.FreeCount(),
				InUse:   b.InUse(),
				Created: b.Created(),
			}
		})
	}
}

// DumpState returns output of all probes.
func (dp *DebugProbes) DumpState() map[string]any {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	out := make(map[string]any)
	for k, fn := range dp.probes {
		out[k] = fn()
	}
	return out
}
