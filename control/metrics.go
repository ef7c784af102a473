// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Runtime metrics collector for system-level monitoring.
// Exposes counters in a thread-safe map with dynamic registration.

package control

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/momentics/simpleweb-ws/api"
)

// MetricsRegistry holds mutable and read-only metrics.
type MetricsRegistry struct {
	mu      sync.RWMutex
	metrics map[string]any
	updated time.Time
}

// NewMetricsRegistry creates an empty registry.
func NewMetricsRegistry() *MetricsRegistry {
	return &MetricsRegistry{
		metrics: make(map[string]any),
	}
}

// Set sets or updates a metric key.
func (mr *MetricsRegistry) Set(key string, value any) {
	mr.mu.Lock()
	mr.metrics[key] = value
	mr.updated = time.Now()
	mr.mu.Unlock()
}

// Updated returns the time of the last Set.
func (mr *MetricsRegistry) Updated() time.Time {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	return mr.updated
}

// GetSnapshot returns the latest metrics.
func (mr *MetricsRegistry) GetSnapshot() map[string]any {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	out := make(map[string]any, len(mr.metrics))
	for k, v := range mr.metrics {
		out[k] = v
	}
	return out
}

// Metrics is an api.Observer keeping engine-wide counters. Counters are
// lock-free; Publish copies them into the registry.
type Metrics struct {
	registry *MetricsRegistry

	opened           atomic.Int64
	closed           atomic.Int64
	failed           atomic.Int64
	handshakeFailed  atomic.Int64
	messagesReceived atomic.Int64
	messagesSent     atomic.Int64
	bytesReceived    atomic.Int64
	bytesSent        atomic.Int64
}

var _ api.Observer = (*Metrics)(nil)

// NewMetrics creates counters publishing into registry. A nil registry
// gets a fresh one.
func NewMetrics(registry *MetricsRegistry) *Metrics {
	if registry == nil {
		registry = NewMetricsRegistry()
	}
	return &Metrics{registry: registry}
}

func (m *Metrics) ConnectionOpened(int) { m.opened.Add(1) }

func (m *Metrics) ConnectionClosed(_ int, err error) {
	m.closed.Add(1)
	if err != nil {
		m.failed.Add(1)
	}
}

func (m *Metrics) MessageReceived(_ int, size int) {
	m.messagesReceived.Add(1)
	m.bytesReceived.Add(int64(size))
}

func (m *Metrics) MessageSent(_ int, size int) {
	m.messagesSent.Add(1)
	m.bytesSent.Add(int64(size))
}

func (m *Metrics) HandshakeFailed(error) { m.handshakeFailed.Add(1) }

// Active returns the number of open connections.
func (m *Metrics) Active() int64 { return m.opened.Load() - m.closed.Load() }

// Publish writes the current counters into the registry and returns them.
func (m *Metrics) Publish() map[string]any {
	m.registry.Set("connections.opened", m.opened.Load())
	m.registry.Set("connections.closed", m.closed.Load())
	m.registry.Set("connections.failed", m.failed.Load())
	m.registry.Set("connections.active", m.Active())
	m.registry.Set("handshakes.failed", m.handshakeFailed.Load())
	m.registry.Set("messages.received", m.messagesReceived.Load())
	m.registry.Set("messages.sent", m.messagesSent.Load())
	m.registry.Set("bytes.received", m.bytesReceived.Load())
	m.registry.Set("bytes.sent", m.bytesSent.Load())
	return m.registry.GetSnapshot()
}

// Registry returns the registry Publish writes to.
func (m *Metrics) Registry() *MetricsRegistry { return m.registry }
