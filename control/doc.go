// Package control
// Author: momentics <momentics@gmail.com>
//
// Runtime metrics and debug introspection layer.
//
// Provides concurrent-safe state handling primitives including:
//   - Metrics, an api.Observer counting connections, messages and bytes
//   - A generic metrics registry with snapshot reads
//   - Debug probes, including per-bucket buffer pool statistics
package control
