// File: internal/session/doc.go
// Package session
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Sharded registry of live connections keyed by connection id.
// Lookups from the host thread and removals from connection goroutines
// touch only one shard lock.

package session
