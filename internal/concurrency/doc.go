// File: internal/concurrency/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Lock-free queue primitives for simpleweb-ws. LockFreeQueue is a bounded
// MPMC ring; EventQueue builds on it to carry connection events from the
// per-connection loops to the single goroutine that drains them.
package concurrency
