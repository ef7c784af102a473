// Package api
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Pooled, reference-counted memory buffers shared between the network loops
// and the host.

package api

// Buffer describes a pooled byte region with an explicit release contract.
//
// Every holder of a Buffer owns exactly one release unit and must call Release
// once when done. After the final release the buffer is recycled and must not
// be touched again.
type Buffer interface {
	// Bytes returns the valid portion of the buffer (length Len()).
	Bytes() []byte

	// Len returns the number of valid bytes.
	Len() int

	// Release gives back one release unit.
	Release()

	// Copy returns a deep copy of the valid bytes as a standalone []byte.
	Copy() []byte
}
