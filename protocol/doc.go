// File: protocol/doc.go
// Package protocol
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// RFC 6455 engine: opening handshake for both roles, frame codec over
// buffered streams, and Connection with independent receive and send loops.
//
// Payloads live in pool buffers end to end. A received message is handed to
// the event sink inside the pool buffer it was read into; an outbound buffer
// is written straight from the caller's pool buffer and released once it is
// on the wire.

package protocol
