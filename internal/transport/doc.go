// File: internal/transport/doc.go
// Package transport
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Byte-stream plumbing under the WebSocket engine: listeners with socket
// options applied before bind, dialing with deadlines, TCP tuning and
// optional TLS wrapping in both directions.

package transport
