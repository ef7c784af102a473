// File: client/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package client is the outgoing side of simpleweb-ws: one socket to one
// server, with the same event and buffer model as the server engine.
//
// Connect returns immediately; the outcome arrives as either a Connected
// event or a single Error event, both with connection id 0.
package client
