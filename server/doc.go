// File: server/doc.go
// Package server
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// WebSocket server engine. One accept goroutine hands every socket to its
// own handshake goroutine; upgraded sockets become protocol.Connections
// whose lifecycle and data events are funnelled into a single queue the
// host drains at its own pace.
//
// Typical host loop:
//
//	srv, _ := server.New(server.DefaultConfig(), server.WithLogger(log))
//	_ = srv.Start()
//	for tick := range ticker.C {
//		srv.DrainEvents(0, func(ev api.Event) {
//			if ev.Type == api.EventData {
//				defer ev.Data.Release()
//				// handle ev.Data.Bytes()
//			}
//		})
//	}
package server
