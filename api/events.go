// File: api/events.go
// Package api defines core event types for simpleweb-ws.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// EventType tags an Event.
type EventType uint8

const (
	EventConnected EventType = iota + 1
	EventData
	EventDisconnected
	EventError
)

func (t EventType) String() string {
	switch t {
	case EventConnected:
		return "connected"
	case EventData:
		return "data"
	case EventDisconnected:
		return "disconnected"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is a lifecycle or data notification for one connection.
//
// Data events carry ownership of Data; the consumer must call Data.Release()
// once it has finished with the payload.
type Event struct {
	Type   EventType
	ConnID int
	Data   Buffer
	Err    error
}

// Terminal reports whether no further events follow for this connection.
func (e Event) Terminal() bool {
	return e.Type == EventDisconnected || e.Type == EventError
}

// EventSink receives events produced by connection loops.
type EventSink interface {
	Emit(ev Event)
}
