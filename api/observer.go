// File: api/observer.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Optional measurement hooks invoked by the engines.

package api

// Observer receives measurement callbacks from connections and engines.
// Implementations must be safe for concurrent use; they are called from
// network goroutines and must not block.
type Observer interface {
	ConnectionOpened(connID int)
	ConnectionClosed(connID int, err error)
	MessageReceived(connID int, size int)
	MessageSent(connID int, size int)
	HandshakeFailed(err error)
}

// NopObserver discards every callback.
type NopObserver struct{}

func (NopObserver) ConnectionOpened(int)        {}
func (NopObserver) ConnectionClosed(int, error) {}
func (NopObserver) MessageReceived(int, int)    {}
func (NopObserver) MessageSent(int, int)        {}
func (NopObserver) HandshakeFailed(error)       {}

var _ Observer = NopObserver{}
