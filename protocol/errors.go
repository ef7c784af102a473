// File: protocol/errors.go
// Package protocol
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package protocol

import (
	"errors"
	"fmt"
)

// Handshake errors.
var (
	ErrNotGet                = errors.New("handshake request is not a GET")
	ErrMalformedRequest      = errors.New("malformed handshake request")
	ErrMissingWebSocketKey   = errors.New("missing Sec-WebSocket-Key header")
	ErrInvalidWebSocketKey   = errors.New("invalid Sec-WebSocket-Key header")
	ErrInvalidUpgradeHeaders = errors.New("invalid WebSocket upgrade headers")
	ErrBadWebSocketVersion   = errors.New("unsupported WebSocket version; only '13' is supported")
	ErrHeaderTooLarge        = errors.New("handshake exceeds header size limit")
	ErrBadStatus             = errors.New("handshake response is not 101 Switching Protocols")
	ErrMissingAccept         = errors.New("missing Sec-WebSocket-Accept header")
	ErrAcceptMismatch        = errors.New("Sec-WebSocket-Accept does not match key")
)

// Framing errors.
var (
	ErrMessageTooLarge          = errors.New("message exceeds maximum size")
	ErrFragmentationUnsupported = errors.New("fragmented messages are not supported")
	ErrInvalidOpcode            = errors.New("invalid opcode")
	ErrReservedBits             = errors.New("reserved bits set without extension")
	ErrMaskRequired             = errors.New("client frame is not masked")
	ErrUnexpectedMask           = errors.New("server frame is masked")
	ErrControlFrame             = errors.New("invalid control frame")
	ErrInvalidCloseCode         = errors.New("invalid close status code")
	ErrReceiveTimeout           = errors.New("receive timeout")
)

// ProtocolError is a peer violation carrying the close code sent back
// before the connection is torn down.
type ProtocolError struct {
	Code uint16
	Err  error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("websocket protocol violation (close %d): %v", e.Code, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

func protocolError(code uint16, err error) error {
	return &ProtocolError{Code: code, Err: err}
}

// CloseCodeFor returns the close code for err, or CloseNormalClosure if err
// is not a protocol violation.
func CloseCodeFor(err error) uint16 {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return CloseNormalClosure
}
