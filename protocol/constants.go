// File: protocol/constants.go
// Package protocol
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package protocol

import "time"

// Handshake constants.
const (
	WebSocketGUID            = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"
	RequiredWebSocketVersion = "13"

	HeaderHost                = "Host"
	HeaderConnection          = "Connection"
	HeaderUpgrade             = "Upgrade"
	HeaderSecWebSocketKey     = "Sec-WebSocket-Key"
	HeaderSecWebSocketVersion = "Sec-WebSocket-Version"
	HeaderSecWebSocketAccept  = "Sec-WebSocket-Accept"

	// MaxRequestSize bounds the client request read by the server.
	MaxRequestSize = 3000
	// MaxResponseSize bounds the server response read by the client.
	MaxResponseSize = 1024

	// KeyLength is the length of a base64 encoded 16 byte key.
	KeyLength = 24

	// ResponseLength is the exact size of the 101 response we send.
	ResponseLength = 129
)

// WebSocket frame opcodes.
const (
	OpcodeContinuation byte = 0x0
	OpcodeText         byte = 0x1
	OpcodeBinary       byte = 0x2
	OpcodeClose        byte = 0x8
	OpcodePing         byte = 0x9
	OpcodePong         byte = 0xA
)

// Frame header bits.
const (
	FinBit      byte = 0x80
	RsvBits     byte = 0x70
	OpcodeMask  byte = 0x0F
	MaskBit     byte = 0x80
	PayloadMask byte = 0x7F

	// MaxControlPayload is the largest payload a control frame may carry.
	MaxControlPayload = 125
	// MaxFrameHeaderSize covers flags, 8 byte length and mask key.
	MaxFrameHeaderSize = 14
)

// Close status codes.
const (
	CloseNormalClosure    uint16 = 1000
	CloseGoingAway        uint16 = 1001
	CloseProtocolError    uint16 = 1002
	CloseUnsupportedData  uint16 = 1003
	CloseNoStatusReceived uint16 = 1005
	CloseMessageTooBig    uint16 = 1009
)

// CloseGracePeriod is how long a connection waits for the peer's close
// frame after sending its own.
const CloseGracePeriod = time.Second
