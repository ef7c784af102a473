// File: protocol/frame.go
// Package protocol
// Author: momentics <momentics@gmail.com>
//
// WebSocket frame encoding/decoding and masking over buffered streams.
// Data payloads are read straight into pool buffers; declared lengths are
// checked against the message limit before anything is allocated.

package protocol

import (
	"bufio"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/momentics/simpleweb-ws/pool"
)

// FrameHeader is the decoded fixed part of a frame.
type FrameHeader struct {
	Fin     bool
	Opcode  byte
	Masked  bool
	Length  int64
	MaskKey [4]byte
}

// Frame is one decoded frame. Data frames carry their payload in Data,
// owned by the caller. Control frames carry it in Control, valid until the
// next ReadFrame.
type Frame struct {
	FrameHeader
	Data    *pool.ArrayBuffer
	Control []byte
}

// IsControl reports whether op is a control opcode.
func IsControl(op byte) bool { return op&0x8 != 0 }

func validOpcode(op byte) bool {
	switch op {
	case OpcodeText, OpcodeBinary, OpcodeClose, OpcodePing, OpcodePong:
		return true
	}
	return false
}

// FrameReader decodes frames from a buffered stream.
type FrameReader struct {
	br             *bufio.Reader
	pool           *pool.BufferPool
	maxMessageSize int
	expectMasked   bool

	hdr     [MaxFrameHeaderSize]byte
	control [MaxControlPayload]byte
}

// NewFrameReader creates a reader. expectMasked is true on the server side,
// where every client frame must be masked, and false on the client side.
func NewFrameReader(br *bufio.Reader, p *pool.BufferPool, maxMessageSize int, expectMasked bool) *FrameReader {
	return &FrameReader{
		br:             br,
		pool:           p,
		maxMessageSize: maxMessageSize,
		expectMasked:   expectMasked,
	}
}

// ReadFrame reads one complete frame. Violations are returned as
// *ProtocolError; stream failures are returned as is.
func (fr *FrameReader) ReadFrame() (Frame, error) {
	var f Frame
	if err := fr.readHeader(&f.FrameHeader); err != nil {
		return f, err
	}

	n := int(f.Length)
	if IsControl(f.Opcode) {
		payload := fr.control[:n]
		if _, err := io.ReadFull(fr.br, payload); err != nil {
			return f, err
		}
		if f.Masked {
			maskBytes(f.MaskKey, 0, payload)
		}
		f.Control = payload
		return f, nil
	}

	buf, err := fr.pool.Take(n)
	if err != nil {
		return f, protocolError(CloseMessageTooBig, fmt.Errorf("%w: %v", ErrMessageTooLarge, err))
	}
	buf.SetLength(n)
	if _, err := io.ReadFull(fr.br, buf.Bytes()); err != nil {
		buf.Release()
		return f, err
	}
	if f.Masked {
		maskBytes(f.MaskKey, 0, buf.Bytes())
	}
	f.Data = buf
	return f, nil
}

func (fr *FrameReader) readHeader(h *FrameHeader) error {
	b := fr.hdr[:2]
	if _, err := io.ReadFull(fr.br, b); err != nil {
		return err
	}

	h.Fin = b[0]&FinBit != 0
	h.Opcode = b[0] & OpcodeMask
	h.Masked = b[1]&MaskBit != 0
	length := int64(b[1] & PayloadMask)

	if b[0]&RsvBits != 0 {
		return protocolError(CloseProtocolError, ErrReservedBits)
	}
	if h.Opcode == OpcodeContinuation || (!h.Fin && !IsControl(h.Opcode)) {
		return protocolError(CloseProtocolError, ErrFragmentationUnsupported)
	}
	if !validOpcode(h.Opcode) {
		return protocolError(CloseProtocolError, fmt.Errorf("%w: 0x%x", ErrInvalidOpcode, h.Opcode))
	}
	if IsControl(h.Opcode) && (!h.Fin || length > MaxControlPayload) {
		return protocolError(CloseProtocolError, ErrControlFrame)
	}
	if h.Masked != fr.expectMasked {
		if fr.expectMasked {
			return protocolError(CloseProtocolError, ErrMaskRequired)
		}
		return protocolError(CloseProtocolError, ErrUnexpectedMask)
	}

	switch length {
	case 126:
		ext := fr.hdr[2:4]
		if _, err := io.ReadFull(fr.br, ext); err != nil {
			return err
		}
		length = int64(binary.BigEndian.Uint16(ext))
	case 127:
		ext := fr.hdr[2:10]
		if _, err := io.ReadFull(fr.br, ext); err != nil {
			return err
		}
		v := binary.BigEndian.Uint64(ext)
		if v > 1<<63-1 {
			return protocolError(CloseProtocolError, fmt.Errorf("%w: length has high bit set", ErrMessageTooLarge))
		}
		length = int64(v)
	}
	if length > int64(fr.maxMessageSize) {
		return protocolError(CloseMessageTooBig,
			fmt.Errorf("%w: declared %d, limit %d", ErrMessageTooLarge, length, fr.maxMessageSize))
	}
	h.Length = length

	if h.Masked {
		if _, err := io.ReadFull(fr.br, h.MaskKey[:]); err != nil {
			return err
		}
	}
	return nil
}

// maskBytes XORs b with key starting at key offset pos and returns the
// offset for the next call.
func maskBytes(key [4]byte, pos int, b []byte) int {
	for i := range b {
		b[i] ^= key[pos&3]
		pos++
	}
	return pos & 3
}

// FrameWriter encodes frames onto a buffered stream. Payloads are never
// modified; masking goes through a private chunk so shared broadcast
// buffers stay intact.
type FrameWriter struct {
	bw   *bufio.Writer
	mask bool

	hdr   [MaxFrameHeaderSize]byte
	chunk []byte
}

const maskChunkSize = 512

// NewFrameWriter wraps w with a buffer of size bytes. mask is true on the
// client side.
func NewFrameWriter(w io.Writer, size int, mask bool) *FrameWriter {
	fw := &FrameWriter{bw: bufio.NewWriterSize(w, size), mask: mask}
	if mask {
		fw.chunk = make([]byte, maskChunkSize)
	}
	return fw
}

// WriteFrame writes one final frame with opcode and payload into the buffer.
func (fw *FrameWriter) WriteFrame(opcode byte, payload []byte) error {
	hdr := fw.hdr[:2]
	hdr[0] = FinBit | opcode
	plen := len(payload)
	switch {
	case plen <= 125:
		hdr[1] = byte(plen)
	case plen <= 0xFFFF:
		hdr[1] = 126
		hdr = fw.hdr[:4]
		binary.BigEndian.PutUint16(hdr[2:], uint16(plen))
	default:
		hdr[1] = 127
		hdr = fw.hdr[:10]
		binary.BigEndian.PutUint64(hdr[2:], uint64(plen))
	}

	var key [4]byte
	if fw.mask {
		hdr[1] |= MaskBit
		if _, err := rand.Read(key[:]); err != nil {
			return fmt.Errorf("generate mask key: %w", err)
		}
		hdr = append(hdr, key[:]...)
	}
	if _, err := fw.bw.Write(hdr); err != nil {
		return err
	}

	if !fw.mask {
		_, err := fw.bw.Write(payload)
		return err
	}
	pos := 0
	for len(payload) > 0 {
		n := copy(fw.chunk, payload)
		pos = maskBytes(key, pos, fw.chunk[:n])
		if _, err := fw.bw.Write(fw.chunk[:n]); err != nil {
			return err
		}
		payload = payload[n:]
	}
	return nil
}

// WriteClose writes a close frame carrying code. CloseNoStatusReceived
// produces an empty close frame.
func (fw *FrameWriter) WriteClose(code uint16) error {
	if code == CloseNoStatusReceived || code == 0 {
		return fw.WriteFrame(OpcodeClose, nil)
	}
	var p [2]byte
	binary.BigEndian.PutUint16(p[:], code)
	return fw.WriteFrame(OpcodeClose, p[:])
}

// Flush writes buffered frames to the stream.
func (fw *FrameWriter) Flush() error { return fw.bw.Flush() }

// Buffered returns the number of bytes waiting for Flush.
func (fw *FrameWriter) Buffered() int { return fw.bw.Buffered() }

// ReadCloseCode validates the payload of a received close frame. An empty
// payload yields CloseNoStatusReceived; a one byte payload or a code that
// must not appear on the wire is a protocol error.
func ReadCloseCode(payload []byte) (uint16, error) {
	switch len(payload) {
	case 0:
		return CloseNoStatusReceived, nil
	case 1:
		return 0, protocolError(CloseProtocolError,
			fmt.Errorf("%w: one byte close payload", ErrInvalidCloseCode))
	}
	code := binary.BigEndian.Uint16(payload)
	if !validReceivedCloseCode(code) {
		return 0, protocolError(CloseProtocolError, fmt.Errorf("%w: %d", ErrInvalidCloseCode, code))
	}
	return code, nil
}

// validReceivedCloseCode follows RFC 6455 section 7.4 and the IANA registry.
// 1004, 1005, 1006 and 1015 are reserved for local use.
func validReceivedCloseCode(code uint16) bool {
	switch {
	case code >= 3000 && code <= 4999:
		return true
	case code >= 1000 && code <= 1014:
		return code != 1004 && code != CloseNoStatusReceived && code != 1006
	}
	return false
}

// ParseCloseCode extracts the status code from a close payload.
func ParseCloseCode(payload []byte) uint16 {
	if len(payload) < 2 {
		return CloseNoStatusReceived
	}
	return binary.BigEndian.Uint16(payload)
}
