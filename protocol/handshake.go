// File: protocol/handshake.go
// Package protocol
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Server side of the opening handshake. Each attempt borrows its own
// scratch buffer from a small dedicated pool and wipes it before returning
// it, so concurrent handshakes never share memory.

package protocol

import (
	"bufio"
	"bytes"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/momentics/simpleweb-ws/pool"
	"golang.org/x/net/http/httpguts"
)

var scratchPool = mustScratchPool()

func mustScratchPool() *pool.BufferPool {
	p, err := pool.NewBufferPool(2, MaxResponseSize, MaxRequestSize)
	if err != nil {
		panic(fmt.Sprintf("protocol: scratch pool: %v", err))
	}
	return p
}

var headerTerminator = []byte("\r\n\r\n")

// Request holds the parts of a client handshake the engine cares about.
type Request struct {
	Path string
	Host string
	Key  string
}

// ComputeAcceptKey returns base64(SHA-1(key + GUID)).
func ComputeAcceptKey(key string) string {
	h := sha1.New()
	h.Write([]byte(key))
	h.Write([]byte(WebSocketGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// VerifyAcceptKey reports whether accept is the correct answer to key.
func VerifyAcceptKey(key, accept string) bool {
	return accept == ComputeAcceptKey(key)
}

// ServerHandshake reads a client upgrade request from br and, when it is
// valid, writes the 101 response to w. Bytes following the request stay
// buffered in br for the frame reader. On failure nothing is written.
func ServerHandshake(br *bufio.Reader, w io.Writer) (*Request, error) {
	scratch, err := scratchPool.Take(MaxRequestSize)
	if err != nil {
		return nil, err
	}
	defer releaseScratch(scratch)
	buf := scratch.Array()[:MaxRequestSize]

	if _, err := io.ReadFull(br, buf[:3]); err != nil {
		return nil, fmt.Errorf("read request method: %w", err)
	}
	if string(buf[:3]) != "GET" {
		return nil, ErrNotGet
	}
	n, err := readHeaderBlock(br, buf, 3)
	if err != nil {
		return nil, err
	}

	req, err := parseRequest(buf[:n])
	if err != nil {
		return nil, err
	}

	resp := appendResponse(buf[:0], ComputeAcceptKey(req.Key))
	if _, err := w.Write(resp); err != nil {
		return nil, fmt.Errorf("write handshake response: %w", err)
	}
	return req, nil
}

// readHeaderBlock reads byte-wise into buf[n:] until the header terminator.
// Reading stops exactly at the terminator so pipelined frames are untouched.
func readHeaderBlock(br *bufio.Reader, buf []byte, n int) (int, error) {
	for {
		if n >= 4 && bytes.Equal(buf[n-4:n], headerTerminator) {
			return n, nil
		}
		if n == len(buf) {
			return n, ErrHeaderTooLarge
		}
		b, err := br.ReadByte()
		if err != nil {
			return n, fmt.Errorf("read handshake: %w", err)
		}
		buf[n] = b
		n++
	}
}

func parseRequest(block []byte) (*Request, error) {
	lines := strings.Split(string(block[:len(block)-len(headerTerminator)]), "\r\n")

	parts := strings.Fields(lines[0])
	if len(parts) != 3 || parts[0] != "GET" || !strings.HasPrefix(parts[2], "HTTP/1.") {
		return nil, fmt.Errorf("%w: request line %q", ErrMalformedRequest, lines[0])
	}
	req := &Request{Path: parts[1]}

	var connection, upgrade []string
	version := ""
	for _, line := range lines[1:] {
		name, value, ok := splitHeader(line)
		if !ok {
			return nil, fmt.Errorf("%w: header line %q", ErrMalformedRequest, line)
		}
		switch {
		case strings.EqualFold(name, HeaderHost):
			req.Host = value
		case strings.EqualFold(name, HeaderConnection):
			connection = append(connection, value)
		case strings.EqualFold(name, HeaderUpgrade):
			upgrade = append(upgrade, value)
		case strings.EqualFold(name, HeaderSecWebSocketKey):
			req.Key = value
		case strings.EqualFold(name, HeaderSecWebSocketVersion):
			version = value
		}
	}

	if !httpguts.HeaderValuesContainsToken(connection, "upgrade") ||
		!httpguts.HeaderValuesContainsToken(upgrade, "websocket") {
		return nil, ErrInvalidUpgradeHeaders
	}
	if version != "" && version != RequiredWebSocketVersion {
		return nil, ErrBadWebSocketVersion
	}
	if req.Key == "" {
		return nil, ErrMissingWebSocketKey
	}
	if !validKey(req.Key) {
		return nil, ErrInvalidWebSocketKey
	}
	return req, nil
}

// splitHeader splits "Name: value" and validates the field name.
func splitHeader(line string) (name, value string, ok bool) {
	i := strings.IndexByte(line, ':')
	if i <= 0 {
		return "", "", false
	}
	name = line[:i]
	if !httpguts.ValidHeaderFieldName(name) {
		return "", "", false
	}
	value = strings.TrimSpace(line[i+1:])
	if !httpguts.ValidHeaderFieldValue(value) {
		return "", "", false
	}
	return name, value, true
}

func validKey(key string) bool {
	if len(key) != KeyLength {
		return false
	}
	raw, err := base64.StdEncoding.DecodeString(key)
	return err == nil && len(raw) == 16
}

func appendResponse(dst []byte, accept string) []byte {
	dst = append(dst, "HTTP/1.1 101 Switching Protocols\r\n"...)
	dst = append(dst, "Connection: Upgrade\r\n"...)
	dst = append(dst, "Upgrade: websocket\r\n"...)
	dst = append(dst, "Sec-WebSocket-Accept: "...)
	dst = append(dst, accept...)
	dst = append(dst, "\r\n\r\n"...)
	return dst
}

func releaseScratch(b *pool.ArrayBuffer) {
	clear(b.Array())
	b.Release()
}
