// File: protocol/handshake_client.go
// Package protocol
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package protocol

import (
	"bufio"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// keySource supplies client key entropy.
var keySource io.Reader = rand.Reader

// NewClientKey returns a fresh base64 encoded 16 byte key.
func NewClientKey() (string, error) {
	var raw [16]byte
	if _, err := io.ReadFull(keySource, raw[:]); err != nil {
		return "", fmt.Errorf("generate handshake key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw[:]), nil
}

// ClientHandshake sends an upgrade request for host and path on w and
// validates the response read from br.
func ClientHandshake(br *bufio.Reader, w io.Writer, host, path string) error {
	key, err := NewClientKey()
	if err != nil {
		return err
	}
	if path == "" {
		path = "/"
	}

	var sb strings.Builder
	sb.Grow(256)
	sb.WriteString("GET ")
	sb.WriteString(path)
	sb.WriteString(" HTTP/1.1\r\n")
	sb.WriteString("Host: " + host + "\r\n")
	sb.WriteString("Upgrade: websocket\r\n")
	sb.WriteString("Connection: Upgrade\r\n")
	sb.WriteString("Sec-WebSocket-Key: " + key + "\r\n")
	sb.WriteString("Sec-WebSocket-Version: " + RequiredWebSocketVersion + "\r\n\r\n")
	if _, err := io.WriteString(w, sb.String()); err != nil {
		return fmt.Errorf("write handshake request: %w", err)
	}

	return ReadServerResponse(br, key)
}

// ReadServerResponse reads the server's reply to a request sent with key.
func ReadServerResponse(br *bufio.Reader, key string) error {
	scratch, err := scratchPool.Take(MaxResponseSize)
	if err != nil {
		return err
	}
	defer releaseScratch(scratch)
	buf := scratch.Array()[:MaxResponseSize]

	n, err := readHeaderBlock(br, buf, 0)
	if err != nil {
		return err
	}
	lines := strings.Split(string(buf[:n-len(headerTerminator)]), "\r\n")

	status := strings.Fields(lines[0])
	if len(status) < 2 || !strings.HasPrefix(status[0], "HTTP/1.") || status[1] != "101" {
		return fmt.Errorf("%w: %q", ErrBadStatus, lines[0])
	}

	var connection, upgrade []string
	accept := ""
	for _, line := range lines[1:] {
		name, value, ok := splitHeader(line)
		if !ok {
			return fmt.Errorf("%w: header line %q", ErrMalformedRequest, line)
		}
		switch {
		case strings.EqualFold(name, HeaderConnection):
			connection = append(connection, value)
		case strings.EqualFold(name, HeaderUpgrade):
			upgrade = append(upgrade, value)
		case strings.EqualFold(name, HeaderSecWebSocketAccept):
			accept = value
		}
	}

	if !httpguts.HeaderValuesContainsToken(connection, "upgrade") ||
		!httpguts.HeaderValuesContainsToken(upgrade, "websocket") {
		return ErrInvalidUpgradeHeaders
	}
	if accept == "" {
		return ErrMissingAccept
	}
	if !VerifyAcceptKey(key, accept) {
		return ErrAcceptMismatch
	}
	return nil
}
