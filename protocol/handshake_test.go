package protocol

import (
	"bufio"
	"bytes"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
)

func TestComputeAcceptKeyKnownVector(t *testing.T) {
	got := ComputeAcceptKey("dGhlIHNhbXBsZSBub25jZQ==")
	if got != "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=" {
		t.Fatalf("unexpected accept value %q", got)
	}
}

func withFixedKey(t *testing.T, raw []byte) string {
	t.Helper()
	old := keySource
	keySource = bytes.NewReader(raw)
	t.Cleanup(func() { keySource = old })
	return base64.StdEncoding.EncodeToString(raw)
}

func TestHandshakeRoundTrip(t *testing.T) {
	raw := []byte("0123456789abcdef")
	key := withFixedKey(t, raw)

	sum := sha1.Sum([]byte(key + WebSocketGUID))
	want := base64.StdEncoding.EncodeToString(sum[:])
	if ComputeAcceptKey(key) != want {
		t.Fatalf("accept mismatch: %q vs %q", ComputeAcceptKey(key), want)
	}

	cli, srv := net.Pipe()
	defer cli.Close()
	defer srv.Close()

	type result struct {
		req *Request
		err error
	}
	done := make(chan result, 1)
	go func() {
		req, err := ServerHandshake(bufio.NewReader(srv), srv)
		done <- result{req, err}
	}()

	if err := ClientHandshake(bufio.NewReader(cli), cli, "example.com:80", "/game"); err != nil {
		t.Fatalf("client handshake: %v", err)
	}
	res := <-done
	if res.err != nil {
		t.Fatalf("server handshake: %v", res.err)
	}
	if res.req.Key != key || res.req.Path != "/game" || res.req.Host != "example.com:80" {
		t.Fatalf("unexpected request %+v", res.req)
	}
}

func validRequest(key string) string {
	return "GET /chat HTTP/1.1\r\n" +
		"Host: server.example.com\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: keep-alive, Upgrade\r\n" +
		"Sec-WebSocket-Key: " + key + "\r\n" +
		"Sec-WebSocket-Version: 13\r\n\r\n"
}

func TestServerHandshakeResponseIsExact(t *testing.T) {
	key := "dGhlIHNhbXBsZSBub25jZQ=="
	var out bytes.Buffer
	if _, err := ServerHandshake(bufio.NewReader(strings.NewReader(validRequest(key))), &out); err != nil {
		t.Fatalf("handshake: %v", err)
	}
	want := "HTTP/1.1 101 Switching Protocols\r\n" +
		"Connection: Upgrade\r\n" +
		"Upgrade: websocket\r\n" +
		"Sec-WebSocket-Accept: s3pPLMBiTxaQ9kYGzzhZRbK+xOo=\r\n\r\n"
	if out.String() != want {
		t.Fatalf("response mismatch:\n%q\n%q", out.String(), want)
	}
	if out.Len() != ResponseLength {
		t.Fatalf("response length %d, want %d", out.Len(), ResponseLength)
	}
}

func TestServerHandshakeLeavesPipelinedBytes(t *testing.T) {
	in := validRequest("dGhlIHNhbXBsZSBub25jZQ==") + "\x82\x00"
	br := bufio.NewReader(strings.NewReader(in))
	if _, err := ServerHandshake(br, io.Discard); err != nil {
		t.Fatalf("handshake: %v", err)
	}
	rest, _ := io.ReadAll(br)
	if string(rest) != "\x82\x00" {
		t.Fatalf("pipelined bytes lost: %q", rest)
	}
}

func TestServerHandshakeAcceptsLowercaseHeaders(t *testing.T) {
	in := "GET / HTTP/1.1\r\nhost: x\r\nupgrade: WebSocket\r\nconnection: upgrade\r\n" +
		"sec-websocket-key: dGhlIHNhbXBsZSBub25jZQ==\r\nsec-websocket-version: 13\r\n\r\n"
	if _, err := ServerHandshake(bufio.NewReader(strings.NewReader(in)), io.Discard); err != nil {
		t.Fatalf("handshake: %v", err)
	}
}

func TestServerHandshakeRejects(t *testing.T) {
	key := "dGhlIHNhbXBsZSBub25jZQ=="
	tests := []struct {
		name string
		in   string
		want error
	}{
		{"not get", strings.Replace(validRequest(key), "GET", "PUT", 1), ErrNotGet},
		{"post", "POST / HTTP/1.1\r\n\r\n", ErrNotGet},
		{"missing key", strings.Replace(validRequest(key), "Sec-WebSocket-Key: "+key+"\r\n", "", 1), ErrMissingWebSocketKey},
		{"short key", strings.Replace(validRequest(key), key, "abc", 1), ErrInvalidWebSocketKey},
		{"not base64", strings.Replace(validRequest(key), key, "!!!!!!!!!!!!!!!!!!!!!!!!", 1), ErrInvalidWebSocketKey},
		{"no upgrade", strings.Replace(validRequest(key), "Upgrade: websocket\r\n", "", 1), ErrInvalidUpgradeHeaders},
		{"bad connection", strings.Replace(validRequest(key), "keep-alive, Upgrade", "close", 1), ErrInvalidUpgradeHeaders},
		{"bad version", strings.Replace(validRequest(key), "Version: 13", "Version: 8", 1), ErrBadWebSocketVersion},
		{"bad request line", "GET /\r\n\r\n", ErrMalformedRequest},
		{"bad header", "GET / HTTP/1.1\r\nno colon here\r\n\r\n", ErrMalformedRequest},
		{"too large", "GET / HTTP/1.1\r\nX-Pad: " + strings.Repeat("a", MaxRequestSize) + "\r\n\r\n", ErrHeaderTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			_, err := ServerHandshake(bufio.NewReader(strings.NewReader(tt.in)), &out)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if out.Len() != 0 {
				t.Fatalf("response written on failure: %q", out.String())
			}
		})
	}
}

func TestServerHandshakeTruncated(t *testing.T) {
	in := "GET / HTTP/1.1\r\nHost: x\r\n"
	_, err := ServerHandshake(bufio.NewReader(strings.NewReader(in)), io.Discard)
	if !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func response(accept string) string {
	s := "HTTP/1.1 101 Switching Protocols\r\nUpgrade: websocket\r\nConnection: Upgrade\r\n"
	if accept != "" {
		s += "Sec-WebSocket-Accept: " + accept + "\r\n"
	}
	return s + "\r\n"
}

func TestReadServerResponse(t *testing.T) {
	key := base64.StdEncoding.EncodeToString([]byte("fedcba9876543210"))
	good := ComputeAcceptKey(key)
	other := ComputeAcceptKey(base64.StdEncoding.EncodeToString([]byte("0000000000000000")))

	tests := []struct {
		name string
		in   string
		want error
	}{
		{"valid", response(good), nil},
		{"mismatch", response(other), ErrAcceptMismatch},
		{"missing accept", response(""), ErrMissingAccept},
		{"bad status", strings.Replace(response(good), "101 Switching Protocols", "400 Bad Request", 1), ErrBadStatus},
		{"no upgrade", strings.Replace(response(good), "Upgrade: websocket\r\n", "", 1), ErrInvalidUpgradeHeaders},
		{"too large", response(good)[:20] + strings.Repeat("x", MaxResponseSize), ErrHeaderTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ReadServerResponse(bufio.NewReader(strings.NewReader(tt.in)), key)
			if tt.want == nil {
				if err != nil {
					t.Fatalf("unexpected error %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestVerifyAcceptKey(t *testing.T) {
	key := "dGhlIHNhbXBsZSBub25jZQ=="
	if !VerifyAcceptKey(key, "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=") {
		t.Fatal("correct accept rejected")
	}
	if VerifyAcceptKey(key, "s3pPLMBiTxaQ9kYGzzhZRbK+xOp=") {
		t.Fatal("wrong accept accepted")
	}
}

func TestScratchIsWipedAfterHandshake(t *testing.T) {
	key := "dGhlIHNhbXBsZSBub25jZQ=="
	if _, err := ServerHandshake(bufio.NewReader(strings.NewReader(validRequest(key))), io.Discard); err != nil {
		t.Fatalf("handshake: %v", err)
	}
	buf, err := scratchPool.Take(MaxRequestSize)
	if err != nil {
		t.Fatal(err)
	}
	defer buf.Release()
	for i, b := range buf.Array() {
		if b != 0 {
			t.Fatalf("residual byte %q at %d", b, i)
		}
	}
}
