package client_test

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap/zaptest"

	"github.com/momentics/simpleweb-ws/api"
	"github.com/momentics/simpleweb-ws/client"
	"github.com/momentics/simpleweb-ws/protocol"
	"github.com/momentics/simpleweb-ws/server"
)

func newClient(t *testing.T, opts ...client.Option) *client.Client {
	t.Helper()
	cfg := client.DefaultConfig()
	cfg.ReceiveTimeout = 5 * time.Second
	opts = append([]client.Option{client.WithLogger(zaptest.NewLogger(t))}, opts...)
	c, err := client.New(cfg, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

// nextEvent polls the client until an event arrives.
func nextEvent(t *testing.T, c *client.Client) api.Event {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		var ev api.Event
		if c.DrainEvents(1, func(e api.Event) { ev = e }) == 1 {
			return ev
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("timed out waiting for client event")
	return api.Event{}
}

func expectType(t *testing.T, ev api.Event, want api.EventType) {
	t.Helper()
	if ev.Type != want {
		t.Fatalf("event = %v (err %v), want %v", ev.Type, ev.Err, want)
	}
	if ev.ConnID != client.ConnID {
		t.Fatalf("event conn = %d, want %d", ev.ConnID, client.ConnID)
	}
}

func echoHandler(t *testing.T) http.HandlerFunc {
	up := websocket.Upgrader{}
	return func(w http.ResponseWriter, r *http.Request) {
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade: %v", err)
			return
		}
		defer ws.Close()
		for {
			mt, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			if err := ws.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func TestClientEchoAgainstGorilla(t *testing.T) {
	hs := httptest.NewServer(echoHandler(t))
	defer hs.Close()

	c := newClient(t)
	if err := c.Connect(context.Background(), wsURL(hs.URL)+"/echo?x=1"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	expectType(t, nextEvent(t, c), api.EventConnected)
	if c.State() != api.StateConnected {
		t.Fatalf("state = %v", c.State())
	}
	if err := c.Connect(context.Background(), wsURL(hs.URL)); !errors.Is(err, client.ErrAlreadyConnected) {
		t.Fatalf("second Connect = %v", err)
	}

	big := make([]byte, 10000)
	for i := range big {
		big[i] = byte(i)
	}
	for _, msg := range [][]byte{[]byte("hello"), big} {
		if err := c.Send(msg); err != nil {
			t.Fatalf("Send: %v", err)
		}
		ev := nextEvent(t, c)
		expectType(t, ev, api.EventData)
		if string(ev.Data.Bytes()) != string(msg) {
			t.Fatalf("echo of %d bytes mismatched", len(msg))
		}
		ev.Data.Release()
	}

	if !c.Disconnect() {
		t.Fatal("Disconnect reported nothing to close")
	}
	expectType(t, nextEvent(t, c), api.EventDisconnected)
	if err := c.Send([]byte("late")); !errors.Is(err, api.ErrNotActive) {
		t.Fatalf("Send after close = %v", err)
	}
}

func TestClientWSS(t *testing.T) {
	hs := httptest.NewTLSServer(echoHandler(t))
	defer hs.Close()

	tlsCfg := hs.Client().Transport.(*http.Transport).TLSClientConfig.Clone()
	c := newClient(t, client.WithTLSConfig(tlsCfg))
	if err := c.Connect(context.Background(), "wss"+strings.TrimPrefix(hs.URL, "https")); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	expectType(t, nextEvent(t, c), api.EventConnected)
	if err := c.Send([]byte("secure")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	ev := nextEvent(t, c)
	expectType(t, ev, api.EventData)
	if string(ev.Data.Bytes()) != "secure" {
		t.Fatalf("echo = %q", ev.Data.Bytes())
	}
	ev.Data.Release()
}

func TestClientAgainstServer(t *testing.T) {
	scfg := server.DefaultConfig()
	scfg.Port = 0
	srv, err := server.New(scfg, server.WithLogger(zaptest.NewLogger(t)))
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer srv.Stop()
	port := srv.Addr().(*net.TCPAddr).Port

	serverEvent := func() api.Event {
		t.Helper()
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			var ev api.Event
			if srv.DrainEvents(1, func(e api.Event) { ev = e }) == 1 {
				return ev
			}
			time.Sleep(2 * time.Millisecond)
		}
		t.Fatal("timed out waiting for server event")
		return api.Event{}
	}

	c := newClient(t)
	if err := c.Connect(context.Background(), "ws://"+net.JoinHostPort("127.0.0.1", strconv.Itoa(port))+"/"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	expectType(t, nextEvent(t, c), api.EventConnected)
	sev := serverEvent()
	if sev.Type != api.EventConnected || sev.ConnID != 1 {
		t.Fatalf("server event = %+v", sev)
	}

	if err := c.Send([]byte("up")); err != nil {
		t.Fatalf("client Send: %v", err)
	}
	sev = serverEvent()
	if sev.Type != api.EventData || string(sev.Data.Bytes()) != "up" {
		t.Fatalf("server got %+v", sev)
	}
	sev.Data.Release()

	if err := srv.Send(1, []byte("down")); err != nil {
		t.Fatalf("server Send: %v", err)
	}
	ev := nextEvent(t, c)
	expectType(t, ev, api.EventData)
	if string(ev.Data.Bytes()) != "down" {
		t.Fatalf("client got %q", ev.Data.Bytes())
	}
	ev.Data.Release()

	srv.CloseConnection(1)
	expectType(t, nextEvent(t, c), api.EventDisconnected)
	if sev = serverEvent(); sev.Type != api.EventDisconnected {
		t.Fatalf("server terminal = %v (%v)", sev.Type, sev.Err)
	}
}

func TestClientConnectRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	c := newClient(t)
	if err := c.Connect(context.Background(), "ws://"+addr); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	ev := nextEvent(t, c)
	expectType(t, ev, api.EventError)
	if ev.Err == nil {
		t.Fatal("error event without cause")
	}
	if n := c.DrainEvents(0, func(api.Event) {}); n != 0 {
		t.Fatalf("%d extra events after failure", n)
	}
	if c.State() != api.StateClosed {
		t.Fatalf("state = %v", c.State())
	}
}

// rawServer answers the first request on a fresh listener with reply.
func rawServer(t *testing.T, reply func(key string) string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		br := bufio.NewReader(conn)
		key := ""
		for {
			line, err := br.ReadString('\n')
			if err != nil {
				return
			}
			if line == "\r\n" {
				break
			}
			if name, value, ok := strings.Cut(line, ":"); ok && strings.EqualFold(name, "Sec-WebSocket-Key") {
				key = strings.TrimSpace(value)
			}
		}
		conn.Write([]byte(reply(key)))
		time.Sleep(100 * time.Millisecond)
	}()
	return "ws://" + ln.Addr().String() + "/"
}

func TestClientHandshakeFailures(t *testing.T) {
	tests := []struct {
		name  string
		reply func(key string) string
		want  error
	}{
		{"bad status", func(string) string {
			return "HTTP/1.1 400 Bad Request\r\nContent-Length: 0\r\n\r\n"
		}, protocol.ErrBadStatus},
		{"wrong accept", func(string) string {
			return "HTTP/1.1 101 Switching Protocols\r\nUpgrade: websocket\r\nConnection: Upgrade\r\n" +
				"Sec-WebSocket-Accept: " + protocol.ComputeAcceptKey("dGhlIHNhbXBsZSBub25jZQ==") + "\r\n\r\n"
		}, protocol.ErrAcceptMismatch},
		{"no accept", func(string) string {
			return "HTTP/1.1 101 Switching Protocols\r\nUpgrade: websocket\r\nConnection: Upgrade\r\n\r\n"
		}, protocol.ErrMissingAccept},
		{"no upgrade", func(key string) string {
			return "HTTP/1.1 101 Switching Protocols\r\nConnection: keep-alive\r\n" +
				"Sec-WebSocket-Accept: " + protocol.ComputeAcceptKey(key) + "\r\n\r\n"
		}, protocol.ErrInvalidUpgradeHeaders},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newClient(t)
			if err := c.Connect(context.Background(), rawServer(t, tt.reply)); err != nil {
				t.Fatalf("Connect: %v", err)
			}
			ev := nextEvent(t, c)
			expectType(t, ev, api.EventError)
			if !errors.Is(ev.Err, tt.want) {
				t.Fatalf("err = %v, want %v", ev.Err, tt.want)
			}
		})
	}
}

func TestClientDisconnectWhileConnecting(t *testing.T) {
	// Accepts but never answers the upgrade request.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	c := newClient(t)
	if err := c.Connect(context.Background(), "ws://"+ln.Addr().String()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	select {
	case conn := <-accepted:
		defer conn.Close()
	case <-time.After(5 * time.Second):
		t.Fatal("server never saw the connection")
	}
	if c.State() != api.StateConnecting {
		t.Fatalf("state = %v", c.State())
	}
	if !c.Disconnect() {
		t.Fatal("Disconnect ignored a pending attempt")
	}
	expectType(t, nextEvent(t, c), api.EventDisconnected)
}

func TestClientConnectValidation(t *testing.T) {
	c := newClient(t)
	for _, u := range []string{"http://example.com/", "ws:///nohost", "::bad"} {
		if err := c.Connect(context.Background(), u); !errors.Is(err, api.ErrInvalidArgument) {
			t.Errorf("Connect(%q) = %v", u, err)
		}
	}
	if err := c.Send([]byte("x")); !errors.Is(err, api.ErrNotActive) {
		t.Fatalf("Send before connect = %v", err)
	}
	if err := c.Send(make([]byte, client.DefaultConfig().MaxMessageSize+1)); !errors.Is(err, protocol.ErrMessageTooLarge) {
		t.Fatalf("oversize Send = %v", err)
	}
	if c.Disconnect() {
		t.Fatal("Disconnect on idle client reported work")
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := client.DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	cfg.SmallestBuffer = cfg.MaxMessageSize + 1
	if err := cfg.Validate(); !errors.Is(err, api.ErrInvalidArgument) {
		t.Fatalf("Validate = %v", err)
	}
	cfg = client.DefaultConfig()
	cfg.TLS.MinVersion = "9.9"
	if err := cfg.Validate(); err == nil {
		t.Fatal("bad TLS version accepted")
	}
}
