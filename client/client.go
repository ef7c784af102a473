// File: client/client.go
// Package client
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package client

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/simpleweb-ws/api"
	"github.com/momentics/simpleweb-ws/internal/concurrency"
	"github.com/momentics/simpleweb-ws/internal/transport"
	"github.com/momentics/simpleweb-ws/pool"
	"github.com/momentics/simpleweb-ws/protocol"
)

// ConnID is the identifier carried by every client event.
const ConnID = 0

const readBufferSize = 4096

// ErrAlreadyConnected is returned by Connect while a session is connecting
// or open.
var ErrAlreadyConnected = errors.New("client already connected")

// Client owns at most one outgoing WebSocket session at a time.
type Client struct {
	cfg      Config
	log      *zap.Logger
	observer api.Observer
	tlsCfg   *tls.Config

	pool   *pool.BufferPool
	events *concurrency.EventQueue

	mu         sync.Mutex
	conn       *protocol.Connection
	connecting bool
	abandoned  bool
	cancel     context.CancelFunc
	dialing    net.Conn
}

// New validates cfg and prepares the buffer pool and event queue.
func New(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	bp, err := pool.NewBufferPool(cfg.BufferBuckets, cfg.SmallestBuffer, cfg.MaxMessageSize)
	if err != nil {
		return nil, fmt.Errorf("buffer pool: %w", err)
	}
	c := &Client{
		cfg:      cfg,
		log:      zap.NewNop(),
		observer: api.NopObserver{},
		pool:     bp,
		events:   concurrency.NewEventQueue(cfg.EventQueueSize),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

type target struct {
	addr   string // host:port to dial
	host   string // Host header value
	name   string // hostname for TLS verification
	path   string
	secure bool
}

func parseTarget(raw string) (target, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return target{}, fmt.Errorf("%w: %v", api.ErrInvalidArgument, err)
	}
	var port string
	t := target{host: u.Host, name: u.Hostname(), path: u.RequestURI()}
	switch u.Scheme {
	case "ws":
		port = "80"
	case "wss":
		port = "443"
		t.secure = true
	default:
		return target{}, fmt.Errorf("%w: unsupported scheme %q", api.ErrInvalidArgument, u.Scheme)
	}
	if t.name == "" {
		return target{}, fmt.Errorf("%w: missing host in %q", api.ErrInvalidArgument, raw)
	}
	if p := u.Port(); p != "" {
		port = p
	}
	t.addr = net.JoinHostPort(t.name, port)
	return t, nil
}

// Connect starts connecting to a ws:// or wss:// URL in the background.
// Only argument errors and an already open session are returned directly;
// dial and handshake failures arrive as one Error event.
func (c *Client) Connect(ctx context.Context, rawURL string) error {
	t, err := parseTarget(rawURL)
	if err != nil {
		return err
	}
	tlsCfg, err := c.tlsFor(t)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connecting || (c.conn != nil && c.conn.State() != api.StateClosed) {
		return ErrAlreadyConnected
	}
	ctx, cancel := context.WithCancel(ctx)
	c.conn = nil
	c.connecting = true
	c.abandoned = false
	c.cancel = cancel

	go c.dial(ctx, cancel, t, tlsCfg)
	return nil
}

func (c *Client) tlsFor(t target) (*tls.Config, error) {
	if !t.secure {
		return nil, nil
	}
	if c.tlsCfg != nil {
		cfg := c.tlsCfg.Clone()
		if cfg.ServerName == "" {
			cfg.ServerName = t.name
		}
		return cfg, nil
	}
	return c.cfg.TLS.BuildTLS(t.name)
}

func (c *Client) dial(ctx context.Context, cancel context.CancelFunc, t target, tlsCfg *tls.Config) {
	defer cancel()

	conn, err := transport.Dial(ctx, t.addr, c.cfg.DialTimeout, tlsCfg)
	if err != nil {
		c.fail(err)
		return
	}
	if !c.setDialing(conn) {
		conn.Close()
		c.fail(context.Canceled)
		return
	}
	if err := transport.Tune(conn, c.cfg.NoDelay); err != nil {
		c.log.Debug("tune socket", zap.String("addr", t.addr), zap.Error(err))
	}
	if c.cfg.ReceiveTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(c.cfg.ReceiveTimeout))
	}

	br := bufio.NewReaderSize(conn, readBufferSize)
	if err := protocol.ClientHandshake(br, conn, t.host, t.path); err != nil {
		conn.Close()
		c.fail(fmt.Errorf("handshake with %s: %w", t.addr, err))
		return
	}
	_ = conn.SetDeadline(time.Time{})

	pc := protocol.NewConnection(conn, br, protocol.ConnConfig{
		ID:             ConnID,
		Client:         true,
		MaxMessageSize: c.cfg.MaxMessageSize,
		SendTimeout:    c.cfg.SendTimeout,
		ReceiveTimeout: c.cfg.ReceiveTimeout,
		Pool:           c.pool,
		Sink:           c.events,
		Observer:       c.observer,
		Logger:         c.log,
	})

	c.mu.Lock()
	c.dialing = nil
	if c.abandoned {
		c.connecting = false
		c.mu.Unlock()
		conn.Close()
		c.events.Emit(api.Event{Type: api.EventDisconnected, ConnID: ConnID})
		return
	}
	c.conn = pc
	c.connecting = false
	c.cancel = nil
	c.mu.Unlock()

	c.log.Debug("connected", zap.String("addr", t.addr), zap.String("path", t.path))
	pc.Start()
}

func (c *Client) setDialing(conn net.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.abandoned {
		return false
	}
	c.dialing = conn
	return true
}

// fail ends a connect attempt that never reached Connected. An attempt
// abandoned by Disconnect ends as Disconnected rather than Error.
func (c *Client) fail(err error) {
	c.mu.Lock()
	abandoned := c.abandoned
	c.connecting = false
	c.dialing = nil
	c.cancel = nil
	c.mu.Unlock()

	if abandoned {
		c.events.Emit(api.Event{Type: api.EventDisconnected, ConnID: ConnID})
		return
	}
	c.observer.HandshakeFailed(err)
	c.log.Warn("connect failed", zap.Error(err))
	c.events.Emit(api.Event{Type: api.EventError, ConnID: ConnID, Err: err})
}

// Disconnect starts the closing handshake, or abandons a connect attempt
// still in progress. It reports whether there was anything to disconnect.
func (c *Client) Disconnect() bool {
	c.mu.Lock()
	if c.connecting {
		c.abandoned = true
		if c.cancel != nil {
			c.cancel()
		}
		if c.dialing != nil {
			c.dialing.Close()
		}
		c.mu.Unlock()
		return true
	}
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return false
	}
	return conn.Close()
}

// Close tears the session down without a closing handshake and waits for
// its terminal event to be queued.
func (c *Client) Close() {
	c.Disconnect()
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		conn.Abort()
		<-conn.Done()
	}
}

// State reports the lifecycle state of the current session.
func (c *Client) State() api.ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connecting {
		return api.StateConnecting
	}
	if c.conn == nil {
		return api.StateClosed
	}
	return c.conn.State()
}

// Send copies data into a pool buffer and queues it for the server.
func (c *Client) Send(data []byte) error {
	if len(data) > c.cfg.MaxMessageSize {
		return fmt.Errorf("%w: %d bytes, limit %d", protocol.ErrMessageTooLarge, len(data), c.cfg.MaxMessageSize)
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil || conn.State() != api.StateConnected {
		return api.ErrNotActive
	}
	buf, err := c.pool.Take(len(data))
	if err != nil {
		return err
	}
	if err := buf.CopyFrom(data); err != nil {
		buf.Release()
		return err
	}
	return conn.Send(buf)
}

// DrainEvents hands up to max pending events to visit without blocking.
// max <= 0 uses Config.MaxMessagesPerDrain.
func (c *Client) DrainEvents(max int, visit func(api.Event)) int {
	if max <= 0 {
		max = c.cfg.MaxMessagesPerDrain
	}
	return c.events.Drain(max, visit)
}

// Pool exposes the buffer pool backing received messages.
func (c *Client) Pool() *pool.BufferPool { return c.pool }
