// File: server/server.go
// Package server
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/momentics/simpleweb-ws/api"
	"github.com/momentics/simpleweb-ws/internal/concurrency"
	"github.com/momentics/simpleweb-ws/internal/session"
	"github.com/momentics/simpleweb-ws/internal/transport"
	"github.com/momentics/simpleweb-ws/pool"
	"github.com/momentics/simpleweb-ws/protocol"
)

// ErrAlreadyRunning is returned by Start on an active server.
var ErrAlreadyRunning = errors.New("server already running")

const (
	readBufferSize   = 4096
	maxAcceptBackoff = time.Second
)

// Server accepts WebSocket clients and relays their events to the host.
type Server struct {
	cfg      Config
	log      *zap.Logger
	observer api.Observer
	tlsCfg   *tls.Config

	pool   *pool.BufferPool
	events *concurrency.EventQueue
	conns  *session.Registry[*protocol.Connection]
	nextID atomic.Int64

	mu       sync.Mutex // serializes Start and Stop
	active   atomic.Bool
	listener net.Listener
	stopping chan struct{}
	wg       sync.WaitGroup

	pendingMu sync.Mutex
	pending   map[net.Conn]struct{}
}

// New validates cfg and builds the buffer pool and event queue. Nothing is
// bound until Start.
func New(cfg Config, opts ...Option) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	bp, err := pool.NewBufferPool(cfg.BufferBuckets, cfg.SmallestBuffer, cfg.MaxMessageSize)
	if err != nil {
		return nil, fmt.Errorf("buffer pool: %w", err)
	}

	s := &Server{
		cfg:      cfg,
		log:      zap.NewNop(),
		observer: api.NopObserver{},
		pool:     bp,
		events:   concurrency.NewEventQueue(cfg.EventQueueSize),
		conns:    session.NewRegistry[*protocol.Connection](0),
		pending:  make(map[net.Conn]struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if s.tlsCfg == nil {
		if s.tlsCfg, err = cfg.TLS.BuildTLS(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Start binds the configured port and begins accepting clients. A stopped
// server may be started again.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active.Load() {
		return ErrAlreadyRunning
	}

	ln, err := transport.Listen(context.Background(), s.cfg.Port, s.tlsCfg)
	if err != nil {
		return err
	}
	s.listener = ln
	s.stopping = make(chan struct{})
	s.events.Reopen()
	s.active.Store(true)

	s.wg.Add(1)
	go s.acceptLoop(ln, s.stopping)

	s.log.Info("server listening",
		zap.String("addr", ln.Addr().String()),
		zap.Bool("tls", s.tlsCfg != nil),
		zap.Int("maxMessageSize", s.cfg.MaxMessageSize))
	return nil
}

// Stop closes the listener, every handshaking socket and every connection,
// and waits until all of them have emitted their terminal events. It is
// idempotent.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active.Swap(false) {
		return nil
	}

	close(s.stopping)
	// The host usually calls Stop from the goroutine that drains events, so
	// producers must not wait on a full queue from here on.
	s.events.Close()

	var errs error
	if err := s.listener.Close(); err != nil && !transport.IsClosed(err) {
		errs = multierr.Append(errs, fmt.Errorf("close listener: %w", err))
	}
	errs = multierr.Append(errs, s.closePending())
	s.wg.Wait()

	conns := s.conns.Snapshot()
	for _, c := range conns {
		c.Abort()
	}
	for _, c := range conns {
		<-c.Done()
	}
	s.events.Reopen()

	s.log.Info("server stopped", zap.Int("connections", len(conns)))
	return errs
}

// Active reports whether the server is accepting clients.
func (s *Server) Active() bool { return s.active.Load() }

// Addr returns the bound address, or nil while stopped.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active.Load() {
		return nil
	}
	return s.listener.Addr()
}

// Pool exposes the buffer pool shared by all connections.
func (s *Server) Pool() *pool.BufferPool { return s.pool }

// ConnectionCount returns the number of registered connections.
func (s *Server) ConnectionCount() int { return s.conns.Len() }

func (s *Server) acceptLoop(ln net.Listener, stopping <-chan struct{}) {
	defer s.wg.Done()

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-stopping:
				return
			default:
			}
			if transport.IsClosed(err) {
				return
			}
			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else {
				backoff *= 2
			}
			if backoff > maxAcceptBackoff {
				backoff = maxAcceptBackoff
			}
			s.log.Warn("accept failed", zap.Error(err), zap.Duration("retry", backoff))
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		s.wg.Add(1)
		go s.serveConn(conn, stopping)
	}
}

// serveConn runs the opening handshake and, on success, registers and
// starts the connection. Identifiers are only consumed by upgraded sockets.
func (s *Server) serveConn(conn net.Conn, stopping <-chan struct{}) {
	defer s.wg.Done()
	remote := conn.RemoteAddr().String()

	if !s.trackPending(conn, stopping) {
		conn.Close()
		return
	}
	if err := transport.Tune(conn, s.cfg.NoDelay); err != nil {
		s.log.Debug("tune socket", zap.String("remote", remote), zap.Error(err))
	}
	if s.cfg.ReceiveTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(s.cfg.ReceiveTimeout))
	}

	br := bufio.NewReaderSize(conn, readBufferSize)
	req, err := protocol.ServerHandshake(br, conn)
	s.untrackPending(conn)
	if err != nil {
		s.observer.HandshakeFailed(err)
		s.log.Debug("handshake failed", zap.String("remote", remote), zap.Error(err))
		conn.Close()
		return
	}
	_ = conn.SetDeadline(time.Time{})

	id := int(s.nextID.Add(1))
	c := protocol.NewConnection(conn, br, protocol.ConnConfig{
		ID:             id,
		MaxMessageSize: s.cfg.MaxMessageSize,
		SendTimeout:    s.cfg.SendTimeout,
		ReceiveTimeout: s.cfg.ReceiveTimeout,
		Pool:           s.pool,
		Sink:           s.events,
		Observer:       s.observer,
		Logger:         s.log,
		OnClosed:       s.forget,
	})
	s.conns.Add(id, c)

	select {
	case <-stopping:
		// Stop has begun; drop the connection instead of starting it.
		s.conns.Remove(id)
		conn.Close()
		return
	default:
	}

	s.log.Debug("client connected",
		zap.Int("conn", id), zap.String("remote", remote), zap.String("path", req.Path))
	c.Start()
}

func (s *Server) forget(c *protocol.Connection) {
	s.conns.Remove(c.ID())
}

func (s *Server) trackPending(conn net.Conn, stopping <-chan struct{}) bool {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	select {
	case <-stopping:
		return false
	default:
	}
	s.pending[conn] = struct{}{}
	return true
}

func (s *Server) untrackPending(conn net.Conn) {
	s.pendingMu.Lock()
	delete(s.pending, conn)
	s.pendingMu.Unlock()
}

func (s *Server) closePending() error {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	var errs error
	for conn := range s.pending {
		if err := conn.Close(); err != nil && !transport.IsClosed(err) {
			errs = multierr.Append(errs, fmt.Errorf("close %s: %w", conn.RemoteAddr(), err))
		}
		delete(s.pending, conn)
	}
	return errs
}

// Send copies data into a pool buffer and queues it for connection id.
func (s *Server) Send(id int, data []byte) error {
	if !s.active.Load() {
		return api.ErrNotActive
	}
	if len(data) > s.cfg.MaxMessageSize {
		return fmt.Errorf("%w: %d bytes, limit %d", protocol.ErrMessageTooLarge, len(data), s.cfg.MaxMessageSize)
	}
	c, ok := s.conns.Get(id)
	if !ok {
		return fmt.Errorf("%w: connection %d", api.ErrNotFound, id)
	}
	buf, err := s.pool.Take(len(data))
	if err != nil {
		return err
	}
	if err := buf.CopyFrom(data); err != nil {
		buf.Release()
		return err
	}
	return c.Send(buf)
}

// SendAll copies data once and shares the buffer between every live
// recipient; it returns to the pool after the last of them wrote it.
// Unknown identifiers are reported together in the returned error.
func (s *Server) SendAll(ids []int, data []byte) error {
	if !s.active.Load() {
		return api.ErrNotActive
	}
	if len(data) > s.cfg.MaxMessageSize {
		return fmt.Errorf("%w: %d bytes, limit %d", protocol.ErrMessageTooLarge, len(data), s.cfg.MaxMessageSize)
	}

	var errs error
	targets := make([]*protocol.Connection, 0, len(ids))
	for _, id := range ids {
		c, ok := s.conns.Get(id)
		if !ok {
			errs = multierr.Append(errs, fmt.Errorf("%w: connection %d", api.ErrNotFound, id))
			continue
		}
		targets = append(targets, c)
	}
	if len(targets) == 0 {
		return errs
	}

	buf, err := s.pool.Take(len(data))
	if err != nil {
		return multierr.Append(errs, err)
	}
	if err := buf.CopyFrom(data); err != nil {
		buf.Release()
		return multierr.Append(errs, err)
	}
	buf.SetReleasesRequired(len(targets))
	for _, c := range targets {
		if err := c.Send(buf); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("connection %d: %w", c.ID(), err))
		}
	}
	return errs
}

// CloseConnection starts the closing handshake with connection id and
// reports whether id was known.
func (s *Server) CloseConnection(id int) bool {
	c, ok := s.conns.Get(id)
	if !ok {
		return false
	}
	c.Close()
	return true
}

// GetClientAddress returns the peer address of id, or "" if id is unknown.
func (s *Server) GetClientAddress(id int) string {
	c, ok := s.conns.Get(id)
	if !ok {
		return ""
	}
	return c.RemoteAddr()
}

// DrainEvents hands up to max pending events to visit without blocking.
// max <= 0 uses Config.MaxMessagesPerDrain. Data events must be released
// by the visitor.
func (s *Server) DrainEvents(max int, visit func(api.Event)) int {
	if max <= 0 {
		max = s.cfg.MaxMessagesPerDrain
	}
	return s.events.Drain(max, visit)
}
