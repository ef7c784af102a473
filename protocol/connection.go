// File: protocol/connection.go
// Package protocol implements the core WebSocket connection handling.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Connection encapsulates a full-duplex WebSocket session: one receive loop
// decoding frames into events, one send loop draining the outbound queue.

package protocol

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/simpleweb-ws/api"
	"github.com/momentics/simpleweb-ws/pool"
)

const defaultWriteBufferSize = 4096

// ConnConfig carries everything a Connection needs from its engine.
type ConnConfig struct {
	ID     int
	Client bool

	MaxMessageSize  int
	SendTimeout     time.Duration
	ReceiveTimeout  time.Duration
	WriteBufferSize int

	Pool     *pool.BufferPool
	Sink     api.EventSink
	Observer api.Observer
	Logger   *zap.Logger

	// OnClosed runs once after both loops have exited, before the terminal
	// event is emitted.
	OnClosed func(*Connection)
}

// Connection is one established WebSocket session.
type Connection struct {
	id     int
	conn   net.Conn
	remote string
	cfg    ConnConfig
	fr     *FrameReader
	fw     *FrameWriter
	log    *zap.Logger
	obs    api.Observer

	state atomic.Int32
	out   *outboundQueue

	ctrlMu         sync.Mutex
	pong           [MaxControlPayload]byte
	pongLen        int
	pongPending    bool
	closeRequested bool
	closePending   bool
	closeCode      uint16
	pongOut        [MaxControlPayload]byte // send loop only

	closeSent     chan struct{}
	closeDeadline atomic.Int64
	peerClosed    atomic.Bool

	done     chan struct{}
	doneOnce sync.Once
	reason   error
	loops    atomic.Int32
	finished chan struct{}

	lastActivity atomic.Int64
}

// NewConnection wraps an upgraded stream. br must be the reader the
// handshake consumed from so that pipelined bytes are not lost.
func NewConnection(conn net.Conn, br *bufio.Reader, cfg ConnConfig) *Connection {
	if cfg.Observer == nil {
		cfg.Observer = api.NopObserver{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.WriteBufferSize <= 0 {
		cfg.WriteBufferSize = defaultWriteBufferSize
	}
	if br == nil {
		br = bufio.NewReader(conn)
	}
	remote := ""
	if addr := conn.RemoteAddr(); addr != nil {
		remote = addr.String()
	}

	c := &Connection{
		id:        cfg.ID,
		conn:      conn,
		remote:    remote,
		cfg:       cfg,
		fr:        NewFrameReader(br, cfg.Pool, cfg.MaxMessageSize, !cfg.Client),
		fw:        NewFrameWriter(conn, cfg.WriteBufferSize, cfg.Client),
		log:       cfg.Logger.With(zap.Int("conn", cfg.ID), zap.String("remote", remote)),
		obs:       cfg.Observer,
		out:       newOutboundQueue(),
		closeSent: make(chan struct{}),
		done:      make(chan struct{}),
		finished:  make(chan struct{}),
	}
	c.state.Store(int32(api.StateConnecting))
	c.lastActivity.Store(time.Now().UnixNano())
	return c
}

// ID returns the connection identifier.
func (c *Connection) ID() int { return c.id }

// RemoteAddr returns the peer address as text.
func (c *Connection) RemoteAddr() string { return c.remote }

// State returns the current lifecycle state.
func (c *Connection) State() api.ConnState { return api.ConnState(c.state.Load()) }

// LastActivity returns when the last frame was received.
func (c *Connection) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

// Done is closed once the connection reached StateClosed and its terminal
// event was emitted.
func (c *Connection) Done() <-chan struct{} { return c.finished }

// Start emits the Connected event and launches both loops.
func (c *Connection) Start() {
	if !c.state.CompareAndSwap(int32(api.StateConnecting), int32(api.StateConnected)) {
		return
	}
	c.loops.Store(2)
	c.cfg.Sink.Emit(api.Event{Type: api.EventConnected, ConnID: c.id})
	c.obs.ConnectionOpened(c.id)
	c.log.Debug("connection established")

	go c.recvLoop()
	go c.sendLoop()
}

// Send queues buf for the send loop, taking over one release unit. It
// never blocks. On error buf has already been released.
func (c *Connection) Send(buf *pool.ArrayBuffer) error {
	if buf.Len() > c.cfg.MaxMessageSize {
		n := buf.Len()
		buf.Release()
		return fmt.Errorf("%w: %d bytes, limit %d", ErrMessageTooLarge, n, c.cfg.MaxMessageSize)
	}
	if c.State() != api.StateConnected || !c.out.push(buf) {
		buf.Release()
		return api.ErrTransportClosed
	}
	return nil
}

// Pending returns the number of queued outbound messages.
func (c *Connection) Pending() int { return c.out.len() }

// Close starts the closing handshake with status 1000. Queued messages are
// written before the close frame. It reports false if the connection was
// not open.
func (c *Connection) Close() bool {
	if c.State() != api.StateConnected {
		return false
	}
	return c.requestClose(CloseNormalClosure)
}

// Abort tears the stream down immediately, unblocking both loops.
func (c *Connection) Abort() {
	c.teardown(nil)
}

func (c *Connection) recvLoop() {
	err := c.receive()
	c.teardown(err)
	c.loopExited()
}

func (c *Connection) receive() error {
	for {
		c.armReadDeadline()
		f, err := c.fr.ReadFrame()
		if err != nil {
			return c.readFailure(err)
		}
		c.lastActivity.Store(time.Now().UnixNano())

		switch f.Opcode {
		case OpcodeText, OpcodeBinary:
			n := f.Data.Len()
			c.cfg.Sink.Emit(api.Event{Type: api.EventData, ConnID: c.id, Data: f.Data})
			c.obs.MessageReceived(c.id, n)
		case OpcodePing:
			c.queuePong(f.Control)
		case OpcodePong:
		case OpcodeClose:
			code, err := ReadCloseCode(f.Control)
			if err != nil {
				return c.readFailure(err)
			}
			c.log.Debug("close frame received", zap.Uint16("code", code))
			c.peerClosed.Store(true)
			c.requestClose(code)
			c.awaitCloseSent()
			return nil
		}
	}
}

func (c *Connection) readFailure(err error) error {
	var pe *ProtocolError
	switch {
	case errors.As(err, &pe):
		c.log.Warn("protocol violation", zap.Error(err))
		c.requestClose(pe.Code)
		c.awaitCloseSent()
		return err
	case c.isDone() || c.closeDeadline.Load() != 0:
		return nil
	case isTimeout(err):
		c.log.Debug("receive timeout", zap.Duration("timeout", c.cfg.ReceiveTimeout))
		return nil
	case errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed):
		return nil
	default:
		c.log.Warn("receive failed", zap.Error(err))
		return fmt.Errorf("receive: %w", err)
	}
}

// armReadDeadline applies the idle timeout, shortened to the close grace
// deadline once a close frame went out.
func (c *Connection) armReadDeadline() {
	for {
		cd := c.closeDeadline.Load()
		var d time.Time
		if c.cfg.ReceiveTimeout > 0 {
			d = time.Now().Add(c.cfg.ReceiveTimeout)
		}
		if cd != 0 {
			if t := time.Unix(0, cd); d.IsZero() || t.Before(d) {
				d = t
			}
		}
		_ = c.conn.SetReadDeadline(d)
		if c.closeDeadline.Load() == cd {
			return
		}
	}
}

func (c *Connection) queuePong(payload []byte) {
	c.ctrlMu.Lock()
	c.pongLen = copy(c.pong[:], payload)
	c.pongPending = true
	c.ctrlMu.Unlock()
	c.out.wake()
}

// requestClose asks the send loop to write a close frame with code. Only
// the first request wins.
func (c *Connection) requestClose(code uint16) bool {
	c.ctrlMu.Lock()
	if c.closeRequested {
		c.ctrlMu.Unlock()
		return false
	}
	c.closeRequested = true
	c.closePending = true
	c.closeCode = code
	c.ctrlMu.Unlock()

	c.state.CompareAndSwap(int32(api.StateConnected), int32(api.StateClosing))
	c.out.wake()
	return true
}

func (c *Connection) awaitCloseSent() {
	t := time.NewTimer(CloseGracePeriod)
	defer t.Stop()
	select {
	case <-c.closeSent:
	case <-c.done:
	case <-t.C:
	}
}

func (c *Connection) sendLoop() {
	if err := c.send(); err != nil {
		if c.peerClosed.Load() || c.isDone() {
			err = nil
		} else {
			c.log.Warn("send failed", zap.Error(err))
		}
		c.teardown(err)
	}
	c.loopExited()
}

func (c *Connection) send() error {
	for {
		select {
		case <-c.out.signal:
		case <-c.done:
			return nil
		}

		sentClose, err := c.writePending()
		if err != nil {
			return err
		}
		if sentClose {
			close(c.closeSent)
			if !c.peerClosed.Load() {
				cd := time.Now().Add(CloseGracePeriod)
				c.closeDeadline.Store(cd.UnixNano())
				_ = c.conn.SetReadDeadline(cd)
			}
			<-c.done
			return nil
		}
	}
}

// writePending writes queued pongs and messages, then the close frame if
// one was requested, and flushes.
func (c *Connection) writePending() (bool, error) {
	for {
		if pong, ok := c.takePong(); ok {
			c.armWriteDeadline()
			if err := c.fw.WriteFrame(OpcodePong, pong); err != nil {
				return false, fmt.Errorf("send pong: %w", err)
			}
		}

		buf, ok := c.out.pop()
		if ok {
			n := buf.Len()
			c.armWriteDeadline()
			err := c.fw.WriteFrame(OpcodeBinary, buf.Bytes())
			buf.Release()
			if err != nil {
				return false, fmt.Errorf("send: %w", err)
			}
			c.obs.MessageSent(c.id, n)
			continue
		}

		if code, ok := c.takeClose(); ok {
			c.armWriteDeadline()
			if err := c.fw.WriteClose(code); err != nil {
				return false, fmt.Errorf("send close: %w", err)
			}
			if err := c.fw.Flush(); err != nil {
				return false, fmt.Errorf("flush close: %w", err)
			}
			return true, nil
		}
		break
	}

	if c.fw.Buffered() > 0 {
		c.armWriteDeadline()
		if err := c.fw.Flush(); err != nil {
			return false, fmt.Errorf("flush: %w", err)
		}
	}
	return false, nil
}

func (c *Connection) takePong() ([]byte, bool) {
	c.ctrlMu.Lock()
	defer c.ctrlMu.Unlock()
	if !c.pongPending {
		return nil, false
	}
	c.pongPending = false
	n := copy(c.pongOut[:], c.pong[:c.pongLen])
	return c.pongOut[:n], true
}

func (c *Connection) takeClose() (uint16, bool) {
	c.ctrlMu.Lock()
	defer c.ctrlMu.Unlock()
	if !c.closePending {
		return 0, false
	}
	c.closePending = false
	return c.closeCode, true
}

func (c *Connection) armWriteDeadline() {
	if c.cfg.SendTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.SendTimeout))
	}
}

// teardown records the first reason, moves to Closing and closes the
// stream so blocked reads and writes return.
func (c *Connection) teardown(reason error) {
	c.doneOnce.Do(func() {
		c.reason = reason
		c.state.CompareAndSwap(int32(api.StateConnected), int32(api.StateClosing))
		close(c.done)
		if err := c.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			c.log.Debug("close stream", zap.Error(err))
		}
	})
}

func (c *Connection) isDone() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Connection) loopExited() {
	if c.loops.Add(-1) == 0 {
		c.finalize()
	}
}

// finalize runs exactly once, after both loops exited.
func (c *Connection) finalize() {
	if n := c.out.close(); n > 0 {
		c.log.Debug("dropped queued messages", zap.Int("count", n))
	}
	c.state.Store(int32(api.StateClosed))

	if c.cfg.OnClosed != nil {
		c.cfg.OnClosed(c)
	}

	ev := api.Event{Type: api.EventDisconnected, ConnID: c.id}
	if c.reason != nil {
		ev.Type = api.EventError
		ev.Err = c.reason
	}
	c.cfg.Sink.Emit(ev)
	c.obs.ConnectionClosed(c.id, c.reason)
	c.log.Debug("connection closed", zap.Error(c.reason))
	close(c.finished)
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
