// File: internal/transport/transport.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"
)

// ErrListenerClosed is returned by Accept when the listener has been closed.
var ErrListenerClosed = errors.New("listener closed")

// Listen binds a TCP listener on port across all interfaces. When tlsCfg is
// non-nil accepted streams are TLS server connections whose handshake runs
// on first read or write.
func Listen(ctx context.Context, port int, tlsCfg *tls.Config) (net.Listener, error) {
	lc := net.ListenConfig{Control: listenControl}
	addr := net.JoinHostPort("", strconv.Itoa(port))
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	if tlsCfg != nil {
		ln = tls.NewListener(ln, tlsCfg)
	}
	return ln, nil
}

// Dial opens a TCP stream to addr within timeout and, when tlsCfg is
// non-nil, completes a TLS client handshake on it.
func Dial(ctx context.Context, addr string, timeout time.Duration, tlsCfg *tls.Config) (net.Conn, error) {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	if tlsCfg == nil {
		return conn, nil
	}

	tc := tls.Client(conn, tlsCfg)
	hctx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := tc.HandshakeContext(hctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("tls handshake with %s: %w", addr, err)
	}
	return tc, nil
}

// Tune applies TCP options to the stream under conn, unwrapping TLS.
func Tune(conn net.Conn, noDelay bool) error {
	if tc, ok := conn.(*tls.Conn); ok {
		conn = tc.NetConn()
	}
	tcp, ok := conn.(*net.TCPConn)
	if !ok {
		return nil
	}
	if err := tcp.SetNoDelay(noDelay); err != nil {
		return fmt.Errorf("set nodelay: %w", err)
	}
	return nil
}

// IsClosed reports whether err is the result of using a closed stream or
// listener.
func IsClosed(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, ErrListenerClosed)
}

// IsTimeout reports whether err is a deadline expiry.
func IsTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
