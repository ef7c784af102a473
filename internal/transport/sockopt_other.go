// File: internal/transport/sockopt_other.go
//go:build !unix

// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transport

import "syscall"

func listenControl(network, address string, rc syscall.RawConn) error {
	return nil
}
