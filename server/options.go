// File: server/options.go
// Package server defines functional options for the Server.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"crypto/tls"

	"go.uber.org/zap"

	"github.com/momentics/simpleweb-ws/api"
)

// Option customizes server initialization.
type Option func(*Server)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithObserver attaches measurement hooks, e.g. control.Metrics.
func WithObserver(o api.Observer) Option {
	return func(s *Server) {
		if o != nil {
			s.observer = o
		}
	}
}

// WithTLSConfig uses a ready TLS configuration instead of Config.TLS.
func WithTLSConfig(c *tls.Config) Option {
	return func(s *Server) {
		s.tlsCfg = c
	}
}
