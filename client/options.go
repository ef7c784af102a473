// File: client/options.go
// Package client defines functional options for the Client.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package client

import (
	"crypto/tls"

	"go.uber.org/zap"

	"github.com/momentics/simpleweb-ws/api"
)

// Option customizes client initialization.
type Option func(*Client)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithObserver attaches measurement hooks.
func WithObserver(o api.Observer) Option {
	return func(c *Client) {
		if o != nil {
			c.observer = o
		}
	}
}

// WithTLSConfig uses a ready TLS configuration for wss URLs.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(c *Client) {
		c.tlsCfg = cfg
	}
}
