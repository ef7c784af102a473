// File: server/config.go
// Package server
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"crypto/tls"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/momentics/simpleweb-ws/api"
	"github.com/momentics/simpleweb-ws/internal/transport"
)

// Config holds all server-side configuration parameters.
type Config struct {
	Port                int           `yaml:"port"`                // TCP port, 0 picks a free one
	NoDelay             bool          `yaml:"noDelay"`             // disable Nagle coalescing
	SendTimeout         time.Duration `yaml:"sendTimeout"`         // per-write deadline
	ReceiveTimeout      time.Duration `yaml:"receiveTimeout"`      // idle limit, also bounds the handshake
	MaxMessageSize      int           `yaml:"maxMessageSize"`      // largest message in either direction
	MaxMessagesPerDrain int           `yaml:"maxMessagesPerDrain"` // default DrainEvents budget
	BufferBuckets       int           `yaml:"bufferBuckets"`       // pool size classes
	SmallestBuffer      int           `yaml:"smallestBuffer"`      // smallest pool buffer
	EventQueueSize      int           `yaml:"eventQueueSize"`      // shared event queue capacity
	TLS                 TLSConfig     `yaml:"tls"`
}

// TLSConfig selects certificate and protocol versions for wss.
type TLSConfig struct {
	Enabled    bool   `yaml:"enabled"`
	CertFile   string `yaml:"certFile"`
	KeyFile    string `yaml:"keyFile"`
	MinVersion string `yaml:"minVersion"` // "1.2", "1.3", ...
	MaxVersion string `yaml:"maxVersion"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Port:                7778,
		NoDelay:             true,
		SendTimeout:         5 * time.Second,
		ReceiveTimeout:      20 * time.Second,
		MaxMessageSize:      16 * 1024,
		MaxMessagesPerDrain: 10000,
		BufferBuckets:       5,
		SmallestBuffer:      20,
		EventQueueSize:      1 << 16,
	}
}

// LoadConfig reads a YAML file over DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

func invalid(field string, value any, msg string) error {
	return api.NewError(api.ErrCodeInvalidArgument, "invalid server config: "+msg).
		WithContext("field", field).
		WithContext("value", value)
}

// Validate checks ranges and cross-field constraints.
func (c Config) Validate() error {
	switch {
	case c.Port < 0 || c.Port > 65535:
		return invalid("port", c.Port, "port out of range")
	case c.MaxMessageSize < 1:
		return invalid("maxMessageSize", c.MaxMessageSize, "must be positive")
	case c.SendTimeout < 0:
		return invalid("sendTimeout", c.SendTimeout, "must not be negative")
	case c.ReceiveTimeout < 0:
		return invalid("receiveTimeout", c.ReceiveTimeout, "must not be negative")
	case c.MaxMessagesPerDrain < 1:
		return invalid("maxMessagesPerDrain", c.MaxMessagesPerDrain, "must be positive")
	case c.BufferBuckets < 2:
		return invalid("bufferBuckets", c.BufferBuckets, "need at least two buckets")
	case c.SmallestBuffer < 1 || c.SmallestBuffer > c.MaxMessageSize:
		return invalid("smallestBuffer", c.SmallestBuffer, "must be within [1, maxMessageSize]")
	case c.EventQueueSize < 2:
		return invalid("eventQueueSize", c.EventQueueSize, "must be at least 2")
	}
	if c.TLS.Enabled && (c.TLS.CertFile == "" || c.TLS.KeyFile == "") {
		return invalid("tls", c.TLS.CertFile, "certFile and keyFile are required")
	}
	if _, _, err := transport.VersionRange(c.TLS.MinVersion, c.TLS.MaxVersion); err != nil {
		return invalid("tls", c.TLS.MinVersion+"-"+c.TLS.MaxVersion, err.Error())
	}
	return nil
}

// BuildTLS loads the certificate pair. It returns nil when TLS is disabled.
func (t TLSConfig) BuildTLS() (*tls.Config, error) {
	if !t.Enabled {
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(t.CertFile, t.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load TLS key pair: %w", err)
	}
	lo, hi, err := transport.VersionRange(t.MinVersion, t.MaxVersion)
	if err != nil {
		return nil, err
	}
	if lo == 0 {
		lo = tls.VersionTLS12
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   lo,
		MaxVersion:   hi,
	}, nil
}
