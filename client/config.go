// File: client/config.go
// Package client
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package client

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/momentics/simpleweb-ws/api"
	"github.com/momentics/simpleweb-ws/internal/transport"
)

// Config holds all client-side configuration parameters.
type Config struct {
	NoDelay             bool          `yaml:"noDelay"`
	DialTimeout         time.Duration `yaml:"dialTimeout"`
	SendTimeout         time.Duration `yaml:"sendTimeout"`
	ReceiveTimeout      time.Duration `yaml:"receiveTimeout"`
	MaxMessageSize      int           `yaml:"maxMessageSize"`
	MaxMessagesPerDrain int           `yaml:"maxMessagesPerDrain"`
	BufferBuckets       int           `yaml:"bufferBuckets"`
	SmallestBuffer      int           `yaml:"smallestBuffer"`
	EventQueueSize      int           `yaml:"eventQueueSize"`
	TLS                 TLSConfig     `yaml:"tls"`
}

// TLSConfig tunes wss connections.
type TLSConfig struct {
	ServerName         string `yaml:"serverName"` // defaults to the URL host
	CAFile             string `yaml:"caFile"`     // PEM roots, system roots if empty
	InsecureSkipVerify bool   `yaml:"insecureSkipVerify"`
	MinVersion         string `yaml:"minVersion"`
	MaxVersion         string `yaml:"maxVersion"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		NoDelay:             true,
		DialTimeout:         5 * time.Second,
		SendTimeout:         5 * time.Second,
		ReceiveTimeout:      20 * time.Second,
		MaxMessageSize:      16 * 1024,
		MaxMessagesPerDrain: 10000,
		BufferBuckets:       5,
		SmallestBuffer:      20,
		EventQueueSize:      1 << 12,
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
	return api.NewError(api.ErrCodeInvalidArgument, "invalid client config: "+msg).
		WithContext("field", field).
		WithContext("value", value)
}

// Validate checks ranges and cross-field constraints.
func (c Config) Validate() error {
	switch {
	case c.MaxMessageSize < 1:
		return invalid("maxMessageSize", c.MaxMessageSize, "must be positive")
	case c.DialTimeout < 0 || c.SendTimeout < 0 || c.ReceiveTimeout < 0:
		return invalid("timeouts", c.ReceiveTimeout, "must not be negative")
	case c.MaxMessagesPerDrain < 1:
		return invalid("maxMessagesPerDrain", c.MaxMessagesPerDrain, "must be positive")
	case c.BufferBuckets < 2:
		return invalid("bufferBuckets", c.BufferBuckets, "need at least two buckets")
	case c.SmallestBuffer < 1 || c.SmallestBuffer > c.MaxMessageSize:
		return invalid("smallestBuffer", c.SmallestBuffer, "must be within [1, maxMessageSize]")
	case c.EventQueueSize < 2:
		return invalid("eventQueueSize", c.EventQueueSize, "must be at least 2")
	}
	if _, _, err := transport.VersionRange(c.TLS.MinVersion, c.TLS.MaxVersion); err != nil {
		return invalid("tls", c.TLS.MinVersion+"-"+c.TLS.MaxVersion, err.Error())
	}
	return nil
}

// BuildTLS produces the client TLS configuration for host.
func (t TLSConfig) BuildTLS(host string) (*tls.Config, error) {
	lo, hi, err := transport.VersionRange(t.MinVersion, t.MaxVersion)
	if err != nil {
		return nil, err
	}
	if lo == 0 {
		lo = tls.VersionTLS12
	}
	cfg := &tls.Config{
		ServerName:         host,
		InsecureSkipVerify: t.InsecureSkipVerify,
		MinVersion:         lo,
		MaxVersion:         hi,
	}
	if t.ServerName != "" {
		cfg.ServerName = t.ServerName
	}
	if t.CAFile != "" {
		pem, err := os.ReadFile(t.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}
		roots := x509.NewCertPool()
		if !roots.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates in %s", t.CAFile)
		}
		cfg.RootCAs = roots
	}
	return cfg, nil
}
