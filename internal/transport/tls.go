// File: internal/transport/tls.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transport

import (
	"crypto/tls"
	"fmt"
)

var tlsVersions = map[string]uint16{
	"1.0": tls.VersionTLS10,
	"1.1": tls.VersionTLS11,
	"1.2": tls.VersionTLS12,
	"1.3": tls.VersionTLS13,
}

// ParseTLSVersion maps "1.0".."1.3" to the crypto/tls constant. The empty
// string yields zero, leaving the crypto/tls default in place.
func ParseTLSVersion(v string) (uint16, error) {
	if v == "" {
		return 0, nil
	}
	n, ok := tlsVersions[v]
	if !ok {
		return 0, fmt.Errorf("unknown TLS version %q", v)
	}
	return n, nil
}

// VersionRange parses a min/max pair and checks min <= max.
func VersionRange(minV, maxV string) (uint16, uint16, error) {
	lo, err := ParseTLSVersion(minV)
	if err != nil {
		return 0, 0, err
	}
	hi, err := ParseTLSVersion(maxV)
	if err != nil {
		return 0, 0, err
	}
	if lo != 0 && hi != 0 && lo > hi {
		return 0, 0, fmt.Errorf("TLS min version %s above max version %s", minV, maxV)
	}
	return lo, hi, nil
}
