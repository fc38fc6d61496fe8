//go:build !linux && !freebsd && !openbsd

package tproxy

import (
	"errors"
	"net"
)

// IsSupported reports whether this platform can run the transparent proxy.
const IsSupported = false

var errUnsupported = errors.New("transparent proxy requires linux, freebsd, or openbsd")

// ListenTransparentTCP is unavailable on this platform.
func ListenTransparentTCP(network, addr string, keepAliveConfig net.KeepAliveConfig) (net.Listener, error) {
	return nil, errUnsupported
}

// OriginalDst is unavailable on this platform.
func OriginalDst(conn net.Conn) (*net.TCPAddr, bool) {
	return nil, false
}
