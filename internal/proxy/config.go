package proxy

import (
	"log/slog"
	"net"
	"time"

	"github.com/shroud-net/shroud/internal/dialer"
)

// Config holds the settings shared by the proxy servers.
type Config struct {
	// NegotiationTimeout bounds the SOCKS5 handshake on each accepted
	// connection. Zero means no limit. Established relays are never subject
	// to it.
	NegotiationTimeout time.Duration

	// KeepAlive is applied to accepted TCP connections.
	KeepAlive net.KeepAliveConfig

	// Dialer establishes outbound connections for proxied sessions.
	Dialer dialer.Dialer

	// Logger receives per-session events. nil uses slog.Default.
	Logger *slog.Logger
}

func (c Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}
