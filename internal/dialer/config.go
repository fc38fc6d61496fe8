package dialer

import (
	"net"
	"time"
)

// Config carries the settings shared by all dialer implementations. Zero
// values mean "no limit" or "disabled".
type Config struct {
	// DialTimeout bounds name resolution plus TCP connect for each outbound
	// dial.
	DialTimeout time.Duration

	// NegotiationTimeout bounds protocol setup layered on an established
	// connection: TLS, HTTP CONNECT exchange, SSH handshake, tunnel setup.
	NegotiationTimeout time.Duration

	// KeepAlive is applied to outbound TCP connections.
	KeepAlive net.KeepAliveConfig

	// DNSServer is a custom DNS server ("host" or "host:port") used by the
	// direct dialer. Empty uses the system resolver.
	DNSServer string

	// SSHKeyPath is "agent" for the SSH agent, a private key path, or empty
	// to disable key authentication.
	SSHKeyPath string

	// SSHKnownHostsPath is the known_hosts file used for SSH host key
	// verification. Empty disables verification.
	SSHKnownHostsPath string
}
