// Package ssh provides the SSH plumbing used by the shroud gateway to tunnel
// TCP connections through an SSH server: client handshake helpers, key and
// agent loading, and known_hosts verification with trust-on-first-use.
//
// The dialer package owns connection lifecycle (lazy connect, reconnect,
// channel multiplexing); this package only turns an established net.Conn into
// an authenticated *ssh.Client and loads the credentials that requires.
//
// The package also contains a minimal SSH server supporting "direct-tcpip"
// channels, which the dialer tests use as a tunnel endpoint.
package ssh
