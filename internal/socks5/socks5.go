package socks5

import (
	"errors"
	"fmt"
	"strconv"
)

// Wire protocol constants (RFC 1928 subset).
const (
	Version = 0x05

	MethodNone         = 0x00
	MethodNoAcceptable = 0xFF

	CmdConnect = 0x01

	AddrIPv4   = 0x01
	AddrDomain = 0x03
	AddrIPv6   = 0x04

	RepSuccess           = 0x00
	RepGeneralFailure    = 0x01
	RepConnectionRefused = 0x05
)

var (
	// ErrVersion reports a version byte other than 0x05 in the greeting or
	// request header. No reply is sent for it: the peer is not known to be
	// speaking SOCKS5, so any response could be garbage to it.
	ErrVersion = errors.New("socks5: unsupported protocol version")

	// ErrNoAcceptableAuth reports a greeting that does not offer the
	// no-authentication method.
	ErrNoAcceptableAuth = errors.New("socks5: no acceptable authentication method")
)

// UnsupportedCommandError reports a request command other than CONNECT.
type UnsupportedCommandError byte

func (e UnsupportedCommandError) Error() string {
	return fmt.Sprintf("socks5: unsupported command 0x%02x", byte(e))
}

// UnsupportedAddrTypeError reports an unknown ATYP byte in a request.
type UnsupportedAddrTypeError byte

func (e UnsupportedAddrTypeError) Error() string {
	return fmt.Sprintf("socks5: unsupported address type 0x%02x", byte(e))
}

// Dest is a CONNECT destination parsed from a client request.
//
// Host is dotted-decimal for IPv4, the label as sent for domains, and the
// bracket-wrapped full hex form for IPv6.
type Dest struct {
	Host string
	Port uint16
}

// Addr returns the destination in host:port form suitable for a dialer.
//
// This is plain concatenation, not net.JoinHostPort: IPv6 hosts already
// carry their brackets from parsing.
func (d Dest) Addr() string {
	return d.Host + ":" + strconv.Itoa(int(d.Port))
}

func (d Dest) String() string {
	return d.Addr()
}
