// Package socks5 implements the server side of the SOCKS5 wire protocol
// (RFC 1928) as used by the shroud gateway: method negotiation, CONNECT
// request parsing for all three address types, and reply encoding.
//
// Only the CONNECT command and the no-authentication method are supported;
// BIND and UDP ASSOCIATE are rejected on the wire. Replies always report the
// wildcard bound address 0.0.0.0:0 because the gateway is a stateless relay,
// not a true bind.
//
// The package depends only on the standard library and operates on an
// io.ReadWriter, so the same handshake drives TCP connections, in-memory
// pipes in tests, and multiplexed tunnel streams alike. Outbound transport
// selection lives in internal/dialer; this package never dials.
package socks5
