// Package dialer provides the outbound transports the shroud gateway relays
// through.
//
// Every transport implements the small Dialer interface (DialContext) and is
// selected by upstream URL scheme: direct TCP, SOCKS5, HTTP/HTTPS CONNECT,
// SSH direct-tcpip channels, or a multiplexed WebSocket tunnel.
//
// Proxied transports never resolve destination hostnames locally; the name
// travels to the upstream as-is so the gateway does not leak lookups for
// destinations it is supposed to keep private. Only the direct dialer
// resolves, optionally against a configured DNS server.
package dialer
