// Package proxy implements the listener side of the gateway: the SOCKS5
// server, keepalive listeners, and the bidirectional relay shared with the
// transparent proxy.
package proxy
