package socks5

import "io"

// WriteReply writes a complete SOCKS5 reply carrying the given reply code.
// The bound address is always the IPv4 wildcard 0.0.0.0:0; the gateway
// relays on the client's connection rather than binding anywhere on its
// behalf.
func WriteReply(w io.Writer, rep byte) error {
	_, err := w.Write([]byte{Version, rep, 0x00, AddrIPv4, 0, 0, 0, 0, 0, 0})
	return err
}
