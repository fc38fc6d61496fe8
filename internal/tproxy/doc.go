// Package tproxy implements a transparent TCP proxy for traffic redirected
// by the host firewall. Connections accepted here carry no proxy protocol;
// the original destination is recovered from the socket and the payload is
// relayed through the configured dialer.
//
// Support is platform specific. On Linux the listener sets IP_TRANSPARENT
// and reads the pre-NAT destination with SO_ORIGINAL_DST. On FreeBSD and
// OpenBSD the listener binds with IP_BINDANY / SO_BINDANY and the kernel
// delivers the connection with the original destination as its local
// address. On other platforms ListenTransparentTCP returns an error and
// IsSupported is false.
package tproxy
