//go:build linux

package tproxy

import (
	"context"
	"fmt"
	"net"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/shroud-net/shroud/internal/proxy"
)

// IsSupported reports whether this platform can run the transparent proxy.
const IsSupported = true

// ip6tSoOriginalDst is IP6T_SO_ORIGINAL_DST from
// linux/netfilter_ipv6/ip6_tables.h, which x/sys/unix does not export.
const ip6tSoOriginalDst = 80

// ListenTransparentTCP listens with IP_TRANSPARENT set so the socket accepts
// connections redirected by iptables TPROXY or REDIRECT rules. The returned
// listener applies keepAliveConfig to accepted TCP connections.
func ListenTransparentTCP(network, addr string, keepAliveConfig net.KeepAliveConfig) (net.Listener, error) {
	var ctrlErr error
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			return c.Control(func(fd uintptr) {
				ctrlErr = unix.SetsockoptInt(int(fd), unix.SOL_IP, unix.IP_TRANSPARENT, 1)
			})
		},
	}

	ln, err := lc.Listen(context.Background(), network, addr)
	if err != nil {
		return nil, fmt.Errorf("listen transparent %s %s: %w", network, addr, err)
	}
	if ctrlErr != nil {
		ln.Close()
		return nil, fmt.Errorf("set IP_TRANSPARENT on %s %s: %w", network, addr, ctrlErr)
	}

	return &proxy.KeepAliveListener{Listener: ln, KeepAliveConfig: keepAliveConfig}, nil
}

// OriginalDst returns the pre-NAT destination of a redirected connection.
// For REDIRECT rules conntrack records it on the socket and SO_ORIGINAL_DST
// (IP6T_SO_ORIGINAL_DST for IPv6) reads it back. For TPROXY rules there is
// no rewrite and the socket's own local address is the destination.
func OriginalDst(conn net.Conn) (*net.TCPAddr, bool) {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return nil, false
	}

	rc, err := tc.SyscallConn()
	if err != nil {
		return nil, false
	}

	var dst *net.TCPAddr
	if err := rc.Control(func(fd uintptr) {
		// The 16-byte Multiaddr field is laid out like sockaddr_in:
		// family, port in network order, then the IPv4 address.
		if sa, err := unix.GetsockoptIPv6Mreq(int(fd), unix.IPPROTO_IP, unix.SO_ORIGINAL_DST); err == nil {
			b := sa.Multiaddr
			dst = &net.TCPAddr{
				IP:   net.IPv4(b[4], b[5], b[6], b[7]),
				Port: int(b[2])<<8 | int(b[3]),
			}
			return
		}

		if mi, err := unix.GetsockoptIPv6MTUInfo(int(fd), unix.IPPROTO_IPV6, ip6tSoOriginalDst); err == nil {
			ip := make(net.IP, net.IPv6len)
			copy(ip, mi.Addr.Addr[:])
			dst = &net.TCPAddr{
				IP:   ip,
				Port: int(mi.Addr.Port>>8)&0xff | int(mi.Addr.Port&0xff)<<8,
			}
		}
	}); err != nil {
		return nil, false
	}
	if dst != nil {
		return dst, true
	}

	local, ok := tc.LocalAddr().(*net.TCPAddr)
	return local, ok
}
