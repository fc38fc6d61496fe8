//go:build freebsd

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

// ListenTransparentTCP listens with IP_BINDANY (IPV6_BINDANY for tcp6) set
// so the socket accepts connections diverted by pf or ipfw rules. The
// returned listener applies keepAliveConfig to accepted TCP connections.
func ListenTransparentTCP(network, addr string, keepAliveConfig net.KeepAliveConfig) (net.Listener, error) {
	var ctrlErr error
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			return c.Control(func(fd uintptr) {
				switch network {
				case "tcp6":
					ctrlErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IPV6, unix.IPV6_BINDANY, 1)
				default:
					ctrlErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_BINDANY, 1)
				}
			})
		},
	}

	ln, err := lc.Listen(context.Background(), network, addr)
	if err != nil {
		return nil, fmt.Errorf("listen transparent %s %s: %w", network, addr, err)
	}
	if ctrlErr != nil {
		ln.Close()
		return nil, fmt.Errorf("set BINDANY on %s %s: %w", network, addr, ctrlErr)
	}

	return &proxy.KeepAliveListener{Listener: ln, KeepAliveConfig: keepAliveConfig}, nil
}

// OriginalDst returns the destination of a diverted connection. The kernel
// delivers it as the socket's local address.
func OriginalDst(conn net.Conn) (*net.TCPAddr, bool) {
	local, ok := conn.LocalAddr().(*net.TCPAddr)
	return local, ok
}
