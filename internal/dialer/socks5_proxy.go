package dialer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/txthinking/socks5"
)

// SOCKS5ProxyDialer forwards outbound TCP connections through an upstream
// SOCKS5 proxy. The destination hostname is sent to the proxy unresolved.
type SOCKS5ProxyDialer struct {
	cfg       Config
	proxyAddr string
	username  string
	password  string
}

// NewSOCKS5ProxyDialer constructs a dialer using the SOCKS5 proxy at
// proxyAddr, with optional username/password authentication.
func NewSOCKS5ProxyDialer(cfg Config, proxyAddr, username, password string) (Dialer, error) {
	if proxyAddr == "" {
		return nil, errors.New("socks5 dialer: missing proxy address")
	}
	return &SOCKS5ProxyDialer{
		cfg:       cfg,
		proxyAddr: proxyAddr,
		username:  username,
		password:  password,
	}, nil
}

func (f *SOCKS5ProxyDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if err := ValidateAddress(address); err != nil {
		return nil, err
	}
	if !strings.HasPrefix(network, "tcp") {
		return nil, fmt.Errorf("socks5 proxy dial %s %s: unsupported network", network, address)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tcpTimeout := 0
	if f.cfg.DialTimeout > 0 {
		tcpTimeout = int(f.cfg.DialTimeout.Seconds())
		if tcpTimeout <= 0 {
			tcpTimeout = 1
		}
	}

	client, err := socks5.NewClient(f.proxyAddr, f.username, f.password, tcpTimeout, 0)
	if err != nil {
		return nil, fmt.Errorf("socks5 proxy init: %w", err)
	}

	c, err := client.Dial(network, address)
	if err != nil {
		return nil, fmt.Errorf("socks5 proxy dial %s %s: %w", network, address, err)
	}

	stop := context.AfterFunc(ctx, func() {
		_ = c.Close()
	})
	return &proxiedConn{Conn: c, stop: stop}, nil
}
