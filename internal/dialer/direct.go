package dialer

import (
	"context"
	"fmt"
	"net"
)

type directDialer struct {
	cfg      Config
	resolver *Resolver
}

// NewDirectDialer constructs a dialer that connects straight to the
// destination. If cfg.DNSServer is set, hostnames are resolved against it
// instead of the system resolver.
func NewDirectDialer(cfg Config) (Dialer, error) {
	d := &directDialer{cfg: cfg}
	if cfg.DNSServer != "" {
		d.resolver = NewResolver(cfg.DNSServer)
	}
	return d, nil
}

func (f *directDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if err := ValidateAddress(address); err != nil {
		return nil, err
	}

	dd := net.Dialer{Timeout: f.cfg.DialTimeout}

	var (
		conn net.Conn
		err  error
	)
	if f.resolver != nil {
		conn, err = f.dialResolved(ctx, &dd, network, address)
	} else {
		conn, err = dd.DialContext(ctx, network, address)
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s %s: %w", network, address, err)
	}

	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetKeepAliveConfig(f.cfg.KeepAlive)
	}

	return conn, nil
}

// dialResolved looks the host up on the configured DNS server and tries each
// returned address until one connects.
func (f *directDialer) dialResolved(ctx context.Context, dd *net.Dialer, network, address string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return nil, err
	}

	ips, err := f.resolver.LookupIP(ctx, host)
	if err != nil {
		return nil, err
	}

	var firstErr error
	for _, ip := range ips {
		conn, err := dd.DialContext(ctx, network, net.JoinHostPort(ip.String(), port))
		if err == nil {
			return conn, nil
		}
		if firstErr == nil {
			firstErr = err
		}
		if ctx.Err() != nil {
			break
		}
	}
	if firstErr == nil {
		firstErr = fmt.Errorf("no addresses for %s", host)
	}
	return nil, firstErr
}
