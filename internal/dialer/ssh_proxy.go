package dialer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"

	"golang.org/x/crypto/ssh"
	"golang.org/x/sync/singleflight"

	internalssh "github.com/shroud-net/shroud/internal/ssh"
)

// SSHProxyDialer forwards outbound TCP connections through an SSH server.
//
// A single shared SSH transport (an *ssh.Client) is maintained per dialer and
// many proxied connections are multiplexed over it, one "direct-tcpip"
// channel per DialContext call. The transport is created lazily on first use.
// If opening a channel fails because the transport died, the dialer discards
// the shared client, reconnects once, and retries the channel dial.
type SSHProxyDialer struct {
	sshAddr   string
	sshConfig internalssh.ClientConfig
	direct    Dialer

	mu     sync.Mutex
	client *ssh.Client
	sf     singleflight.Group
}

// NewSSHProxyDialer constructs a dialer that forwards connections via an SSH
// server at sshAddr.
//
// Authentication can use password, private key, or both; if both are
// provided, both methods are offered and the server chooses. cfg.SSHKeyPath
// should point to an OpenSSH-format private key file, or be "agent" to use
// keys from a running ssh-agent.
//
// Host key checking uses cfg.SSHKnownHostsPath. If set, the file is used to
// verify host keys (created along with its parent directory if needed), and
// unknown hosts are added on first connection. If empty, host key checking
// is disabled.
func NewSSHProxyDialer(cfg Config, sshAddr, username, password string) (Dialer, error) {
	if sshAddr == "" {
		return nil, errors.New("ssh dialer: missing ssh address")
	}
	if username == "" {
		return nil, errors.New("ssh dialer: missing username")
	}

	signers, err := internalssh.LoadSigners(cfg.SSHKeyPath)
	if err != nil {
		return nil, fmt.Errorf("ssh dialer: %w", err)
	}

	if password == "" && len(signers) == 0 {
		return nil, errors.New("ssh dialer: missing password or key")
	}

	hostKeyCallback, err := internalssh.NewHostKeyCallback(cfg.SSHKnownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("ssh dialer: %w", err)
	}

	direct, err := NewDirectDialer(cfg)
	if err != nil {
		return nil, err
	}

	return &SSHProxyDialer{
		sshAddr: sshAddr,
		sshConfig: internalssh.ClientConfig{
			Username:         username,
			Password:         password,
			Signers:          signers,
			HostKeyCallback:  hostKeyCallback,
			Timeout:          cfg.DialTimeout,
			HandshakeTimeout: cfg.NegotiationTimeout,
		},
		direct: direct,
	}, nil
}

// DialContext opens a "direct-tcpip" channel to address over the shared SSH
// transport, establishing the transport first if needed.
//
// Canceling ctx closes the returned channel, not the shared transport.
func (f *SSHProxyDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if err := ValidateAddress(address); err != nil {
		return nil, err
	}
	if !strings.HasPrefix(network, "tcp") {
		return nil, fmt.Errorf("ssh upstream dial %s %s: unsupported network", network, address)
	}

	client, err := f.getClient(ctx)
	if err != nil {
		return nil, err
	}

	upConn, err := client.DialContext(ctx, "tcp", address)
	if err != nil {
		// OpenChannelError means the transport is healthy but the
		// destination is unreachable. Keep the client in that case.
		var openErr *ssh.OpenChannelError
		if errors.As(err, &openErr) {
			return nil, fmt.Errorf("ssh upstream dial %s: %w", address, err)
		}

		// Transport might be dead. Invalidate, reconnect once, and retry.
		f.invalidateClient()
		client, err2 := f.getClient(ctx)
		if err2 != nil {
			return nil, err
		}
		upConn, err = client.DialContext(ctx, "tcp", address)
		if err != nil {
			return nil, fmt.Errorf("ssh upstream dial %s: %w", address, err)
		}
	}

	stop := context.AfterFunc(ctx, func() {
		_ = upConn.Close()
	})
	return &proxiedConn{Conn: upConn, stop: stop}, nil
}

// getClient returns the shared SSH client, creating it if needed.
//
// Singleflight ensures only one connection attempt runs at a time. Callers
// bail out when their context is canceled, while the attempt continues for
// other waiters.
func (f *SSHProxyDialer) getClient(ctx context.Context) (*ssh.Client, error) {
	f.mu.Lock()
	client := f.client
	f.mu.Unlock()
	if client != nil {
		return client, nil
	}

	ch := f.sf.DoChan("connect", func() (any, error) {
		f.mu.Lock()
		if f.client != nil {
			c := f.client
			f.mu.Unlock()
			return c, nil
		}
		f.mu.Unlock()

		// Background context: the attempt should complete even if the
		// triggering caller gives up, since other waiters may want it.
		newClient, err := f.dialSSH(context.Background())
		if err != nil {
			return nil, err
		}

		f.mu.Lock()
		f.client = newClient
		f.mu.Unlock()
		return newClient, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*ssh.Client), nil
	}
}

// dialSSH establishes a new SSH transport over a direct TCP connection.
func (f *SSHProxyDialer) dialSSH(ctx context.Context) (*ssh.Client, error) {
	conn, err := f.direct.DialContext(ctx, "tcp", f.sshAddr)
	if err != nil {
		return nil, fmt.Errorf("ssh transport dial: %w", err)
	}

	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	defer stop()

	client, err := internalssh.NewClient(conn, f.sshConfig, f.sshAddr)
	if err != nil {
		return nil, fmt.Errorf("ssh transport: %w", err)
	}

	return client, nil
}

// invalidateClient discards and closes the cached shared SSH client, if any.
func (f *SSHProxyDialer) invalidateClient() {
	f.mu.Lock()
	client := f.client
	f.client = nil
	f.mu.Unlock()
	if client != nil {
		_ = client.Close()
	}
}
