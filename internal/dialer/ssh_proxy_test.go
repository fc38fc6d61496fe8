package dialer

import (
	"context"
	"net"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"

	internalssh "github.com/shroud-net/shroud/internal/ssh"
	"github.com/shroud-net/shroud/internal/testutil"
)

func TestSSHProxyDialerDialContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	echoLn1 := testutil.StartEchoTCPServer(t, ctx)
	defer echoLn1.Close()
	echoLn2 := testutil.StartEchoTCPServer(t, ctx)
	defer echoLn2.Close()

	srv := startSSHForwardServer(t, ctx, "user", "pass")

	d, err := NewSSHProxyDialer(sshTestConfig(), srv.Addr().String(), "user", "pass")
	if err != nil {
		t.Fatal(err)
	}

	c1, err := d.DialContext(ctx, "tcp", echoLn1.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEcho(t, c1, c1, []byte("hello"))
	_ = c1.Close()

	// The second dial multiplexes over the transport the first one opened.
	c2, err := d.DialContext(ctx, "tcp", echoLn2.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer c2.Close()
	testutil.AssertEcho(t, c2, c2, []byte("hello2"))
}

func TestSSHProxyDialerChannelRejectKeepsTransport(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	echoLn := testutil.StartEchoTCPServer(t, ctx)
	defer echoLn.Close()

	srv := startSSHForwardServer(t, ctx, "user", "pass")

	dl, err := NewSSHProxyDialer(sshTestConfig(), srv.Addr().String(), "user", "pass")
	if err != nil {
		t.Fatal(err)
	}
	d := dl.(*SSHProxyDialer)

	// A port nothing listens on: the server rejects the channel, which must
	// not tear down the shared transport.
	deadLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	deadAddr := deadLn.Addr().String()
	_ = deadLn.Close()

	if _, err := d.DialContext(ctx, "tcp", deadAddr); err == nil {
		t.Fatalf("expected error")
	}

	before := sshClientOf(d)
	if before == nil {
		t.Fatal("expected cached transport after rejected channel")
	}

	c, err := d.DialContext(ctx, "tcp", echoLn.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	testutil.AssertEcho(t, c, c, []byte("hello"))

	if after := sshClientOf(d); after != before {
		t.Fatal("transport was replaced after a rejected channel")
	}
}

func TestSSHProxyDialerReconnect(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	echoLn := testutil.StartEchoTCPServer(t, ctx)
	defer echoLn.Close()

	srv := startSSHForwardServer(t, ctx, "user", "pass")

	dl, err := NewSSHProxyDialer(sshTestConfig(), srv.Addr().String(), "user", "pass")
	if err != nil {
		t.Fatal(err)
	}
	d := dl.(*SSHProxyDialer)

	c1, err := d.DialContext(ctx, "tcp", echoLn.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEcho(t, c1, c1, []byte("hello"))
	_ = c1.Close()

	// Kill the transport out from under the dialer. The next dial must
	// notice, reconnect, and still succeed.
	before := sshClientOf(d)
	_ = before.Close()

	c2, err := d.DialContext(ctx, "tcp", echoLn.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer c2.Close()
	testutil.AssertEcho(t, c2, c2, []byte("hello2"))

	if after := sshClientOf(d); after == before {
		t.Fatal("expected a fresh transport after reconnect")
	}
}

func TestNewSSHProxyDialerValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		addr     string
		username string
		password string
	}{
		{name: "missing addr", addr: "", username: "user", password: "pass"},
		{name: "missing username", addr: "ssh.example:22", username: "", password: "pass"},
		{name: "missing password and key", addr: "ssh.example:22", username: "user", password: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewSSHProxyDialer(Config{}, tt.addr, tt.username, tt.password); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func sshTestConfig() Config {
	return Config{DialTimeout: 2 * time.Second, NegotiationTimeout: 2 * time.Second}
}

func sshClientOf(d *SSHProxyDialer) *ssh.Client {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.client
}

func startSSHForwardServer(t *testing.T, ctx context.Context, username, password string) *internalssh.Server {
	t.Helper()

	hostKey, err := internalssh.GenerateHostKey()
	if err != nil {
		t.Fatal(err)
	}

	srv, err := internalssh.NewServer("127.0.0.1:0", internalssh.ServerConfig{
		HostKeys:         []ssh.Signer{hostKey},
		PasswordCallback: internalssh.SimplePasswordAuth(username, password),
	})
	if err != nil {
		t.Fatal(err)
	}

	go func() { _ = srv.Serve(ctx) }()
	t.Cleanup(func() { _ = srv.Close() })

	return srv
}
