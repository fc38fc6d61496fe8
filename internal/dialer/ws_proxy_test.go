package dialer

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/xtaci/smux"

	"github.com/shroud-net/shroud/internal/socks5"
	"github.com/shroud-net/shroud/internal/testutil"
)

func TestWSProxyDialerDialSuccess(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	echoLn1 := testutil.StartEchoTCPServer(t, ctx)
	defer echoLn1.Close()
	echoLn2 := testutil.StartEchoTCPServer(t, ctx)
	defer echoLn2.Close()

	u := startWSTunnelServer(t, ctx)

	dl, err := NewWSProxyDialer(wsTestConfig(), u)
	if err != nil {
		t.Fatal(err)
	}
	d := dl.(*WSProxyDialer)

	c1, err := d.DialContext(ctx, "tcp", echoLn1.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEcho(t, c1, c1, []byte("hello"))
	_ = c1.Close()

	before := wsSessionOf(d)
	if before == nil {
		t.Fatal("expected cached session after first dial")
	}

	// The second dial multiplexes over the session the first one opened.
	c2, err := d.DialContext(ctx, "tcp", echoLn2.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer c2.Close()
	testutil.AssertEcho(t, c2, c2, []byte("hello2"))

	if after := wsSessionOf(d); after != before {
		t.Fatal("session was replaced between dials")
	}
}

func TestWSProxyDialerDialFail(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	u := startWSTunnelServer(t, ctx)

	d, err := NewWSProxyDialer(wsTestConfig(), u)
	if err != nil {
		t.Fatal(err)
	}

	// A port nothing listens on: the tunnel endpoint reports the failed dial
	// in its reply.
	deadLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	deadAddr := deadLn.Addr().String()
	_ = deadLn.Close()

	if _, err := d.DialContext(ctx, "tcp", deadAddr); err == nil {
		t.Fatalf("expected error")
	}
}

func TestWSProxyDialerReconnect(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	echoLn := testutil.StartEchoTCPServer(t, ctx)
	defer echoLn.Close()

	u := startWSTunnelServer(t, ctx)

	dl, err := NewWSProxyDialer(wsTestConfig(), u)
	if err != nil {
		t.Fatal(err)
	}
	d := dl.(*WSProxyDialer)

	c1, err := d.DialContext(ctx, "tcp", echoLn.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEcho(t, c1, c1, []byte("hello"))
	_ = c1.Close()

	// Kill the session out from under the dialer. The next dial must
	// notice, reconnect, and still succeed.
	before := wsSessionOf(d)
	_ = before.Close()

	c2, err := d.DialContext(ctx, "tcp", echoLn.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer c2.Close()
	testutil.AssertEcho(t, c2, c2, []byte("hello2"))

	if after := wsSessionOf(d); after == before {
		t.Fatal("expected a fresh session after reconnect")
	}
}

func TestNewWSProxyDialerValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewWSProxyDialer(Config{}, nil); err == nil {
		t.Fatalf("expected error")
	}

	tests := []struct {
		name string
		url  string
	}{
		{name: "missing host", url: "ws://"},
		{name: "unsupported scheme", url: "http://tunnel.example"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := url.Parse(tt.url)
			if err != nil {
				t.Fatal(err)
			}
			if _, err := NewWSProxyDialer(Config{}, u); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func wsTestConfig() Config {
	return Config{DialTimeout: 2 * time.Second, NegotiationTimeout: 2 * time.Second}
}

func wsSessionOf(d *WSProxyDialer) *smux.Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.session
}

// startWSTunnelServer runs the remote end of the WebSocket tunnel: it
// upgrades each request, serves smux streams over the socket, and answers
// the per-stream CONNECT exchange before relaying.
func startWSTunnelServer(t *testing.T, ctx context.Context) *url.URL {
	t.Helper()

	var upgrader websocket.Upgrader
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()

		session, err := smux.Server(newWSConn(c), tunnelSmuxConfig())
		if err != nil {
			return
		}
		defer session.Close()

		for {
			stream, err := session.AcceptStream()
			if err != nil {
				return
			}
			go serveTunnelStream(ctx, stream)
		}
	}))
	t.Cleanup(ts.Close)

	u, err := url.Parse(ts.URL)
	if err != nil {
		t.Fatal(err)
	}
	u.Scheme = "ws"
	return u
}

func serveTunnelStream(ctx context.Context, stream net.Conn) {
	defer stream.Close()

	dest, err := socks5.Handshake(stream)
	if err != nil {
		return
	}

	d := net.Dialer{}
	dst, err := d.DialContext(ctx, "tcp", dest.Addr())
	if err != nil {
		_ = socks5.WriteReply(stream, socks5.RepConnectionRefused)
		return
	}
	defer dst.Close()

	if err := socks5.WriteReply(stream, socks5.RepSuccess); err != nil {
		return
	}

	go func() {
		_, _ = io.Copy(dst, stream)
		_ = dst.Close()
	}()
	_, _ = io.Copy(stream, dst)
}
