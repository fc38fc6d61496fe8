package dialer

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/txthinking/socks5"
	"github.com/xtaci/smux"
	"golang.org/x/sync/singleflight"
)

// WSProxyDialer forwards outbound TCP connections through a WebSocket tunnel.
//
// A single shared WebSocket connection is maintained per dialer and many
// proxied connections are multiplexed over it as smux streams, one stream per
// DialContext call. Each stream starts with a SOCKS5 CONNECT exchange that
// tells the remote tunnel endpoint where to dial.
//
// The tunnel is created lazily on first use. If opening a stream fails
// because the session died, the dialer discards it, reconnects once, and
// retries.
type WSProxyDialer struct {
	cfg       Config
	tunnelURL *url.URL
	direct    Dialer

	mu      sync.Mutex
	session *smux.Session
	sf      singleflight.Group
}

// NewWSProxyDialer constructs a dialer that forwards connections via the
// WebSocket tunnel endpoint at tunnelURL (ws:// or wss://).
func NewWSProxyDialer(cfg Config, tunnelURL *url.URL) (Dialer, error) {
	if tunnelURL == nil {
		return nil, errors.New("ws dialer: missing tunnel url")
	}
	if tunnelURL.Hostname() == "" {
		return nil, errors.New("ws dialer: invalid tunnel host")
	}
	if tunnelURL.Scheme != "ws" && tunnelURL.Scheme != "wss" {
		return nil, fmt.Errorf("ws dialer: unsupported scheme: %q", tunnelURL.Scheme)
	}

	direct, err := NewDirectDialer(cfg)
	if err != nil {
		return nil, err
	}

	u := *tunnelURL
	if u.Path == "" {
		u.Path = "/"
	}

	return &WSProxyDialer{
		cfg:       cfg,
		tunnelURL: &u,
		direct:    direct,
	}, nil
}

// DialContext opens a new stream to address over the shared tunnel session,
// establishing the tunnel first if needed.
//
// Canceling ctx closes the returned stream, not the shared tunnel.
func (f *WSProxyDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if err := ValidateAddress(address); err != nil {
		return nil, err
	}
	if !strings.HasPrefix(network, "tcp") {
		return nil, fmt.Errorf("ws tunnel dial %s %s: unsupported network", network, address)
	}

	session, err := f.getSession(ctx)
	if err != nil {
		return nil, err
	}

	stream, err := session.OpenStream()
	if err != nil {
		// Session might be dead. Invalidate, reconnect once, and retry.
		f.invalidateSession(session)
		session2, err2 := f.getSession(ctx)
		if err2 != nil {
			return nil, err
		}
		stream, err = session2.OpenStream()
		if err != nil {
			return nil, fmt.Errorf("ws tunnel open stream: %w", err)
		}
	}

	if err := f.connect(stream, address); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("ws tunnel dial %s: %w", address, err)
	}

	stop := context.AfterFunc(ctx, func() {
		_ = stream.Close()
	})
	return &proxiedConn{Conn: stream, stop: stop}, nil
}

// connect performs the in-stream SOCKS5 CONNECT exchange for address.
//
// If NegotiationTimeout is set, a stream deadline is applied for the exchange
// and cleared before returning.
func (f *WSProxyDialer) connect(stream net.Conn, address string) error {
	if f.cfg.NegotiationTimeout > 0 {
		_ = stream.SetDeadline(time.Now().Add(f.cfg.NegotiationTimeout))
	}

	if _, err := socks5.NewNegotiationRequest([]byte{socks5.MethodNone}).WriteTo(stream); err != nil {
		return fmt.Errorf("negotiation write: %w", err)
	}
	nr, err := socks5.NewNegotiationReplyFrom(stream)
	if err != nil {
		return fmt.Errorf("negotiation read: %w", err)
	}
	if nr.Method != socks5.MethodNone {
		return fmt.Errorf("negotiation method 0x%02x not supported", nr.Method)
	}

	a, addr, port, err := socks5.ParseAddress(address)
	if err != nil {
		return fmt.Errorf("parse address: %w", err)
	}
	if a == socks5.ATYPDomain {
		// NewRequest prepends the length byte itself.
		addr = addr[1:]
	}
	if _, err := socks5.NewRequest(socks5.CmdConnect, a, addr, port).WriteTo(stream); err != nil {
		return fmt.Errorf("connect write: %w", err)
	}
	rep, err := socks5.NewReplyFrom(stream)
	if err != nil {
		return fmt.Errorf("connect read: %w", err)
	}
	if rep.Rep != socks5.RepSuccess {
		return fmt.Errorf("connect rejected: rep 0x%02x", rep.Rep)
	}

	if f.cfg.NegotiationTimeout > 0 {
		_ = stream.SetDeadline(time.Time{})
	}
	return nil
}

// getSession returns the shared tunnel session, creating it if needed.
//
// Singleflight ensures only one tunnel handshake runs at a time. Callers
// bail out when their context is canceled, while the attempt continues for
// other waiters.
func (f *WSProxyDialer) getSession(ctx context.Context) (*smux.Session, error) {
	f.mu.Lock()
	session := f.session
	f.mu.Unlock()
	if session != nil && !session.IsClosed() {
		return session, nil
	}

	ch := f.sf.DoChan("connect", func() (any, error) {
		f.mu.Lock()
		if f.session != nil && !f.session.IsClosed() {
			s := f.session
			f.mu.Unlock()
			return s, nil
		}
		f.mu.Unlock()

		// Background context: the attempt should complete even if the
		// triggering caller gives up, since other waiters may want it.
		newSession, err := f.dialTunnel(context.Background())
		if err != nil {
			return nil, err
		}

		f.mu.Lock()
		f.session = newSession
		f.mu.Unlock()
		return newSession, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*smux.Session), nil
	}
}

// dialTunnel performs the WebSocket handshake with the tunnel endpoint and
// starts a smux client session over it.
func (f *WSProxyDialer) dialTunnel(ctx context.Context) (*smux.Session, error) {
	wsDialer := &websocket.Dialer{
		NetDialContext:   f.direct.DialContext,
		HandshakeTimeout: f.cfg.NegotiationTimeout,
	}
	if f.tunnelURL.Scheme == "wss" {
		wsDialer.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	c, resp, err := wsDialer.DialContext(ctx, f.tunnelURL.String(), nil)
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
			return nil, fmt.Errorf("ws tunnel handshake: %s: %w", resp.Status, err)
		}
		return nil, fmt.Errorf("ws tunnel handshake: %w", err)
	}

	session, err := smux.Client(newWSConn(c), tunnelSmuxConfig())
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("ws tunnel mux: %w", err)
	}
	return session, nil
}

// invalidateSession discards the shared session if it is still the one the
// caller saw fail, then closes it.
func (f *WSProxyDialer) invalidateSession(old *smux.Session) {
	f.mu.Lock()
	if f.session == old {
		f.session = nil
	}
	f.mu.Unlock()
	_ = old.Close()
}

func tunnelSmuxConfig() *smux.Config {
	cfg := smux.DefaultConfig()
	cfg.Version = 2
	cfg.KeepAliveInterval = 10 * time.Second
	cfg.KeepAliveTimeout = 30 * time.Second
	return cfg
}

// wsConn adapts a WebSocket connection to net.Conn, carrying the byte stream
// as binary messages.
type wsConn struct {
	*websocket.Conn
	reader io.Reader
}

func newWSConn(c *websocket.Conn) *wsConn {
	return &wsConn{Conn: c}
}

func (c *wsConn) Read(p []byte) (int, error) {
	for {
		if c.reader == nil {
			t, r, err := c.NextReader()
			if err != nil {
				return 0, err
			}
			if t != websocket.BinaryMessage {
				continue
			}
			c.reader = r
		}
		n, err := c.reader.Read(p)
		if err == io.EOF {
			c.reader = nil
			if n == 0 {
				continue
			}
			return n, nil
		}
		return n, err
	}
}

func (c *wsConn) Write(p []byte) (int, error) {
	if err := c.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *wsConn) SetDeadline(t time.Time) error {
	if err := c.SetReadDeadline(t); err != nil {
		return err
	}
	return c.SetWriteDeadline(t)
}
