package proxy

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/shroud-net/shroud/internal/dialer"
	"github.com/shroud-net/shroud/internal/socks5"
)

// Server is the SOCKS5 gateway listener.
//
// Each accepted connection is negotiated, dialed through the configured
// Dialer, and relayed until either side finishes. A connection failing at
// any stage ends only its own session.
type Server struct {
	ctx context.Context
	cfg Config
}

// NewServer creates a SOCKS5 server. Established sessions tear down when
// ctx ends.
func NewServer(ctx context.Context, cfg Config) *Server {
	return &Server{ctx: ctx, cfg: cfg}
}

// Serve accepts connections from ln until it is closed, handling each in its
// own goroutine.
func (s *Server) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()

	sessionsTotal.Inc()
	sessionsActive.Inc()
	defer sessionsActive.Dec()

	log := s.cfg.logger().With("client", conn.RemoteAddr().String())

	if s.cfg.NegotiationTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(s.cfg.NegotiationTimeout))
	}

	dest, err := socks5.Handshake(conn)
	if err != nil {
		handshakeErrors.WithLabelValues(handshakeReason(err)).Inc()
		log.Debug("handshake failed", "err", err)
		return
	}

	// The dial that follows is bounded by the dialer's own timeout, and the
	// deadline must not fire between now and the reply write.
	if s.cfg.NegotiationTimeout > 0 {
		_ = conn.SetDeadline(time.Time{})
	}

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	up, err := s.cfg.Dialer.DialContext(ctx, "tcp", dest.Addr())
	if err != nil {
		rep := byte(socks5.RepConnectionRefused)
		kind := "unreachable"
		if errors.Is(err, dialer.ErrInvalidAddress) {
			rep = socks5.RepGeneralFailure
			kind = "invalid_address"
		}
		dialErrors.WithLabelValues(kind).Inc()
		_ = socks5.WriteReply(conn, rep)
		log.Debug("dial failed", "dest", dest.Addr(), "err", err)
		return
	}
	defer up.Close()

	if err := socks5.WriteReply(conn, socks5.RepSuccess); err != nil {
		return
	}

	log.Debug("session established", "dest", dest.Addr())

	sent, received, err := CopyBidirectional(ctx, conn, up)
	relayBytes.WithLabelValues("client_to_dest").Add(float64(sent))
	relayBytes.WithLabelValues("dest_to_client").Add(float64(received))
	log.Debug("session finished", "dest", dest.Addr(), "sent", sent, "received", received, "err", err)
}

// handshakeReason buckets a handshake failure for metrics.
func handshakeReason(err error) string {
	var cmdErr socks5.UnsupportedCommandError
	var atypErr socks5.UnsupportedAddrTypeError
	switch {
	case errors.Is(err, socks5.ErrVersion):
		return "version"
	case errors.Is(err, socks5.ErrNoAcceptableAuth):
		return "auth"
	case errors.As(err, &cmdErr):
		return "command"
	case errors.As(err, &atypErr):
		return "addr_type"
	default:
		return "io"
	}
}
