package tproxy

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/shroud-net/shroud/internal/proxy"
)

var sessionsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "shroud",
	Subsystem: "tproxy",
	Name:      "sessions_total",
	Help:      "Redirected connections accepted by the transparent proxy.",
})

// Server relays firewall-redirected TCP connections to their original
// destination through the configured dialer. The SOCKS5 server and the
// transparent proxy share Config so both run against the same upstream.
type Server struct {
	ctx context.Context
	cfg proxy.Config
}

// NewServer returns a Server whose sessions stop when ctx is canceled.
func NewServer(ctx context.Context, cfg proxy.Config) *Server {
	return &Server{ctx: ctx, cfg: cfg}
}

// Serve accepts connections from ln, which must come from
// ListenTransparentTCP, until the listener fails.
func (s *Server) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return fmt.Errorf("tproxy accept: %w", err)
		}
		go s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()

	sessionsTotal.Inc()
	log := s.logger().With("client", conn.RemoteAddr().String())

	dst, ok := OriginalDst(conn)
	if !ok {
		log.Debug("original destination unavailable")
		return
	}

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	up, err := s.cfg.Dialer.DialContext(ctx, "tcp", dst.String())
	if err != nil {
		log.Debug("dial failed", "dest", dst.String(), "err", err)
		return
	}
	defer up.Close()

	log.Debug("session established", "dest", dst.String())
	sent, received, err := proxy.CopyBidirectional(ctx, conn, up)
	log.Debug("session finished",
		"dest", dst.String(), "sent", sent, "received", received, "err", err)
}

func (s *Server) logger() *slog.Logger {
	if s.cfg.Logger != nil {
		return s.cfg.Logger
	}
	return slog.Default()
}
