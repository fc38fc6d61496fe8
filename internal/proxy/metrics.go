package proxy

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "shroud",
		Subsystem: "socks5",
		Name:      "sessions_total",
		Help:      "Accepted SOCKS5 connections.",
	})

	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "shroud",
		Subsystem: "socks5",
		Name:      "sessions_active",
		Help:      "SOCKS5 sessions currently open.",
	})

	handshakeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shroud",
		Subsystem: "socks5",
		Name:      "handshake_errors_total",
		Help:      "Handshakes that failed before a destination was known.",
	}, []string{"reason"})

	dialErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shroud",
		Subsystem: "socks5",
		Name:      "dial_errors_total",
		Help:      "Outbound dials that failed after a completed handshake.",
	}, []string{"kind"})

	relayBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shroud",
		Subsystem: "socks5",
		Name:      "relay_bytes_total",
		Help:      "Bytes relayed through established sessions.",
	}, []string{"direction"})
)
