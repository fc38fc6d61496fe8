package socks5

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strings"
)

func readIPv4(r io.Reader) (Dest, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return Dest{}, fmt.Errorf("socks5: read ipv4 address: %w", err)
	}
	port, err := readPort(r)
	if err != nil {
		return Dest{}, err
	}
	return Dest{Host: net.IP(b[:]).String(), Port: port}, nil
}

// readDomain reads a length-prefixed domain. The bytes are taken as sent,
// with invalid UTF-8 sequences replaced rather than rejected; whether the
// name resolves is the dialer's problem, not the parser's.
func readDomain(r io.Reader) (Dest, error) {
	var n [1]byte
	if _, err := io.ReadFull(r, n[:]); err != nil {
		return Dest{}, fmt.Errorf("socks5: read domain length: %w", err)
	}
	b := make([]byte, int(n[0]))
	if _, err := io.ReadFull(r, b); err != nil {
		return Dest{}, fmt.Errorf("socks5: read domain: %w", err)
	}
	port, err := readPort(r)
	if err != nil {
		return Dest{}, err
	}
	return Dest{Host: strings.ToValidUTF8(string(b), "�"), Port: port}, nil
}

func readIPv6(r io.Reader) (Dest, error) {
	var b [16]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return Dest{}, fmt.Errorf("socks5: read ipv6 address: %w", err)
	}
	port, err := readPort(r)
	if err != nil {
		return Dest{}, err
	}
	return Dest{Host: formatIPv6(b), Port: port}, nil
}

func readPort(r io.Reader) (uint16, error) {
	var b [2]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, fmt.Errorf("socks5: read port: %w", err)
	}
	return binary.BigEndian.Uint16(b[:]), nil
}

// formatIPv6 renders addr as eight lowercase hex groups wrapped in brackets,
// e.g. "[0000:0000:0000:0000:0000:0000:0000:0001]".
func formatIPv6(addr [16]byte) string {
	groups := make([]string, 8)
	for i := range groups {
		groups[i] = fmt.Sprintf("%02x%02x", addr[2*i], addr[2*i+1])
	}
	return "[" + strings.Join(groups, ":") + "]"
}
