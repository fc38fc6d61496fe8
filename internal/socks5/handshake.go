package socks5

import (
	"bytes"
	"fmt"
	"io"
)

// Handshake drives the server side of a SOCKS5 negotiation on rw: it reads
// the greeting, selects the no-authentication method, reads the CONNECT
// request, and returns the parsed destination.
//
// Protocol rejections (no acceptable method, unsupported command or address
// type) are answered on the wire before the error is returned. Version
// mismatches are not answered: the connection is simply abandoned. The caller
// owns rw and is expected to close it on any error.
func Handshake(rw io.ReadWriter) (Dest, error) {
	var greeting [2]byte
	if _, err := io.ReadFull(rw, greeting[:]); err != nil {
		return Dest{}, fmt.Errorf("socks5: read greeting: %w", err)
	}
	if greeting[0] != Version {
		return Dest{}, ErrVersion
	}

	methods := make([]byte, int(greeting[1]))
	if _, err := io.ReadFull(rw, methods); err != nil {
		return Dest{}, fmt.Errorf("socks5: read methods: %w", err)
	}
	if bytes.IndexByte(methods, MethodNone) < 0 {
		_, _ = rw.Write([]byte{Version, MethodNoAcceptable})
		return Dest{}, ErrNoAcceptableAuth
	}
	if _, err := rw.Write([]byte{Version, MethodNone}); err != nil {
		return Dest{}, fmt.Errorf("socks5: write method selection: %w", err)
	}

	// VER CMD RSV ATYP
	var hdr [4]byte
	if _, err := io.ReadFull(rw, hdr[:]); err != nil {
		return Dest{}, fmt.Errorf("socks5: read request: %w", err)
	}
	if hdr[0] != Version {
		return Dest{}, ErrVersion
	}
	if hdr[1] != CmdConnect {
		_ = WriteReply(rw, RepGeneralFailure)
		return Dest{}, UnsupportedCommandError(hdr[1])
	}

	var (
		dest Dest
		err  error
	)
	switch hdr[3] {
	case AddrIPv4:
		dest, err = readIPv4(rw)
	case AddrDomain:
		dest, err = readDomain(rw)
	case AddrIPv6:
		dest, err = readIPv6(rw)
	default:
		_ = WriteReply(rw, RepGeneralFailure)
		return Dest{}, UnsupportedAddrTypeError(hdr[3])
	}
	if err != nil {
		return Dest{}, err
	}
	return dest, nil
}
