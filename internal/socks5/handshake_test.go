package socks5

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

// script is an in-memory ReadWriter: reads consume a fixed input, writes
// accumulate for inspection.
type script struct {
	in  *bytes.Reader
	out bytes.Buffer
}

func newScript(input []byte) *script { return &script{in: bytes.NewReader(input)} }

func (s *script) Read(p []byte) (int, error)  { return s.in.Read(p) }
func (s *script) Write(p []byte) (int, error) { return s.out.Write(p) }

func TestHandshake(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   []byte
		want    Dest
		wantOut []byte
		wantErr error
	}{
		{
			name: "connect ipv4",
			input: []byte{
				0x05, 0x01, 0x00,
				0x05, 0x01, 0x00, 0x01, 93, 184, 216, 34, 0x01, 0xbb,
			},
			want:    Dest{Host: "93.184.216.34", Port: 443},
			wantOut: []byte{0x05, 0x00},
		},
		{
			name: "connect domain",
			input: append(append([]byte{
				0x05, 0x01, 0x00,
				0x05, 0x01, 0x00, 0x03, 0x0b,
			}, "example.com"...), 0x00, 0x50),
			want:    Dest{Host: "example.com", Port: 80},
			wantOut: []byte{0x05, 0x00},
		},
		{
			name: "connect ipv6 loopback",
			input: []byte{
				0x05, 0x01, 0x00,
				0x05, 0x01, 0x00, 0x04,
				0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1,
				0x00, 0x16,
			},
			want:    Dest{Host: "[0000:0000:0000:0000:0000:0000:0000:0001]", Port: 22},
			wantOut: []byte{0x05, 0x00},
		},
		{
			name: "no-auth among several methods",
			input: []byte{
				0x05, 0x03, 0x02, 0x00, 0x01,
				0x05, 0x01, 0x00, 0x01, 127, 0, 0, 1, 0x1f, 0x90,
			},
			want:    Dest{Host: "127.0.0.1", Port: 8080},
			wantOut: []byte{0x05, 0x00},
		},
		{
			name: "domain with invalid utf-8",
			input: []byte{
				0x05, 0x01, 0x00,
				0x05, 0x01, 0x00, 0x03, 0x03, 'a', 0xff, 'b', 0x00, 0x50,
			},
			want:    Dest{Host: "a�b", Port: 80},
			wantOut: []byte{0x05, 0x00},
		},
		{
			name:    "no acceptable method",
			input:   []byte{0x05, 0x02, 0x01, 0x02},
			wantOut: []byte{0x05, 0xff},
			wantErr: ErrNoAcceptableAuth,
		},
		{
			name:    "empty method list",
			input:   []byte{0x05, 0x00},
			wantOut: []byte{0x05, 0xff},
			wantErr: ErrNoAcceptableAuth,
		},
		{
			name:    "wrong greeting version",
			input:   []byte{0x04, 0x01, 0x00},
			wantOut: nil,
			wantErr: ErrVersion,
		},
		{
			name: "wrong request version",
			input: []byte{
				0x05, 0x01, 0x00,
				0x04, 0x01, 0x00, 0x01, 127, 0, 0, 1, 0x00, 0x50,
			},
			wantOut: []byte{0x05, 0x00},
			wantErr: ErrVersion,
		},
		{
			name: "bind rejected",
			input: []byte{
				0x05, 0x01, 0x00,
				0x05, 0x02, 0x00, 0x01, 127, 0, 0, 1, 0x00, 0x50,
			},
			wantOut: []byte{0x05, 0x00, 0x05, 0x01, 0x00, 0x01, 0, 0, 0, 0, 0, 0},
			wantErr: UnsupportedCommandError(0x02),
		},
		{
			name: "udp associate rejected",
			input: []byte{
				0x05, 0x01, 0x00,
				0x05, 0x03, 0x00, 0x01, 127, 0, 0, 1, 0x00, 0x50,
			},
			wantOut: []byte{0x05, 0x00, 0x05, 0x01, 0x00, 0x01, 0, 0, 0, 0, 0, 0},
			wantErr: UnsupportedCommandError(0x03),
		},
		{
			name: "unknown address type",
			input: []byte{
				0x05, 0x01, 0x00,
				0x05, 0x01, 0x00, 0x02, 127, 0, 0, 1, 0x00, 0x50,
			},
			wantOut: []byte{0x05, 0x00, 0x05, 0x01, 0x00, 0x01, 0, 0, 0, 0, 0, 0},
			wantErr: UnsupportedAddrTypeError(0x02),
		},
		{
			name: "truncated request",
			input: []byte{
				0x05, 0x01, 0x00,
				0x05, 0x01,
			},
			wantOut: []byte{0x05, 0x00},
			wantErr: io.ErrUnexpectedEOF,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newScript(tt.input)
			got, err := Handshake(s)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err=%v want %v", err, tt.wantErr)
				}
			} else if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Fatalf("dest=%v want %v", got, tt.want)
			}
			if !bytes.Equal(s.out.Bytes(), tt.wantOut) {
				t.Fatalf("wrote % x want % x", s.out.Bytes(), tt.wantOut)
			}
		})
	}
}

// A rejected method negotiation must terminate the handshake without
// consuming any request bytes.
func TestHandshakeStopsAfterMethodRejection(t *testing.T) {
	t.Parallel()

	s := newScript([]byte{0x05, 0x01, 0x02, 0xde, 0xad, 0xbe, 0xef})
	_, err := Handshake(s)
	if !errors.Is(err, ErrNoAcceptableAuth) {
		t.Fatalf("err=%v want %v", err, ErrNoAcceptableAuth)
	}
	if s.in.Len() != 4 {
		t.Fatalf("read past the greeting: %d bytes left, want 4", s.in.Len())
	}
}

func TestWriteReply(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		rep  byte
		want []byte
	}{
		{"success", RepSuccess, []byte{0x05, 0x00, 0x00, 0x01, 0, 0, 0, 0, 0, 0}},
		{"general failure", RepGeneralFailure, []byte{0x05, 0x01, 0x00, 0x01, 0, 0, 0, 0, 0, 0}},
		{"connection refused", RepConnectionRefused, []byte{0x05, 0x05, 0x00, 0x01, 0, 0, 0, 0, 0, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := WriteReply(&buf, tt.rep); err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(buf.Bytes(), tt.want) {
				t.Fatalf("wrote % x want % x", buf.Bytes(), tt.want)
			}
		})
	}
}
