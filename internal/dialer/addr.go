package dialer

import (
	"errors"
	"fmt"
	"net"
	"strconv"
)

// ErrInvalidAddress reports a dial address rejected before any network
// activity. Callers match it with errors.Is to tell a malformed destination
// apart from an unreachable one.
var ErrInvalidAddress = errors.New("invalid address")

// ValidateAddress checks that address is "host:port" with a non-empty host
// and a numeric in-range port. Every dialer applies it first, so malformed
// destinations fail the same way on all transports without a wasted
// round trip upstream.
func ValidateAddress(address string) error {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidAddress, address, err)
	}
	if host == "" {
		return fmt.Errorf("%w: %q: empty host", ErrInvalidAddress, address)
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 0 || n > 65535 {
		return fmt.Errorf("%w: %q: bad port", ErrInvalidAddress, address)
	}
	return nil
}
