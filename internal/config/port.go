package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

var (
	ErrPortUnset   = errors.New("port variable is not set")
	ErrPortInvalid = errors.New("port is not a valid TCP port")
)

// Port is a validated TCP port in [1, 65535].
type Port uint16

// Addr is the wildcard listen address for p.
func (p Port) Addr() string {
	return net.JoinHostPort("0.0.0.0", strconv.Itoa(int(p)))
}

func (p Port) String() string {
	return strconv.Itoa(int(p))
}

// ResolvePort reads the variable named name through lookup. It fails when
// the variable is unset or empty, is not exactly a decimal integer (no
// sign, colon or whitespace), or is outside [1, 65535].
func ResolvePort(lookup func(string) (string, bool), name string) (Port, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, fmt.Errorf("%w: no port variable declared", ErrPortUnset)
	}
	raw, ok := lookup(name)
	if !ok || raw == "" {
		return 0, fmt.Errorf("%w: %s", ErrPortUnset, name)
	}
	n, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || n < 1 || n > 65535 {
		return 0, fmt.Errorf("%w: %s=%q", ErrPortInvalid, name, raw)
	}
	return Port(n), nil
}
