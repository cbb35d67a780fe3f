package utils

import (
	"fmt"
	"net"
	"strconv"

	"nudge/internal/security"
)

// ParseRelay accepts "host" or "host:port" and falls back to defPort when
// no port is given.
func ParseRelay(arg string, defPort int) (string, int, error) {
	if arg == "" {
		return "", 0, fmt.Errorf("empty relay address")
	}

	host, portStr, err := net.SplitHostPort(arg)
	if err != nil {
		// No port, or a bare IPv6 address.
		return arg, defPort, nil
	}
	if host == "" {
		return "", 0, fmt.Errorf("invalid relay address: %s", arg)
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port number: %s", portStr)
	}
	if !security.ValidatePort(port) {
		return "", 0, fmt.Errorf("port number out of range: %d", port)
	}
	return host, port, nil
}
