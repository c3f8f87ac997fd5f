// Package portalloc reserves loopback TCP ports for the transcription
// backend. Availability is determined by a bind test; the probe socket is
// always released immediately, so a returned port is only a best-effort
// reservation until the backend binds it.
package portalloc

import (
	"fmt"
	"net"
)

// IsAvailable bind-tests 127.0.0.1:port. Any bind error (address in use,
// permission, exhaustion) counts as unavailable.
func IsAvailable(port int) bool {
	l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	_ = l.Close()
	return true
}

// FindFreePort binds 127.0.0.1:0, reads back the OS-assigned ephemeral port,
// releases the socket and returns the port number.
func FindFreePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("allocate ephemeral port: %w", err)
	}
	defer l.Close()

	addr, ok := l.Addr().(*net.TCPAddr)
	if !ok {
		return 0, fmt.Errorf("unexpected listener address type %T", l.Addr())
	}
	return addr.Port, nil
}

// Resolve implements the supervisor's selection policy: a configured port > 0
// that is free is used unchanged; otherwise an ephemeral port is discovered.
// The second return reports whether the caller should persist the new port.
func Resolve(configured int) (int, bool, error) {
	if configured > 0 && IsAvailable(configured) {
		return configured, false, nil
	}
	port, err := FindFreePort()
	if err != nil {
		return 0, false, err
	}
	return port, true, nil
}
