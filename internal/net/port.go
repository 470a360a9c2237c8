package net

import (
	"fmt"
	"net"
)

// EphemeralTCPPort asks the kernel for a free loopback port.
// The port is released before returning, so another process may grab it first.
func EphemeralTCPPort() (int, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("listening to acquire port: %w", err)
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port, nil
}

// EphemeralAddr is EphemeralTCPPort formatted as a host:port listen address.
func EphemeralAddr() (string, error) {
	port, err := EphemeralTCPPort()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("127.0.0.1:%d", port), nil
}
