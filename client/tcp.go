package client

import (
	"fmt"
	"net"
	"time"
)

// DialTCP opens a TCP link to a device endpoint (a serial-over-TCP bridge or
// the simulator). The returned net.Conn satisfies Link directly.
func DialTCP(addr string, timeout time.Duration) (Link, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return conn, nil
}
