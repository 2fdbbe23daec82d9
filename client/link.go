package client

import (
	"errors"
	"time"
)

// Link is an opened byte-stream handle to the device: blocking read with a
// deadline, non-blocking write, close. net.Conn satisfies it, as does an
// opened serial handle; port enumeration and selection live outside this
// package.
type Link interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	SetReadDeadline(t time.Time) error
	Close() error
}

// ErrNotConnected is returned by command sends when no link is open. Nothing
// is retried; retry is the caller's decision.
var ErrNotConnected = errors.New("not connected")
