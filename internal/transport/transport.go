// Package transport moves raw link-layer frames between the engine and a
// network interface.
package transport

import (
	"errors"
	"net"
)

var (
	ErrClosed      = errors.New("transport closed")
	ErrUnsupported = errors.New("raw link-layer sockets are not supported on this platform")
)

// Conn is a bound link-layer endpoint. ReadFrame blocks until a frame
// arrives or Close is called, in which case it returns ErrClosed. Frames the
// endpoint sent itself are never returned.
type Conn interface {
	ReadFrame(buf []byte) (int, error)
	WriteFrame(frame []byte) error
	HardwareAddr() net.HardwareAddr
	Close() error
}
