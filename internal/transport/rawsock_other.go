//go:build !linux

package transport

import "net"

// RawConn is unavailable outside Linux.
type RawConn struct{}

func Listen(*net.Interface) (*RawConn, error) {
	return nil, ErrUnsupported
}

func (*RawConn) ReadFrame([]byte) (int, error)  { return 0, ErrUnsupported }
func (*RawConn) WriteFrame([]byte) error        { return ErrUnsupported }
func (*RawConn) HardwareAddr() net.HardwareAddr { return nil }
func (*RawConn) Close() error                   { return nil }
