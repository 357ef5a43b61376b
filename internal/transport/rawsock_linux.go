//go:build linux

package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/rudransh-shrivastava/linkchat/internal/protocol"
	"golang.org/x/net/bpf"
	"golang.org/x/sys/unix"
)

const writeRetryMillis = 100

var _ Conn = (*RawConn)(nil)

// RawConn is an AF_PACKET socket bound to one interface and to our
// EtherType. Reads wait on epoll; Close wakes them through an eventfd.
type RawConn struct {
	fd      int
	epfd    int
	wakefd  int
	ifindex int
	addr    net.HardwareAddr
	closed  atomic.Bool
	// mu is held shared by every syscall on the descriptors and exclusively
	// by Close while it releases them.
	mu sync.RWMutex
}

func htons(v uint16) uint16 {
	return v<<8 | v>>8
}

// Listen opens a raw socket on ifi. It needs CAP_NET_RAW.
func Listen(ifi *net.Interface) (*RawConn, error) {
	if len(ifi.HardwareAddr) != protocol.AddrSize {
		return nil, fmt.Errorf("interface %s has no ethernet address", ifi.Name)
	}

	proto := htons(protocol.ProtocolID)
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, int(proto))
	if err != nil {
		return nil, fmt.Errorf("opening raw socket: %w", err)
	}

	c := &RawConn{fd: fd, epfd: -1, wakefd: -1, ifindex: ifi.Index}
	c.addr = make(net.HardwareAddr, protocol.AddrSize)
	copy(c.addr, ifi.HardwareAddr)

	if err := c.setup(proto); err != nil {
		c.release()
		return nil, err
	}
	return c, nil
}

func (c *RawConn) setup(proto uint16) error {
	if err := attachFilter(c.fd, frameFilter()); err != nil {
		return fmt.Errorf("attaching socket filter: %w", err)
	}

	sa := &unix.SockaddrLinklayer{Protocol: proto, Ifindex: c.ifindex}
	if err := unix.Bind(c.fd, sa); err != nil {
		return fmt.Errorf("binding to interface %d: %w", c.ifindex, err)
	}

	var err error
	if c.epfd, err = unix.EpollCreate1(unix.EPOLL_CLOEXEC); err != nil {
		return fmt.Errorf("creating epoll: %w", err)
	}
	if c.wakefd, err = unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC); err != nil {
		return fmt.Errorf("creating eventfd: %w", err)
	}

	for _, fd := range []int{c.fd, c.wakefd} {
		ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
		if err := unix.EpollCtl(c.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
			return fmt.Errorf("registering descriptor with epoll: %w", err)
		}
	}
	return nil
}

func attachFilter(fd int, prog []bpf.Instruction) error {
	raw, err := bpf.Assemble(prog)
	if err != nil {
		return err
	}

	filter := make([]unix.SockFilter, len(raw))
	for i, ins := range raw {
		filter[i] = unix.SockFilter{Code: ins.Op, Jt: ins.Jt, Jf: ins.Jf, K: ins.K}
	}
	fprog := unix.SockFprog{Len: uint16(len(filter)), Filter: &filter[0]}
	return unix.SetsockoptSockFprog(fd, unix.SOL_SOCKET, unix.SO_ATTACH_FILTER, &fprog)
}

func (c *RawConn) HardwareAddr() net.HardwareAddr {
	return c.addr
}

func (c *RawConn) ReadFrame(buf []byte) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for {
		if c.closed.Load() {
			return 0, ErrClosed
		}

		n, from, err := unix.Recvfrom(c.fd, buf, 0)
		switch {
		case err == nil:
			if sa, ok := from.(*unix.SockaddrLinklayer); ok && sa.Pkttype == packetOutgoing {
				continue
			}
			return n, nil
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			if err := c.wait(); err != nil {
				return 0, err
			}
		default:
			return 0, fmt.Errorf("reading frame: %w", err)
		}
	}
}

// wait blocks until the socket is readable or the conn is being closed.
func (c *RawConn) wait() error {
	events := make([]unix.EpollEvent, 2)
	for {
		n, err := unix.EpollWait(c.epfd, events, -1)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return fmt.Errorf("waiting for frames: %w", err)
		}
		for _, ev := range events[:n] {
			if int(ev.Fd) == c.wakefd {
				return ErrClosed
			}
		}
		return nil
	}
}

// WriteFrame transmits frame as-is. The destination address is taken from
// the frame's first six bytes.
func (c *RawConn) WriteFrame(frame []byte) error {
	if len(frame) < protocol.HeaderSize {
		return protocol.ErrShortFrame
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	sa := &unix.SockaddrLinklayer{
		Protocol: htons(protocol.ProtocolID),
		Ifindex:  c.ifindex,
		Halen:    protocol.AddrSize,
	}
	copy(sa.Addr[:], frame[:protocol.AddrSize])

	for {
		if c.closed.Load() {
			return ErrClosed
		}

		err := unix.Sendto(c.fd, frame, 0, sa)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.ENOBUFS):
			pfd := []unix.PollFd{{Fd: int32(c.fd), Events: unix.POLLOUT}}
			if _, err := unix.Poll(pfd, writeRetryMillis); err != nil && !errors.Is(err, unix.EINTR) {
				return fmt.Errorf("waiting to send: %w", err)
			}
		default:
			return fmt.Errorf("sending frame: %w", err)
		}
	}
}

// Close wakes any blocked reader and releases the socket. It is safe to call
// more than once.
func (c *RawConn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	var one [8]byte
	binary.NativeEndian.PutUint64(one[:], 1)
	_, _ = unix.Write(c.wakefd, one[:])

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.release()
}

func (c *RawConn) release() error {
	var errs []error
	for _, fd := range []int{c.epfd, c.wakefd, c.fd} {
		if fd < 0 {
			continue
		}
		if err := unix.Close(fd); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
