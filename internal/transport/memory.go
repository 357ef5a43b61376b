package transport

import (
	"bytes"
	"net"
	"sync"

	"github.com/rudransh-shrivastava/linkchat/internal/protocol"
)

const memQueueSize = 4096

// Hub is an in-process broadcast segment. Frames written by one attached
// conn reach every other conn whose address matches the destination, or
// all of them for the broadcast address. A full receive queue drops the
// frame, like a NIC ring would.
type Hub struct {
	// Drop, when set, is consulted for every delivery and discards the
	// frame when it returns true.
	Drop  func(frame []byte) bool
	conns []*MemConn
	mu    sync.Mutex
}

func NewHub() *Hub {
	return &Hub{}
}

// Attach plugs a new endpoint with the given address into the hub.
func (h *Hub) Attach(addr net.HardwareAddr) *MemConn {
	c := &MemConn{
		hub:    h,
		addr:   append(net.HardwareAddr(nil), addr...),
		queue:  make(chan []byte, memQueueSize),
		closed: make(chan struct{}),
	}

	h.mu.Lock()
	h.conns = append(h.conns, c)
	h.mu.Unlock()
	return c
}

func (h *Hub) detach(c *MemConn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i, conn := range h.conns {
		if conn == c {
			h.conns = append(h.conns[:i], h.conns[i+1:]...)
			return
		}
	}
}

func (h *Hub) deliver(from *MemConn, frame []byte) {
	dst := net.HardwareAddr(frame[:protocol.AddrSize])
	broadcast := bytes.Equal(dst, protocol.BroadcastAddr)

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, c := range h.conns {
		if c == from || (!broadcast && !bytes.Equal(dst, c.addr)) {
			continue
		}
		if h.Drop != nil && h.Drop(frame) {
			continue
		}
		select {
		case c.queue <- append([]byte(nil), frame...):
		default:
		}
	}
}

var _ Conn = (*MemConn)(nil)

type MemConn struct {
	hub       *Hub
	addr      net.HardwareAddr
	queue     chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func (c *MemConn) HardwareAddr() net.HardwareAddr {
	return c.addr
}

// ReadFrame copies the next frame into buf, truncating it if buf is short.
func (c *MemConn) ReadFrame(buf []byte) (int, error) {
	select {
	case <-c.closed:
		return 0, ErrClosed
	default:
	}

	select {
	case frame := <-c.queue:
		return copy(buf, frame), nil
	case <-c.closed:
		return 0, ErrClosed
	}
}

func (c *MemConn) WriteFrame(frame []byte) error {
	if len(frame) < protocol.HeaderSize {
		return protocol.ErrShortFrame
	}
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}

	c.hub.deliver(c, frame)
	return nil
}

func (c *MemConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.hub.detach(c)
	})
	return nil
}
