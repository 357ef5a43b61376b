// Package protocol implements the linkchat wire format: a raw Ethernet
// header followed by a one byte frame type and a type specific payload.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

var (
	ErrShortFrame      = errors.New("frame shorter than header")
	ErrForeignProtocol = errors.New("frame carries a foreign protocol id")
	ErrBadAddress      = errors.New("hardware address must be 6 bytes")
)

// BroadcastAddr is the all-ones destination used for announcements.
var BroadcastAddr = net.HardwareAddr(layers.EthernetBroadcast)

type Frame struct {
	Dst     net.HardwareAddr
	Src     net.HardwareAddr
	Type    FrameType
	Payload []byte
}

// DstString returns the destination in lowercase colon-hex form.
func (f *Frame) DstString() string { return f.Dst.String() }

// SrcString returns the source in lowercase colon-hex form.
func (f *Frame) SrcString() string { return f.Src.String() }

// Encode lays out dst, src, the protocol id, the type tag and payload back
// to back. There is no length field: one send is one frame.
func Encode(dst, src net.HardwareAddr, t FrameType, payload []byte) ([]byte, error) {
	if len(dst) != AddrSize || len(src) != AddrSize {
		return nil, ErrBadAddress
	}

	buf := make([]byte, HeaderSize+len(payload))
	copy(buf[0:6], dst)
	copy(buf[6:12], src)
	binary.BigEndian.PutUint16(buf[12:14], ProtocolID)
	buf[14] = byte(t)
	copy(buf[HeaderSize:], payload)
	return buf, nil
}

// Decode parses a raw frame. Frames shorter than HeaderSize or carrying a
// different EtherType are rejected and must be dropped by the caller.
func Decode(data []byte) (*Frame, error) {
	if len(data) < HeaderSize {
		return nil, ErrShortFrame
	}

	var eth layers.Ethernet
	if err := eth.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrShortFrame, err)
	}
	if uint16(eth.EthernetType) != ProtocolID {
		return nil, ErrForeignProtocol
	}

	body := eth.Payload
	frame := &Frame{
		Dst:     cloneAddr(eth.DstMAC),
		Src:     cloneAddr(eth.SrcMAC),
		Type:    FrameType(body[0]),
		Payload: make([]byte, len(body)-1),
	}
	copy(frame.Payload, body[1:])
	return frame, nil
}

// ParseAddr parses a colon-hex hardware address and insists on 6 bytes.
func ParseAddr(s string) (net.HardwareAddr, error) {
	addr, err := net.ParseMAC(s)
	if err != nil {
		return nil, err
	}
	if len(addr) != AddrSize {
		return nil, ErrBadAddress
	}
	return addr, nil
}

func cloneAddr(a net.HardwareAddr) net.HardwareAddr {
	out := make(net.HardwareAddr, len(a))
	copy(out, a)
	return out
}
