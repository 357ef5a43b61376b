package protocol

import "time"

const (
	// ProtocolID is the EtherType carried by every linkchat frame.
	ProtocolID uint16 = 0x88B5

	AddrSize   = 6
	HeaderSize = 2*AddrSize + 2 + 1

	ChunkSize         = 1024
	MaxFrameSize      = 65535
	AnnounceInterval  = 5 * time.Second
	BroadcastAddrText = "ff:ff:ff:ff:ff:ff"
)

type FrameType uint8

const (
	FrameAnnounce      FrameType = 1
	FrameMessage       FrameType = 2
	FrameTransferBegin FrameType = 3
	FrameTransferChunk FrameType = 4
	FrameTransferEnd   FrameType = 5
)

func (t FrameType) String() string {
	switch t {
	case FrameAnnounce:
		return "ANNOUNCE"
	case FrameMessage:
		return "MESSAGE"
	case FrameTransferBegin:
		return "TRANSFER_BEGIN"
	case FrameTransferChunk:
		return "TRANSFER_CHUNK"
	case FrameTransferEnd:
		return "TRANSFER_END"
	default:
		return "UNKNOWN"
	}
}

// Valid reports whether t is one of the five defined frame types.
func (t FrameType) Valid() bool {
	return t >= FrameAnnounce && t <= FrameTransferEnd
}
