package transport

import (
	"math"

	"github.com/rudransh-shrivastava/linkchat/internal/protocol"
	"golang.org/x/net/bpf"
)

// packetOutgoing is the kernel's pkttype for frames this host transmitted.
const packetOutgoing = 4

// protocolFilter accepts frames that are long enough to carry a header and
// whose EtherType is ours. The second to last instruction is the drop.
func protocolFilter() []bpf.Instruction {
	return []bpf.Instruction{
		bpf.LoadExtension{Num: bpf.ExtLen},
		bpf.JumpIf{Cond: bpf.JumpLessThan, Val: protocol.HeaderSize, SkipTrue: 2},
		bpf.LoadAbsolute{Off: 2 * protocol.AddrSize, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: uint32(protocol.ProtocolID), SkipTrue: 1},
		bpf.RetConstant{Val: 0},
		bpf.RetConstant{Val: math.MaxUint32},
	}
}

// frameFilter is attached to the socket. It additionally drops the looped
// back copies of our own transmissions.
func frameFilter() []bpf.Instruction {
	rest := protocolFilter()
	head := []bpf.Instruction{
		bpf.LoadExtension{Num: bpf.ExtType},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: packetOutgoing, SkipTrue: uint8(len(rest) - 2)},
	}
	return append(head, rest...)
}
