package protocol

// Announce is broadcast periodically by every node.
type Announce struct {
	Name   string `json:"name"`
	NodeID string `json:"node_id"`
	MAC    string `json:"mac"`
}

// Message is a short text sent to one peer or to the broadcast address.
type Message struct {
	From   string `json:"from"`
	NodeID string `json:"node_id"`
	Text   string `json:"text"`
}

type TransferBegin struct {
	TransferID string `json:"transfer_id"`
	Filename   string `json:"filename"`
	Size       int64  `json:"size"`
}

// ChunkHeader is the record embedded at the front of every chunk payload.
type ChunkHeader struct {
	TransferID string `json:"transfer_id"`
	Seq        uint64 `json:"seq"`
}

type TransferEnd struct {
	TransferID string `json:"transfer_id"`
}
