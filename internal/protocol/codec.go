package protocol

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"
)

var ErrMalformedRecord = errors.New("malformed record")

// MaxTransferIDLen bounds the ids accepted from peers.
const MaxTransferIDLen = 64

// EncodeRecord marshals v as a single JSON object without HTML escaping, so
// non-ASCII names and texts travel as raw UTF-8.
func EncodeRecord(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// DecodeRecord reads exactly one JSON value from data. Anything after it is
// ignored: short frames arrive zero-padded to the Ethernet minimum.
func DecodeRecord(data []byte, v any) error {
	if err := json.NewDecoder(bytes.NewReader(data)).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	return nil
}

func DecodeAnnounce(data []byte) (Announce, error) {
	var a Announce
	err := DecodeRecord(data, &a)
	return a, err
}

func DecodeMessage(data []byte) (Message, error) {
	var m Message
	err := DecodeRecord(data, &m)
	return m, err
}

// DecodeTransferBegin also validates the record: the id must be valid, a
// usable base filename present and the size not negative.
func DecodeTransferBegin(data []byte) (TransferBegin, error) {
	var b TransferBegin
	if err := DecodeRecord(data, &b); err != nil {
		return b, err
	}
	if err := ValidateTransferID(b.TransferID); err != nil {
		return b, err
	}
	if b.Size < 0 {
		return b, fmt.Errorf("%w: negative size %d", ErrMalformedRecord, b.Size)
	}
	name, err := SanitizeFilename(b.Filename)
	if err != nil {
		return b, err
	}
	b.Filename = name
	return b, nil
}

func DecodeTransferEnd(data []byte) (TransferEnd, error) {
	var e TransferEnd
	if err := DecodeRecord(data, &e); err != nil {
		return e, err
	}
	return e, ValidateTransferID(e.TransferID)
}

// EncodeChunk builds [2-byte length][header record][raw bytes].
func EncodeChunk(h ChunkHeader, data []byte) ([]byte, error) {
	meta, err := EncodeRecord(h)
	if err != nil {
		return nil, err
	}
	if len(meta) > math.MaxUint16 {
		return nil, fmt.Errorf("chunk header too large: %d bytes", len(meta))
	}

	out := make([]byte, 2+len(meta)+len(data))
	binary.BigEndian.PutUint16(out[0:2], uint16(len(meta)))
	copy(out[2:], meta)
	copy(out[2+len(meta):], data)
	return out, nil
}

// DecodeChunk splits a chunk payload into its header record and data. The
// returned data aliases payload.
func DecodeChunk(payload []byte) (ChunkHeader, []byte, error) {
	var h ChunkHeader
	if len(payload) < 2 {
		return h, nil, fmt.Errorf("%w: chunk payload too short", ErrMalformedRecord)
	}
	metaLen := int(binary.BigEndian.Uint16(payload[0:2]))
	if len(payload) < 2+metaLen {
		return h, nil, fmt.Errorf("%w: chunk header length %d exceeds payload", ErrMalformedRecord, metaLen)
	}
	if err := DecodeRecord(payload[2:2+metaLen], &h); err != nil {
		return h, nil, err
	}
	if err := ValidateTransferID(h.TransferID); err != nil {
		return h, nil, err
	}
	return h, payload[2+metaLen:], nil
}

// ValidateTransferID accepts 1 to MaxTransferIDLen ASCII letters, digits,
// '-' or '_'. The id becomes part of a file name on the receiver.
func ValidateTransferID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: missing transfer_id", ErrMalformedRecord)
	}
	if len(id) > MaxTransferIDLen {
		return fmt.Errorf("%w: transfer_id longer than %d bytes", ErrMalformedRecord, MaxTransferIDLen)
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9', c == '-', c == '_':
		default:
			return fmt.Errorf("%w: invalid transfer_id %q", ErrMalformedRecord, id)
		}
	}
	return nil
}

// SanitizeFilename reduces a peer supplied name to a single path element.
func SanitizeFilename(name string) (string, error) {
	name = strings.ReplaceAll(name, "\\", "/")
	base := filepath.Base(filepath.Clean("/" + name))
	if base == "/" || base == "." || base == ".." || base == "" {
		return "", fmt.Errorf("%w: unusable filename %q", ErrMalformedRecord, name)
	}
	return base, nil
}
