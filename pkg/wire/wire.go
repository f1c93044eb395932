// Package wire implements the binary encodings spec §6 defines for data
// that crosses the pub/sub and KV-map collaborator boundary: MediaPacket on
// the pub/sub channel, and PeerInfo/TrackInfo as KV map values. Bit-exact
// compatibility with other implementations is not required (§6); only
// self-consistency within one cluster, which is all these encode/decode
// pairs need to guarantee. Uses encoding/binary directly rather than a
// general-purpose codec library: no codec library in the pack targets this
// exact ad hoc TLV shape (justified in DESIGN.md).
package wire

import (
	"encoding/binary"
	"errors"
)

// ErrShortBuffer is returned when decoding runs out of bytes.
var ErrShortBuffer = errors.New("wire: buffer too short")

func appendUint16Prefixed(buf, data []byte) []byte {
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(data)))
	buf = append(buf, lenBuf[:]...)
	return append(buf, data...)
}

func readUint16Prefixed(data []byte) (value, rest []byte, err error) {
	if len(data) < 2 {
		return nil, nil, ErrShortBuffer
	}
	n := int(binary.BigEndian.Uint16(data))
	if len(data) < 2+n {
		return nil, nil, ErrShortBuffer
	}
	return data[2 : 2+n], data[2+n:], nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
