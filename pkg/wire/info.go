package wire

import (
	"encoding/binary"

	"github.com/flowmesh-io/sfu/pkg/types"
)

// EncodePeerInfo encodes a PeerInfo as the directory KV map value of §6:
// length-prefixed peer_id followed by length-prefixed opaque metadata.
func EncodePeerInfo(info types.PeerInfo) []byte {
	buf := make([]byte, 0, 4+len(info.PeerID)+len(info.Metadata))
	buf = appendUint16Prefixed(buf, []byte(info.PeerID))
	buf = appendUint16Prefixed(buf, info.Metadata)
	return buf
}

// DecodePeerInfo decodes a value encoded by EncodePeerInfo.
func DecodePeerInfo(data []byte) (types.PeerInfo, error) {
	peerBytes, rest, err := readUint16Prefixed(data)
	if err != nil {
		return types.PeerInfo{}, err
	}
	metaBytes, _, err := readUint16Prefixed(rest)
	if err != nil {
		return types.PeerInfo{}, err
	}
	return types.PeerInfo{PeerID: types.PeerID(peerBytes), Metadata: metaBytes}, nil
}

// EncodeTrackInfo encodes a TrackInfo as the directory KV map value of §6:
// length-prefixed peer_id, length-prefixed track_name, then meta
// (kind:u8, label_len:u16, label, scalability:u8, layer_matrix_len:u8,
// layer_matrix, dtx:u8).
func EncodeTrackInfo(info types.TrackInfo) []byte {
	buf := make([]byte, 0, 64)
	buf = appendUint16Prefixed(buf, []byte(info.PeerID))
	buf = appendUint16Prefixed(buf, []byte(info.TrackName))
	buf = append(buf, byte(info.Meta.Kind))
	buf = appendUint16Prefixed(buf, []byte(info.Meta.Label))
	buf = append(buf, byte(info.Meta.Scalability))

	if info.Meta.LayerMatrix != nil {
		buf = append(buf, 9) // 3x3 entries
		var entry [4]byte
		for s := 0; s < 3; s++ {
			for t := 0; t < 3; t++ {
				binary.BigEndian.PutUint32(entry[:], info.Meta.LayerMatrix[s][t])
				buf = append(buf, entry[:]...)
			}
		}
	} else {
		buf = append(buf, 0)
	}

	buf = append(buf, boolByte(info.Meta.DTX))
	return buf
}

// DecodeTrackInfo decodes a value encoded by EncodeTrackInfo.
func DecodeTrackInfo(data []byte) (types.TrackInfo, error) {
	peerBytes, rest, err := readUint16Prefixed(data)
	if err != nil {
		return types.TrackInfo{}, err
	}
	trackBytes, rest, err := readUint16Prefixed(rest)
	if err != nil {
		return types.TrackInfo{}, err
	}
	if len(rest) < 1 {
		return types.TrackInfo{}, ErrShortBuffer
	}
	kind := types.TrackKind(rest[0])
	rest = rest[1:]

	labelBytes, rest, err := readUint16Prefixed(rest)
	if err != nil {
		return types.TrackInfo{}, err
	}

	if len(rest) < 1 {
		return types.TrackInfo{}, ErrShortBuffer
	}
	scalability := types.CodecTag(rest[0])
	rest = rest[1:]

	if len(rest) < 1 {
		return types.TrackInfo{}, ErrShortBuffer
	}
	matrixLen := rest[0]
	rest = rest[1:]

	var matrix *types.LayerMatrix
	if matrixLen == 9 {
		if len(rest) < 36 {
			return types.TrackInfo{}, ErrShortBuffer
		}
		var m types.LayerMatrix
		idx := 0
		for s := 0; s < 3; s++ {
			for t := 0; t < 3; t++ {
				m[s][t] = binary.BigEndian.Uint32(rest[idx : idx+4])
				idx += 4
			}
		}
		rest = rest[36:]
		matrix = &m
	}

	if len(rest) < 1 {
		return types.TrackInfo{}, ErrShortBuffer
	}
	dtx := rest[0] == 1

	return types.TrackInfo{
		PeerID:    types.PeerID(peerBytes),
		TrackName: types.TrackName(trackBytes),
		Meta: types.TrackMeta{
			Kind:        kind,
			Label:       string(labelBytes),
			Scalability: scalability,
			LayerMatrix: matrix,
			DTX:         dtx,
		},
	}, nil
}
