package wire

import (
	"encoding/binary"

	"github.com/flowmesh-io/sfu/pkg/types"
)

// headerSize is the fixed MediaPacket prefix of §6: seq:u16, ts:u32,
// marker:u8, nackable:u8, codec_tag:u8, flags:u8, payload_len:u16.
const headerSize = 12

// EncodeMediaPacket encodes pkt as the pub/sub wire format of §6: the fixed
// 12-byte prefix, a codec-specific scalability TLV, then the raw payload.
func EncodeMediaPacket(pkt *types.MediaPacket) []byte {
	meta := encodeCodecMeta(pkt.Codec)

	buf := make([]byte, headerSize+len(meta)+len(pkt.Payload))
	binary.BigEndian.PutUint16(buf[0:2], pkt.SequenceNumber)
	binary.BigEndian.PutUint32(buf[2:6], pkt.Timestamp)
	buf[6] = boolByte(pkt.Marker)
	buf[7] = boolByte(pkt.Nackable)
	buf[8] = byte(pkt.Codec.Tag)
	buf[9] = 0 // flags: reserved
	binary.BigEndian.PutUint16(buf[10:12], uint16(len(pkt.Payload)))
	copy(buf[headerSize:], meta)
	copy(buf[headerSize+len(meta):], pkt.Payload)
	return buf
}

// DecodeMediaPacket decodes a value encoded by EncodeMediaPacket.
func DecodeMediaPacket(data []byte) (*types.MediaPacket, error) {
	if len(data) < headerSize {
		return nil, ErrShortBuffer
	}

	seq := binary.BigEndian.Uint16(data[0:2])
	ts := binary.BigEndian.Uint32(data[2:6])
	marker := data[6] != 0
	nackable := data[7] != 0
	tag := types.CodecTag(data[8])
	payloadLen := int(binary.BigEndian.Uint16(data[10:12]))

	rest := data[headerSize:]
	meta, consumed, err := decodeCodecMeta(tag, rest)
	if err != nil {
		return nil, err
	}
	rest = rest[consumed:]

	if len(rest) < payloadLen {
		return nil, ErrShortBuffer
	}
	payload := make([]byte, payloadLen)
	copy(payload, rest[:payloadLen])

	return &types.MediaPacket{
		SequenceNumber: seq,
		Timestamp:      ts,
		Marker:         marker,
		Nackable:       nackable,
		Codec:          meta,
		Payload:        payload,
	}, nil
}

// encodeCodecMeta produces the codec-specific scalability TLV of §6 for
// each CodecTag. Opus carries none.
func encodeCodecMeta(meta types.CodecMeta) []byte {
	switch meta.Tag {
	case types.CodecVP9:
		var flags byte
		if meta.VP9.KeyFrame {
			flags |= 1 << 0
		}
		if meta.VP9.SwitchingPoint {
			flags |= 1 << 1
		}
		if meta.VP9.EndFrame {
			flags |= 1 << 2
		}
		if meta.VP9.BeginFrame {
			flags |= 1 << 3
		}
		buf := make([]byte, 6)
		buf[0] = meta.VP9.Spatial
		buf[1] = meta.VP9.Temporal
		binary.BigEndian.PutUint16(buf[2:4], meta.VP9.PictureID)
		buf[4] = flags
		buf[5] = meta.VP9.SpatialLayers
		return buf

	case types.CodecVP8:
		var flags byte
		if meta.VP8.KeyFrame {
			flags |= 1 << 0
		}
		if meta.VP8.SwitchingPoint {
			flags |= 1 << 1
		}
		return []byte{flags, meta.VP8.TID}

	case types.CodecH264:
		var flags byte
		if meta.H264.KeyFrame {
			flags |= 1 << 0
		}
		if meta.H264.EndFrame {
			flags |= 1 << 1
		}
		return []byte{flags, meta.H264.TID}

	default: // CodecOpus
		return nil
	}
}

func decodeCodecMeta(tag types.CodecTag, data []byte) (types.CodecMeta, int, error) {
	switch tag {
	case types.CodecVP9:
		if len(data) < 6 {
			return types.CodecMeta{}, 0, ErrShortBuffer
		}
		flags := data[4]
		return types.CodecMeta{
			Tag: tag,
			VP9: types.VP9Meta{
				Spatial:        data[0],
				Temporal:       data[1],
				PictureID:      binary.BigEndian.Uint16(data[2:4]),
				KeyFrame:       flags&(1<<0) != 0,
				SwitchingPoint: flags&(1<<1) != 0,
				EndFrame:       flags&(1<<2) != 0,
				BeginFrame:     flags&(1<<3) != 0,
				SpatialLayers:  data[5],
			},
		}, 6, nil

	case types.CodecVP8:
		if len(data) < 2 {
			return types.CodecMeta{}, 0, ErrShortBuffer
		}
		flags := data[0]
		return types.CodecMeta{
			Tag: tag,
			VP8: types.VP8Meta{
				KeyFrame:       flags&(1<<0) != 0,
				SwitchingPoint: flags&(1<<1) != 0,
				TID:            data[1],
			},
		}, 2, nil

	case types.CodecH264:
		if len(data) < 2 {
			return types.CodecMeta{}, 0, ErrShortBuffer
		}
		flags := data[0]
		return types.CodecMeta{
			Tag: tag,
			H264: types.H264Meta{
				KeyFrame: flags&(1<<0) != 0,
				EndFrame: flags&(1<<1) != 0,
				TID:      data[1],
			},
		}, 2, nil

	default: // CodecOpus
		return types.CodecMeta{Tag: tag}, 0, nil
	}
}
