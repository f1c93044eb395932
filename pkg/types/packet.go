package types

// CodecTag identifies the codec carried by a MediaPacket (§3, §6).
type CodecTag uint8

const (
	CodecOpus CodecTag = iota
	CodecVP8
	CodecVP9
	CodecH264
)

// LayerMatrix is a fixed 3x3 table of per-(spatial,temporal) layer bitrate
// estimates in bits per second, populated by the publisher for SVC codecs.
// Design note (§9): a small fixed array beats a map keyed by (s, t).
type LayerMatrix [3][3]uint32

// MaxSpatial returns the highest spatial index with at least one non-zero
// temporal rate, or -1 if the matrix is empty.
func (m LayerMatrix) MaxSpatial() int {
	for s := 2; s >= 0; s-- {
		for t := 0; t < 3; t++ {
			if m[s][t] > 0 {
				return s
			}
		}
	}
	return -1
}

// MaxTemporal returns the highest temporal index with a non-zero rate for
// the given spatial layer, or -1 if none is set.
func (m LayerMatrix) MaxTemporal(spatial int) int {
	for t := 2; t >= 0; t-- {
		if m[spatial][t] > 0 {
			return t
		}
	}
	return -1
}

// VP9Meta carries the decoded VP9 scalability fields (§3, §6).
type VP9Meta struct {
	KeyFrame       bool
	Spatial        uint8
	Temporal       uint8
	PictureID      uint16
	SwitchingPoint bool
	EndFrame       bool
	BeginFrame     bool
	SpatialLayers  uint8 // only meaningful when BeginFrame is set
}

// H264Meta carries the scalability fields H.264-SVC needs; layers are keyed
// by temporal id (tid) only, there is no picture-id rewriter (§4.2).
type H264Meta struct {
	KeyFrame bool
	TID      uint8
	EndFrame bool
}

// VP8Meta carries the subset of the VP8 payload descriptor the simulcast
// selector needs.
type VP8Meta struct {
	KeyFrame       bool
	TID            uint8
	SwitchingPoint bool
}

// CodecMeta is the decoded, codec-specific metadata for one packet. Exactly
// one of the embedded structs is meaningful, selected by Tag.
type CodecMeta struct {
	Tag  CodecTag
	VP9  VP9Meta
	VP8  VP8Meta
	H264 H264Meta
}

// MediaPacket is the in-process representation of one RTP-derived packet
// flowing through the room media plane (§3).
type MediaPacket struct {
	SequenceNumber uint16
	Timestamp      uint32
	Marker         bool
	Nackable       bool
	Codec          CodecMeta
	// Layers is populated by the publisher on keyframes/layer reports; nil
	// otherwise.
	Layers  *LayerMatrix
	Payload []byte

	// AudioLevel is the decoded RFC 6464 client-to-mixer audio level
	// (lower = louder), present only when HasAudioLevel is set. Decoded by
	// the transport from the RTP header extension; not part of the §6 wire
	// encoding for MediaPacket (§4.3-EXPANSION).
	AudioLevel    int8
	HasAudioLevel bool

	// ReceivedAt is a local monotonic timestamp (ns); nothing in this module
	// reads it. It is never part of the wire encoding (§6-EXPANSION).
	ReceivedAt int64
}

// Clone returns a shallow copy of the packet with its own payload slice, so
// that fan-out to multiple subscribers never shares a mutable buffer across
// goroutines (§5 "Pub/sub fan-out clones the packet").
func (p *MediaPacket) Clone() *MediaPacket {
	clone := *p
	clone.Payload = make([]byte, len(p.Payload))
	copy(clone.Payload, p.Payload)
	if p.Layers != nil {
		layers := *p.Layers
		clone.Layers = &layers
	}
	return &clone
}
