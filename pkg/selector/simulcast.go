package selector

import "github.com/flowmesh-io/sfu/pkg/types"

// Simulcast/VP8 selector (§4.2 "Simulcast / VP8"): tracks a current and
// target (spatial, temporal) pair across independently-encoded simulcast
// streams (VP8 TID gives each stream its own temporal scalability).
// Switching up spatial requires a key frame; switching down spatial
// requires a frame boundary (taken as the RTP marker bit, the de facto
// end-of-frame signal for a single simulcast stream; VP8 metadata carries no
// separate "end_frame" field); temporal
// switches gate on switching_point (up) / frame boundary (down), mirroring
// the VP9 rules below so the two variants stay easy to compare.

// simulcastBaseBitrates are the static per-spatial-layer sustain costs;
// reselection always uses this table and does not read MediaPacket.Layers.
var simulcastBaseBitrates = [3]uint32{150_000, 500_000, 1_200_000}

const simulcastBaseBitrate = 60_000 // §4.4 based bitrate floor for simulcast/SVC tracks

func (s *Selector) selectSimulcast(ctx SelectContext, pkt *types.MediaPacket) bool {
	vp8 := pkt.Codec.VP8
	endFrame := pkt.Marker

	cur := s.simulcast.current
	tgt := s.simulcast.target

	if !s.simulcast.haveCurrent {
		if ctx.SourceSpatial != tgt.Spatial {
			return false
		}
		if !vp8.KeyFrame {
			s.queueKeyFrameRequest()
			return false
		}
		s.seqRW.Reinit()
		s.tsRW.Reinit()
		s.simulcast.current = LayerTarget{Spatial: ctx.SourceSpatial, Temporal: ctx.SourceTemporal}
		s.simulcast.haveCurrent = true
		return rewritePacket(s.seqRW, s.tsRW, pkt)
	}

	switch {
	case ctx.SourceSpatial == cur.Spatial:
		if cur.Temporal != tgt.Temporal {
			switch {
			case tgt.Temporal > cur.Temporal && vp8.SwitchingPoint && endFrame:
				cur.Temporal = tgt.Temporal
			case tgt.Temporal < cur.Temporal && endFrame:
				cur.Temporal = tgt.Temporal
			}
			s.simulcast.current = cur
		}

		if int(vp8.TID) > cur.Temporal {
			return false
		}

		return rewritePacket(s.seqRW, s.tsRW, pkt)

	case ctx.SourceSpatial == tgt.Spatial && tgt.Spatial != cur.Spatial:
		if tgt.Spatial > cur.Spatial {
			if !vp8.KeyFrame {
				s.queueKeyFrameRequest()
				return false
			}
		} else if !endFrame {
			return false
		}

		s.seqRW.Reinit()
		s.tsRW.Reinit()
		s.simulcast.current = LayerTarget{Spatial: tgt.Spatial, Temporal: tgt.Temporal}
		return rewritePacket(s.seqRW, s.tsRW, pkt)

	default:
		// Packet from neither the current nor the target layer: ignore.
		return false
	}
}

func (s *Selector) reselectSimulcast() {
	maxSpatial := clamp(s.simulcast.limit.Spatial, 0, 2)

	best := -1
	for spatial := maxSpatial; spatial >= 0; spatial-- {
		if simulcastBaseBitrates[spatial] <= s.targetBitrate || spatial <= s.simulcast.minFloor.Spatial {
			best = spatial
			break
		}
	}

	if best < 0 {
		s.simulcast.paused = true
		s.desiredRate = simulcastBaseBitrates[0]
		return
	}

	s.simulcast.paused = false
	s.simulcast.target = LayerTarget{Spatial: best, Temporal: clamp(s.simulcast.limit.Temporal, 0, 2)}

	if best < 2 {
		s.desiredRate = simulcastBaseBitrates[best+1]
	} else {
		s.desiredRate = uint32(float64(simulcastBaseBitrates[best]) * 1.1)
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
