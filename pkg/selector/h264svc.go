package selector

import "github.com/flowmesh-io/sfu/pkg/types"

// H.264-SVC selector (§4.2 "H.264-SVC"): analogous to the VP9-SVC selector
// but with no picture-id rewriter, and layers keyed purely by temporal id
// (tid) — the pack's H.264-SVC sources in scope for this SFU carry a single
// spatial layer, so the layer matrix's spatial index is always 0 and only
// the temporal dimension is switched. Lacking VP9's explicit
// switching_point flag, both up- and down-temporal switches gate on the
// frame boundary (EndFrame) alone; this is the "analogous" simplification
// spec.md §4.2 calls for rather than inventing a field the wire format
// doesn't carry.
func (s *Selector) selectH264(ctx SelectContext, pkt *types.MediaPacket) bool {
	h264 := pkt.Codec.H264
	srcT := int(h264.TID)

	if s.simulcast.paused {
		return false
	}

	cur := s.simulcast.current
	tgt := s.simulcast.target

	if !s.simulcast.haveCurrent {
		if srcT != tgt.Temporal {
			return false
		}
		if !h264.KeyFrame {
			s.queueKeyFrameRequest()
			return false
		}
		s.seqRW.Reinit()
		s.tsRW.Reinit()
		s.simulcast.current = LayerTarget{Spatial: 0, Temporal: srcT}
		s.simulcast.haveCurrent = true
		return rewritePacket(s.seqRW, s.tsRW, pkt)
	}

	if srcT != cur.Temporal {
		if srcT == tgt.Temporal && h264.EndFrame {
			s.simulcast.current = LayerTarget{Spatial: 0, Temporal: tgt.Temporal}
		} else {
			return false
		}
	}

	if srcT > s.simulcast.current.Temporal {
		return false
	}

	return rewritePacket(s.seqRW, s.tsRW, pkt)
}

func (s *Selector) reselectH264(nowMs int64) {
	s.reselectLayeredSVC()
	s.simulcast.target.Spatial = 0
}
