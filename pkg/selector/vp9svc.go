package selector

import "github.com/flowmesh-io/sfu/pkg/types"

// VP9-SVC selector (§4.2 "VP9-SVC (full and K-SVC)"). Unlike simulcast, all
// spatial/temporal layers of a VP9-SVC publisher travel on a single RTP
// stream; the selector decides, per packet, whether its (spatial, temporal)
// pair belongs to the currently-forwarded layer, is a candidate for an
// in-progress switch, or should be dropped.
//
// KSVC reports whether the source restricts inter-layer prediction to
// keyframes (K-SVC) as opposed to full SVC; it gates the down-spatial
// switch rule (§4.2).
type vp9Mode struct {
	KSVC bool
}

// SetKSVC configures whether this VP9-SVC selector is forwarding a K-SVC or
// full-SVC source. Defaults to full-SVC.
func (s *Selector) SetKSVC(ksvc bool) {
	s.vp9Mode.KSVC = ksvc
}

func (s *Selector) selectVP9(ctx SelectContext, pkt *types.MediaPacket) bool {
	vp9 := pkt.Codec.VP9
	srcS, srcT := int(vp9.Spatial), int(vp9.Temporal)

	if s.simulcast.paused {
		return false
	}

	cur := s.simulcast.current
	tgt := s.simulcast.target

	if !s.simulcast.haveCurrent {
		if srcS != tgt.Spatial {
			return false
		}
		if !vp9.KeyFrame {
			s.queueKeyFrameRequest()
			return false
		}
		s.reinitLayerRewriters()
		s.simulcast.current = LayerTarget{Spatial: srcS, Temporal: srcT}
		s.simulcast.haveCurrent = true
		return s.rewriteVP9(pkt)
	}

	switch {
	case srcS > cur.Spatial:
		if tgt.Spatial > cur.Spatial && srcS == tgt.Spatial {
			if !vp9.KeyFrame {
				s.queueKeyFrameRequest()
				return false
			}
			s.reinitLayerRewriters()
			s.simulcast.current = LayerTarget{Spatial: tgt.Spatial, Temporal: tgt.Temporal}
			return s.rewriteVP9(pkt)
		}
		return false

	case srcS < cur.Spatial:
		if tgt.Spatial < cur.Spatial && srcS == tgt.Spatial {
			if s.vp9Mode.KSVC {
				if !vp9.KeyFrame {
					return false
				}
			} else if !vp9.EndFrame {
				return false
			}
			s.reinitLayerRewriters()
			s.simulcast.current = LayerTarget{Spatial: tgt.Spatial, Temporal: tgt.Temporal}
			return s.rewriteVP9(pkt)
		}
		return false

	default: // srcS == cur.Spatial
		if srcT != cur.Temporal {
			switch {
			case tgt.Temporal > cur.Temporal && srcT == tgt.Temporal && vp9.SwitchingPoint && vp9.EndFrame:
				cur.Temporal = tgt.Temporal
				s.simulcast.current = cur
			case tgt.Temporal < cur.Temporal && srcT == tgt.Temporal && vp9.EndFrame:
				cur.Temporal = tgt.Temporal
				s.simulcast.current = cur
			}
		}

		if srcT > s.simulcast.current.Temporal {
			return false
		}

		return s.rewriteVP9(pkt)
	}
}

func (s *Selector) reinitLayerRewriters() {
	s.seqRW.Reinit()
	s.tsRW.Reinit()
	s.picRW.Reinit()
}

func (s *Selector) rewriteVP9(pkt *types.MediaPacket) bool {
	if !rewritePacket(s.seqRW, s.tsRW, pkt) {
		return false
	}
	pic, ok := s.picRW.Generate(uint64(pkt.Codec.VP9.PictureID))
	if !ok {
		return false
	}
	pkt.Codec.VP9.PictureID = uint16(pic)
	return true
}

// OnLayers records the publisher's latest 3x3 layer bitrate matrix,
// consumed on the next reselect (§3 "layers").
func (s *Selector) OnLayers(m types.LayerMatrix) {
	s.layers = m
}

func (s *Selector) reselectVP9(nowMs int64) {
	s.reselectLayeredSVC()
}

// reselectLayeredSVC implements the shared VP9/H264-SVC layer-picking
// algorithm of §4.2:
//  1. pick the highest-indexed (spatial, temporal) pair under the limit
//     whose rate fits the budget, or that is at/below the configured
//     min floor (the floor can override bandwidth);
//  2. if the budget is below the base layer, pause;
//  3. desired is the next-higher-rate pair, or current*1.1 if at the top.
func (s *Selector) reselectLayeredSVC() {
	maxS := clamp(s.simulcast.limit.Spatial, 0, 2)
	maxT := clamp(s.simulcast.limit.Temporal, 0, 2)

	type candidate struct {
		spatial, temporal int
		rate              uint32
	}

	var ordered []candidate
	for sp := 0; sp <= maxS; sp++ {
		for t := 0; t <= maxT; t++ {
			if s.layers[sp][t] > 0 {
				ordered = append(ordered, candidate{sp, t, s.layers[sp][t]})
			}
		}
	}

	if len(ordered) == 0 {
		s.simulcast.paused = true
		s.desiredRate = simulcastBaseBitrate
		return
	}

	bestIdx := -1
	for i := len(ordered) - 1; i >= 0; i-- {
		c := ordered[i]
		underFloor := c.spatial <= s.simulcast.minFloor.Spatial && c.temporal <= s.simulcast.minFloor.Temporal
		if c.rate <= s.targetBitrate || underFloor {
			bestIdx = i
			break
		}
	}

	baseRate := ordered[0].rate
	if bestIdx == -1 || s.targetBitrate < baseRate {
		s.simulcast.paused = true
		s.desiredRate = baseRate
		return
	}

	s.simulcast.paused = false
	best := ordered[bestIdx]
	s.simulcast.target = LayerTarget{Spatial: best.spatial, Temporal: best.temporal}

	if bestIdx+1 < len(ordered) {
		s.desiredRate = ordered[bestIdx+1].rate
	} else {
		s.desiredRate = uint32(float64(best.rate) * 1.1)
	}
}
