package selector

import "github.com/flowmesh-io/sfu/pkg/types"

// Single-stream selector: pass-through beyond the shared sequence/timestamp
// rewriter (§4.2 "Single-stream").

const singleBaseBitrate = 80_000 // bps, §4.4 based bitrate for a single stream

func (s *Selector) selectSingle(pkt *types.MediaPacket) bool {
	if s.simulcast.paused {
		return false
	}
	return rewritePacket(s.seqRW, s.tsRW, pkt)
}

func (s *Selector) reselectSingle() {
	s.simulcast.paused = s.targetBitrate < singleBaseBitrate
	s.desiredRate = singleBaseBitrate
}
