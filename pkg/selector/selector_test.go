package selector_test

import (
	"testing"

	"github.com/flowmesh-io/sfu/pkg/selector"
	"github.com/flowmesh-io/sfu/pkg/types"
)

func TestSingleSelectorPassesThroughMonotonically(t *testing.T) {
	s := selector.New(selector.KindSingle)
	s.SetTargetBitrate(0, 200_000)

	var last uint16
	for i, seq := range []uint16{1000, 1001, 1002} {
		pkt := &types.MediaPacket{SequenceNumber: seq, Timestamp: uint32(96000 + i*96)}
		if !s.Select(selector.SelectContext{}, 0, 1, pkt) {
			t.Fatalf("expected packet %d to be forwarded", seq)
		}
		if i > 0 && pkt.SequenceNumber <= last {
			t.Fatalf("expected strictly increasing output sequence")
		}
		last = pkt.SequenceNumber
	}
}

func TestSingleSelectorPausesBelowBase(t *testing.T) {
	s := selector.New(selector.KindSingle)
	s.SetTargetBitrate(0, 1000)

	pkt := &types.MediaPacket{SequenceNumber: 1, Timestamp: 1}
	if s.Select(selector.SelectContext{}, 0, 1, pkt) {
		t.Fatal("expected selector to pause below the base bitrate")
	}
}

func vp9Layers() types.LayerMatrix {
	return types.LayerMatrix{
		{100_000, 150_000, 200_000},
		{200_000, 300_000, 400_000},
		{400_000, 600_000, 800_000},
	}
}

func TestVP9BandwidthDropStepsDownTemporalThenSpatial(t *testing.T) {
	s := selector.New(selector.KindVP9SVC)
	s.OnLayers(vp9Layers())
	s.SetTargetBitrate(0, 1_000_000)

	top := s.TargetLayer()
	if top.Spatial != 2 || top.Temporal != 2 {
		t.Fatalf("expected selector to settle at (2,2), got %+v", top)
	}

	// Bootstrap the selector with a keyframe at the top layer.
	pkt := &types.MediaPacket{
		SequenceNumber: 1,
		Timestamp:      1000,
		Codec: types.CodecMeta{
			Tag: types.CodecVP9,
			VP9: types.VP9Meta{KeyFrame: true, Spatial: 2, Temporal: 2},
		},
	}
	if !s.Select(selector.SelectContext{}, 0, 1, pkt) {
		t.Fatal("expected the bootstrap keyframe to be forwarded")
	}

	// Drop the estimate drastically.
	s.SetTargetBitrate(0, 100_000)

	target := s.TargetLayer()
	if target.Spatial != 0 || target.Temporal != 0 {
		t.Fatalf("expected target to drop to base layer, got %+v", target)
	}

	// A same-spatial-layer packet with end_frame should step temporal down
	// first, without requiring a keyframe.
	stepDown := &types.MediaPacket{
		SequenceNumber: 2,
		Timestamp:      1096,
		Codec: types.CodecMeta{
			Tag: types.CodecVP9,
			VP9: types.VP9Meta{Spatial: 2, Temporal: 0, EndFrame: true},
		},
	}
	if !s.Select(selector.SelectContext{}, 0, 1, stepDown) {
		t.Fatal("expected temporal step-down packet to be forwarded")
	}

	// Spatial can only drop on a key frame (full-SVC: on end_frame) at the
	// target spatial layer.
	spatialStepNoKey := &types.MediaPacket{
		SequenceNumber: 3,
		Timestamp:      1192,
		Codec: types.CodecMeta{
			Tag: types.CodecVP9,
			VP9: types.VP9Meta{Spatial: 0, Temporal: 0, EndFrame: false},
		},
	}
	if s.Select(selector.SelectContext{}, 0, 1, spatialStepNoKey) {
		t.Fatal("expected spatial drop to be gated on the frame boundary")
	}

	spatialStep := &types.MediaPacket{
		SequenceNumber: 4,
		Timestamp:      1288,
		Codec: types.CodecMeta{
			Tag: types.CodecVP9,
			VP9: types.VP9Meta{Spatial: 0, Temporal: 0, EndFrame: true},
		},
	}
	if !s.Select(selector.SelectContext{}, 0, 1, spatialStep) {
		t.Fatal("expected spatial drop to be forwarded once the frame boundary arrives")
	}

	if s.CurrentLayer().Spatial != 0 {
		t.Fatalf("expected current layer to settle at spatial 0, got %+v", s.CurrentLayer())
	}
}

func TestVP9PausesBelowBaseLayer(t *testing.T) {
	s := selector.New(selector.KindVP9SVC)
	s.OnLayers(vp9Layers())
	s.SetTargetBitrate(0, 10_000)

	if !s.Paused() {
		t.Fatal("expected selector to pause when budget is below the base layer")
	}
}
