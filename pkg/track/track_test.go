package track_test

import (
	"testing"

	"github.com/flowmesh-io/sfu/pkg/mixer"
	"github.com/flowmesh-io/sfu/pkg/selector"
	"github.com/flowmesh-io/sfu/pkg/track"
	"github.com/flowmesh-io/sfu/pkg/types"
)

type fakePublisher struct {
	published []*types.MediaPacket
	keyframes int
}

func (f *fakePublisher) Publish(channel types.ChannelID, pkt *types.MediaPacket) {
	f.published = append(f.published, pkt)
}

func (f *fakePublisher) RequestKeyFrame(channel types.ChannelID) {
	f.keyframes++
}

func TestRemoteTrackForwardsPackets(t *testing.T) {
	pub := &fakePublisher{}
	info := types.TrackInfo{PeerID: "A", TrackName: "audio_main"}
	rt := track.NewRemoteTrack(42, info, pub)

	pkt := &types.MediaPacket{SequenceNumber: 1000, Timestamp: 96000}
	rt.OnPacket(pkt)

	if len(pub.published) != 1 || pub.published[0] != pkt {
		t.Fatalf("expected the packet to be forwarded to the publisher, got %+v", pub.published)
	}

	rt.RequestKeyFrame()
	if pub.keyframes != 1 {
		t.Fatalf("expected one keyframe request, got %d", pub.keyframes)
	}
}

func TestRemoteTrackRecordsLayers(t *testing.T) {
	rt := track.NewRemoteTrack(1, types.TrackInfo{}, &fakePublisher{})
	m := types.LayerMatrix{{100_000, 150_000, 200_000}}
	rt.OnLayers(m)

	if rt.Layers() != m {
		t.Fatalf("expected OnLayers to be recorded")
	}
	if rt.Info.Meta.LayerMatrix == nil || *rt.Info.Meta.LayerMatrix != m {
		t.Fatal("expected TrackInfo.Meta.LayerMatrix to reflect the latest report")
	}
}

func TestVideoLocalTrackDispatchesToSelector(t *testing.T) {
	lt := track.NewVideoLocalTrack(1, selector.KindSingle)
	lt.SetTargetBitrate(0, 200_000)

	pkt := &types.MediaPacket{SequenceNumber: 10, Timestamp: 96000}
	if !lt.OnPacket(selector.SelectContext{}, 0, pkt) {
		t.Fatal("expected the single-stream selector to forward the packet")
	}
}

func TestAudioLocalTrackFeedsSharedMixer(t *testing.T) {
	m := mixer.New(1, func(pkt *types.MediaPacket) (int8, bool) {
		return int8(pkt.Payload[0]), true
	})

	a := track.NewAudioLocalTrack(0, 1, "A", m)
	_ = track.NewAudioLocalTrack(0, 2, "B", m)

	events := a.PushAudio(0, &types.MediaPacket{Payload: []byte{5}})

	var sawOutput bool
	for _, e := range events {
		if e.Kind == mixer.EventOutputSlotPkt {
			sawOutput = true
		}
	}
	if !sawOutput {
		t.Fatalf("expected A (pinned on AddSource) to produce an output event, got %+v", events)
	}

	closeEvents := a.Close(0)
	var sawUnpin bool
	for _, e := range closeEvents {
		if e.Kind == mixer.EventSlotUnpinned {
			sawUnpin = true
		}
	}
	if !sawUnpin {
		t.Fatalf("expected closing the pinned audio track to unpin it, got %+v", closeEvents)
	}
}
