package room_test

import (
	"testing"

	"github.com/flowmesh-io/sfu/pkg/channel"
	"github.com/flowmesh-io/sfu/pkg/collab"
	"github.com/flowmesh-io/sfu/pkg/collab/memory"
	"github.com/flowmesh-io/sfu/pkg/directory"
	"github.com/flowmesh-io/sfu/pkg/room"
	"github.com/flowmesh-io/sfu/pkg/types"
)

func newTestRoom(roomID string) (*room.Room, *memory.KVMap, *memory.PubSub) {
	hash := types.HashRoom(roomID)
	kv := memory.NewKVMap("node-a")
	pubsub := memory.NewPubSub("node-a")
	return room.New(hash, kv, pubsub), kv, pubsub
}

func drainKv(r *room.Room, kv *memory.KVMap) {
	for {
		select {
		case ev := <-kv.Events():
			r.OnKvEvent(ev)
		default:
			return
		}
	}
}

func drainPubsub(r *room.Room, pubsub *memory.PubSub) {
	for {
		select {
		case ev := <-pubsub.Events():
			r.OnPubsubEvent(0, ev)
		default:
			return
		}
	}
}

func drainDirectoryEvents(r *room.Room) []directory.Delivered {
	var out []directory.Delivered
	for {
		ev, ok := r.PopDirectoryEvent()
		if !ok {
			return out
		}
		out = append(out, ev)
	}
}

// TestLateSubscriberReplay is scenario 4: A joins and publishes 3 tracks; B
// joins afterwards subscribing to tracks and must see exactly 3
// TrackStarted events before anything else.
func TestLateSubscriberReplay(t *testing.T) {
	r, kv, _ := newTestRoom("room-4")
	a := types.Owner{NodeID: "node-a", Conn: 1}
	b := types.Owner{NodeID: "node-a", Conn: 2}

	r.Join(a, "peer-a", nil, types.PublishFlags{Tracks: true}, types.SubscribeFlags{}, 0)
	r.RemoteTrackStarted(a, "peer-a", "video_main", types.TrackMeta{Kind: types.TrackVideo})
	r.RemoteTrackStarted(a, "peer-a", "video_screen", types.TrackMeta{Kind: types.TrackVideo})
	r.RemoteTrackStarted(a, "peer-a", "audio_main", types.TrackMeta{Kind: types.TrackAudio})
	drainKv(r, kv)
	drainDirectoryEvents(r)

	r.Join(b, "peer-b", nil, types.PublishFlags{}, types.SubscribeFlags{Tracks: true}, 1)
	drainKv(r, kv)

	delivered := drainDirectoryEvents(r)
	if len(delivered) != 3 {
		t.Fatalf("expected exactly 3 TrackStarted replays, got %d (%+v)", len(delivered), delivered)
	}
	for _, d := range delivered {
		if d.Event.Kind != directory.EventTrackStarted {
			t.Fatalf("expected only TrackStarted events, got %+v", d)
		}
		if d.Endpoint != b {
			t.Fatalf("expected replay addressed to B, got %+v", d)
		}
	}
}

// TestLastPeerLeavesOnce is scenario 5: both endpoints leave in sequence;
// LastPeerLeaved fires exactly once, after the second leave.
func TestLastPeerLeavesOnce(t *testing.T) {
	r, kv, _ := newTestRoom("room-5")
	a := types.Owner{NodeID: "node-a", Conn: 1}
	b := types.Owner{NodeID: "node-a", Conn: 2}

	r.Join(a, "peer-a", nil, types.PublishFlags{Peer: true}, types.SubscribeFlags{}, 0)
	r.Join(b, "peer-b", nil, types.PublishFlags{Peer: true}, types.SubscribeFlags{}, 0)
	drainDirectoryEvents(r)

	r.Leave(a)
	drainKv(r, kv)
	for _, d := range drainDirectoryEvents(r) {
		if d.Event.Kind == directory.EventLastPeerLeaved {
			t.Fatal("LastPeerLeaved fired too early")
		}
	}

	r.Leave(b)
	drainKv(r, kv)
	var lastCount int
	for _, d := range drainDirectoryEvents(r) {
		if d.Event.Kind == directory.EventLastPeerLeaved {
			lastCount++
		}
	}
	if lastCount != 1 {
		t.Fatalf("expected LastPeerLeaved exactly once, got %d", lastCount)
	}
}

// TestFeedbackKeyAndBitrateAreConsumedByRoom verifies §4.7's interception
// rule: KEYFRAME and BITRATE feedback from a subscriber never reach the
// pub/sub collaborator as FeedbackAuto; instead they surface as an
// EndpointAction addressed to the publishing endpoint.
func TestFeedbackKeyAndBitrateAreConsumedByRoom(t *testing.T) {
	r, _, pubsub := newTestRoom("room-6")
	publisher := types.Owner{NodeID: "node-a", Conn: 1}
	viewer := types.Owner{NodeID: "node-a", Conn: 2}

	r.RemoteTrackStarted(publisher, "peer-a", "video_main", types.TrackMeta{Kind: types.TrackVideo})
	channelID := types.HashChannel(types.HashRoom("room-6"), "peer-a", "video_main")
	sub := channel.Subscriber{Endpoint: viewer, LocalTrack: 1}
	r.LocalTrackSubscribe(sub, channelID, "peer-a", "video_main")
	drainPubsub(r, pubsub)

	r.LocalTrackRequestKeyFrame(sub, 0)
	r.LocalTrackDesiredBitrate(0, sub, 500_000)

drainLoop:
	for {
		select {
		case ev := <-pubsub.Events():
			if ev.Kind == collab.FeedbackData {
				t.Fatalf("unexpected FeedbackData reaching the collaborator: %+v", ev)
			}
		default:
			break drainLoop
		}
	}

	var sawKeyFrame, sawBitrate bool
	for {
		action, ok := r.PopEndpointAction()
		if !ok {
			break
		}
		if action.Endpoint != publisher || action.TrackName != "video_main" {
			t.Fatalf("unexpected action routing: %+v", action)
		}
		switch action.Kind {
		case room.ActionRequestKeyFrame:
			sawKeyFrame = true
		case room.ActionLimitBitrate:
			sawBitrate = true
			if action.MinBps != 500_000 || action.MaxBps != 500_000 {
				t.Fatalf("unexpected bitrate window: %+v", action)
			}
		}
	}
	if !sawKeyFrame || !sawBitrate {
		t.Fatalf("expected both a RequestKeyFrame and a LimitBitrate action, got key=%v bitrate=%v", sawKeyFrame, sawBitrate)
	}
}

// TestKeyframeRequestCoalescedPerIntervalWindow is scenario 6: five
// subscribers all requesting a keyframe on the same channel within 50ms
// must not turn into five RequestKeyFrame EndpointActions — the publisher
// sees at most one per fb.IntervalMs (1000ms) window. A request just past
// the window must go through again.
func TestKeyframeRequestCoalescedPerIntervalWindow(t *testing.T) {
	r, _, _ := newTestRoom("room-7")
	publisher := types.Owner{NodeID: "node-a", Conn: 1}

	r.RemoteTrackStarted(publisher, "peer-a", "video_main", types.TrackMeta{Kind: types.TrackVideo})
	channelID := types.HashChannel(types.HashRoom("room-7"), "peer-a", "video_main")

	for i := 0; i < 5; i++ {
		viewer := types.Owner{NodeID: "node-a", Conn: uint64(2 + i)}
		sub := channel.Subscriber{Endpoint: viewer, LocalTrack: types.LocalTrackID(i + 1)}
		r.LocalTrackSubscribe(sub, channelID, "peer-a", "video_main")
		r.LocalTrackRequestKeyFrame(sub, int64(i*10)) // five requests within 50ms
	}

	var forwarded int
	for {
		action, ok := r.PopEndpointAction()
		if !ok {
			break
		}
		if action.Kind == room.ActionRequestKeyFrame {
			forwarded++
		}
	}
	if forwarded != 1 {
		t.Fatalf("expected exactly one forwarded RequestKeyFrame within the window, got %d", forwarded)
	}

	// A sixth request arriving after the 1000ms window must go through.
	sub := channel.Subscriber{Endpoint: types.Owner{NodeID: "node-a", Conn: 99}, LocalTrack: 99}
	r.LocalTrackSubscribe(sub, channelID, "peer-a", "video_main")
	r.LocalTrackRequestKeyFrame(sub, 1000)

	forwarded = 0
	for {
		action, ok := r.PopEndpointAction()
		if !ok {
			break
		}
		if action.Kind == room.ActionRequestKeyFrame {
			forwarded++
		}
	}
	if forwarded != 1 {
		t.Fatalf("expected the post-window request to forward, got %d", forwarded)
	}
}
