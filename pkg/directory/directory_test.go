package directory_test

import (
	"testing"

	"github.com/flowmesh-io/sfu/pkg/collab"
	"github.com/flowmesh-io/sfu/pkg/directory"
	"github.com/flowmesh-io/sfu/pkg/types"
)

// fakeKV is a synchronous, always-delivering KV map double: every Dispatch
// is immediately visible as an Event, regardless of MapSub/MapUnsub state.
// The gating behavior of a real subscription is covered by
// pkg/collab/memory's own tests; these tests exercise the Directory's event
// shaping, not collaborator delivery semantics.
type fakeKV struct {
	events []collab.MapEvent
}

func (k *fakeKV) Dispatch(cmd collab.MapCmd) {
	switch cmd.Kind {
	case collab.MapSet:
		k.events = append(k.events, collab.MapEvent{MapID: cmd.MapID, Kind: collab.MapOnSet, Key: cmd.Key, Value: cmd.Value})
	case collab.MapDel:
		k.events = append(k.events, collab.MapEvent{MapID: cmd.MapID, Kind: collab.MapOnDel, Key: cmd.Key})
	}
}

func (k *fakeKV) Events() <-chan collab.MapEvent { panic("unused: drained via drain()") }

func (k *fakeKV) drain() []collab.MapEvent {
	out := k.events
	k.events = nil
	return out
}

func drainDeliveries(d *directory.Directory) []directory.Delivered {
	var out []directory.Delivered
	for {
		ev, ok := d.PopDelivery()
		if !ok {
			return out
		}
		out = append(out, ev)
	}
}

func ownerA() types.Owner { return types.Owner{NodeID: "n1", Conn: 1} }
func ownerB() types.Owner { return types.Owner{NodeID: "n1", Conn: 2} }

func TestJoinReplaysExistingPeersAndTracksToLateSubscriber(t *testing.T) {
	kv := &fakeKV{}
	room := types.HashRoom("room-1")
	d := directory.New(room, kv)

	// A joins publishing peer identity and a track; nobody subscribed yet.
	d.Join(ownerA(), "peer-a", nil, types.PublishFlags{Peer: true, Tracks: true}, types.SubscribeFlags{}, 1000)
	d.TrackPublish(ownerA(), "video_main", types.TrackMeta{Kind: types.TrackVideo, Label: "camera"})
	if len(drainDeliveries(d)) != 0 {
		t.Fatal("expected no deliveries before any subscriber joins")
	}
	kv.drain()

	// B joins later, subscribing to both peers and tracks: it must see A's
	// already-published peer record and track as an immediate replay.
	d.Join(ownerB(), "peer-b", nil, types.PublishFlags{}, types.SubscribeFlags{Peers: true, Tracks: true}, 2000)

	delivered := drainDeliveries(d)
	var sawPeer, sawTrack bool
	for _, del := range delivered {
		if del.Endpoint != ownerB() {
			t.Fatalf("unexpected delivery target: %+v", del)
		}
		switch del.Event.Kind {
		case directory.EventPeerJoined:
			if del.Event.Peer.PeerID != "peer-a" {
				t.Fatalf("unexpected peer replay: %+v", del.Event.Peer)
			}
			sawPeer = true
		case directory.EventTrackStarted:
			if del.Event.Track.TrackName != "video_main" {
				t.Fatalf("unexpected track replay: %+v", del.Event.Track)
			}
			sawTrack = true
		}
	}
	if !sawPeer || !sawTrack {
		t.Fatalf("expected replay of both peer and track, got %+v", delivered)
	}
}

func TestLeaveDeliversExactlyOnePeerLeftToSubscriber(t *testing.T) {
	kv := &fakeKV{}
	room := types.HashRoom("room-1")
	d := directory.New(room, kv)

	d.Join(ownerA(), "peer-a", nil, types.PublishFlags{Peer: true}, types.SubscribeFlags{}, 1000)
	d.Join(ownerB(), "peer-b", nil, types.PublishFlags{}, types.SubscribeFlags{Peers: true}, 1000)
	drainDeliveries(d)
	kv.drain()

	d.Leave(ownerA())
	for _, ev := range kv.drain() {
		d.OnKvEvent(ev)
	}

	delivered := drainDeliveries(d)
	var leftCount int
	for _, del := range delivered {
		if del.Event.Kind == directory.EventPeerLeft {
			if del.Event.Peer.PeerID != "peer-a" {
				t.Fatalf("unexpected left peer id: %+v", del.Event.Peer)
			}
			if del.Endpoint != ownerB() {
				t.Fatalf("unexpected delivery target: %+v", del)
			}
			leftCount++
		}
	}
	if leftCount != 1 {
		t.Fatalf("expected exactly one PeerLeft delivery, got %d (%+v)", leftCount, delivered)
	}
	if d.PeerCount() != 0 {
		t.Fatalf("expected peer cache to be empty after leave, got %d", d.PeerCount())
	}
}

func TestTrackStopDeliversTrackStoppedToSubscriber(t *testing.T) {
	kv := &fakeKV{}
	room := types.HashRoom("room-1")
	d := directory.New(room, kv)

	d.Join(ownerA(), "peer-a", nil, types.PublishFlags{Tracks: true}, types.SubscribeFlags{}, 1000)
	d.Join(ownerB(), "peer-b", nil, types.PublishFlags{}, types.SubscribeFlags{Tracks: true}, 1000)
	drainDeliveries(d)
	kv.drain()

	d.TrackPublish(ownerA(), "audio_main", types.TrackMeta{Kind: types.TrackAudio})
	for _, ev := range kv.drain() {
		d.OnKvEvent(ev)
	}
	drainDeliveries(d)

	d.TrackStop(ownerA(), "audio_main")
	for _, ev := range kv.drain() {
		d.OnKvEvent(ev)
	}

	delivered := drainDeliveries(d)
	var stopped bool
	for _, del := range delivered {
		if del.Event.Kind == directory.EventTrackStopped {
			if del.Event.Track.TrackName != "audio_main" || del.Event.Track.PeerID != "peer-a" {
				t.Fatalf("unexpected stopped track: %+v", del.Event.Track)
			}
			stopped = true
		}
	}
	if !stopped {
		t.Fatalf("expected a TrackStopped delivery, got %+v", delivered)
	}
}

func TestLastPeerLeavedFiresOnlyWhenRoomEmpties(t *testing.T) {
	kv := &fakeKV{}
	room := types.HashRoom("room-1")
	d := directory.New(room, kv)

	d.Join(ownerA(), "peer-a", nil, types.PublishFlags{Peer: true}, types.SubscribeFlags{}, 1000)
	d.Join(ownerB(), "peer-b", nil, types.PublishFlags{Peer: true}, types.SubscribeFlags{}, 1000)
	drainDeliveries(d)

	d.Leave(ownerA())
	for _, del := range drainDeliveries(d) {
		if del.Event.Kind == directory.EventLastPeerLeaved {
			t.Fatal("LastPeerLeaved fired with a peer still joined")
		}
	}

	d.Leave(ownerB())
	var sawLast bool
	for _, del := range drainDeliveries(d) {
		if del.Event.Kind == directory.EventLastPeerLeaved {
			sawLast = true
		}
	}
	if !sawLast {
		t.Fatal("expected LastPeerLeaved once the room empties")
	}
}

func TestSubscribePeerReplaysTargetsTracksOnly(t *testing.T) {
	kv := &fakeKV{}
	room := types.HashRoom("room-1")
	d := directory.New(room, kv)

	d.Join(ownerA(), "peer-a", nil, types.PublishFlags{Tracks: true}, types.SubscribeFlags{}, 1000)
	d.Join(ownerB(), "peer-b", nil, types.PublishFlags{Tracks: true}, types.SubscribeFlags{}, 1000)
	d.TrackPublish(ownerA(), "video_main", types.TrackMeta{Kind: types.TrackVideo})
	d.TrackPublish(ownerB(), "video_main", types.TrackMeta{Kind: types.TrackVideo})
	drainDeliveries(d)

	third := types.Owner{NodeID: "n1", Conn: 3}
	d.SubscribePeer(third, "peer-a")

	delivered := drainDeliveries(d)
	if len(delivered) != 1 {
		t.Fatalf("expected exactly one replayed track for peer-a, got %+v", delivered)
	}
	if delivered[0].Event.Track.PeerID != "peer-a" {
		t.Fatalf("expected replay scoped to peer-a, got %+v", delivered[0])
	}
}
