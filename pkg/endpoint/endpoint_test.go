package endpoint_test

import (
	"testing"

	"github.com/flowmesh-io/sfu/pkg/channel"
	"github.com/flowmesh-io/sfu/pkg/endpoint"
	"github.com/flowmesh-io/sfu/pkg/types"
)

func TestMailboxDeliverDrainNonBlocking(t *testing.T) {
	owner := types.Owner{NodeID: "node-a", Conn: 1}
	mb := endpoint.NewMailbox(owner, 1)

	if mb.Owner() != owner {
		t.Fatalf("owner mismatch")
	}

	if !mb.Deliver(endpoint.Event{Kind: endpoint.EventPeerJoined, Peer: "alice"}) {
		t.Fatalf("first deliver should succeed")
	}
	if mb.Deliver(endpoint.Event{Kind: endpoint.EventPeerJoined, Peer: "bob"}) {
		t.Fatalf("second deliver should drop, queue is full (size 1)")
	}

	ev := <-mb.Events()
	if ev.Peer != "alice" {
		t.Fatalf("expected alice, got %s", ev.Peer)
	}
}

func TestSessionRemoteTrackBinding(t *testing.T) {
	s := endpoint.NewSession(types.Owner{NodeID: "node-a", Conn: 1}, "alice")

	s.TrackRemoteTrack(1, "alice", "cam")
	peer, name, ok := s.ResolveRemoteTrack(1)
	if !ok || peer != "alice" || name != "cam" {
		t.Fatalf("unexpected resolve: %v %v %v", peer, name, ok)
	}

	s.ForgetRemoteTrack(1)
	if _, _, ok := s.ResolveRemoteTrack(1); ok {
		t.Fatalf("expected remote track to be forgotten")
	}
}

func TestSessionLocalTrackBinding(t *testing.T) {
	s := endpoint.NewSession(types.Owner{NodeID: "node-a", Conn: 1}, "alice")
	sub := channel.Subscriber{Endpoint: s.Owner, LocalTrack: 7}

	s.BindLocalTrack(7, sub)
	got, ok := s.ResolveLocalTrack(7)
	if !ok || got != sub {
		t.Fatalf("unexpected bound subscriber: %v %v", got, ok)
	}

	s.UnbindLocalTrack(7)
	if _, ok := s.ResolveLocalTrack(7); ok {
		t.Fatalf("expected local track to be unbound")
	}
}

func TestStateString(t *testing.T) {
	cases := map[endpoint.State]string{
		endpoint.StateConnecting:    "connecting",
		endpoint.StateConnected:     "connected",
		endpoint.StateDisconnected:  "disconnected",
		endpoint.StateConnectError: "connect_error",
		endpoint.StateClosed:        "closed",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Fatalf("state %d: got %q want %q", state, got, want)
		}
	}
}
