// Package endpoint defines the abstract surface of spec §4.8: the Endpoint
// FSM translates decoded RTP + SDP negotiation outcomes into Room controls,
// and Room output events back into whatever the transport needs. The FSM
// itself (DTLS/ICE/SRTP, SDP negotiation) is an external collaborator per
// §1 — this package only carries the Controls/Events shape the core
// depends on, plus a Mailbox owner-handle implementation usable by tests
// and by cmd/sfu's demo wiring.
//
// Grounded on the teacher's pkg/peer/types.go + pkg/peer/messages.go event
// surface and pkg/peer/connection_wrapper.go owner-handle pattern, trimmed
// to the abstract shape §4.8 names instead of a concrete pion/webrtc
// wrapper.
package endpoint

import (
	"time"

	"github.com/flowmesh-io/sfu/pkg/allocator"
	"github.com/flowmesh-io/sfu/pkg/channel"
	"github.com/flowmesh-io/sfu/pkg/mixer"
	"github.com/flowmesh-io/sfu/pkg/track"
	"github.com/flowmesh-io/sfu/pkg/types"
)

// ConnectTimeout bounds how long a newly-created endpoint may stay without
// a fully established transport before it is dropped (§5 "Cancellation &
// timeouts").
const ConnectTimeout = 10 * time.Second

// ReconnectTimeout bounds how long an endpoint may stay ICE-disconnected
// before it is dropped (§5).
const ReconnectTimeout = 30 * time.Second

// RTPActivityTimeout forcibly disconnects a SIP/RTP transport that has seen
// no two-way RTP activity (§5).
const RTPActivityTimeout = 60 * time.Second

// State is the endpoint's connection lifecycle (§4.8, §5, §7).
type State uint8

const (
	StateConnecting State = iota
	StateConnected
	StateDisconnected // ICE disconnected, within ReconnectTimeout
	StateConnectError // did not establish within ConnectTimeout
	StateClosed       // dropped; room cleanup has run
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateConnectError:
		return "connect_error"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Controls are the events an endpoint produces for the core (§4.8 "Input
// events it produces for the core"). Only the fields grouped under a Kind's
// comment (plus NowMs) are meaningful for that Kind.
type ControlKind uint8

const (
	ControlJoin ControlKind = iota
	ControlLeave
	ControlSubscribePeer
	ControlUnsubscribePeer
	ControlRemoteTrackStarted
	ControlRemoteTrackMedia
	ControlRemoteTrackEnded
	ControlLocalTrackSubscribe
	ControlLocalTrackUnsubscribe
	ControlLocalTrackRequestKeyFrame
	ControlLocalTrackDesiredBitrate
	ControlEstimatedBitrate
)

// Control is one inbound event from an endpoint to its Room (§4.8, §4.7).
type Control struct {
	Kind ControlKind

	// NowMs is the transport's current timestamp, threaded through rather
	// than read from the wall clock so tests can drive the core with a
	// synthetic clock (§5, mirrors pkg/clock.Ticker's nowFn).
	NowMs int64

	// ControlJoin
	Room      types.RoomHash
	Peer      types.PeerID
	Meta      []byte
	Publish   types.PublishFlags
	Subscribe types.SubscribeFlags

	// ControlSubscribePeer / ControlUnsubscribePeer
	TargetPeer types.PeerID

	// ControlRemoteTrack*
	RemoteTrack types.RemoteTrackID
	TrackName   types.TrackName
	TrackMeta   types.TrackMeta
	Pkt         *types.MediaPacket

	// ControlLocalTrack*
	LocalTrack   types.LocalTrackID
	DesiredPeer  types.PeerID
	DesiredTrack types.TrackName
	Bps          uint32

	// ControlEstimatedBitrate
	EstimateBps uint32
}

// EventKind enumerates the events an endpoint must consume from the core
// (§4.8 "Output events it must consume").
type EventKind uint8

const (
	EventPeerJoined EventKind = iota
	EventPeerLeaved
	EventTrackStarted
	EventTrackStopped
	EventLocalTrackMedia
	EventLocalTrackSourceChanged
	EventLocalTrackStatus
	EventLocalTrackVoiceActivity
	EventRemoteTrackRequestKeyFrame
	EventRemoteTrackLimitBitrate
	EventBweConfig
)

// Event is one outbound delivery from the core to an endpoint.
type Event struct {
	Kind EventKind

	Peer      types.PeerID
	PeerInfo  types.PeerInfo
	TrackName types.TrackName
	TrackInfo types.TrackInfo

	LocalTrack types.LocalTrackID
	Pkt        *types.MediaPacket

	RemoteTrack types.RemoteTrackID
	MinBps      uint32
	MaxBps      uint32

	EgressCurrent uint32
	EgressDesired uint32

	// VoiceActivity / Status payloads use Active (and Pkt where relevant); kept as
	// a single variant-ish struct per §9 "tagged variants over trait
	// objects" rather than one type per event.
	Active bool
}

// Mailbox is the copyable owner handle of §3 "Ownership"/§9 "owner handles
// instead of back-pointers": the subscribe layer and directory store
// types.Owner values, and the cluster dispatcher resolves them back to a
// Mailbox to deliver events. Mailbox itself only queues; it never blocks
// the caller (mirrors pkg/worker's non-blocking Send).
type Mailbox struct {
	owner  types.Owner
	events chan Event
}

// NewMailbox constructs a Mailbox for owner with a bounded event queue.
func NewMailbox(owner types.Owner, queueSize int) *Mailbox {
	return &Mailbox{owner: owner, events: make(chan Event, queueSize)}
}

// Owner returns the copyable handle other components store.
func (m *Mailbox) Owner() types.Owner { return m.owner }

// Deliver enqueues ev, dropping it (and returning false) if the mailbox is
// full rather than blocking the Room's event loop (§5 "no locks on the hot
// path", bounded outbox).
func (m *Mailbox) Deliver(ev Event) bool {
	select {
	case m.events <- ev:
		return true
	default:
		return false
	}
}

// Events exposes the delivery channel for the owning transport goroutine to
// drain.
func (m *Mailbox) Events() <-chan Event { return m.events }

// Session bundles the per-endpoint state a Room control handler needs
// beyond the Room itself: its subscribe-layer Subscriber identity, its
// bitrate allocator, and its directory-visible peer id. cmd/sfu's demo
// wiring and tests construct one Session per joined endpoint.
type Session struct {
	Owner     types.Owner
	Peer      types.PeerID
	RoomHash  types.RoomHash
	Allocator *allocator.Allocator
	State     State

	localTracks  map[types.LocalTrackID]channel.Subscriber
	localObjects map[types.LocalTrackID]*track.LocalTrack
	remote       map[types.RemoteTrackID]remoteTrackRef
	remoteObjects map[types.RemoteTrackID]*track.RemoteTrack

	mixer *mixer.Mixer
}

type remoteTrackRef struct {
	peer types.PeerID
	name types.TrackName
}

// NewSession constructs a Session in StateConnecting for owner/peer.
func NewSession(owner types.Owner, peer types.PeerID) *Session {
	return &Session{
		Owner:         owner,
		Peer:          peer,
		Allocator:     allocator.New(),
		State:         StateConnecting,
		localTracks:   make(map[types.LocalTrackID]channel.Subscriber),
		localObjects:  make(map[types.LocalTrackID]*track.LocalTrack),
		remote:        make(map[types.RemoteTrackID]remoteTrackRef),
		remoteObjects: make(map[types.RemoteTrackID]*track.RemoteTrack),
	}
}

// Mixer lazily constructs this endpoint's shared N-slot audio mixer (§4.3)
// on first use, so endpoints that never subscribe to audio never pay for
// one.
func (s *Session) Mixer(slots int) *mixer.Mixer {
	if s.mixer == nil {
		s.mixer = mixer.New(slots, audioLevelFromPacket)
	}
	return s.mixer
}

func audioLevelFromPacket(pkt *types.MediaPacket) (int8, bool) {
	if pkt == nil {
		return 0, false
	}
	return -pkt.AudioLevel, pkt.HasAudioLevel
}

// TrackRemoteTrack records the (peer, track name) a RemoteTrackID maps to,
// so RemoteTrackMedia/RemoteTrackEnded controls (which the transport only
// tags by the small per-endpoint integer) can be translated into the
// directory/channel calls keyed by name (§3 "LocalTrackId/RemoteTrackId are
// per-endpoint small integers").
func (s *Session) TrackRemoteTrack(id types.RemoteTrackID, peer types.PeerID, name types.TrackName) {
	s.remote[id] = remoteTrackRef{peer, name}
}

// ResolveRemoteTrack looks up the (peer, name) a RemoteTrackID was bound to.
func (s *Session) ResolveRemoteTrack(id types.RemoteTrackID) (types.PeerID, types.TrackName, bool) {
	v, ok := s.remote[id]
	return v.peer, v.name, ok
}

// ForgetRemoteTrack drops the RemoteTrackID mapping on RemoteTrackEnded.
func (s *Session) ForgetRemoteTrack(id types.RemoteTrackID) {
	delete(s.remote, id)
}

// BindLocalTrack records which channel.Subscriber identity a LocalTrackID
// resolves to, so LocalTrack controls tagged by the small integer can be
// turned into channel.Subscriber values the subscribe layer (G) expects.
func (s *Session) BindLocalTrack(id types.LocalTrackID, sub channel.Subscriber) {
	s.localTracks[id] = sub
}

// ResolveLocalTrack looks up the channel.Subscriber bound to a LocalTrackID.
func (s *Session) ResolveLocalTrack(id types.LocalTrackID) (channel.Subscriber, bool) {
	sub, ok := s.localTracks[id]
	return sub, ok
}

// UnbindLocalTrack drops the mapping on LocalTrackUnsubscribe.
func (s *Session) UnbindLocalTrack(id types.LocalTrackID) {
	delete(s.localTracks, id)
}

// BindLocalTrackObject records the track.LocalTrack (component D) backing a
// subscribed LocalTrackID, so the allocator and the transport's packet
// delivery path can reach its selector/mixer registration.
func (s *Session) BindLocalTrackObject(id types.LocalTrackID, lt *track.LocalTrack) {
	s.localObjects[id] = lt
}

// ResolveLocalTrackObject looks up the track.LocalTrack bound to a
// LocalTrackID.
func (s *Session) ResolveLocalTrackObject(id types.LocalTrackID) (*track.LocalTrack, bool) {
	lt, ok := s.localObjects[id]
	return lt, ok
}

// UnbindLocalTrackObject drops the mapping on LocalTrackUnsubscribe.
func (s *Session) UnbindLocalTrackObject(id types.LocalTrackID) {
	delete(s.localObjects, id)
}

// BindRemoteTrack records the track.RemoteTrack (component E) backing a
// published RemoteTrackID, so ControlRemoteTrackMedia can reach it without
// the dispatcher re-deriving the channel id on every packet.
func (s *Session) BindRemoteTrack(id types.RemoteTrackID, rt *track.RemoteTrack) {
	s.remoteObjects[id] = rt
}

// ResolveBoundRemoteTrack looks up the track.RemoteTrack bound to a
// RemoteTrackID.
func (s *Session) ResolveBoundRemoteTrack(id types.RemoteTrackID) (*track.RemoteTrack, bool) {
	rt, ok := s.remoteObjects[id]
	return rt, ok
}

// UnbindRemoteTrack drops the mapping on RemoteTrackEnded.
func (s *Session) UnbindRemoteTrack(id types.RemoteTrackID) {
	delete(s.remoteObjects, id)
}

// TickLocalTracks drives every subscribed LocalTrack's per-tick hook
// (selector layer-switch timers, mixer pin maintenance), called by the
// cluster dispatcher once per clock tick alongside the allocator refresh
// (§4.2, §4.3, §5).
func (s *Session) TickLocalTracks(nowMs int64) {
	for _, lt := range s.localObjects {
		lt.OnTick(nowMs)
	}
}
