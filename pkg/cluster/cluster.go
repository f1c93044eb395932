// Package cluster implements the cluster dispatcher of spec §4.9: it maps
// connection owners to rooms, routes endpoint controls to the right Room,
// drives the KV+pub/sub collaborator, and exposes OnTick (which cmd/sfu
// calls from a pkg/clock ticker) to drive allocator/mixer/selector on_tick
// across every room it hosts.
//
// Grounded on the teacher's top-level conference registry (pkg/routing
// router.go's conferenceSinks map and focus.go's confs registry),
// generalized from a single Matrix-room conference registry to the
// room-hash-keyed, KV/pub-sub-driven dispatcher spec.md §4.9 calls for.
package cluster

import (
	"fmt"
	"sync"
	"time"

	"github.com/flowmesh-io/sfu/pkg/allocator"
	"github.com/flowmesh-io/sfu/pkg/channel"
	"github.com/flowmesh-io/sfu/pkg/collab"
	"github.com/flowmesh-io/sfu/pkg/directory"
	"github.com/flowmesh-io/sfu/pkg/endpoint"
	"github.com/flowmesh-io/sfu/pkg/room"
	"github.com/flowmesh-io/sfu/pkg/selector"
	"github.com/flowmesh-io/sfu/pkg/track"
	"github.com/flowmesh-io/sfu/pkg/types"
	"github.com/flowmesh-io/sfu/pkg/worker"
)

// keyframeForwardQueueSize bounds the dispatcher's keyframe-forward worker
// (§5, §8 scenario 6): each room's interval-window gate already admits at
// most one RequestKeyFrame per channel per window, so this only needs
// headroom for concurrent channels across a tick, not per-request bursts.
const keyframeForwardQueueSize = 64

// keyframeForward is one already-coalesced RequestKeyFrame delivery, queued
// onto kf so the forwarding hop to the publisher's Mailbox never blocks the
// dispatcher's own tick goroutine.
type keyframeForward struct {
	mb        *endpoint.Mailbox
	trackName types.TrackName
}

// MixerSlots is the default N-slot count the dispatcher gives each new
// endpoint's shared audio mixer (§4.3). pkg/config has no setting for it;
// every dispatcher uses this constant.
const MixerSlots = 3

// AudioLevelExtractor decodes the RFC 6464 audio level from a MediaPacket's
// payload-adjacent extension; the core treats it as already decoded into
// CodecMeta by the transport, so this default extractor reads a level
// stashed in the first byte of Payload when present (demo/test wiring only —
// a production transport extracts the RTP header extension itself and
// calls PushAudio with the level already resolved via mixer.Extractor).
func AudioLevelExtractor(pkt *types.MediaPacket) (int8, bool) {
	if len(pkt.Payload) == 0 {
		return 0, false
	}
	return int8(pkt.Payload[0]), true
}

// roomEntry bundles a Room with how many sessions currently reference it,
// so the dispatcher knows when to destroy it.
type roomEntry struct {
	room    *room.Room
	members map[types.Owner]struct{}
}

// Dispatcher is the per-node cluster dispatcher of §4.9. Like Room, it is
// owned by exactly one worker's event loop (§5) and holds no locks around
// its hot-path state. Two things deliberately cross that goroutine
// boundary: NodeHealth, guarded by its own RWMutex (§5 "off the media
// path"), and kf, the pkg/worker-backed keyframe-forward queue, which never
// touches Dispatcher's own state (see kf's doc below).
type Dispatcher struct {
	nodeID string
	kv     collab.KVMap
	pubsub collab.PubSub

	rooms     map[types.RoomHash]*roomEntry
	ownerRoom map[types.Owner]types.RoomHash
	sessions  map[types.Owner]*endpoint.Session
	mailboxes map[types.Owner]*endpoint.Mailbox

	health *NodeHealth

	// kf decouples the scenario 6 keyframe-forward hop (already deduped by
	// the owning Room's interval-window gate) from the dispatcher's own
	// tick goroutine (§5; pkg/worker's documented "CPU-bound side channel"
	// use). Its OnTask only ever touches the *endpoint.Mailbox captured at
	// Send time — never d.mailboxes itself — so it never races the
	// dispatcher's own unsynchronized maps.
	kf *worker.Worker[keyframeForward]
}

// New constructs a Dispatcher for nodeID, backed by kv and pubsub — the two
// external collaborators of §6, shared across every room this node hosts
// (map/channel ids already embed the room hash, so one pair of
// collaborator handles per node suffices; see DESIGN.md).
func New(nodeID string, kv collab.KVMap, pubsub collab.PubSub) *Dispatcher {
	return &Dispatcher{
		nodeID:    nodeID,
		kv:        kv,
		pubsub:    pubsub,
		rooms:     make(map[types.RoomHash]*roomEntry),
		ownerRoom: make(map[types.Owner]types.RoomHash),
		sessions:  make(map[types.Owner]*endpoint.Session),
		mailboxes: make(map[types.Owner]*endpoint.Mailbox),
		health:    NewNodeHealth(),
		kf: worker.Start(worker.Config[keyframeForward]{
			ChannelSize: keyframeForwardQueueSize,
			Timeout:     time.Hour,
			OnTimeout:   func() {},
			OnTask: func(f keyframeForward) {
				f.mb.Deliver(endpoint.Event{Kind: endpoint.EventRemoteTrackRequestKeyFrame, TrackName: f.trackName})
			},
		}),
	}
}

// Close stops the dispatcher's keyframe-forward worker. Call once, on node
// shutdown.
func (d *Dispatcher) Close() {
	d.kf.Stop()
}

// Health exposes the node-health snapshot (§5 "console snapshot of node
// health").
func (d *Dispatcher) Health() *NodeHealth { return d.health }

// RegisterEndpoint creates a Mailbox for owner so the dispatcher can deliver
// output events to it once the endpoint joins a room. Call once per new
// transport connection, before the first Dispatch call for that owner.
func (d *Dispatcher) RegisterEndpoint(owner types.Owner, mailboxSize int) *endpoint.Mailbox {
	mb := endpoint.NewMailbox(owner, mailboxSize)
	d.mailboxes[owner] = mb
	return mb
}

func (d *Dispatcher) getOrCreateRoom(hash types.RoomHash) *roomEntry {
	entry, ok := d.rooms[hash]
	if ok {
		return entry
	}
	entry = &roomEntry{
		room:    room.New(hash, d.kv, d.pubsub),
		members: make(map[types.Owner]struct{}),
	}
	d.rooms[hash] = entry
	return entry
}

// Dispatch routes one endpoint control (§4.8) to the owner's room, or — for
// ControlJoin — to the room named in ctrl.Room, creating it on demand.
// Returns false if the owner has no registered session for a control that
// requires one (protocol error per §7; the caller should surface this as a
// 4xx at the signaling layer, not crash the dispatcher).
func (d *Dispatcher) Dispatch(owner types.Owner, ctrl endpoint.Control) bool {
	if ctrl.Kind == endpoint.ControlJoin {
		entry := d.getOrCreateRoom(ctrl.Room)
		sess := endpoint.NewSession(owner, ctrl.Peer)
		sess.RoomHash = ctrl.Room
		sess.State = endpoint.StateConnected
		d.sessions[owner] = sess
		d.ownerRoom[owner] = ctrl.Room
		entry.members[owner] = struct{}{}
		entry.room.Join(owner, ctrl.Peer, ctrl.Meta, ctrl.Publish, ctrl.Subscribe, ctrl.NowMs)
		d.drainRoom(ctrl.Room, entry)
		return true
	}

	hash, ok := d.ownerRoom[owner]
	if !ok {
		return false
	}
	entry := d.rooms[hash]
	sess := d.sessions[owner]
	if entry == nil || sess == nil {
		return false
	}
	r := entry.room

	switch ctrl.Kind {
	case endpoint.ControlLeave:
		r.Leave(owner)
		d.destroySession(owner)
	case endpoint.ControlSubscribePeer:
		r.SubscribePeer(owner, ctrl.TargetPeer)
	case endpoint.ControlUnsubscribePeer:
		r.UnsubscribePeer(owner, ctrl.TargetPeer)
	case endpoint.ControlRemoteTrackStarted:
		d.onRemoteTrackStarted(r, sess, ctrl)
	case endpoint.ControlRemoteTrackMedia:
		d.onRemoteTrackMedia(sess, ctrl)
	case endpoint.ControlRemoteTrackEnded:
		d.onRemoteTrackEnded(r, sess, ctrl)
	case endpoint.ControlLocalTrackSubscribe:
		d.onLocalTrackSubscribe(r, sess, ctrl)
	case endpoint.ControlLocalTrackUnsubscribe:
		d.onLocalTrackUnsubscribe(r, sess, ctrl)
	case endpoint.ControlLocalTrackRequestKeyFrame:
		if sub, ok := sess.ResolveLocalTrack(ctrl.LocalTrack); ok {
			r.LocalTrackRequestKeyFrame(sub, ctrl.NowMs)
		}
	case endpoint.ControlLocalTrackDesiredBitrate:
		if sub, ok := sess.ResolveLocalTrack(ctrl.LocalTrack); ok {
			r.LocalTrackDesiredBitrate(ctrl.NowMs, sub, ctrl.Bps)
		}
	case endpoint.ControlEstimatedBitrate:
		sess.Allocator.SetEstimatedBitrate(ctrl.NowMs, ctrl.EstimateBps)
		d.drainAllocator(sess)
	default:
		return false
	}

	d.drainRoom(hash, entry)
	return true
}

func (d *Dispatcher) onRemoteTrackStarted(r *room.Room, sess *endpoint.Session, ctrl endpoint.Control) {
	sess.TrackRemoteTrack(ctrl.RemoteTrack, ctrl.Peer, ctrl.TrackName)
	channelID := types.HashChannel(sess.RoomHash, ctrl.Peer, ctrl.TrackName)
	rt := track.NewRemoteTrack(channelID, types.TrackInfo{PeerID: ctrl.Peer, TrackName: ctrl.TrackName, Meta: ctrl.TrackMeta}, &roomPublisher{
		room: r, peer: ctrl.Peer, track: ctrl.TrackName, mailbox: d.mailboxes[sess.Owner], remoteID: ctrl.RemoteTrack,
	})
	sess.BindRemoteTrack(ctrl.RemoteTrack, rt)
	r.RemoteTrackStarted(sess.Owner, ctrl.Peer, ctrl.TrackName, ctrl.TrackMeta)
}

// roomPublisher adapts a Room (component I) to track.Publisher (the
// interface component E's RemoteTrack forwards packets/keyframe requests
// through), so the cluster dispatcher can wire E directly into the Room it
// owns without E importing pkg/room (component order: I depends on E, not
// the reverse).
type roomPublisher struct {
	room     *room.Room
	peer     types.PeerID
	track    types.TrackName
	mailbox  *endpoint.Mailbox
	remoteID types.RemoteTrackID
}

func (a *roomPublisher) Publish(_ types.ChannelID, pkt *types.MediaPacket) {
	a.room.RemoteTrackMedia(a.peer, a.track, pkt)
}

func (a *roomPublisher) RequestKeyFrame(_ types.ChannelID) {
	if a.mailbox == nil {
		return
	}
	a.mailbox.Deliver(endpoint.Event{Kind: endpoint.EventRemoteTrackRequestKeyFrame, RemoteTrack: a.remoteID})
}

func (d *Dispatcher) onRemoteTrackMedia(sess *endpoint.Session, ctrl endpoint.Control) {
	if rt, ok := sess.ResolveBoundRemoteTrack(ctrl.RemoteTrack); ok {
		rt.OnPacket(ctrl.Pkt)
	}
}

func (d *Dispatcher) onRemoteTrackEnded(r *room.Room, sess *endpoint.Session, ctrl endpoint.Control) {
	peer, name, ok := sess.ResolveRemoteTrack(ctrl.RemoteTrack)
	if !ok {
		return
	}
	r.RemoteTrackEnded(sess.Owner, peer, name)
	sess.ForgetRemoteTrack(ctrl.RemoteTrack)
	sess.UnbindRemoteTrack(ctrl.RemoteTrack)
}

// selectorKindFor picks the packet-selector variant for a subscribed
// track's advertised scalability metadata (§4.2, §9 "tagged variants").
func selectorKindFor(meta types.TrackMeta) (selector.Kind, bool) {
	if meta.Kind != types.TrackVideo {
		return 0, false
	}
	if meta.LayerMatrix == nil {
		return selector.KindSingle, true
	}
	switch meta.Scalability {
	case types.CodecVP9:
		return selector.KindVP9SVC, true
	case types.CodecH264:
		return selector.KindH264SVC, true
	case types.CodecVP8:
		return selector.KindVP8, true
	default:
		return selector.KindSimulcast, true
	}
}

func (d *Dispatcher) onLocalTrackSubscribe(r *room.Room, sess *endpoint.Session, ctrl endpoint.Control) {
	channelID := types.HashChannel(sess.RoomHash, ctrl.DesiredPeer, ctrl.DesiredTrack)
	sub := channel.Subscriber{Endpoint: sess.Owner, LocalTrack: ctrl.LocalTrack}
	sess.BindLocalTrack(ctrl.LocalTrack, sub)

	info, _ := r.LookupTrack(ctrl.DesiredPeer, ctrl.DesiredTrack)

	var lt *track.LocalTrack
	if kind, ok := selectorKindFor(info.Meta); ok {
		lt = track.NewVideoLocalTrack(channelID, kind)
		sess.Allocator.AddTrack(&allocator.TrackSlot{ID: ctrl.LocalTrack, Priority: 1, Sel: lt.Selector(), HasSource: true})
	} else {
		sourceID := fmt.Sprintf("%s:%d/%d", sub.Endpoint.NodeID, sub.Endpoint.Conn, sub.LocalTrack)
		lt = track.NewAudioLocalTrack(ctrl.NowMs, channelID, sourceID, sess.Mixer(MixerSlots))
		sess.Allocator.AddTrack(&allocator.TrackSlot{ID: ctrl.LocalTrack, Priority: 1, HasSource: true})
	}
	sess.BindLocalTrackObject(ctrl.LocalTrack, lt)

	r.LocalTrackSubscribe(sub, channelID, ctrl.DesiredPeer, ctrl.DesiredTrack)
}

func (d *Dispatcher) onLocalTrackUnsubscribe(r *room.Room, sess *endpoint.Session, ctrl endpoint.Control) {
	sub, ok := sess.ResolveLocalTrack(ctrl.LocalTrack)
	if !ok {
		return
	}
	if lt, ok := sess.ResolveLocalTrackObject(ctrl.LocalTrack); ok {
		lt.Close(ctrl.NowMs)
	}
	r.LocalTrackUnsubscribe(sub)
	sess.Allocator.RemoveTrack(ctrl.LocalTrack)
	sess.UnbindLocalTrack(ctrl.LocalTrack)
	sess.UnbindLocalTrackObject(ctrl.LocalTrack)
}

func (d *Dispatcher) destroySession(owner types.Owner) {
	hash, ok := d.ownerRoom[owner]
	if !ok {
		return
	}
	if entry, ok := d.rooms[hash]; ok {
		delete(entry.members, owner)
	}
	delete(d.ownerRoom, owner)
	delete(d.sessions, owner)
	delete(d.mailboxes, owner)
}

// drainRoom pumps every pending directory/channel delivery and
// consumed-feedback action out of a Room into the owning endpoints'
// mailboxes, and destroys the Room once it reports LastPeerLeaved (§4.6,
// §4.9).
func (d *Dispatcher) drainRoom(hash types.RoomHash, entry *roomEntry) {
	destroy := false

	for {
		delivered, ok := entry.room.PopDirectoryEvent()
		if !ok {
			break
		}
		d.deliverDirectory(delivered)
		if delivered.Event.Kind == directory.EventLastPeerLeaved {
			destroy = true
		}
	}

	for {
		delivered, ok := entry.room.PopChannelEvent()
		if !ok {
			break
		}
		d.deliverChannel(delivered)
	}

	for {
		action, ok := entry.room.PopEndpointAction()
		if !ok {
			break
		}
		d.deliverEndpointAction(action)
	}

	if destroy {
		for owner := range entry.members {
			delete(d.ownerRoom, owner)
			delete(d.sessions, owner)
		}
		delete(d.rooms, hash)
	}
}

// deliverDirectory translates one directory.Delivered into the matching
// endpoint.Event and hands it to the addressed endpoint's Mailbox (§4.6 via
// §4.8).
func (d *Dispatcher) deliverDirectory(delivered directory.Delivered) {
	mb, ok := d.mailboxes[delivered.Endpoint]
	if !ok {
		return
	}
	switch delivered.Event.Kind {
	case directory.EventPeerJoined:
		mb.Deliver(endpoint.Event{Kind: endpoint.EventPeerJoined, Peer: delivered.Event.Peer.PeerID, PeerInfo: delivered.Event.Peer})
	case directory.EventPeerLeft:
		mb.Deliver(endpoint.Event{Kind: endpoint.EventPeerLeaved, Peer: delivered.Event.Peer.PeerID, PeerInfo: delivered.Event.Peer})
	case directory.EventTrackStarted:
		mb.Deliver(endpoint.Event{Kind: endpoint.EventTrackStarted, Peer: delivered.Event.Track.PeerID, TrackName: delivered.Event.Track.TrackName, TrackInfo: delivered.Event.Track})
	case directory.EventTrackStopped:
		mb.Deliver(endpoint.Event{Kind: endpoint.EventTrackStopped, Peer: delivered.Event.Track.PeerID, TrackName: delivered.Event.Track.TrackName, TrackInfo: delivered.Event.Track})
	case directory.EventLastPeerLeaved:
		// Consumed by drainRoom to destroy the room; no per-endpoint delivery.
	}
}

// deliverChannel translates one channel.Delivered into the matching
// endpoint.Event and hands it to the subscribing endpoint's Mailbox (§4.5 via
// §4.8).
func (d *Dispatcher) deliverChannel(delivered channel.Delivered) {
	mb, ok := d.mailboxes[delivered.Subscriber.Endpoint]
	if !ok {
		return
	}
	switch delivered.Event.Kind {
	case channel.EventMedia:
		mb.Deliver(endpoint.Event{Kind: endpoint.EventLocalTrackMedia, LocalTrack: delivered.Subscriber.LocalTrack, Pkt: delivered.Event.Pkt})
	case channel.EventSourceChanged:
		mb.Deliver(endpoint.Event{Kind: endpoint.EventLocalTrackSourceChanged, LocalTrack: delivered.Subscriber.LocalTrack})
	}
}

// drainAllocator delivers one endpoint's queued allocator actions (budget
// changes, egress bitrate config) to its mailbox (§4.4 steps 4-5).
func (d *Dispatcher) drainAllocator(sess *endpoint.Session) {
	mb, ok := d.mailboxes[sess.Owner]
	if !ok {
		return
	}
	for {
		action, ok := sess.Allocator.PopAction()
		if !ok {
			return
		}
		switch action.Kind {
		case allocator.ActionConfigEgressBitrate:
			mb.Deliver(endpoint.Event{Kind: endpoint.EventBweConfig, EgressCurrent: action.Current, EgressDesired: action.Desired})
		case allocator.ActionLimitLocalTrackBitrate:
			if lt, ok := sess.ResolveLocalTrackObject(action.Track); ok {
				lt.SetTargetBitrate(0, action.Bitrate)
			}
		case allocator.ActionLimitLocalTrack:
			if lt, ok := sess.ResolveLocalTrackObject(action.Track); ok {
				lt.SetLimitLayer(0, action.Target.Spatial, action.Target.Temporal)
			}
		}
	}
}

func (d *Dispatcher) deliverEndpointAction(action room.EndpointAction) {
	mb, ok := d.mailboxes[action.Endpoint]
	if !ok {
		return
	}
	switch action.Kind {
	case room.ActionRequestKeyFrame:
		// Already deduped by the owning Room's interval-window gate (§8
		// scenario 6); queue the forward so it never blocks this tick. A
		// busy queue means a forward is already in flight for this node,
		// so deliver synchronously rather than drop it.
		if err := d.kf.Send(keyframeForward{mb: mb, trackName: action.TrackName}); err != nil {
			mb.Deliver(endpoint.Event{Kind: endpoint.EventRemoteTrackRequestKeyFrame, TrackName: action.TrackName})
		}
	case room.ActionLimitBitrate:
		mb.Deliver(endpoint.Event{Kind: endpoint.EventRemoteTrackLimitBitrate, TrackName: action.TrackName, MinBps: action.MinBps, MaxBps: action.MaxBps})
	}
}

// Pump drains every pending inbound KV/pub-sub event and fans each out to
// every room this node hosts, then drains each room's resulting
// deliveries/actions. A single memory.KVMap/PubSub pair is shared by every
// room on the node (map/channel ids embed the room hash), so an event for a
// map or channel this room never registered is silently ignored by its
// Directory/Channels (§7 "event for an unknown map is silently ignored") —
// broadcasting is therefore correct, just not addressed. OnTick calls it once
// per tick (§5 "the core is driven by ticks + explicit calls, never
// by goroutines of its own"). now gates scenario 6's keyframe coalescing
// window for feedback relayed in from another node (§4.7).
func (d *Dispatcher) Pump(now int64) {
	draining := true
	for draining {
		select {
		case ev := <-d.kv.Events():
			for _, entry := range d.rooms {
				entry.room.OnKvEvent(ev)
			}
		default:
			draining = false
		}
	}

	draining = true
	for draining {
		select {
		case ev := <-d.pubsub.Events():
			for _, entry := range d.rooms {
				entry.room.OnPubsubEvent(now, ev)
			}
		default:
			draining = false
		}
	}

	for hash, entry := range d.rooms {
		d.drainRoom(hash, entry)
	}
}

// OnTick drives every hosted room's and session's per-tick hooks (allocator
// refresh, selector/mixer maintenance) once per clock tick (§4.4, §4.3, §5),
// then pumps inbound collaborator events and drains resulting output.
func (d *Dispatcher) OnTick(nowMs int64) {
	for _, sess := range d.sessions {
		sess.Allocator.OnTick(nowMs)
		sess.TickLocalTracks(nowMs)
		d.drainAllocator(sess)
	}
	d.Pump(nowMs)
}

// NodeHealth is the one piece of state shared across workers (§5 "console
// snapshot of node health"): a single-writer-at-a-time, many-reader
// summary kept off the media hot path behind an RWMutex.
type NodeHealth struct {
	mu     sync.RWMutex
	rooms  int
	byNode map[string]int64 // nodeID -> last-seen unix ms
}

// NewNodeHealth constructs an empty NodeHealth snapshot.
func NewNodeHealth() *NodeHealth {
	return &NodeHealth{byNode: make(map[string]int64)}
}

// Report records this node's current room count and keepalive timestamp, to
// be read by a gateway/console through Snapshot.
func (h *NodeHealth) Report(nodeID string, rooms int, nowMs int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rooms = rooms
	h.byNode[nodeID] = nowMs
}

// Snapshot returns a read-only copy of the last-seen timestamps, for a
// gateway's node-selection decision. Never called from the media path.
func (h *NodeHealth) Snapshot() map[string]int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]int64, len(h.byNode))
	for k, v := range h.byNode {
		out[k] = v
	}
	return out
}

// NodeKeepaliveTimeoutMs is the §5 "node keepalive" window: entries whose
// last-seen exceeds this are considered dead.
const NodeKeepaliveTimeoutMs = 30_000

// Stale reports whether nodeID's last report is older than
// NodeKeepaliveTimeoutMs relative to nowMs, or it was never reported.
func (h *NodeHealth) Stale(nodeID string, nowMs int64) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	last, ok := h.byNode[nodeID]
	if !ok {
		return true
	}
	return nowMs-last > NodeKeepaliveTimeoutMs
}
