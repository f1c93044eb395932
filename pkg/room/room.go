// Package room implements the room aggregate of spec §4.7: it composes the
// metadata directory (pkg/directory) and the channel subscribe layer
// (pkg/channel), routes endpoint controls to the right one, and consumes the
// KEY/BITRATE feedback kinds reserved by §6 instead of forwarding them.
// Grounded on the teacher's pkg/conference/conference.go composition root,
// generalized from a single Matrix-room Conference to one room per
// room_hash owned by the cluster dispatcher (pkg/cluster).
package room

import (
	"github.com/flowmesh-io/sfu/pkg/channel"
	"github.com/flowmesh-io/sfu/pkg/collab"
	"github.com/flowmesh-io/sfu/pkg/directory"
	"github.com/flowmesh-io/sfu/pkg/types"
	"github.com/flowmesh-io/sfu/pkg/wire"
)

// EndpointActionKind enumerates the two feedback kinds §4.7 says the Room
// consumes rather than forwards to the subscribe layer.
type EndpointActionKind uint8

const (
	// ActionRequestKeyFrame tells the publishing endpoint's RemoteTrack to
	// request a fresh keyframe from its transport.
	ActionRequestKeyFrame EndpointActionKind = iota
	// ActionLimitBitrate tells the publishing endpoint to constrain its
	// encoder to the given bitrate window.
	ActionLimitBitrate
)

// EndpointAction is routed to the endpoint that publishes TrackName, not to
// a subscriber.
type EndpointAction struct {
	Kind      EndpointActionKind
	Endpoint  types.Owner
	TrackName types.TrackName
	MinBps    uint32
	MaxBps    uint32
}

type publishedTrack struct {
	owner types.Owner
	name  types.TrackName
}

// Room is the per-room_hash aggregate of §4.7. Owned and driven exclusively
// by one worker's event loop (§5); holds no locks of its own.
type Room struct {
	hash   types.RoomHash
	dir    *directory.Directory
	chans  *channel.Channels
	pubsub collab.PubSub

	// channelOwner resolves a channel back to the endpoint (and track name)
	// that publishes it, for routing consumed KEY/BITRATE feedback and for
	// emitting PubStart/PubStop around a RemoteTrack's lifetime.
	channelOwner map[types.ChannelID]publishedTrack

	// lastKeyframeAt records, per channel, the NowMs at which a
	// RequestKeyFrame EndpointAction was last forwarded to the publisher
	// (§8 scenario 6: "at most one RequestKeyFrame per interval_ms
	// window").
	lastKeyframeAt map[types.ChannelID]int64

	endpointActions []EndpointAction
}

// New constructs a Room for hash, backed by kv (directory transport) and
// pubsub (channel transport).
func New(hash types.RoomHash, kv collab.KVMap, pubsub collab.PubSub) *Room {
	return &Room{
		hash:           hash,
		dir:            directory.New(hash, kv),
		chans:          channel.New(),
		pubsub:         pubsub,
		channelOwner:   make(map[types.ChannelID]publishedTrack),
		lastKeyframeAt: make(map[types.ChannelID]int64),
	}
}

// Join registers endpoint as a room participant (§4.6 via §4.7).
func (r *Room) Join(endpoint types.Owner, peer types.PeerID, meta []byte, publish types.PublishFlags, subscribe types.SubscribeFlags, now int64) {
	r.dir.Join(endpoint, peer, meta, publish, subscribe, now)
}

// Leave removes endpoint from the room. When it was the last one, the
// directory queues LastPeerLeaved, on which the cluster dispatcher destroys
// the Room.
func (r *Room) Leave(endpoint types.Owner) {
	r.dir.Leave(endpoint)
}

// SubscribePeer adds endpoint's manual per-peer directory subscription.
func (r *Room) SubscribePeer(endpoint types.Owner, target types.PeerID) {
	r.dir.SubscribePeer(endpoint, target)
}

// UnsubscribePeer removes endpoint's manual per-peer directory subscription.
func (r *Room) UnsubscribePeer(endpoint types.Owner, target types.PeerID) {
	r.dir.UnsubscribePeer(endpoint, target)
}

// RemoteTrackStarted publishes a newly started remote track into the
// directory and opens its pub/sub channel (§4.7 "routes to directory for
// publish/unpublish and to pub/sub for data").
func (r *Room) RemoteTrackStarted(endpoint types.Owner, peer types.PeerID, trackName types.TrackName, meta types.TrackMeta) {
	r.dir.TrackPublish(endpoint, trackName, meta)
	channelID := types.HashChannel(r.hash, peer, trackName)
	r.channelOwner[channelID] = publishedTrack{owner: endpoint, name: trackName}
	r.pubsub.Dispatch(collab.ChannelCmd{Channel: channelID, Kind: collab.PubStart})
}

// RemoteTrackMedia forwards one packet from a published track onto its
// pub/sub channel.
func (r *Room) RemoteTrackMedia(peer types.PeerID, trackName types.TrackName, pkt *types.MediaPacket) {
	channelID := types.HashChannel(r.hash, peer, trackName)
	r.pubsub.Dispatch(collab.ChannelCmd{Channel: channelID, Kind: collab.PubData, Data: wire.EncodeMediaPacket(pkt)})
}

// RemoteTrackEnded unpublishes a stopped remote track and closes its
// channel.
func (r *Room) RemoteTrackEnded(endpoint types.Owner, peer types.PeerID, trackName types.TrackName) {
	r.dir.TrackStop(endpoint, trackName)
	channelID := types.HashChannel(r.hash, peer, trackName)
	delete(r.channelOwner, channelID)
	r.pubsub.Dispatch(collab.ChannelCmd{Channel: channelID, Kind: collab.PubStop})
}

// LocalTrackSubscribe adds sub as a subscriber of channel (§4.5 via §4.7),
// relaying the layer's resulting Sub/Unsub/Feedback action to the pub/sub
// collaborator.
func (r *Room) LocalTrackSubscribe(sub channel.Subscriber, channelID types.ChannelID, peer types.PeerID, track types.TrackName) {
	r.chans.Subscribe(sub, channelID, peer, track)
	r.drainChannelActions(0)
}

// LocalTrackUnsubscribe removes sub.
func (r *Room) LocalTrackUnsubscribe(sub channel.Subscriber) {
	r.chans.Unsubscribe(sub)
	r.drainChannelActions(0)
}

// LocalTrackRequestKeyFrame relays sub's keyframe request upstream, subject
// to the per-channel interval-window coalescing of §8 scenario 6.
func (r *Room) LocalTrackRequestKeyFrame(sub channel.Subscriber, now int64) {
	r.chans.RequestKeyframe(sub)
	r.drainChannelActions(now)
}

// LocalTrackDesiredBitrate relays sub's latest bitrate estimate, aggregated
// with its channel's other subscribers.
func (r *Room) LocalTrackDesiredBitrate(now int64, sub channel.Subscriber, bps uint32) {
	r.chans.DesiredBitrate(now, sub, bps)
	r.drainChannelActions(now)
}

func (r *Room) drainChannelActions(now int64) {
	for {
		action, ok := r.chans.PopAction()
		if !ok {
			return
		}
		switch action.Kind {
		case channel.ActionSub:
			r.pubsub.Dispatch(collab.ChannelCmd{Channel: action.Channel, Kind: collab.SubAuto})
		case channel.ActionUnsub:
			r.pubsub.Dispatch(collab.ChannelCmd{Channel: action.Channel, Kind: collab.UnsubAuto})
		case channel.ActionFeedback:
			r.routeOrForwardFeedback(now, action.Channel, action.Feedback)
		}
	}
}

// routeOrForwardFeedback implements §4.7's consumption rule: KEY and
// BITRATE feedback are intercepted here and turned into an EndpointAction
// addressed to the publishing endpoint, rather than dispatched to the
// pub/sub collaborator as generic FeedbackAuto.
//
// KEYFRAME feedback additionally passes through the scenario 6
// interval-window gate: the channel layer emits one FeedbackKeyframe per
// RequestKeyframe call (§4.5, by design — the pub/sub collaborator side
// "receives FeedbackAuto repeatedly"), but at most one of those may become
// an EndpointAction per channel per fb.IntervalMs, tracked in
// lastKeyframeAt (updated each time one is forwarded) and gated on the same
// now the dispatcher already threads through every Control (§5).
func (r *Room) routeOrForwardFeedback(now int64, channelID types.ChannelID, fb channel.Feedback) {
	relayed := collab.Feedback{Kind: uint8(fb.Kind), Count: fb.Count, Sum: fb.Sum, Min: fb.Min, Max: fb.Max, IntervalMs: fb.IntervalMs, TimeoutMs: fb.TimeoutMs}
	published, ok := r.channelOwner[channelID]
	if !ok {
		r.pubsub.Dispatch(collab.ChannelCmd{Channel: channelID, Kind: collab.FeedbackAuto, Feedback: relayed})
		return
	}
	switch fb.Kind {
	case channel.FeedbackKeyframe:
		if last, seen := r.lastKeyframeAt[channelID]; seen && now-last < int64(fb.IntervalMs) {
			return
		}
		r.lastKeyframeAt[channelID] = now
		r.endpointActions = append(r.endpointActions, EndpointAction{
			Kind: ActionRequestKeyFrame, Endpoint: published.owner, TrackName: published.name,
		})
	case channel.FeedbackBitrate:
		r.endpointActions = append(r.endpointActions, EndpointAction{
			Kind: ActionLimitBitrate, Endpoint: published.owner, TrackName: published.name,
			MinBps: uint32(fb.Min), MaxBps: uint32(fb.Max),
		})
	default:
		r.pubsub.Dispatch(collab.ChannelCmd{Channel: channelID, Kind: collab.FeedbackAuto, Feedback: relayed})
	}
}

// consumeInboundFeedback implements §4.7's inbound counterpart: KEY/BITRATE
// feedback arriving from another node's channel layer over the pub/sub
// collaborator is consumed here the same way locally-aggregated feedback
// is in routeOrForwardFeedback, rather than dropped. now gates KEYFRAME the
// same way (scenario 6 applies cluster-wide, not just to the node hosting
// the subscribers).
func (r *Room) consumeInboundFeedback(now int64, channelID types.ChannelID, fb collab.Feedback) {
	published, ok := r.channelOwner[channelID]
	if !ok {
		return
	}
	switch channel.FeedbackKind(fb.Kind) {
	case channel.FeedbackKeyframe:
		if last, seen := r.lastKeyframeAt[channelID]; seen && now-last < int64(fb.IntervalMs) {
			return
		}
		r.lastKeyframeAt[channelID] = now
		r.endpointActions = append(r.endpointActions, EndpointAction{
			Kind: ActionRequestKeyFrame, Endpoint: published.owner, TrackName: published.name,
		})
	case channel.FeedbackBitrate:
		r.endpointActions = append(r.endpointActions, EndpointAction{
			Kind: ActionLimitBitrate, Endpoint: published.owner, TrackName: published.name,
			MinBps: uint32(fb.Min), MaxBps: uint32(fb.Max),
		})
	}
}

// OnKvEvent forwards an inbound KV map event to the directory.
func (r *Room) OnKvEvent(ev collab.MapEvent) {
	r.dir.OnKvEvent(ev)
}

// OnPubsubEvent handles an inbound pub/sub event per §4.7: RouteChanged and
// SourceData are forwarded to the channel layer; FeedbackData of kind
// KEY/BITRATE is consumed here via consumeInboundFeedback, the same as
// locally-aggregated feedback in routeOrForwardFeedback, so a relayed
// feedback path (the publisher's channel layer living on a different node
// than its subscribers) reaches the publishing endpoint instead of being
// dropped.
func (r *Room) OnPubsubEvent(now int64, ev collab.ChannelEvent) {
	switch ev.Kind {
	case collab.RouteChanged:
		r.chans.OnTrackRelayChanged(ev.Channel)
	case collab.SourceData:
		pkt, err := wire.DecodeMediaPacket(ev.Data)
		if err != nil {
			return
		}
		r.chans.Publish(ev.Channel, pkt)
	case collab.FeedbackData:
		r.consumeInboundFeedback(now, ev.Channel, ev.Feedback)
	}
}

// PopDirectoryEvent drains one directory delivery (PeerJoined/Left,
// TrackStarted/Stopped, LastPeerLeaved).
func (r *Room) PopDirectoryEvent() (directory.Delivered, bool) {
	return r.dir.PopDelivery()
}

// PopChannelEvent drains one channel delivery (Media, SourceChanged).
func (r *Room) PopChannelEvent() (channel.Delivered, bool) {
	return r.chans.PopDelivery()
}

// PopEndpointAction drains one consumed-feedback action addressed to a
// publishing endpoint (RequestKeyFrame, LimitBitrate).
func (r *Room) PopEndpointAction() (EndpointAction, bool) {
	if len(r.endpointActions) == 0 {
		return EndpointAction{}, false
	}
	a := r.endpointActions[0]
	r.endpointActions = r.endpointActions[1:]
	return a, true
}

// PeerCount reports how many peers the directory currently caches.
func (r *Room) PeerCount() int { return r.dir.PeerCount() }

// LookupTrack exposes the directory's cached TrackInfo for (peer, track),
// used by the cluster dispatcher to choose a subscriber's selector kind
// before issuing LocalTrackSubscribe.
func (r *Room) LookupTrack(peer types.PeerID, track types.TrackName) (types.TrackInfo, bool) {
	return r.dir.LookupTrack(peer, track)
}
