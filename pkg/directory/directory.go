// Package directory implements the room metadata directory of spec §4.6: a
// peers-map, a tracks-map, and zero-or-more per-peer submaps, backed by the
// pkg/collab.KVMap collaborator. Grounded on the teacher's conference-wide
// participant/track bookkeeping (pkg/conference/participant,
// pkg/common/track_info.go) generalized from Matrix-room-shaped state to
// the KV-map-backed directory spec.md §4.6 calls for.
package directory

import (
	"github.com/flowmesh-io/sfu/pkg/collab"
	"github.com/flowmesh-io/sfu/pkg/types"
	"github.com/flowmesh-io/sfu/pkg/wire"
)

// EventKind enumerates the events a Directory delivers to subscribers
// (§4.8 PeerJoined/Left, TrackStarted/Stopped).
type EventKind uint8

const (
	EventPeerJoined EventKind = iota
	EventPeerLeft
	EventTrackStarted
	EventTrackStopped
	// EventLastPeerLeaved fires once when the last joined endpoint leaves
	// the room, to trigger room destruction upstream (§4.6).
	EventLastPeerLeaved
)

// Event is one directory event addressed to a single subscribing endpoint.
type Event struct {
	Kind  EventKind
	Peer  types.PeerInfo
	Track types.TrackInfo
}

// Delivered pairs an endpoint with the Event routed to it.
type Delivered struct {
	Endpoint types.Owner
	Event    Event
}

type endpointState struct {
	peer          types.PeerID
	publish       types.PublishFlags
	subscribe     types.SubscribeFlags
	pubTrackNames map[types.TrackName]struct{}
}

// Directory is the per-room metadata directory of §4.6. Touched only from
// the owning Room's worker goroutine (§5).
type Directory struct {
	room types.RoomHash
	kv   collab.KVMap

	peersMapID  types.MapID
	tracksMapID types.MapID

	endpoints map[types.Owner]*endpointState

	cachedPeers map[types.PeerID]types.PeerInfo
	peerByKey   map[types.Key]types.PeerID

	// trackCache keys by (peer, track) since TrackName alone isn't unique
	// across peers.
	trackCache map[trackKey]types.TrackInfo
	trackByKey map[types.Key]trackKey

	peersMapSubscribers  map[types.Owner]struct{}
	tracksMapSubscribers map[types.Owner]struct{}
	peerSubmapSubs       map[types.PeerID]map[types.Owner]struct{}

	deliveries []Delivered
}

type trackKey struct {
	peer  types.PeerID
	track types.TrackName
}

// New constructs a Directory for room, bound to kv.
func New(room types.RoomHash, kv collab.KVMap) *Directory {
	return &Directory{
		room:                 room,
		kv:                   kv,
		peersMapID:           types.HashMap(room, "peers"),
		tracksMapID:          types.HashMap(room, "tracks"),
		endpoints:            make(map[types.Owner]*endpointState),
		cachedPeers:          make(map[types.PeerID]types.PeerInfo),
		peerByKey:            make(map[types.Key]types.PeerID),
		trackCache:           make(map[trackKey]types.TrackInfo),
		trackByKey:           make(map[types.Key]trackKey),
		peersMapSubscribers:  make(map[types.Owner]struct{}),
		tracksMapSubscribers: make(map[types.Owner]struct{}),
		peerSubmapSubs:       make(map[types.PeerID]map[types.Owner]struct{}),
	}
}

func (d *Directory) peerSubmapID(peer types.PeerID) types.MapID {
	return types.HashMap(d.room, "peer:"+string(peer))
}

// Join registers endpoint as a room participant per §4.6.
func (d *Directory) Join(endpoint types.Owner, peer types.PeerID, meta []byte, publish types.PublishFlags, subscribe types.SubscribeFlags, now int64) {
	state := &endpointState{peer: peer, publish: publish, subscribe: subscribe, pubTrackNames: make(map[types.TrackName]struct{})}
	d.endpoints[endpoint] = state

	if publish.Peer {
		info := types.PeerInfo{PeerID: peer, Metadata: meta, JoinedAt: now}
		key := types.HashKey(peer)
		d.cachedPeers[peer] = info
		d.peerByKey[key] = peer
		d.kv.Dispatch(collab.MapCmd{MapID: d.peersMapID, Kind: collab.MapSet, Key: key, Value: wire.EncodePeerInfo(info)})
	}

	if subscribe.Peers {
		wasEmpty := len(d.peersMapSubscribers) == 0
		d.peersMapSubscribers[endpoint] = struct{}{}
		if wasEmpty {
			d.kv.Dispatch(collab.MapCmd{MapID: d.peersMapID, Kind: collab.MapSub})
		}
		for _, info := range d.cachedPeers {
			d.deliveries = append(d.deliveries, Delivered{Endpoint: endpoint, Event: Event{Kind: EventPeerJoined, Peer: info}})
		}
	}

	if subscribe.Tracks {
		wasEmpty := len(d.tracksMapSubscribers) == 0
		d.tracksMapSubscribers[endpoint] = struct{}{}
		if wasEmpty {
			d.kv.Dispatch(collab.MapCmd{MapID: d.tracksMapID, Kind: collab.MapSub})
		}
		for _, info := range d.trackCache {
			d.deliveries = append(d.deliveries, Delivered{Endpoint: endpoint, Event: Event{Kind: EventTrackStarted, Track: info}})
		}
	}
}

// SubscribePeer implements manual-mode, per-peer submap subscription
// (§4.6). Replays the target peer's currently-known tracks so a manual
// subscriber doesn't have to wait for the next change to see what already
// exists.
func (d *Directory) SubscribePeer(endpoint types.Owner, target types.PeerID) {
	set, ok := d.peerSubmapSubs[target]
	if !ok {
		set = make(map[types.Owner]struct{})
		d.peerSubmapSubs[target] = set
	}
	if _, already := set[endpoint]; already {
		return
	}
	wasEmpty := len(set) == 0
	set[endpoint] = struct{}{}
	if wasEmpty {
		d.kv.Dispatch(collab.MapCmd{MapID: d.peerSubmapID(target), Kind: collab.MapSub})
	}

	for key, info := range d.trackCache {
		if key.peer == target {
			d.deliveries = append(d.deliveries, Delivered{Endpoint: endpoint, Event: Event{Kind: EventTrackStarted, Track: info}})
		}
	}
}

// UnsubscribePeer removes endpoint's manual subscription to target.
func (d *Directory) UnsubscribePeer(endpoint types.Owner, target types.PeerID) {
	set, ok := d.peerSubmapSubs[target]
	if !ok {
		return
	}
	delete(set, endpoint)
	if len(set) == 0 {
		delete(d.peerSubmapSubs, target)
		d.kv.Dispatch(collab.MapCmd{MapID: d.peerSubmapID(target), Kind: collab.MapUnsub})
	}
}

// TrackPublish registers a newly started remote track (§4.6). Only valid
// when the endpoint joined with publish.tracks=true.
func (d *Directory) TrackPublish(endpoint types.Owner, trackName types.TrackName, meta types.TrackMeta) {
	state, ok := d.endpoints[endpoint]
	if !ok || !state.publish.Tracks {
		return
	}

	info := types.TrackInfo{PeerID: state.peer, TrackName: trackName, Meta: meta}
	key := types.HashTrackKey(state.peer, trackName)
	d.trackCache[trackKey{peer: state.peer, track: trackName}] = info
	d.trackByKey[key] = trackKey{peer: state.peer, track: trackName}
	state.pubTrackNames[trackName] = struct{}{}

	encoded := wire.EncodeTrackInfo(info)
	d.kv.Dispatch(collab.MapCmd{MapID: d.tracksMapID, Kind: collab.MapSet, Key: key, Value: encoded})
	d.kv.Dispatch(collab.MapCmd{MapID: d.peerSubmapID(state.peer), Kind: collab.MapSet, Key: key, Value: encoded})
}

// TrackStop unregisters a stopped remote track (§4.6).
func (d *Directory) TrackStop(endpoint types.Owner, trackName types.TrackName) {
	state, ok := d.endpoints[endpoint]
	if !ok {
		return
	}
	delete(state.pubTrackNames, trackName)
	delete(d.trackCache, trackKey{peer: state.peer, track: trackName})

	key := types.HashTrackKey(state.peer, trackName)
	d.kv.Dispatch(collab.MapCmd{MapID: d.tracksMapID, Kind: collab.MapDel, Key: key})
	d.kv.Dispatch(collab.MapCmd{MapID: d.peerSubmapID(state.peer), Kind: collab.MapDel, Key: key})
}

// Leave removes endpoint from the directory: deletes every key it set,
// removes it from every subscriber set (emitting MapUnsub where a set
// empties), and queues an EventLastPeerLeaved delivery when it was the last
// joined endpoint (§4.6).
func (d *Directory) Leave(endpoint types.Owner) {
	state, ok := d.endpoints[endpoint]
	if !ok {
		return
	}
	delete(d.endpoints, endpoint)

	if state.publish.Peer {
		delete(d.cachedPeers, state.peer)
		d.kv.Dispatch(collab.MapCmd{MapID: d.peersMapID, Kind: collab.MapDel, Key: types.HashKey(state.peer)})
	}

	for track := range state.pubTrackNames {
		key := types.HashTrackKey(state.peer, track)
		delete(d.trackCache, trackKey{peer: state.peer, track: track})
		d.kv.Dispatch(collab.MapCmd{MapID: d.tracksMapID, Kind: collab.MapDel, Key: key})
		d.kv.Dispatch(collab.MapCmd{MapID: d.peerSubmapID(state.peer), Kind: collab.MapDel, Key: key})
	}

	if _, wasSub := d.peersMapSubscribers[endpoint]; wasSub {
		delete(d.peersMapSubscribers, endpoint)
		if len(d.peersMapSubscribers) == 0 {
			d.kv.Dispatch(collab.MapCmd{MapID: d.peersMapID, Kind: collab.MapUnsub})
		}
	}
	if _, wasSub := d.tracksMapSubscribers[endpoint]; wasSub {
		delete(d.tracksMapSubscribers, endpoint)
		if len(d.tracksMapSubscribers) == 0 {
			d.kv.Dispatch(collab.MapCmd{MapID: d.tracksMapID, Kind: collab.MapUnsub})
		}
	}
	for target, set := range d.peerSubmapSubs {
		if _, in := set[endpoint]; in {
			delete(set, endpoint)
			if len(set) == 0 {
				delete(d.peerSubmapSubs, target)
				d.kv.Dispatch(collab.MapCmd{MapID: d.peerSubmapID(target), Kind: collab.MapUnsub})
			}
		}
	}

	if len(d.endpoints) == 0 {
		d.deliveries = append(d.deliveries, Delivered{Endpoint: endpoint, Event: Event{Kind: EventLastPeerLeaved}})
	}
}

// OnKvEvent handles an inbound KV event from the collaborator (§4.6, §7
// "cluster partition: event for an unknown map is silently ignored").
func (d *Directory) OnKvEvent(ev collab.MapEvent) {
	switch ev.MapID {
	case d.peersMapID:
		d.onPeersMapEvent(ev)
	case d.tracksMapID:
		d.onTracksMapEvent(ev, d.tracksMapSubscribers)
	default:
		for target := range d.peerSubmapSubs {
			if d.peerSubmapID(target) == ev.MapID {
				d.onTracksMapEvent(ev, d.peerSubmapSubs[target])
				return
			}
		}
		// Unknown map: silently ignored (§7 Cluster partition).
	}
}

func (d *Directory) onPeersMapEvent(ev collab.MapEvent) {
	switch ev.Kind {
	case collab.MapOnSet:
		info, err := wire.DecodePeerInfo(ev.Value)
		if err != nil {
			return
		}
		d.cachedPeers[info.PeerID] = info
		for endpoint := range d.peersMapSubscribers {
			d.deliveries = append(d.deliveries, Delivered{Endpoint: endpoint, Event: Event{Kind: EventPeerJoined, Peer: info}})
		}
	case collab.MapOnDel:
		peer, ok := d.peerByKey[ev.Key]
		if !ok {
			return
		}
		delete(d.peerByKey, ev.Key)
		delete(d.cachedPeers, peer)
		for endpoint := range d.peersMapSubscribers {
			d.deliveries = append(d.deliveries, Delivered{Endpoint: endpoint, Event: Event{Kind: EventPeerLeft, Peer: types.PeerInfo{PeerID: peer}}})
		}
	}
}

func (d *Directory) onTracksMapEvent(ev collab.MapEvent, subscribers map[types.Owner]struct{}) {
	switch ev.Kind {
	case collab.MapOnSet:
		info, err := wire.DecodeTrackInfo(ev.Value)
		if err != nil {
			return
		}
		d.trackCache[trackKey{peer: info.PeerID, track: info.TrackName}] = info
		d.trackByKey[ev.Key] = trackKey{peer: info.PeerID, track: info.TrackName}
		for endpoint := range subscribers {
			d.deliveries = append(d.deliveries, Delivered{Endpoint: endpoint, Event: Event{Kind: EventTrackStarted, Track: info}})
		}

	case collab.MapOnDel:
		tk, ok := d.trackByKey[ev.Key]
		if !ok {
			return
		}
		delete(d.trackByKey, ev.Key)
		info, ok := d.trackCache[tk]
		if !ok {
			info = types.TrackInfo{PeerID: tk.peer, TrackName: tk.track}
		}
		delete(d.trackCache, tk)
		for endpoint := range subscribers {
			d.deliveries = append(d.deliveries, Delivered{Endpoint: endpoint, Event: Event{Kind: EventTrackStopped, Track: info}})
		}
	}
}

// PopDelivery drains one queued per-endpoint event FIFO.
func (d *Directory) PopDelivery() (Delivered, bool) {
	if len(d.deliveries) == 0 {
		return Delivered{}, false
	}
	ev := d.deliveries[0]
	d.deliveries = d.deliveries[1:]
	return ev, true
}

// PeerCount reports how many peers are currently cached, for tests.
func (d *Directory) PeerCount() int { return len(d.cachedPeers) }

// LookupTrack returns the cached TrackInfo for (peer, track), if this
// directory has seen it published. Used by the cluster dispatcher to pick
// a subscriber's selector kind (single/simulcast/VP9-SVC/H264-SVC) from the
// publisher's advertised scalability metadata before subscribing.
func (d *Directory) LookupTrack(peer types.PeerID, track types.TrackName) (types.TrackInfo, bool) {
	info, ok := d.trackCache[trackKey{peer: peer, track: track}]
	return info, ok
}
