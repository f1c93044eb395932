// Package channel implements the per-room track channel subscription layer
// of spec §4.5: per-channel fan-out of media packets to subscribers, plus
// aggregated back-pressure feedback (desired bitrate, keyframe requests)
// relayed to the publisher via the pub/sub collaborator. Grounded on the
// teacher's subscribe/unsubscribe bookkeeping in
// pkg/conference/track/subscription.go and pkg/conference/track/publisher.go,
// generalized from a per-simulcast-layer publisher map to one subscriber
// list per channel.
package channel

import "github.com/flowmesh-io/sfu/pkg/types"

// FeedbackKind is the reserved kind space of §6 ("0 = BITRATE,
// 1 = KEYFRAME_REQUEST").
type FeedbackKind uint8

const (
	FeedbackBitrate FeedbackKind = iota
	FeedbackKeyframe
)

// FeedbackEvictMs is how long a per-endpoint feedback entry survives before
// being dropped from aggregation (§4.5, §5).
const FeedbackEvictMs = 2000

// Feedback is the aggregatable channel feedback record of §6.
type Feedback struct {
	Kind       FeedbackKind
	Count      uint32
	Sum        int64
	Min        int64
	Max        int64
	IntervalMs uint16
	TimeoutMs  uint16
}

// Plus implements the "+" operator of §6: sums count/sum, takes min/max.
func (f Feedback) Plus(o Feedback) Feedback {
	if f.Count == 0 {
		return o
	}
	if o.Count == 0 {
		return f
	}
	min, max := f.Min, f.Max
	if o.Min < min {
		min = o.Min
	}
	if o.Max > max {
		max = o.Max
	}
	return Feedback{
		Kind:       f.Kind,
		Count:      f.Count + o.Count,
		Sum:        f.Sum + o.Sum,
		Min:        min,
		Max:        max,
		IntervalMs: f.IntervalMs,
		TimeoutMs:  f.TimeoutMs,
	}
}

// Subscriber identifies one (endpoint, local track) subscription (§4.5).
type Subscriber struct {
	Endpoint   types.Owner
	LocalTrack types.LocalTrackID
}

// EventKind enumerates the events delivered to a subscriber (§4.5, §4.8
// LocalTrack(Media|SourceChanged)).
type EventKind uint8

const (
	EventMedia EventKind = iota
	EventSourceChanged
)

// Event is one output addressed to a single subscriber.
type Event struct {
	Kind EventKind
	Pkt  *types.MediaPacket
}

// Delivered pairs a Subscriber with the Event routed to it.
type Delivered struct {
	Subscriber Subscriber
	Event      Event
}

// ActionKind enumerates the pub/sub commands the layer emits (§6 "Channel").
type ActionKind uint8

const (
	ActionSub ActionKind = iota
	ActionUnsub
	ActionFeedback
)

// Action is one outbound pub/sub command, drained FIFO via PopAction.
type Action struct {
	Kind     ActionKind
	Channel  types.ChannelID
	Feedback Feedback
}

type feedbackEntry struct {
	at int64
	fb Feedback
}

type channelState struct {
	subscribers     []Subscriber
	bitrateFeedback map[types.Owner]feedbackEntry
}

// subscription is the reverse index entry for one Subscriber (§4.5's
// "(endpoint, local_track_id) -> (channel_id, peer, track)" map).
type subscription struct {
	Channel types.ChannelID
	Peer    types.PeerID
	Track   types.TrackName
}

// Channels is the per-room channel subscribe layer of §4.5. A Room owns
// exactly one, touched only from its worker goroutine (§5).
type Channels struct {
	byChannel    map[types.ChannelID]*channelState
	bySubscriber map[Subscriber]subscription

	actions    []Action
	deliveries []Delivered
}

// New constructs an empty Channels layer.
func New() *Channels {
	return &Channels{
		byChannel:    make(map[types.ChannelID]*channelState),
		bySubscriber: make(map[Subscriber]subscription),
	}
}

// Subscribe adds sub as a subscriber of channel. If it is the first
// subscriber, Sub(channel) is emitted exactly once (§3 invariant, §4.5).
func (c *Channels) Subscribe(sub Subscriber, channel types.ChannelID, peer types.PeerID, track types.TrackName) {
	if _, exists := c.bySubscriber[sub]; exists {
		return
	}

	state, ok := c.byChannel[channel]
	if !ok {
		state = &channelState{bitrateFeedback: make(map[types.Owner]feedbackEntry)}
		c.byChannel[channel] = state
		c.actions = append(c.actions, Action{Kind: ActionSub, Channel: channel})
	}

	state.subscribers = append(state.subscribers, sub)
	c.bySubscriber[sub] = subscription{Channel: channel, Peer: peer, Track: track}
}

// Unsubscribe removes sub. If its channel's subscriber list becomes empty,
// Unsub(channel) is emitted exactly once.
func (c *Channels) Unsubscribe(sub Subscriber) {
	entry, ok := c.bySubscriber[sub]
	if !ok {
		return
	}
	delete(c.bySubscriber, sub)

	state, ok := c.byChannel[entry.Channel]
	if !ok {
		return
	}
	for i, s := range state.subscribers {
		if s == sub {
			state.subscribers = append(state.subscribers[:i], state.subscribers[i+1:]...)
			break
		}
	}
	delete(state.bitrateFeedback, sub.Endpoint)

	if len(state.subscribers) == 0 {
		delete(c.byChannel, entry.Channel)
		c.actions = append(c.actions, Action{Kind: ActionUnsub, Channel: entry.Channel})
	}
}

// RequestKeyframe emits one keyframe feedback action per call, without coalescing for sub's channel
// (§4.5: count=1, interval=1000ms, timeout=2000ms).
func (c *Channels) RequestKeyframe(sub Subscriber) {
	entry, ok := c.bySubscriber[sub]
	if !ok {
		return
	}
	c.actions = append(c.actions, Action{
		Kind:    ActionFeedback,
		Channel: entry.Channel,
		Feedback: Feedback{
			Kind:       FeedbackKeyframe,
			Count:      1,
			IntervalMs: 1000,
			TimeoutMs:  2000,
		},
	})
}

// DesiredBitrate records sub's latest bitrate feedback, evicts stale
// entries, and emits the aggregated feedback across all live subscribers of
// that channel (§4.5, §5 "coalesces multiple desired_bitrate updates").
func (c *Channels) DesiredBitrate(now int64, sub Subscriber, bps uint32) {
	entry, ok := c.bySubscriber[sub]
	if !ok {
		return
	}
	state, ok := c.byChannel[entry.Channel]
	if !ok {
		return
	}

	state.bitrateFeedback[sub.Endpoint] = feedbackEntry{
		at: now,
		fb: Feedback{Kind: FeedbackBitrate, Count: 1, Sum: int64(bps), Min: int64(bps), Max: int64(bps)},
	}

	var agg Feedback
	agg.Kind = FeedbackBitrate
	for endpoint, e := range state.bitrateFeedback {
		if e.at+FeedbackEvictMs < now {
			delete(state.bitrateFeedback, endpoint)
			continue
		}
		agg = agg.Plus(e.fb)
	}
	agg.IntervalMs = 100
	agg.TimeoutMs = 2000

	c.actions = append(c.actions, Action{Kind: ActionFeedback, Channel: entry.Channel, Feedback: agg})
}

// Publish is the Publisher-facing ingress entrypoint (§4.5
// "on_track_data"): it fans a clone of pkt out to every current subscriber
// of channel as a Media event (§5 "pub/sub fan-out clones the packet").
func (c *Channels) Publish(channel types.ChannelID, pkt *types.MediaPacket) {
	state, ok := c.byChannel[channel]
	if !ok {
		return
	}
	for _, sub := range state.subscribers {
		c.deliveries = append(c.deliveries, Delivered{Subscriber: sub, Event: Event{Kind: EventMedia, Pkt: pkt.Clone()}})
	}
}

// RequestKeyFrame implements track.Publisher for the relay side: a
// publishing RemoteTrack invoking this asks its own transport for an IDR,
// independent of the subscriber-initiated RequestKeyframe above.
func (c *Channels) RequestKeyFrame(channel types.ChannelID) {
	c.actions = append(c.actions, Action{
		Kind:    ActionFeedback,
		Channel: channel,
		Feedback: Feedback{
			Kind:       FeedbackKeyframe,
			Count:      1,
			IntervalMs: 1000,
			TimeoutMs:  2000,
		},
	})
}

// OnTrackRelayChanged notifies every subscriber of channel that the
// upstream relay node changed, which causes their selectors to request a
// fresh keyframe (§4.5).
func (c *Channels) OnTrackRelayChanged(channel types.ChannelID) {
	state, ok := c.byChannel[channel]
	if !ok {
		return
	}
	for _, sub := range state.subscribers {
		c.deliveries = append(c.deliveries, Delivered{Subscriber: sub, Event: Event{Kind: EventSourceChanged}})
	}
}

// PopDelivery drains one queued per-subscriber event FIFO.
func (c *Channels) PopDelivery() (Delivered, bool) {
	if len(c.deliveries) == 0 {
		return Delivered{}, false
	}
	d := c.deliveries[0]
	c.deliveries = c.deliveries[1:]
	return d, true
}

// PopAction drains one queued pub/sub command FIFO.
func (c *Channels) PopAction() (Action, bool) {
	if len(c.actions) == 0 {
		return Action{}, false
	}
	a := c.actions[0]
	c.actions = c.actions[1:]
	return a, true
}

// SubscriberCount reports how many subscribers a channel currently has,
// used by tests for the "Channel subscribe count" property (§8).
func (c *Channels) SubscriberCount(channel types.ChannelID) int {
	state, ok := c.byChannel[channel]
	if !ok {
		return 0
	}
	return len(state.subscribers)
}
