// Package collab defines the two external collaborator interfaces of spec
// §6: a distributed KV map (room metadata directory transport) and a
// pub/sub channel (track fan-out transport). The core depends only on
// these interfaces; collab/memory ships a single-process reference
// implementation used by tests and single-node deployments.
package collab

import "github.com/flowmesh-io/sfu/pkg/types"

// MapCmdKind enumerates outbound KV map commands (§6).
type MapCmdKind uint8

const (
	MapSub MapCmdKind = iota
	MapUnsub
	MapSet
	MapDel
)

// MapCmd is one outbound command to the KV map collaborator.
type MapCmd struct {
	MapID types.MapID
	Kind  MapCmdKind
	Key   types.Key
	Value []byte
}

// MapEventKind enumerates inbound KV map events (§6).
type MapEventKind uint8

const (
	MapOnSet MapEventKind = iota
	MapOnDel
	MapOnRelaySelected
)

// MapEvent is one inbound event from the KV map collaborator.
type MapEvent struct {
	MapID      types.MapID
	Kind       MapEventKind
	Key        types.Key
	SourceNode string
	Value      []byte
	RelayNode  string
}

// KVMap is the distributed KV map collaborator (§6). Dispatch is
// fire-and-forget; Events delivers MapEvent as they arrive.
type KVMap interface {
	Dispatch(cmd MapCmd)
	Events() <-chan MapEvent
}

// Feedback is the aggregatable channel feedback record of §6; "+" sums
// count/sum and takes min/max.
type Feedback struct {
	Kind       uint8
	Count      uint32
	Sum        int64
	Min        int64
	Max        int64
	IntervalMs uint16
	TimeoutMs  uint16
}

// Plus implements the "+" operator of §6.
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
	return Feedback{Kind: f.Kind, Count: f.Count + o.Count, Sum: f.Sum + o.Sum, Min: min, Max: max, IntervalMs: f.IntervalMs, TimeoutMs: f.TimeoutMs}
}

// ChannelCmdKind enumerates outbound pub/sub commands (§6).
type ChannelCmdKind uint8

const (
	PubStart ChannelCmdKind = iota
	PubData
	PubStop
	SubAuto
	UnsubAuto
	FeedbackAuto
)

// ChannelCmd is one outbound command to the pub/sub collaborator.
type ChannelCmd struct {
	Channel  types.ChannelID
	Kind     ChannelCmdKind
	Data     []byte
	Feedback Feedback
}

// ChannelEventKind enumerates inbound pub/sub events (§6).
type ChannelEventKind uint8

const (
	RouteChanged ChannelEventKind = iota
	SourceData
	FeedbackData
)

// ChannelEvent is one inbound event from the pub/sub collaborator.
type ChannelEvent struct {
	Channel  types.ChannelID
	Kind     ChannelEventKind
	Node     string
	Data     []byte
	Feedback Feedback
}

// PubSub is the pub/sub channel collaborator (§6).
type PubSub interface {
	Dispatch(cmd ChannelCmd)
	Events() <-chan ChannelEvent
}
