// Package memory is a single-process, in-memory implementation of
// pkg/collab's KVMap and PubSub interfaces (§6-EXPANSION). It is used by
// tests and by cmd/sfu's single-node demo wiring: a real cluster deployment
// swaps it for a network-backed implementation of the same interfaces
// without touching the core. As a single process, a Dispatch that needs a
// remote peer to fan out to instead just loops back to this node's own
// Events channel when subscribed, which is enough to exercise the full
// directory/channel pipeline end-to-end even though it never actually
// crosses a process boundary.
package memory

import (
	"sync"

	"github.com/flowmesh-io/sfu/pkg/collab"
	"github.com/flowmesh-io/sfu/pkg/types"
)

// KVMap is the in-memory collab.KVMap reference implementation.
type KVMap struct {
	mu     sync.Mutex
	nodeID string
	subbed map[types.MapID]bool
	events chan collab.MapEvent
}

// NewKVMap constructs a KVMap for the given node id.
func NewKVMap(nodeID string) *KVMap {
	return &KVMap{
		nodeID: nodeID,
		subbed: make(map[types.MapID]bool),
		events: make(chan collab.MapEvent, 256),
	}
}

// Dispatch implements collab.KVMap.
func (m *KVMap) Dispatch(cmd collab.MapCmd) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch cmd.Kind {
	case collab.MapSub:
		m.subbed[cmd.MapID] = true
	case collab.MapUnsub:
		delete(m.subbed, cmd.MapID)
	case collab.MapSet:
		if m.subbed[cmd.MapID] {
			m.events <- collab.MapEvent{MapID: cmd.MapID, Kind: collab.MapOnSet, Key: cmd.Key, SourceNode: m.nodeID, Value: cmd.Value}
		}
	case collab.MapDel:
		if m.subbed[cmd.MapID] {
			m.events <- collab.MapEvent{MapID: cmd.MapID, Kind: collab.MapOnDel, Key: cmd.Key, SourceNode: m.nodeID}
		}
	}
}

// Events implements collab.KVMap.
func (m *KVMap) Events() <-chan collab.MapEvent { return m.events }

// PubSub is the in-memory collab.PubSub reference implementation.
type PubSub struct {
	mu     sync.Mutex
	nodeID string
	subbed map[types.ChannelID]bool
	events chan collab.ChannelEvent
}

// NewPubSub constructs a PubSub for the given node id.
func NewPubSub(nodeID string) *PubSub {
	return &PubSub{
		nodeID: nodeID,
		subbed: make(map[types.ChannelID]bool),
		events: make(chan collab.ChannelEvent, 256),
	}
}

// Dispatch implements collab.PubSub.
func (p *PubSub) Dispatch(cmd collab.ChannelCmd) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch cmd.Kind {
	case collab.SubAuto:
		p.subbed[cmd.Channel] = true
		p.events <- collab.ChannelEvent{Channel: cmd.Channel, Kind: collab.RouteChanged, Node: p.nodeID}
	case collab.UnsubAuto:
		delete(p.subbed, cmd.Channel)
	case collab.PubData:
		if p.subbed[cmd.Channel] {
			p.events <- collab.ChannelEvent{Channel: cmd.Channel, Kind: collab.SourceData, Node: p.nodeID, Data: cmd.Data}
		}
	case collab.FeedbackAuto:
		p.events <- collab.ChannelEvent{Channel: cmd.Channel, Kind: collab.FeedbackData, Node: p.nodeID, Feedback: cmd.Feedback}
	}
}

// Events implements collab.PubSub.
func (p *PubSub) Events() <-chan collab.ChannelEvent { return p.events }
