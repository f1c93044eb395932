// Package mixer implements the N-slot "who is talking now" selector of
// spec §4.3, used for mix-minus on the subscriber side: it picks up to N
// currently-pinned loudest sources out of an arbitrary number of incoming
// audio sources, with hysteresis so a momentarily louder source doesn't
// steal a slot on every packet.
//
// Grounded on the audio-level-driven active-speaker patterns visible across
// the pack's livekit-derived reference files and on RFC 6464's encoding.
//
// RFC 6464 encodes the wire level as 0 (loudest) to 127 (silence); this
// package's internal convention is the negation of that (0 down to -127, so
// higher is louder), which is what makes SILENT_LEVEL = -127 line up with
// "as quiet as the encoding can express". Extractor implementations are
// expected to return the negated value.
package mixer

import "github.com/flowmesh-io/sfu/pkg/types"

const (
	// SwitchThreshold is how much louder an unpinned source must be than
	// the quietest pinned source before it can steal a slot (§4.3).
	SwitchThreshold = 30
	// SilentLevel is the level a source is forced to once it's timed out
	// (§4.3).
	SilentLevel = -127
	// SilentTimeoutMs is how long a pinned source can go without a packet
	// before it's forced silent (§4.3).
	SilentTimeoutMs = 1000
)

// Extractor maps a MediaPacket to its audio level in this package's
// higher-is-louder convention, or false if the packet carries no level
// extension.
type Extractor func(pkt *types.MediaPacket) (level int8, ok bool)

// EventKind enumerates the mixer's output events.
type EventKind uint8

const (
	EventSlotPinned EventKind = iota
	EventSlotUnpinned
	EventOutputSlotSrcChanged
	EventOutputSlotPkt
)

// Event is one output of the mixer (§4.3).
type Event struct {
	Kind   EventKind
	Slot   int
	Source string
	Pkt    *types.MediaPacket
}

type sourceState struct {
	pinned        bool
	slot          int
	audioLevel    int8
	lastChangedAt int64
}

type slotState struct {
	occupied bool
	source   string
}

// Mixer is the N-slot loudest-speaker selector of §4.3. Not safe for
// concurrent use; callers drive it from a single worker goroutine per §5.
type Mixer struct {
	n         int
	extractor Extractor

	sources map[string]*sourceState
	slots   []slotState
}

// New creates a Mixer with n output slots.
func New(n int, extractor Extractor) *Mixer {
	return &Mixer{
		n:         n,
		extractor: extractor,
		sources:   make(map[string]*sourceState),
		slots:     make([]slotState, n),
	}
}

// AddSource registers a new source. If a slot is free, the source is pinned
// to it immediately; otherwise it starts Unpinned (§4.3).
func (m *Mixer) AddSource(now int64, src string) []Event {
	if _, exists := m.sources[src]; exists {
		return nil
	}

	state := &sourceState{lastChangedAt: now}
	m.sources[src] = state

	for slot := range m.slots {
		if !m.slots[slot].occupied {
			return m.pin(now, src, slot)
		}
	}

	return nil
}

// RemoveSource drops a source. If it was pinned, the highest-level
// Unpinned source (if any) is promoted into its slot (§4.3).
func (m *Mixer) RemoveSource(now int64, src string) []Event {
	state, ok := m.sources[src]
	if !ok {
		return nil
	}

	delete(m.sources, src)

	if !state.pinned {
		return nil
	}

	slot := state.slot
	m.slots[slot] = slotState{}

	var events []Event
	events = append(events, Event{Kind: EventSlotUnpinned, Slot: slot, Source: src})

	if next, found := m.loudestUnpinned(); found {
		events = append(events, m.pin(now, next, slot)...)
	}

	return events
}

// PushPkt feeds one packet from src. If src is Unpinned and loud enough to
// beat the quietest pinned source by SwitchThreshold, it evicts that source
// and takes its slot. If src ends up pinned, OutputSlotPkt is emitted
// (§4.3).
func (m *Mixer) PushPkt(now int64, src string, pkt *types.MediaPacket) []Event {
	state, ok := m.sources[src]
	if !ok {
		return nil
	}

	level, hasLevel := m.extractor(pkt)
	if hasLevel {
		state.audioLevel = level
		state.lastChangedAt = now
	}

	var events []Event

	if !state.pinned {
		if lowestSlot, lowestLevel, found := m.lowestPinned(); found {
			if int(state.audioLevel) >= int(lowestLevel)+SwitchThreshold {
				lowestSrc := m.slots[lowestSlot].source
				events = append(events, m.unpin(now, lowestSrc)...)
				events = append(events, m.pin(now, src, lowestSlot)...)
			}
		}
	}

	if state.pinned {
		events = append(events, Event{Kind: EventOutputSlotPkt, Slot: state.slot, Source: src, Pkt: pkt})
	}

	return events
}

// OnTick forces any source that's gone silent for SilentTimeoutMs down to
// SilentLevel, which allows it to be displaced on the next PushPkt from
// another source or promoted away from on RemoveSource (§4.3).
func (m *Mixer) OnTick(now int64) {
	for _, state := range m.sources {
		if state.lastChangedAt+SilentTimeoutMs <= now {
			state.audioLevel = SilentLevel
		}
	}
}

// PinnedCount reports how many slots currently hold a pinned source.
func (m *Mixer) PinnedCount() int {
	count := 0
	for _, s := range m.slots {
		if s.occupied {
			count++
		}
	}
	return count
}

func (m *Mixer) pin(now int64, src string, slot int) []Event {
	state := m.sources[src]
	state.pinned = true
	state.slot = slot
	m.slots[slot] = slotState{occupied: true, source: src}

	return []Event{
		{Kind: EventSlotPinned, Slot: slot, Source: src},
		{Kind: EventOutputSlotSrcChanged, Slot: slot, Source: src},
	}
}

func (m *Mixer) unpin(now int64, src string) []Event {
	state, ok := m.sources[src]
	if !ok || !state.pinned {
		return nil
	}
	slot := state.slot
	state.pinned = false
	m.slots[slot] = slotState{}
	return []Event{{Kind: EventSlotUnpinned, Slot: slot, Source: src}}
}

func (m *Mixer) lowestPinned() (slot int, level int8, found bool) {
	level = 127
	found = false
	for s, st := range m.slots {
		if !st.occupied {
			continue
		}
		src := m.sources[st.source]
		if !found || src.audioLevel < level {
			slot = s
			level = src.audioLevel
			found = true
		}
	}
	return
}

func (m *Mixer) loudestUnpinned() (src string, found bool) {
	var best int8 = SilentLevel
	for id, st := range m.sources {
		if st.pinned {
			continue
		}
		if !found || st.audioLevel > best {
			best = st.audioLevel
			src = id
			found = true
		}
	}
	return
}
