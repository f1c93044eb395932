package mixer_test

import (
	"testing"

	"github.com/flowmesh-io/sfu/pkg/mixer"
	"github.com/flowmesh-io/sfu/pkg/types"
)

func levelExtractor(levels map[string]int8, owner *string) mixer.Extractor {
	return func(pkt *types.MediaPacket) (int8, bool) {
		return levels[*owner], true
	}
}

// TestPromotionOnSilence reproduces the scenario where a single pinned
// source goes silent for SilentTimeoutMs and a second, quieter-but-present
// source is promoted into its slot (§4.3).
func TestPromotionOnSilence(t *testing.T) {
	m := mixer.New(1, func(pkt *types.MediaPacket) (int8, bool) {
		return int8(pkt.Payload[0]), true
	})

	m.AddSource(0, "A")
	m.AddSource(0, "B")

	if m.PinnedCount() != 1 {
		t.Fatalf("expected A to take the only slot on AddSource, got %d pinned", m.PinnedCount())
	}

	m.PushPkt(0, "A", &types.MediaPacket{Payload: []byte{10}})

	// A goes silent for SilentTimeoutMs; at t=1000 OnTick forces
	// it down to SilentLevel.
	m.OnTick(1000)

	events := m.PushPkt(1000, "B", &types.MediaPacket{Payload: []byte{6}})

	var sawUnpin, sawPin, sawChanged, sawPkt bool
	for _, e := range events {
		switch e.Kind {
		case mixer.EventSlotUnpinned:
			if e.Source != "A" {
				t.Fatalf("expected A to be unpinned, got %s", e.Source)
			}
			sawUnpin = true
		case mixer.EventSlotPinned:
			if e.Source != "B" {
				t.Fatalf("expected B to be pinned, got %s", e.Source)
			}
			sawPin = true
		case mixer.EventOutputSlotSrcChanged:
			sawChanged = true
		case mixer.EventOutputSlotPkt:
			sawPkt = true
			if e.Source != "B" {
				t.Fatalf("expected B to own the slot, got %s", e.Source)
			}
		}
	}

	if !sawUnpin || !sawPin || !sawChanged || !sawPkt {
		t.Fatalf("expected unpin+pin+changed+pkt events, got %+v", events)
	}
}

// TestConservationAfterAddRemove checks that removing a pinned source with
// an unpinned source waiting always promotes the waiting source, so the
// number of pinned slots never drops below min(n, len(sources)).
func TestConservationAfterAddRemove(t *testing.T) {
	m := mixer.New(2, func(pkt *types.MediaPacket) (int8, bool) { return 0, true })

	m.AddSource(0, "A")
	m.AddSource(0, "B")
	m.AddSource(0, "C")

	if m.PinnedCount() != 2 {
		t.Fatalf("expected 2 pinned slots with n=2, got %d", m.PinnedCount())
	}

	m.RemoveSource(0, "A")

	if m.PinnedCount() != 2 {
		t.Fatalf("expected C to be promoted into A's freed slot, got %d pinned", m.PinnedCount())
	}
}

// TestSwitchThresholdHysteresis checks that an unpinned source must beat the
// quietest pinned source by SwitchThreshold before it steals a slot, and
// that it does steal the slot once it clears the threshold.
func TestSwitchThresholdHysteresis(t *testing.T) {
	levels := map[string]int8{"A": 0, "B": 0}
	active := "A"
	extractor := func(pkt *types.MediaPacket) (int8, bool) {
		return levels[active], true
	}

	m := mixer.New(1, extractor)
	m.AddSource(0, "A")
	m.AddSource(0, "B")

	active = "A"
	m.PushPkt(0, "A", &types.MediaPacket{})

	// B is only SwitchThreshold-1 louder than A: should not steal the slot.
	active = "B"
	levels["B"] = mixer.SwitchThreshold - 1
	events := m.PushPkt(1, "B", &types.MediaPacket{})
	for _, e := range events {
		if e.Kind == mixer.EventSlotPinned {
			t.Fatal("expected B to stay unpinned below the switch threshold")
		}
	}

	// B now clears the threshold and should steal A's slot.
	levels["B"] = mixer.SwitchThreshold
	events = m.PushPkt(2, "B", &types.MediaPacket{})

	var stole bool
	for _, e := range events {
		if e.Kind == mixer.EventSlotPinned && e.Source == "B" {
			stole = true
		}
	}
	if !stole {
		t.Fatalf("expected B to steal the slot once past the switch threshold, got %+v", events)
	}
}

func TestRemoveSourceWithNoWaitingSourceFreesSlot(t *testing.T) {
	m := mixer.New(1, func(pkt *types.MediaPacket) (int8, bool) { return 0, true })
	m.AddSource(0, "A")

	events := m.RemoveSource(0, "A")
	if len(events) != 1 || events[0].Kind != mixer.EventSlotUnpinned {
		t.Fatalf("expected a single SlotUnpinned event, got %+v", events)
	}
	if m.PinnedCount() != 0 {
		t.Fatalf("expected no pinned slots after removing the only source, got %d", m.PinnedCount())
	}
}
