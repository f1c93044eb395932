package allocator_test

import (
	"testing"

	"github.com/flowmesh-io/sfu/pkg/allocator"
	"github.com/flowmesh-io/sfu/pkg/selector"
)

func drainActions(a *allocator.Allocator) []allocator.Action {
	var out []allocator.Action
	for {
		act, ok := a.PopAction()
		if !ok {
			return out
		}
		out = append(out, act)
	}
}

func TestWaitStartWithoutSource(t *testing.T) {
	a := allocator.New()
	sel := selector.New(selector.KindSingle)
	a.AddTrack(&allocator.TrackSlot{ID: 1, Priority: 1, Sel: sel, HasSource: false})

	a.SetEstimatedBitrate(0, 1_000_000)

	actions := drainActions(a)
	var sawTarget bool
	for _, act := range actions {
		if act.Kind == allocator.ActionLimitLocalTrack {
			sawTarget = true
			if act.Target.Kind != allocator.TargetWaitStart {
				t.Fatalf("expected WaitStart for a track with no source, got %+v", act.Target)
			}
		}
	}
	if !sawTarget {
		t.Fatal("expected a LimitLocalTrack action")
	}
}

func TestBudgetNeverExceedsSendRate(t *testing.T) {
	a := allocator.New()
	s1 := selector.New(selector.KindSingle)
	s2 := selector.New(selector.KindSingle)
	a.AddTrack(&allocator.TrackSlot{ID: 1, Priority: 10, Sel: s1, HasSource: true})
	a.AddTrack(&allocator.TrackSlot{ID: 2, Priority: 1, Sel: s2, HasSource: true})

	a.SetEstimatedBitrate(0, 150_000)

	var total uint32
	for _, act := range drainActions(a) {
		if act.Kind == allocator.ActionLimitLocalTrackBitrate {
			total += act.Bitrate
		}
	}

	if total > 150_000 {
		t.Fatalf("expected Σ LimitLocalTrackBitrate <= send_bps, got %d > 150000", total)
	}
}

func TestHigherPriorityGetsMoreOfTheRemainder(t *testing.T) {
	a := allocator.New()
	high := selector.New(selector.KindSingle)
	low := selector.New(selector.KindSingle)
	a.AddTrack(&allocator.TrackSlot{ID: 1, Priority: 3, Sel: high, HasSource: true})
	a.AddTrack(&allocator.TrackSlot{ID: 2, Priority: 1, Sel: low, HasSource: true})

	a.SetEstimatedBitrate(0, 1_000_000)

	budgets := map[uint32]uint32{}
	for _, act := range drainActions(a) {
		if act.Kind == allocator.ActionLimitLocalTrackBitrate {
			budgets[uint32(act.Track)] = act.Bitrate
		}
	}

	if budgets[1] <= budgets[2] {
		t.Fatalf("expected the higher-priority track to get a larger budget: %+v", budgets)
	}
}

func TestConfigEgressBitrateHasHeadroom(t *testing.T) {
	a := allocator.New()
	sel := selector.New(selector.KindSingle)
	a.AddTrack(&allocator.TrackSlot{ID: 1, Priority: 1, Sel: sel, HasSource: true})

	a.SetEstimatedBitrate(0, 500_000)

	var found bool
	for _, act := range drainActions(a) {
		if act.Kind == allocator.ActionConfigEgressBitrate {
			found = true
			if act.Desired < act.Current {
				t.Fatalf("expected desired (with 20%% headroom) >= current, got %+v", act)
			}
		}
	}
	if !found {
		t.Fatal("expected a ConfigEgressBitrate action")
	}
}
