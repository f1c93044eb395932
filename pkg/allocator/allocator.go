// Package allocator implements the per-endpoint bitrate allocator of spec
// §4.4: it divides one endpoint's estimated send budget across its
// subscribed local tracks by priority, and tells each track's selector the
// resulting target. Grounded on the teacher's priority-ordered subscription
// bookkeeping in pkg/conference/track/track.go combined with the
// bitrate/layer budget walk visible in the pack's ion-sfu-derived downtrack
// allocation code (see DESIGN.md).
package allocator

import (
	"sort"

	"github.com/flowmesh-io/sfu/pkg/selector"
	"github.com/flowmesh-io/sfu/pkg/types"
)

// TargetKind is the allocator's verdict for one track on a refresh (§4.4
// step 3).
type TargetKind uint8

const (
	// TargetWaitStart means the track has no bound source yet; the
	// allocator leaves it alone rather than pausing, to avoid punishing a
	// slow-starting subscription.
	TargetWaitStart TargetKind = iota
	TargetPause
	TargetSingle
	TargetLayer
)

// Target is the resolved (LocalTrackTarget, current_rate, desired_rate)
// triple of §4.4 step 3, minus the rates which the caller reads separately.
type Target struct {
	Kind     TargetKind
	Spatial  int
	Temporal int
}

// TrackSlot is one subscribed local track under allocation (§4.4).
type TrackSlot struct {
	ID       types.LocalTrackID
	Priority uint32
	Sel      *selector.Selector // the track's selector; nil (audio) tracks have a based bitrate of 0 and resolve to TargetWaitStart

	// HasSource reports whether this local track has a bound remote source
	// yet. While false, refresh always resolves TargetWaitStart regardless
	// of budget (§4.4 step 3, "no source yet").
	HasSource bool

	lastTarget  Target
	haveTarget  bool
	currentRate uint32
	desiredRate uint32
}

// ActionKind enumerates the allocator's output events (§4.4 steps 4-5).
type ActionKind uint8

const (
	ActionLimitLocalTrackBitrate ActionKind = iota
	ActionLimitLocalTrack
	ActionConfigEgressBitrate
)

// Action is one allocator output event, drained FIFO via PopAction.
type Action struct {
	Kind    ActionKind
	Track   types.LocalTrackID
	Bitrate uint32
	Target  Target
	// Current/Desired are populated only for ActionConfigEgressBitrate.
	Current uint32
	Desired uint32
}

// Allocator is the per-endpoint bitrate allocator of §4.4. Not safe for
// concurrent use; owned by a single endpoint's worker loop (§5).
type Allocator struct {
	sendBps uint32
	slots   []*TrackSlot
	actions []Action
}

// New constructs an empty Allocator.
func New() *Allocator {
	return &Allocator{}
}

// AddTrack registers a new subscribed track and re-sorts by priority.
func (a *Allocator) AddTrack(slot *TrackSlot) {
	a.slots = append(a.slots, slot)
	a.sortByPriority()
}

// RemoveTrack drops a track from allocation.
func (a *Allocator) RemoveTrack(id types.LocalTrackID) {
	for i, s := range a.slots {
		if s.ID == id {
			a.slots = append(a.slots[:i], a.slots[i+1:]...)
			return
		}
	}
}

// SetPriority updates a track's priority and re-sorts.
func (a *Allocator) SetPriority(id types.LocalTrackID, priority uint32) {
	for _, s := range a.slots {
		if s.ID == id {
			s.Priority = priority
			a.sortByPriority()
			return
		}
	}
}

func (a *Allocator) sortByPriority() {
	sort.SliceStable(a.slots, func(i, j int) bool {
		return a.slots[i].Priority > a.slots[j].Priority
	})
}

// SetEstimatedBitrate records a new BWE estimate and refreshes (§4.4,
// "refresh() is called on tick and on set_est_bitrate").
func (a *Allocator) SetEstimatedBitrate(nowMs int64, bps uint32) {
	a.sendBps = bps
	a.refresh(nowMs)
}

// OnTick refreshes the allocation once per tick (§4.4, §5).
func (a *Allocator) OnTick(nowMs int64) {
	a.refresh(nowMs)
}

// PopAction drains one queued action FIFO (§9 Open Question).
func (a *Allocator) PopAction() (Action, bool) {
	if len(a.actions) == 0 {
		return Action{}, false
	}
	act := a.actions[0]
	a.actions = a.actions[1:]
	return act, true
}

func (a *Allocator) basedBitrate(s *TrackSlot) uint32 {
	if s.Sel == nil {
		return 0
	}
	return s.Sel.BasedBitrate()
}

// refresh implements §4.4 steps 1-5.
func (a *Allocator) refresh(nowMs int64) {
	// Step 1: sum based bitrates in priority order until the budget is
	// exhausted; tracks beyond that point get zero budget.
	var used uint32
	funded := make([]bool, len(a.slots))
	var prioritySum uint32
	for i, s := range a.slots {
		based := a.basedBitrate(s)
		if used+based > a.sendBps {
			break
		}
		used += based
		funded[i] = true
		prioritySum += s.Priority
	}

	remain := uint32(0)
	if a.sendBps > used {
		remain = a.sendBps - used
	}

	var totalCurrent, totalDesired uint32

	for i, s := range a.slots {
		based := a.basedBitrate(s)

		var budget uint32
		if funded[i] {
			budget = based
			if prioritySum > 0 {
				budget += uint64ToUint32(uint64(remain) * uint64(s.Priority) / uint64(prioritySum))
			}
		}

		if s.Sel != nil {
			s.Sel.SetTargetBitrate(nowMs, budget)
		}

		target, current, desired := a.resolveTarget(s, budget)

		s.currentRate = current
		s.desiredRate = desired
		totalCurrent += current
		totalDesired += desired

		a.actions = append(a.actions, Action{Kind: ActionLimitLocalTrackBitrate, Track: s.ID, Bitrate: budget})

		if !s.haveTarget || s.lastTarget != target {
			a.actions = append(a.actions, Action{Kind: ActionLimitLocalTrack, Track: s.ID, Target: target})
			s.lastTarget = target
			s.haveTarget = true
		}
	}

	desiredWithHeadroom := uint32(float64(totalDesired) * 1.2)
	a.actions = append(a.actions, Action{
		Kind:    ActionConfigEgressBitrate,
		Current: totalCurrent,
		Desired: desiredWithHeadroom,
	})
}

// resolveTarget maps a track's resolved budget to a Target plus its
// current/desired rate (§4.4 step 3).
func (a *Allocator) resolveTarget(s *TrackSlot, budget uint32) (Target, uint32, uint32) {
	if !s.HasSource {
		return Target{Kind: TargetWaitStart}, 0, 0
	}

	if s.Sel == nil {
		return Target{Kind: TargetWaitStart}, 0, 0
	}

	if s.Sel.Kind == selector.KindSingle {
		based := s.Sel.BasedBitrate()
		if budget < based {
			return Target{Kind: TargetPause}, 0, based
		}
		return Target{Kind: TargetSingle}, based, s.Sel.DesiredBitrate()
	}

	if s.Sel.Paused() {
		return Target{Kind: TargetPause}, 0, s.Sel.DesiredBitrate()
	}

	layer := s.Sel.TargetLayer()
	return Target{Kind: TargetLayer, Spatial: layer.Spatial, Temporal: layer.Temporal},
		s.Sel.BasedBitrate(), s.Sel.DesiredBitrate()
}

func uint64ToUint32(v uint64) uint32 {
	if v > 0xFFFFFFFF {
		return 0xFFFFFFFF
	}
	return uint32(v)
}
