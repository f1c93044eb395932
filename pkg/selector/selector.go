// Package selector implements the per-subscriber, codec-aware packet
// selectors of spec §4.2: the component that picks a spatial/temporal layer
// from a simulcast/SVC source to match a subscriber's bandwidth budget, and
// rewrites sequence/timestamp/picture-id across layer switches.
//
// Per §9 ("Tagged variants over trait objects"), the five selector variants
// share one concrete Selector type with a Kind discriminant rather than a
// heap-allocated interface; each variant's logic lives in its own file
// (single.go, simulcast.go, vp9svc.go, h264svc.go) and is dispatched from
// the methods below via a switch on Kind. The spatial/temporal layer
// switching heuristics are grounded on the teacher's simulcast layer
// selection (pkg/conference/track/simulcast.go) and cross-checked against
// the ion-sfu-derived layer allocation in the pack's livekit/downtrack
// reference files (see DESIGN.md).
package selector

import (
	"github.com/flowmesh-io/sfu/pkg/rewriter"
	"github.com/flowmesh-io/sfu/pkg/types"
)

// Kind discriminates the selector variants of §4.2/§9.
type Kind uint8

const (
	KindSingle Kind = iota
	KindSimulcast
	KindVP8
	KindVP9SVC
	KindH264SVC
)

// ActionKind enumerates the side effects a selector can request.
type ActionKind uint8

const (
	ActionNone ActionKind = iota
	ActionRequestKeyFrame
)

// Action is a side effect produced while processing a packet or a
// bitrate/limit update, drained FIFO via PopAction (§9 Open Question:
// actions pop FIFO).
type Action struct {
	Kind ActionKind
}

// SelectContext carries the information the track layer has about the
// packet being offered to Select beyond what's in the MediaPacket itself:
// which physical layer (SSRC-equivalent) it arrived on. The track/publisher
// plumbing is responsible for routing candidate layers' packets to Select;
// the selector decides whether to accept, gate, or drop them.
type SelectContext struct {
	SourceSpatial  int
	SourceTemporal int
}

// LayerTarget is the layer a selector has chosen or wants to move to.
type LayerTarget struct {
	Spatial  int
	Temporal int
}

// simulcastState is shared by the Simulcast/VP8 and VP9/H264-SVC variants:
// all of them track a current/target spatial+temporal pair and gate
// switches on keyframe/end-of-frame/switching-point boundaries.
type simulcastState struct {
	haveCurrent bool
	current     LayerTarget
	target      LayerTarget
	limit       LayerTarget // max spatial/max temporal, from SetLimitLayer
	minFloor    LayerTarget // min spatial/min temporal that can override budget

	paused bool
}

// Selector is the tagged-enum packet selector of §4.2.
type Selector struct {
	Kind Kind

	seqRW *rewriter.Rewriter
	tsRW  *rewriter.Rewriter
	picRW *rewriter.Rewriter // VP9 picture-id rewriter only

	simulcast simulcastState
	vp9Mode   vp9Mode
	layers    types.LayerMatrix // VP9/H264-SVC layer bitrate matrix, last reported

	targetBitrate uint32
	desiredRate   uint32

	actions []Action
}

// New constructs a Selector of the given kind with freshly initialized
// rewriters.
func New(kind Kind) *Selector {
	s := &Selector{Kind: kind}
	s.seqRW = rewriter.New(rewriter.Width16)
	s.tsRW = rewriter.New(rewriter.Width32)
	if kind == KindVP9SVC {
		s.picRW = rewriter.New(rewriter.Width15)
	}
	s.simulcast.limit = LayerTarget{Spatial: 2, Temporal: 2}
	return s
}

// OnInit resets any per-codec rewriter sidecar (§4.2).
func (s *Selector) OnInit() {
	s.seqRW = rewriter.New(rewriter.Width16)
	s.tsRW = rewriter.New(rewriter.Width32)
	if s.Kind == KindVP9SVC {
		s.picRW = rewriter.New(rewriter.Width15)
	}
	s.simulcast = simulcastState{limit: LayerTarget{Spatial: 2, Temporal: 2}}
}

// OnTick lets a selector evaluate stall timers (pause-state decay, etc).
// None of the current variants need per-tick work beyond what
// SetTargetBitrate already drives, but the hook is kept so the track layer
// (LocalTrack.OnTick, driven once per tick, §5) has a uniform surface.
func (s *Selector) OnTick(nowMs int64) {}

// SetLimitLayer sets the upper bound for layer selection (§4.2).
func (s *Selector) SetLimitLayer(nowMs int64, maxSpatial, maxTemporal int) {
	s.simulcast.limit = LayerTarget{Spatial: maxSpatial, Temporal: maxTemporal}
	s.reselect(nowMs)
}

// SetTargetBitrate reselects the best layer for the given budget (§4.2).
func (s *Selector) SetTargetBitrate(nowMs int64, bps uint32) {
	s.targetBitrate = bps
	s.reselect(nowMs)
}

func (s *Selector) reselect(nowMs int64) {
	switch s.Kind {
	case KindSingle:
		s.reselectSingle()
	case KindSimulcast, KindVP8:
		s.reselectSimulcast()
	case KindVP9SVC:
		s.reselectVP9(nowMs)
	case KindH264SVC:
		s.reselectH264(nowMs)
	}
}

// Select decides whether pkt should be emitted (after in-place rewriting)
// for the given channel, dispatching on Kind (§4.2).
func (s *Selector) Select(ctx SelectContext, nowMs int64, channel types.ChannelID, pkt *types.MediaPacket) bool {
	switch s.Kind {
	case KindSingle:
		return s.selectSingle(pkt)
	case KindSimulcast, KindVP8:
		return s.selectSimulcast(ctx, pkt)
	case KindVP9SVC:
		return s.selectVP9(ctx, pkt)
	case KindH264SVC:
		return s.selectH264(ctx, pkt)
	default:
		return false
	}
}

// PopAction drains queued side effects FIFO (§9 Open Question).
func (s *Selector) PopAction() (Action, bool) {
	if len(s.actions) == 0 {
		return Action{}, false
	}
	a := s.actions[0]
	s.actions = s.actions[1:]
	return a, true
}

func (s *Selector) queueKeyFrameRequest() {
	s.actions = append(s.actions, Action{Kind: ActionRequestKeyFrame})
}

// CurrentLayer reports the spatial/temporal layer currently being forwarded
// (meaningless for KindSingle).
func (s *Selector) CurrentLayer() LayerTarget { return s.simulcast.current }

// TargetLayer reports the layer the selector wants to switch to.
func (s *Selector) TargetLayer() LayerTarget { return s.simulcast.target }

// Paused reports whether the selector is in the VP9/H264-SVC "budget below
// base layer" pause state (§4.2 step 2).
func (s *Selector) Paused() bool { return s.simulcast.paused }

// DesiredBitrate is the "next-higher-rate" estimate computed on the last
// reselect, used by the allocator's ConfigEgressBitrate aggregation (§4.4).
func (s *Selector) DesiredBitrate() uint32 { return s.desiredRate }

// BasedBitrate is the codec's minimum sustain cost (§4.4): the floor the
// allocator reserves for this track before distributing any remaining
// budget by priority.
func (s *Selector) BasedBitrate() uint32 {
	if s.Kind == KindSingle {
		return singleBaseBitrate
	}
	return simulcastBaseBitrate
}

// HasSource reports whether the selector has locked onto a source layer yet
// (false until the first keyframe-gated sync). The allocator does not read
// it; it uses its own TrackSlot.HasSource to distinguish WaitStart (§4.4).
func (s *Selector) HasSource() bool { return s.simulcast.haveCurrent }

func rewritePacket(seqRW, tsRW *rewriter.Rewriter, pkt *types.MediaPacket) bool {
	seq, ok := seqRW.Generate(uint64(pkt.SequenceNumber))
	if !ok {
		return false
	}
	ts, ok := tsRW.Generate(uint64(pkt.Timestamp))
	if !ok {
		return false
	}
	pkt.SequenceNumber = uint16(seq)
	pkt.Timestamp = uint32(ts)
	return true
}
