// Package track implements the two track-layer components of spec §4: the
// local track (D), a subscriber's view of one remote source, and the remote
// track (E), a publisher's outgoing side. Both are thin compositions over
// the lower-level selector/mixer/rewriter packages; per §9 the heavy lifting
// stays in those packages and local.go/remote.go only wire lifecycle and plumbing,
// grounded on the teacher's PublishedTrack/subscription split in
// pkg/conference/track/track.go and pkg/conference/track/track_handler.go.
package track

import (
	"github.com/flowmesh-io/sfu/pkg/mixer"
	"github.com/flowmesh-io/sfu/pkg/selector"
	"github.com/flowmesh-io/sfu/pkg/types"
)

// LocalTrack is a subscriber's view of one remote source (§4, component D).
// Video local tracks own a Selector; audio local tracks are a thin handle
// into a shared per-endpoint Mixer (the mixer, not the track, owns the
// N-slot pinning state across every audio source the endpoint hears).
type LocalTrack struct {
	Channel types.ChannelID
	Kind    types.TrackKind

	sel *selector.Selector // nil for audio

	audioMixer *mixer.Mixer // nil for video
	audioSrc   string       // source id this track registered with audioMixer
}

// NewVideoLocalTrack creates a video local track backed by a fresh selector
// of the given kind (single/simulcast/vp8/vp9-svc/h264-svc).
func NewVideoLocalTrack(channel types.ChannelID, kind selector.Kind) *LocalTrack {
	return &LocalTrack{
		Channel: channel,
		Kind:    types.TrackVideo,
		sel:     selector.New(kind),
	}
}

// NewAudioLocalTrack registers a new audio local track as a source of the
// endpoint's shared mixer, under sourceID (the cluster dispatcher passes
// "node:conn/localTrack" for the subscribing endpoint's local track).
func NewAudioLocalTrack(now int64, channel types.ChannelID, sourceID string, m *mixer.Mixer) *LocalTrack {
	m.AddSource(now, sourceID)
	return &LocalTrack{
		Channel:    channel,
		Kind:       types.TrackAudio,
		audioMixer: m,
		audioSrc:   sourceID,
	}
}

// Selector exposes the underlying selector for video tracks (nil for audio).
func (lt *LocalTrack) Selector() *selector.Selector { return lt.sel }

// SetTargetBitrate forwards a new budget to the video selector; a no-op for
// audio tracks, whose bitrate isn't selector-managed.
func (lt *LocalTrack) SetTargetBitrate(nowMs int64, bps uint32) {
	if lt.sel != nil {
		lt.sel.SetTargetBitrate(nowMs, bps)
	}
}

// SetLimitLayer forwards a spatial/temporal ceiling to the video selector.
func (lt *LocalTrack) SetLimitLayer(nowMs int64, maxSpatial, maxTemporal int) {
	if lt.sel != nil {
		lt.sel.SetLimitLayer(nowMs, maxSpatial, maxTemporal)
	}
}

// OnTick drives the per-tick hooks of the underlying selector/mixer.
func (lt *LocalTrack) OnTick(nowMs int64) {
	if lt.sel != nil {
		lt.sel.OnTick(nowMs)
	}
	if lt.audioMixer != nil {
		lt.audioMixer.OnTick(nowMs)
	}
}

// OnPacket offers an incoming packet to the video selector, returning
// whether it should be forwarded to the endpoint's outgoing RTP stream
// (after in-place rewriting). Meaningless for audio tracks — use PushAudio.
func (lt *LocalTrack) OnPacket(ctx selector.SelectContext, nowMs int64, pkt *types.MediaPacket) bool {
	if lt.sel == nil {
		return false
	}
	return lt.sel.Select(ctx, nowMs, lt.Channel, pkt)
}

// PushAudio feeds an audio packet into the shared mixer under this track's
// source id, returning whatever pin/unpin/output events resulted.
func (lt *LocalTrack) PushAudio(now int64, pkt *types.MediaPacket) []mixer.Event {
	if lt.audioMixer == nil {
		return nil
	}
	return lt.audioMixer.PushPkt(now, lt.audioSrc, pkt)
}

// Close releases this track's resources — for audio tracks, it unregisters
// from the shared mixer so another source can be promoted into its slot.
func (lt *LocalTrack) Close(now int64) []mixer.Event {
	if lt.audioMixer != nil {
		return lt.audioMixer.RemoveSource(now, lt.audioSrc)
	}
	return nil
}

// PopAction drains a queued selector side effect (e.g. RequestKeyFrame).
func (lt *LocalTrack) PopAction() (selector.Action, bool) {
	if lt.sel == nil {
		return selector.Action{}, false
	}
	return lt.sel.PopAction()
}
