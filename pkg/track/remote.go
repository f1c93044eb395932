package track

import "github.com/flowmesh-io/sfu/pkg/types"

// Publisher is the outward-facing surface a RemoteTrack forwards packets
// through: the channel subscribe layer (G), which fans a packet out to every
// subscribed LocalTrack, and the keyframe-request plumbing back to the
// endpoint. Kept as an interface so pkg/track does not import pkg/channel
// (component order: G depends on D/E, not the reverse).
type Publisher interface {
	Publish(channel types.ChannelID, pkt *types.MediaPacket)
	RequestKeyFrame(channel types.ChannelID)
}

// RemoteTrack is a publisher's outgoing side (§4, component E): it owns the
// directory-visible TrackInfo for one (peer_id, track_name) and forwards
// every incoming packet to its channel via Publisher. Grounded on the
// teacher's PublishedTrack lifecycle in pkg/conference/track/track.go, with
// the multi-layer publisher bookkeeping moved down into pkg/channel (G) —
// the remote track itself only tracks scalability metadata advertised by
// the source (VP9/H264-SVC layer matrix updates).
type RemoteTrack struct {
	Channel types.ChannelID
	Info    types.TrackInfo

	publisher Publisher
	layers    types.LayerMatrix
}

// NewRemoteTrack constructs a remote track bound to channel and advertised
// under info. The caller (the cluster dispatcher) is responsible for publishing
// info into the directory before packets start flowing.
func NewRemoteTrack(channel types.ChannelID, info types.TrackInfo, publisher Publisher) *RemoteTrack {
	return &RemoteTrack{Channel: channel, Info: info, publisher: publisher}
}

// OnPacket forwards an incoming packet from the transport to this track's
// channel. The remote track does no rewriting or selection — that happens
// per-subscriber in the selector (B) on the egress side.
func (rt *RemoteTrack) OnPacket(pkt *types.MediaPacket) {
	rt.publisher.Publish(rt.Channel, pkt)
}

// OnLayers records the latest spatial/temporal bitrate matrix reported by a
// VP9-SVC/H264-SVC/simulcast source, consumed by subscribers' allocators.
func (rt *RemoteTrack) OnLayers(m types.LayerMatrix) {
	rt.layers = m
	rt.Info.Meta.LayerMatrix = &rt.layers
}

// Layers reports the last bitrate matrix advertised by the source.
func (rt *RemoteTrack) Layers() types.LayerMatrix { return rt.layers }

// RequestKeyFrame asks the publisher (via the transport) for a new key
// frame through the Publisher; RemoteTrack does no coalescing of its own.
func (rt *RemoteTrack) RequestKeyFrame() {
	rt.publisher.RequestKeyFrame(rt.Channel)
}
