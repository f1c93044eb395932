package types

// TrackKind distinguishes audio from video tracks (§3).
type TrackKind uint8

const (
	TrackAudio TrackKind = iota
	TrackVideo
)

// TrackMeta is the kind/codec/label metadata a publisher attaches to a
// track (§3).
type TrackMeta struct {
	Kind         TrackKind
	Label        string
	Scalability  CodecTag
	LayerMatrix  *LayerMatrix
	// DTX hints that the publisher may stop sending audio packets during
	// silence. It is carried through the directory and wire codec only; the
	// mixer does not read it and relies on the 1s SILENT_TIMEOUT
	// (§3-EXPANSION).
	DTX bool
}

// PeerInfo is the directory record published for a joined peer (§3).
type PeerInfo struct {
	PeerID   PeerID
	Metadata []byte
	// JoinedAt records when the peer joined (§3-EXPANSION); late-subscriber
	// replay is not sorted by it. It is not part of the wire format in §6.
	JoinedAt int64
}

// TrackInfo is the directory record published for a started remote track
// (§3).
type TrackInfo struct {
	PeerID    PeerID
	TrackName TrackName
	Meta      TrackMeta
}

// PublishFlags declares what an endpoint publishes into the directory on
// join (§3).
type PublishFlags struct {
	Peer   bool
	Tracks bool
}

// SubscribeFlags declares what an endpoint subscribes to in the directory on
// join (§3). Manual, per-peer subscription is a separate call
// (SubscribePeer), not a flag here.
type SubscribeFlags struct {
	Peers  bool
	Tracks bool
}
