// Package types holds the identifiers and wire-level data structures shared
// across the room media plane: room/peer/track identifiers, media packets,
// directory records and the publish/subscribe flags an endpoint declares on
// join.
package types

import "hash/fnv"

// RoomHash is a 64-bit digest of a room id, used as the key space for the
// cluster dispatcher's room registry (spec §3, §4.9).
type RoomHash uint64

// HashRoom derives a RoomHash from an opaque room id.
func HashRoom(roomID string) RoomHash {
	h := fnv.New64a()
	_, _ = h.Write([]byte(roomID))
	return RoomHash(h.Sum64())
}

// PeerID is an opaque per-room peer identifier.
type PeerID string

// TrackName is an opaque, peer-scoped track name.
type TrackName string

// LocalTrackID is a small per-endpoint integer identifying a subscriber's
// view of a remote track (§3).
type LocalTrackID uint32

// RemoteTrackID is a small per-endpoint integer identifying a track an
// endpoint publishes (§3).
type RemoteTrackID uint32

// ChannelID is a stable 64-bit hash of (RoomHash, PeerID, TrackName) used to
// address a track's pub/sub channel (§3).
type ChannelID uint64

// HashChannel computes the channel id for a published track.
func HashChannel(room RoomHash, peer PeerID, track TrackName) ChannelID {
	h := fnv.New64a()
	var buf [8]byte
	putUint64(buf[:], uint64(room))
	_, _ = h.Write(buf[:])
	_, _ = h.Write([]byte(peer))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(track))
	return ChannelID(h.Sum64())
}

// MapID is a 64-bit hash identifying a distributed KV map (the room's
// peers-map, tracks-map, or a per-peer submap), per §6.
type MapID uint64

// HashMap derives a MapID from a human-readable map name, scoped to a room.
func HashMap(room RoomHash, name string) MapID {
	h := fnv.New64a()
	var buf [8]byte
	putUint64(buf[:], uint64(room))
	_, _ = h.Write(buf[:])
	_, _ = h.Write([]byte(name))
	return MapID(h.Sum64())
}

// Key is a 64-bit hash of a KV map key (typically a peer id or a
// (peer, track) pair), per §6.
type Key uint64

// HashKey hashes a peer id into a KV map key.
func HashKey(peer PeerID) Key {
	h := fnv.New64a()
	_, _ = h.Write([]byte(peer))
	return Key(h.Sum64())
}

// HashTrackKey hashes a (peer, track) pair into a KV map key.
func HashTrackKey(peer PeerID, track TrackName) Key {
	h := fnv.New64a()
	_, _ = h.Write([]byte(peer))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(track))
	return Key(h.Sum64())
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

// Owner is a copyable, opaque handle to an endpoint, resolvable by the
// cluster dispatcher to an actual endpoint mailbox (§3 Ownership, §9). It
// carries no behavior of its own so it can be stored freely in maps without
// introducing reference cycles.
type Owner struct {
	NodeID string
	Conn   uint64
}
