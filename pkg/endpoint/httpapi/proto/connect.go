// Package proto defines the wire messages for POST /webrtc/connect
// (spec.md §6: "Protobuf body with join hint, sender descriptors, token;
// returns {conn_id, sdp, ice_lite}"). Hand-encoded against
// google.golang.org/protobuf's low-level protowire primitives rather than
// protoc-gen-go output, since this module's build never invokes protoc; the
// wire format is still standard protobuf and interoperates with a generated
// client on the other side (see DESIGN.md).
package proto

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// SenderDescriptor advertises one track a client intends to publish, ahead
// of SDP negotiation. The connect handler only checks whether any are
// present; the allocator does not read them.
type SenderDescriptor struct {
	TrackName   string
	Kind        uint32 // mirrors types.TrackKind
	Scalability uint32 // mirrors types.CodecTag
}

// ConnectRequest is the decoded body of POST /webrtc/connect.
type ConnectRequest struct {
	RoomHint string
	PeerID   string
	Token    string
	SDPOffer string
	Senders  []SenderDescriptor
}

// ConnectResponse is the encoded body returned from POST /webrtc/connect.
type ConnectResponse struct {
	ConnID  string
	SDP     string
	ICELite bool
}

const (
	fieldConnectRequestRoomHint = 1
	fieldConnectRequestPeerID   = 2
	fieldConnectRequestToken    = 3
	fieldConnectRequestSDPOffer = 4
	fieldConnectRequestSenders  = 5

	fieldSenderTrackName   = 1
	fieldSenderKind        = 2
	fieldSenderScalability = 3

	fieldConnectResponseConnID  = 1
	fieldConnectResponseSDP     = 2
	fieldConnectResponseICELite = 3
)

// Marshal encodes a ConnectRequest as a protobuf message.
func (r *ConnectRequest) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldConnectRequestRoomHint, protowire.BytesType)
	b = protowire.AppendString(b, r.RoomHint)
	b = protowire.AppendTag(b, fieldConnectRequestPeerID, protowire.BytesType)
	b = protowire.AppendString(b, r.PeerID)
	b = protowire.AppendTag(b, fieldConnectRequestToken, protowire.BytesType)
	b = protowire.AppendString(b, r.Token)
	b = protowire.AppendTag(b, fieldConnectRequestSDPOffer, protowire.BytesType)
	b = protowire.AppendString(b, r.SDPOffer)
	for _, s := range r.Senders {
		b = protowire.AppendTag(b, fieldConnectRequestSenders, protowire.BytesType)
		b = protowire.AppendBytes(b, s.marshal())
	}
	return b
}

func (s *SenderDescriptor) marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldSenderTrackName, protowire.BytesType)
	b = protowire.AppendString(b, s.TrackName)
	b = protowire.AppendTag(b, fieldSenderKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(s.Kind))
	b = protowire.AppendTag(b, fieldSenderScalability, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(s.Scalability))
	return b
}

// UnmarshalConnectRequest decodes a ConnectRequest from its protobuf wire
// form. Unknown fields are skipped rather than rejected, matching protobuf's
// forward-compatibility contract.
func UnmarshalConnectRequest(data []byte) (*ConnectRequest, error) {
	req := &ConnectRequest{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("proto: bad tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch num {
		case fieldConnectRequestRoomHint:
			v, m := protowire.ConsumeString(data)
			if m < 0 {
				return nil, fmt.Errorf("proto: bad room_hint: %w", protowire.ParseError(m))
			}
			req.RoomHint = v
			data = data[m:]
		case fieldConnectRequestPeerID:
			v, m := protowire.ConsumeString(data)
			if m < 0 {
				return nil, fmt.Errorf("proto: bad peer_id: %w", protowire.ParseError(m))
			}
			req.PeerID = v
			data = data[m:]
		case fieldConnectRequestToken:
			v, m := protowire.ConsumeString(data)
			if m < 0 {
				return nil, fmt.Errorf("proto: bad token: %w", protowire.ParseError(m))
			}
			req.Token = v
			data = data[m:]
		case fieldConnectRequestSDPOffer:
			v, m := protowire.ConsumeString(data)
			if m < 0 {
				return nil, fmt.Errorf("proto: bad sdp_offer: %w", protowire.ParseError(m))
			}
			req.SDPOffer = v
			data = data[m:]
		case fieldConnectRequestSenders:
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return nil, fmt.Errorf("proto: bad sender: %w", protowire.ParseError(m))
			}
			sender, err := unmarshalSender(v)
			if err != nil {
				return nil, err
			}
			req.Senders = append(req.Senders, sender)
			data = data[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return nil, fmt.Errorf("proto: bad field %d: %w", num, protowire.ParseError(m))
			}
			data = data[m:]
		}
	}
	return req, nil
}

func unmarshalSender(data []byte) (SenderDescriptor, error) {
	var s SenderDescriptor
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return s, fmt.Errorf("proto: bad sender tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch num {
		case fieldSenderTrackName:
			v, m := protowire.ConsumeString(data)
			if m < 0 {
				return s, fmt.Errorf("proto: bad track_name: %w", protowire.ParseError(m))
			}
			s.TrackName = v
			data = data[m:]
		case fieldSenderKind:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return s, fmt.Errorf("proto: bad kind: %w", protowire.ParseError(m))
			}
			s.Kind = uint32(v)
			data = data[m:]
		case fieldSenderScalability:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return s, fmt.Errorf("proto: bad scalability: %w", protowire.ParseError(m))
			}
			s.Scalability = uint32(v)
			data = data[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return s, fmt.Errorf("proto: bad sender field %d: %w", num, protowire.ParseError(m))
			}
			data = data[m:]
		}
	}
	return s, nil
}

// Marshal encodes a ConnectResponse as a protobuf message.
func (r *ConnectResponse) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldConnectResponseConnID, protowire.BytesType)
	b = protowire.AppendString(b, r.ConnID)
	b = protowire.AppendTag(b, fieldConnectResponseSDP, protowire.BytesType)
	b = protowire.AppendString(b, r.SDP)
	b = protowire.AppendTag(b, fieldConnectResponseICELite, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeBool(r.ICELite))
	return b
}

// UnmarshalConnectResponse decodes a ConnectResponse from its protobuf wire
// form, used by tests exercising the handler round trip.
func UnmarshalConnectResponse(data []byte) (*ConnectResponse, error) {
	resp := &ConnectResponse{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("proto: bad tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch num {
		case fieldConnectResponseConnID:
			v, m := protowire.ConsumeString(data)
			if m < 0 {
				return nil, fmt.Errorf("proto: bad conn_id: %w", protowire.ParseError(m))
			}
			resp.ConnID = v
			data = data[m:]
		case fieldConnectResponseSDP:
			v, m := protowire.ConsumeString(data)
			if m < 0 {
				return nil, fmt.Errorf("proto: bad sdp: %w", protowire.ParseError(m))
			}
			resp.SDP = v
			data = data[m:]
		case fieldConnectResponseICELite:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return nil, fmt.Errorf("proto: bad ice_lite: %w", protowire.ParseError(m))
			}
			resp.ICELite = protowire.DecodeBool(v)
			data = data[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return nil, fmt.Errorf("proto: bad field %d: %w", num, protowire.ParseError(m))
			}
			data = data[m:]
		}
	}
	return resp, nil
}
