package wire

import (
	"fmt"

	"github.com/shardmesh/chitchat/internal/state"
)

// Message is the closed set of protocol messages from spec.md §4.2. Tag
// selects which payload fields are meaningful; decoders switch over every
// Tag explicitly.
type Message struct {
	Tag Tag

	// Syn
	ClusterID string
	Digest    state.Digest

	// SynAck also reuses Digest above (its own digest) plus Delta below.
	// Ack uses only Delta below. BadCluster uses neither.
	Delta state.Delta
}

// Syn builds a Syn message.
func Syn(clusterID string, digest state.Digest) Message {
	return Message{Tag: TagSyn, ClusterID: clusterID, Digest: digest}
}

// SynAckMsg builds a SynAck message.
func SynAckMsg(digest state.Digest, delta state.Delta) Message {
	return Message{Tag: TagSynAck, Digest: digest, Delta: delta}
}

// AckMsg builds an Ack message.
func AckMsg(delta state.Delta) Message {
	return Message{Tag: TagAck, Delta: delta}
}

// BadClusterMsg builds a BadCluster rejection message.
func BadClusterMsg() Message {
	return Message{Tag: TagBadCluster}
}

// Encode serializes m per spec.md §6.
func Encode(m Message) []byte {
	e := &encoder{}
	e.byte(byte(m.Tag))
	switch m.Tag {
	case TagSyn:
		e.str(m.ClusterID)
		encodeDigest(e, m.Digest)
	case TagSynAck:
		encodeDigest(e, m.Digest)
		encodeDelta(e, m.Delta)
	case TagAck:
		encodeDelta(e, m.Delta)
	case TagBadCluster:
		// no payload
	}
	return e.buf
}

// Decode parses a Message from raw datagram/stream bytes. Any malformed
// input returns ErrTruncated, ErrUnknownTag, or an unknown-status-byte
// error; callers (the transport
// Socket) are expected to log and drop, per spec.md §7 — decode errors are
// never surfaced as a failed delivery.
func Decode(b []byte) (Message, error) {
	d := &decoder{buf: b}
	tagByte, err := d.byte()
	if err != nil {
		return Message{}, err
	}
	tag := Tag(tagByte)

	var m Message
	m.Tag = tag
	switch tag {
	case TagSyn:
		clusterID, err := d.str()
		if err != nil {
			return Message{}, err
		}
		digest, err := decodeDigest(d)
		if err != nil {
			return Message{}, err
		}
		m.ClusterID = clusterID
		m.Digest = digest

	case TagSynAck:
		digest, err := decodeDigest(d)
		if err != nil {
			return Message{}, err
		}
		delta, err := decodeDelta(d)
		if err != nil {
			return Message{}, err
		}
		m.Digest = digest
		m.Delta = delta

	case TagAck:
		delta, err := decodeDelta(d)
		if err != nil {
			return Message{}, err
		}
		m.Delta = delta

	case TagBadCluster:
		// no payload

	default:
		return Message{}, fmt.Errorf("%w: 0x%02x", ErrUnknownTag, tagByte)
	}
	return m, nil
}

// EncodedLen returns len(Encode(m)) without allocating the full buffer,
// used by the protocol engine to count bytes sent and received in its
// metrics.
func EncodedLen(m Message) int {
	size := 1
	switch m.Tag {
	case TagSyn:
		size += uvarintSize(uint64(len(m.ClusterID))) + len(m.ClusterID)
		size += digestSize(m.Digest)
	case TagSynAck:
		size += digestSize(m.Digest)
		size += deltaSize(m.Delta)
	case TagAck:
		size += deltaSize(m.Delta)
	case TagBadCluster:
	}
	return size
}

func digestSize(d state.Digest) int {
	size := uvarintSize(uint64(len(d.Entries)))
	for _, e := range d.Entries {
		size += nodeIDSize(e.NodeID) + 8 + 8
	}
	return size
}

func deltaSize(d state.Delta) int {
	size := uvarintSize(uint64(len(d.Nodes)))
	for _, nd := range d.Nodes {
		size += nodeDeltaSize(nd)
	}
	return size
}
