package wire

import (
	"net/netip"
	"testing"

	"github.com/shardmesh/chitchat/internal/state"
)

func addrPort(t *testing.T, s string) netip.AddrPort {
	t.Helper()
	ap, err := netip.ParseAddrPort(s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return ap
}

func sampleDigest(t *testing.T) state.Digest {
	return state.Digest{Entries: []state.DigestEntry{
		{NodeID: state.NodeID{NodeID: "n1", GenerationID: 1, AdvertiseAddr: addrPort(t, "10.0.0.1:7000")}, Heartbeat: 5, MaxVersion: 42},
		{NodeID: state.NodeID{NodeID: "n2", GenerationID: 2, AdvertiseAddr: addrPort(t, "[::1]:7001")}, Heartbeat: 9, MaxVersion: 7},
	}}
}

func sampleDelta(t *testing.T) state.Delta {
	return state.Delta{Nodes: []state.NodeDelta{
		{
			NodeID:           state.NodeID{NodeID: "n1", GenerationID: 1, AdvertiseAddr: addrPort(t, "10.0.0.1:7000")},
			Values:           []state.KeyedValue{{Key: "k", Value: state.VersionedValue{Value: "v", Version: 3, Status: state.StatusSet}}},
			HasLastGCVersion: true,
			LastGCVersion:    2,
		},
		{
			NodeID:             state.NodeID{NodeID: "n2", GenerationID: 1, AdvertiseAddr: addrPort(t, "[::1]:7001")},
			Values:             []state.KeyedValue{{Key: "tomb", Value: state.VersionedValue{Value: "x", Version: 9, Status: state.StatusMarkedForDeletion, StatusChangeVersion: 9}}},
			HasMaxVersionKnown: true,
			MaxVersionKnown:    9,
		},
	}}
}

func TestNodeIDRoundTripIPv4AndIPv6(t *testing.T) {
	ids := []state.NodeID{
		{NodeID: "a", GenerationID: 1, AdvertiseAddr: addrPort(t, "10.0.0.1:7000")},
		{NodeID: "b", GenerationID: 2, AdvertiseAddr: addrPort(t, "[2001:db8::1]:9000")},
	}
	for _, id := range ids {
		e := &encoder{}
		encodeNodeID(e, id)
		d := &decoder{buf: e.buf}
		got, err := decodeNodeID(d)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got != id {
			t.Fatalf("round trip mismatch: got %+v, want %+v", got, id)
		}
	}
}

func TestMessageRoundTripAllVariants(t *testing.T) {
	msgs := []Message{
		Syn("cluster-a", sampleDigest(t)),
		SynAckMsg(sampleDigest(t), sampleDelta(t)),
		AckMsg(sampleDelta(t)),
		BadClusterMsg(),
	}
	for _, m := range msgs {
		b := Encode(m)
		if len(b) != EncodedLen(m) {
			t.Fatalf("EncodedLen(%v) = %d, actual encoded length = %d", m.Tag, EncodedLen(m), len(b))
		}
		got, err := Decode(b)
		if err != nil {
			t.Fatalf("decode tag %v: %v", m.Tag, err)
		}
		if got.Tag != m.Tag {
			t.Fatalf("tag mismatch: got %v want %v", got.Tag, m.Tag)
		}
		switch m.Tag {
		case TagSyn:
			if got.ClusterID != m.ClusterID || len(got.Digest.Entries) != len(m.Digest.Entries) {
				t.Fatalf("syn mismatch: %+v vs %+v", got, m)
			}
		case TagSynAck:
			if len(got.Digest.Entries) != len(m.Digest.Entries) || len(got.Delta.Nodes) != len(m.Delta.Nodes) {
				t.Fatalf("synack mismatch: %+v vs %+v", got, m)
			}
		case TagAck:
			if len(got.Delta.Nodes) != len(m.Delta.Nodes) {
				t.Fatalf("ack mismatch: %+v vs %+v", got, m)
			}
		}
	}
}

func TestDecodeTruncatedReturnsError(t *testing.T) {
	m := Syn("cluster-a", sampleDigest(t))
	b := Encode(m)
	for cut := 0; cut < len(b); cut++ {
		if _, err := Decode(b[:cut]); err == nil {
			t.Fatalf("expected error decoding truncated input of length %d (full length %d)", cut, len(b))
		}
	}
}

func TestDecodeUnknownTag(t *testing.T) {
	if _, err := Decode([]byte{0xff}); err == nil {
		t.Fatalf("expected error for unknown tag")
	}
}

func TestFingerprintDeterministic(t *testing.T) {
	b := EncodeDelta(sampleDelta(t))
	if Fingerprint(b) != Fingerprint(b) {
		t.Fatalf("fingerprint must be deterministic")
	}
}
