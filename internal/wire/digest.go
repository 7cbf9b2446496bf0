package wire

import "github.com/shardmesh/chitchat/internal/state"

func encodeDigest(e *encoder, d state.Digest) {
	e.uvarint(uint64(len(d.Entries)))
	for _, ent := range d.Entries {
		encodeNodeID(e, ent.NodeID)
		e.u64(ent.Heartbeat)
		e.u64(ent.MaxVersion)
	}
}

func decodeDigest(d *decoder) (state.Digest, error) {
	n, err := d.uvarint()
	if err != nil {
		return state.Digest{}, err
	}
	out := state.Digest{Entries: make([]state.DigestEntry, 0, n)}
	for i := uint64(0); i < n; i++ {
		id, err := decodeNodeID(d)
		if err != nil {
			return state.Digest{}, err
		}
		hb, err := d.u64()
		if err != nil {
			return state.Digest{}, err
		}
		mv, err := d.u64()
		if err != nil {
			return state.Digest{}, err
		}
		out.Entries = append(out.Entries, state.DigestEntry{NodeID: id, Heartbeat: hb, MaxVersion: mv})
	}
	return out, nil
}

// EncodeDigest serializes a Digest standalone (used by tests and by callers
// that want a Digest's wire size without a full message).
func EncodeDigest(d state.Digest) []byte {
	e := &encoder{}
	encodeDigest(e, d)
	return e.buf
}

// DecodeDigest is the inverse of EncodeDigest.
func DecodeDigest(b []byte) (state.Digest, error) {
	d := &decoder{buf: b}
	return decodeDigest(d)
}
