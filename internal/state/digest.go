package state

// DigestEntry is what a node reports it knows about one peer: its last
// observed heartbeat and the highest version it has recorded for that peer.
type DigestEntry struct {
	NodeID     NodeID
	Heartbeat  uint64
	MaxVersion uint64
}

// Digest is a compact summary of "what have I seen", one entry per known
// NodeID, in the ClusterState's deterministic iteration order.
type Digest struct {
	Entries []DigestEntry
}

// MaxVersionFor returns the max_version the digest records for id, and
// whether id appears in the digest at all.
func (d Digest) MaxVersionFor(id NodeID) (uint64, bool) {
	for _, e := range d.Entries {
		if e.NodeID == id {
			return e.MaxVersion, true
		}
	}
	return 0, false
}

// Dominates reports whether d has, for every entry in other, a max_version
// at least as high — the property delta application must establish
// (spec.md §8 invariant 6, "digest soundness").
func (d Digest) Dominates(other Digest) bool {
	for _, oe := range other.Entries {
		mv, ok := d.MaxVersionFor(oe.NodeID)
		if !ok || mv < oe.MaxVersion {
			return false
		}
	}
	return true
}
