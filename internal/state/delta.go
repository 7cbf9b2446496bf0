package state

// KeyedValue pairs a key with the versioned value being shipped for it.
type KeyedValue struct {
	Key   string
	Value VersionedValue
}

// NodeDelta carries the portion of a Delta concerning one NodeID.
type NodeDelta struct {
	NodeID NodeID
	Values []KeyedValue

	// LastGCVersion, when HasLastGCVersion, tells a receiver seeing this
	// NodeID for the first time which versions were already
	// garbage-collected at the source, so it doesn't need (and must not)
	// resurrect them.
	LastGCVersion    uint64
	HasLastGCVersion bool

	// MaxVersionKnown, when HasMaxVersionKnown, is the highest version the
	// sender intended to ship for this node — present whenever the sender
	// truncated (MTU-bounded) so the receiver can tell "I got everything
	// up to here" apart from "I got everything, period".
	MaxVersionKnown    uint64
	HasMaxVersionKnown bool
}

// Delta is an ordered, MTU-bounded set of per-node updates a responder or
// initiator ships in a SynAck/Ack.
type Delta struct {
	Nodes []NodeDelta
}

// Empty reports whether the delta carries nothing at all.
func (d Delta) Empty() bool {
	return len(d.Nodes) == 0
}

// Truncated reports whether BuildDelta had to cut off any node's values
// short of the MTU budget (HasMaxVersionKnown marks exactly those nodes).
func (d Delta) Truncated() bool {
	for _, nd := range d.Nodes {
		if nd.HasMaxVersionKnown {
			return true
		}
	}
	return false
}

// uvarintSize mirrors the wire package's uvarint encoding cost (7 bits per
// byte, continuation high bit) without importing it: state is imported by
// wire, so the reverse import isn't available, and this is a fixed,
// universal property of the encoding, not wire-format-specific knowledge.
func uvarintSize(v uint64) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}
