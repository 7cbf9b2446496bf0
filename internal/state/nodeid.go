// Package state holds the replicated data model: node identity, versioned
// key/value entries, per-node state, and the cluster-wide view built from
// digests and deltas exchanged by the protocol engine.
package state

import (
	"net/netip"
	"strconv"
)

// NodeID identifies a logical cluster member. GenerationID is the epoch
// at which the process advertising this ID started; a higher generation
// for the same NodeID name (whatever its AdvertiseAddr) denotes a
// reincarnation and always supersedes the lower one, atomically and
// without partial merge.
type NodeID struct {
	NodeID        string
	GenerationID  uint64
	AdvertiseAddr netip.AddrPort
}

// Less orders NodeIDs lexicographically over (NodeID, GenerationID, AdvertiseAddr),
// the ordering spec.md mandates for deterministic digest iteration.
func (n NodeID) Less(other NodeID) bool {
	if n.NodeID != other.NodeID {
		return n.NodeID < other.NodeID
	}
	if n.GenerationID != other.GenerationID {
		return n.GenerationID < other.GenerationID
	}
	return n.AdvertiseAddr.String() < other.AdvertiseAddr.String()
}

// SameLogicalNode reports whether two NodeIDs name the same logical node,
// ignoring generation — used to detect reincarnation.
func (n NodeID) SameLogicalNode(other NodeID) bool {
	return n.NodeID == other.NodeID
}

func (n NodeID) String() string {
	return n.NodeID + "/" + strconv.FormatUint(n.GenerationID, 10) + "@" + n.AdvertiseAddr.String()
}
