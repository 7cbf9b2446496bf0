package wire

import "github.com/shardmesh/chitchat/internal/state"

// DeltaSizer implements state.Sizer against this package's actual wire
// encoding, so state.ClusterState.BuildDelta can stay MTU-bounded without
// depending on the wire package (avoiding an import cycle: wire already
// depends on state for its types).
type DeltaSizer struct{}

// NodeHeaderSize mirrors nodeDeltaSize's fixed-cost fields: the NodeID, the
// two presence flag bytes (plus their 8-byte payloads when present), and
// the value-count uvarint prefix every node delta carries on the wire
// (encodeNodeDelta's e.uvarint(len(nd.Values))). The value count itself
// isn't known yet at header-size time, so this charges the 1-byte cost of
// an empty list; BuildDelta corrects for the rare case a node ships
// enough values to grow that prefix past 1 byte.
func (DeltaSizer) NodeHeaderSize(id state.NodeID, hasLastGC, hasMaxVersionKnown bool) int {
	size := nodeIDSize(id) + 1 + 1 + uvarintSize(0) // NodeID + two flag bytes + value-count prefix
	if hasLastGC {
		size += 8
	}
	if hasMaxVersionKnown {
		size += 8
	}
	return size
}

func (DeltaSizer) EntrySize(kv state.KeyedValue) int {
	return keyedValueSize(kv)
}
