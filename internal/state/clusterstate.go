package state

import "sort"

// Sizer tells delta construction how many wire bytes a node header or a
// single keyed entry will cost once serialized, so BuildDelta can stop
// before exceeding its MTU budget without knowing anything about the wire
// format itself (internal/wire implements this interface).
type Sizer interface {
	NodeHeaderSize(id NodeID, hasLastGC, hasMaxVersionKnown bool) int
	EntrySize(kv KeyedValue) int
}

// ClusterState is the replicated mapping from NodeID to NodeState, plus the
// local node's identity and the tombstone grace period. Only the self
// node's NodeState may be mutated by user writes; every other NodeState is
// mutated solely by applying received deltas.
type ClusterState struct {
	self   NodeID
	nodes  map[string]*NodeState // keyed by NodeID.NodeID (logical node)
	idOf   map[string]NodeID     // logical node -> current NodeID (tracks generation)
	order  []string              // insertion order of logical node ids, for deterministic digests

	graceVersions uint64 // marked-for-deletion grace period, in version units
}

// NewClusterState creates a ClusterState owning selfID, seeded with an
// empty self NodeState. graceVersions is the tombstone grace period
// expressed as a version-count threshold (see engine-level config, which
// derives this from a wall-clock duration divided by the gossip interval).
func NewClusterState(selfID NodeID, graceVersions uint64) *ClusterState {
	cs := &ClusterState{
		self:          selfID,
		nodes:         make(map[string]*NodeState),
		idOf:          make(map[string]NodeID),
		graceVersions: graceVersions,
	}
	cs.createNode(selfID)
	return cs
}

// createNode installs a fresh NodeState for id, used both for a
// never-before-seen logical node and for a reincarnation (a higher
// GenerationID replacing an already-tracked logical node). order only ever
// gets one entry per logical node id, so the reincarnation case must not
// append a second time.
func (cs *ClusterState) createNode(id NodeID) *NodeState {
	ns := NewNodeState()
	if _, alreadyTracked := cs.nodes[id.NodeID]; !alreadyTracked {
		cs.order = append(cs.order, id.NodeID)
	}
	cs.nodes[id.NodeID] = ns
	cs.idOf[id.NodeID] = id
	return ns
}

// Self returns the local NodeID.
func (cs *ClusterState) Self() NodeID { return cs.self }

// SelfNodeState returns the mutable NodeState for the local node. Callers
// use this to Set/MarkForDeletion local keys.
func (cs *ClusterState) SelfNodeState() *NodeState {
	return cs.nodes[cs.self.NodeID]
}

// NodeState returns the NodeState known for id's logical node, and whether
// id matches the generation currently on file (a stale/superseded
// generation looked up here returns ok=false).
func (cs *ClusterState) NodeState(id NodeID) (*NodeState, bool) {
	cur, ok := cs.idOf[id.NodeID]
	if !ok || cur != id {
		return nil, false
	}
	return cs.nodes[id.NodeID], true
}

// NodeIDs returns every known NodeID in deterministic order.
func (cs *ClusterState) NodeIDs() []NodeID {
	ids := make([]NodeID, 0, len(cs.order))
	for _, logical := range cs.order {
		ids = append(ids, cs.idOf[logical])
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
	return ids
}

// BuildDigest summarizes everything this ClusterState knows.
func (cs *ClusterState) BuildDigest() Digest {
	ids := cs.NodeIDs()
	d := Digest{Entries: make([]DigestEntry, 0, len(ids))}
	for _, id := range ids {
		ns := cs.nodes[id.NodeID]
		d.Entries = append(d.Entries, DigestEntry{
			NodeID:     id,
			Heartbeat:  ns.Heartbeat(),
			MaxVersion: ns.MaxVersion(),
		})
	}
	return d
}

// BuildDelta computes what this ClusterState has that peerDigest doesn't,
// stopping once sizer says the accumulated delta would exceed mtu bytes.
// Truncation is explicit: a node shipped past the budget records
// MaxVersionKnown so the receiver can tell progress from completeness.
func (cs *ClusterState) BuildDelta(peerDigest Digest, mtu int, sizer Sizer) Delta {
	budget := mtu
	var out Delta

	// The Delta itself is wire-framed behind a top-level uvarint node
	// count (wire's encodeDelta: e.uvarint(len(d.Nodes))). The final
	// count isn't known until the loop below finishes, so the cost is
	// charged incrementally: uvarintSize(0) up front, then the marginal
	// growth each time adding another node would push the uvarint into
	// one more byte (at 128, 16384, ... nodes).
	budget -= uvarintSize(0)

	for _, id := range cs.NodeIDs() {
		ns := cs.nodes[id.NodeID]
		peerMax, peerKnows := peerDigest.MaxVersionFor(id)

		if peerKnows && peerMax >= ns.MaxVersion() {
			continue // peer is fully caught up on this node
		}

		nd := NodeDelta{NodeID: id}
		if !peerKnows && ns.LastGCVersion() > 0 {
			nd.LastGCVersion = ns.LastGCVersion()
			nd.HasLastGCVersion = true
		}

		headerCost := sizer.NodeHeaderSize(id, nd.HasLastGCVersion, true)
		topLevelGrowth := uvarintSize(uint64(len(out.Nodes)+1)) - uvarintSize(uint64(len(out.Nodes)))
		if headerCost+topLevelGrowth > budget {
			break // can't even fit this node's header; stop entirely
		}

		keys := ns.Keys()
		sort.Slice(keys, func(i, j int) bool {
			vi, _ := ns.Entry(keys[i])
			vj, _ := ns.Entry(keys[j])
			return vi.Version < vj.Version
		})

		fitBudget := budget - headerCost - topLevelGrowth
		truncated := false
		shipped := uint64(0)
		for _, key := range keys {
			vv, _ := ns.Entry(key)
			if peerKnows && vv.Version <= peerMax {
				continue
			}
			kv := KeyedValue{Key: key, Value: vv}
			cost := sizer.EntrySize(kv)
			// NodeHeaderSize already charged uvarintSize(0) for this
			// node's own value-count prefix; only the marginal growth
			// past that baseline needs charging here.
			valueCountGrowth := uvarintSize(uint64(len(nd.Values)+1)) - uvarintSize(uint64(len(nd.Values)))
			if cost+valueCountGrowth > fitBudget {
				truncated = true
				break
			}
			fitBudget -= cost + valueCountGrowth
			nd.Values = append(nd.Values, kv)
			if vv.Version > shipped {
				shipped = vv.Version
			}
		}

		if len(nd.Values) == 0 && !nd.HasLastGCVersion {
			continue
		}

		if truncated {
			nd.MaxVersionKnown = shipped
			nd.HasMaxVersionKnown = true
		}

		budget = fitBudget
		out.Nodes = append(out.Nodes, nd)

		if truncated {
			break // MTU exhausted for this node; no point trying the next
		}
	}
	return out
}

// ApplyDelta merges a received Delta into this ClusterState, per spec.md
// §4.1: unknown NodeIDs are created, reincarnation (a higher GenerationID
// for an already-known logical node) atomically replaces the whole
// NodeState, and entries merge by version with ties preferring the
// incoming value. Returns the set of logical node ids that newly became
// known (useful for a caller wanting to detect "did any peer join").
func (cs *ClusterState) ApplyDelta(d Delta) (newlyKnown []string) {
	for _, nd := range d.Nodes {
		cur, known := cs.idOf[nd.NodeID.NodeID]

		switch {
		case !known:
			ns := cs.createNode(nd.NodeID)
			if nd.HasLastGCVersion {
				ns.RaiseGCWatermark(nd.LastGCVersion)
			}
			cs.mergeEntries(ns, nd)
			newlyKnown = append(newlyKnown, nd.NodeID.NodeID)

		case cur.GenerationID < nd.NodeID.GenerationID:
			// Reincarnation: atomic wholesale replacement, never a
			// partial merge across generations (spec.md §9 open question).
			ns := cs.createNode(nd.NodeID)
			if nd.HasLastGCVersion {
				ns.RaiseGCWatermark(nd.LastGCVersion)
			}
			cs.mergeEntries(ns, nd)

		case cur.GenerationID > nd.NodeID.GenerationID:
			// Shadow of an already-superseded generation; discard.
			continue

		default:
			ns := cs.nodes[nd.NodeID.NodeID]
			if nd.HasLastGCVersion {
				ns.RaiseGCWatermark(nd.LastGCVersion)
			}
			cs.mergeEntries(ns, nd)
		}
	}
	return newlyKnown
}

func (cs *ClusterState) mergeEntries(ns *NodeState, nd NodeDelta) {
	for _, kv := range nd.Values {
		ns.ApplyEntry(kv.Key, kv.Value)
	}
}

// RunGC promotes expired tombstones to removed and drops any NodeState
// whose owner the caller (the failure detector, via shouldRemove) says
// should be forgotten entirely.
func (cs *ClusterState) RunGC(shouldRemove func(NodeID) bool) {
	for _, logical := range append([]string(nil), cs.order...) {
		id := cs.idOf[logical]
		if id == cs.self {
			continue // the self node is never GC'd
		}
		if shouldRemove != nil && shouldRemove(id) {
			cs.removeNode(logical)
			continue
		}
		cs.nodes[logical].GCTombstones(cs.graceVersions)
	}
}

func (cs *ClusterState) removeNode(logical string) {
	delete(cs.nodes, logical)
	delete(cs.idOf, logical)
	for i, l := range cs.order {
		if l == logical {
			cs.order = append(cs.order[:i], cs.order[i+1:]...)
			break
		}
	}
}

// Snapshot is an immutable, deep-copied point-in-time view of the cluster,
// safe to read without holding any lock.
type Snapshot struct {
	Self  NodeID
	Nodes map[NodeID]*NodeState
}

// StateSnapshot copies the entire ClusterState under whatever lock the
// caller already holds (the protocol engine wraps this call with its own
// mutex — ClusterState itself is not internally synchronized, matching
// spec.md §5's single exclusion guard owned one level up).
func (cs *ClusterState) StateSnapshot() Snapshot {
	out := Snapshot{Self: cs.self, Nodes: make(map[NodeID]*NodeState, len(cs.order))}
	for _, logical := range cs.order {
		id := cs.idOf[logical]
		out.Nodes[id] = cs.nodes[logical].Clone()
	}
	return out
}
