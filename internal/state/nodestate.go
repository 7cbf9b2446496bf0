package state

import "strconv"

// HeartbeatKey is the reserved key every NodeState carries. Its version is
// always equal to the owning node's MaxVersion at the moment it last
// ticked, which is what lets a Digest's (heartbeat, max_version) pair work
// as a cheap "is this peer still alive and what has it seen" summary.
const HeartbeatKey = "__heartbeat__"

// NodeState is the per-node replicated key/value map: an insertion-ordered
// set of keys (so digest/delta construction is deterministic), a
// monotonic version counter, and bookkeeping for tombstone GC.
type NodeState struct {
	entries      map[string]VersionedValue
	order        []string
	maxVersion   uint64
	lastGCVersion uint64
	heartbeatCnt uint64
}

// NewNodeState returns an empty NodeState.
func NewNodeState() *NodeState {
	return &NodeState{entries: make(map[string]VersionedValue)}
}

// MaxVersion is the highest version number stamped onto any entry so far.
func (n *NodeState) MaxVersion() uint64 { return n.maxVersion }

// LastGCVersion is the highest version that has been garbage-collected
// (removed) from the visible map; any delta entry at or below this version
// must never resurrect the key (spec.md §8 invariant 3, "no phantom revival").
func (n *NodeState) LastGCVersion() uint64 { return n.lastGCVersion }

// Heartbeat is the node's own heartbeat counter, bumped once per tick.
func (n *NodeState) Heartbeat() uint64 { return n.heartbeatCnt }

func (n *NodeState) bump() uint64 {
	n.maxVersion++
	return n.maxVersion
}

// setInternal stamps key with value at a freshly bumped version and the
// given status, preserving insertion order for first-sight keys.
func (n *NodeState) setInternal(key, value string, status Status) VersionedValue {
	ver := n.bump()
	_, had := n.entries[key]
	changeVer := uint64(0) // Set entries don't track a "status changed at" version distinct from Version.
	if status != StatusSet {
		changeVer = ver
	}
	vv := VersionedValue{Value: value, Version: ver, Status: status, StatusChangeVersion: changeVer}
	n.entries[key] = vv
	if !had {
		n.order = append(n.order, key)
	}
	return vv
}

// Set sets key=value on this NodeState, bumping MaxVersion and stamping a
// fresh version even if the value is unchanged, so the most recent write is
// always what gets disseminated (spec.md §4.1).
func (n *NodeState) Set(key, value string) VersionedValue {
	return n.setInternal(key, value, StatusSet)
}

// MarkForDeletion transitions key to a tombstone at a freshly bumped
// version; the value is retained for reconciliation but Get/visible
// iteration will no longer surface it.
func (n *NodeState) MarkForDeletion(key string) (VersionedValue, bool) {
	existing, ok := n.entries[key]
	if !ok || existing.Status != StatusSet {
		return VersionedValue{}, false
	}
	ver := n.bump()
	vv := VersionedValue{
		Value:               existing.Value,
		Version:             ver,
		Status:              StatusMarkedForDeletion,
		StatusChangeVersion: ver,
	}
	n.entries[key] = vv
	return vv, true
}

// Get returns the visible value for key, or false if absent or tombstoned.
func (n *NodeState) Get(key string) (string, bool) {
	vv, ok := n.entries[key]
	if !ok || !vv.Visible() {
		return "", false
	}
	return vv.Value, true
}

// Entry returns the raw VersionedValue regardless of status (used by the
// protocol engine to build digests/deltas, which must see tombstones too).
func (n *NodeState) Entry(key string) (VersionedValue, bool) {
	vv, ok := n.entries[key]
	return vv, ok
}

// Keys returns all known keys (including tombstones, excluding removed
// ones, which by definition aren't in the map any more) in insertion order.
func (n *NodeState) Keys() []string {
	out := make([]string, 0, len(n.order))
	for _, k := range n.order {
		if _, ok := n.entries[k]; ok {
			out = append(out, k)
		}
	}
	return out
}

// Tick increments the heartbeat counter and stamps the reserved heartbeat
// key, advancing MaxVersion. Called once per gossip tick for the self node.
func (n *NodeState) Tick() {
	n.heartbeatCnt++
	n.setInternal(HeartbeatKey, strconv.FormatUint(n.heartbeatCnt, 10), StatusSet)
}

// ApplyEntry merges one received (key, VersionedValue) pair according to
// spec.md §4.1: accepted iff version > existing version or key absent.
// Ties prefer the incoming value. Returns true if the entry changed state.
func (n *NodeState) ApplyEntry(key string, incoming VersionedValue) bool {
	existing, had := n.entries[key]
	if had && incoming.Version < existing.Version {
		return false
	}
	if incoming.Version <= n.lastGCVersion {
		// Below the GC watermark: never resurrect a removed key.
		return false
	}
	n.entries[key] = incoming
	if !had {
		n.order = append(n.order, key)
	}
	if incoming.Version > n.maxVersion {
		n.maxVersion = incoming.Version
	}
	if key == HeartbeatKey {
		if hb, err := strconv.ParseUint(incoming.Value, 10, 64); err == nil && hb > n.heartbeatCnt {
			n.heartbeatCnt = hb
		}
	}
	return true
}

// RaiseGCWatermark records that everything at or below version has been
// collected, without needing the key to still be present.
func (n *NodeState) RaiseGCWatermark(version uint64) {
	if version > n.lastGCVersion {
		n.lastGCVersion = version
	}
}

// GCTombstones promotes StatusMarkedForDeletion entries whose age (current
// MaxVersion minus StatusChangeVersion) exceeds graceVersions to
// StatusRemoved, deleting them from the visible map and raising
// LastGCVersion. graceVersions is the grace period expressed in version
// units (the protocol engine's Config.graceVersions converts the configured
// wall-clock grace period into this threshold using the gossip interval).
func (n *NodeState) GCTombstones(graceVersions uint64) {
	for _, key := range n.order {
		vv, ok := n.entries[key]
		if !ok || vv.Status != StatusMarkedForDeletion {
			continue
		}
		if n.maxVersion-vv.StatusChangeVersion <= graceVersions {
			continue
		}
		delete(n.entries, key)
		n.RaiseGCWatermark(vv.Version)
	}
	n.compactOrder()
}

func (n *NodeState) compactOrder() {
	if len(n.order) == len(n.entries) {
		return
	}
	fresh := n.order[:0:0]
	for _, k := range n.order {
		if _, ok := n.entries[k]; ok {
			fresh = append(fresh, k)
		}
	}
	n.order = fresh
}

// Clone returns a deep copy suitable for a snapshot read under the cluster lock.
func (n *NodeState) Clone() *NodeState {
	c := &NodeState{
		entries:       make(map[string]VersionedValue, len(n.entries)),
		order:         append([]string(nil), n.order...),
		maxVersion:    n.maxVersion,
		lastGCVersion: n.lastGCVersion,
		heartbeatCnt:  n.heartbeatCnt,
	}
	for k, v := range n.entries {
		c.entries[k] = v
	}
	return c
}
