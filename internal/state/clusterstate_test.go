package state

import (
	"fmt"
	"net/netip"
	"testing"
)

func mustAddr(t *testing.T, s string) netip.AddrPort {
	t.Helper()
	ap, err := netip.ParseAddrPort(s)
	if err != nil {
		t.Fatalf("parse addr %q: %v", s, err)
	}
	return ap
}

func nid(t *testing.T, name string, gen uint64, addr string) NodeID {
	return NodeID{NodeID: name, GenerationID: gen, AdvertiseAddr: mustAddr(t, addr)}
}

type stubSizer struct{}

func (stubSizer) NodeHeaderSize(NodeID, bool, bool) int { return 40 }
func (stubSizer) EntrySize(KeyedValue) int               { return 40 }

func TestSetBumpsVersionEvenWhenUnchanged(t *testing.T) {
	ns := NewNodeState()
	v1 := ns.Set("k", "v")
	v2 := ns.Set("k", "v")
	if v2.Version <= v1.Version {
		t.Fatalf("expected version to advance on repeated identical set: %d -> %d", v1.Version, v2.Version)
	}
}

func TestMarkForDeletionHidesButRetainsValue(t *testing.T) {
	ns := NewNodeState()
	ns.Set("k", "v")
	if _, ok := ns.MarkForDeletion("k"); !ok {
		t.Fatalf("mark for deletion should succeed on a set key")
	}
	if _, ok := ns.Get("k"); ok {
		t.Fatalf("tombstoned key must not be visible")
	}
	vv, ok := ns.Entry("k")
	if !ok || vv.Status != StatusMarkedForDeletion {
		t.Fatalf("tombstone entry should still exist internally: %+v ok=%v", vv, ok)
	}
}

func TestGCPromotesExpiredTombstoneAndRaisesWatermark(t *testing.T) {
	ns := NewNodeState()
	ns.Set("k", "v")
	vv, _ := ns.MarkForDeletion("k")
	for i := 0; i < 10; i++ {
		ns.Set("filler", "x")
	}
	ns.GCTombstones(5)
	if _, ok := ns.Entry("k"); ok {
		t.Fatalf("expired tombstone should have been removed")
	}
	if ns.LastGCVersion() != vv.Version {
		t.Fatalf("LastGCVersion = %d, want %d", ns.LastGCVersion(), vv.Version)
	}
}

func TestApplyEntryNoPhantomRevival(t *testing.T) {
	ns := NewNodeState()
	ns.RaiseGCWatermark(100)
	ok := ns.ApplyEntry("k", VersionedValue{Value: "zombie", Version: 50, Status: StatusSet})
	if ok {
		t.Fatalf("entry at or below the GC watermark must never be resurrected")
	}
	if _, present := ns.Get("k"); present {
		t.Fatalf("key must remain absent")
	}
}

func TestReincarnationReplacesWholesale(t *testing.T) {
	selfID := nid(t, "self", 1, "127.0.0.1:7000")
	cs := NewClusterState(selfID, 1000)

	peerGen1 := nid(t, "peer", 1, "127.0.0.1:7001")
	cs.ApplyDelta(Delta{Nodes: []NodeDelta{{
		NodeID: peerGen1,
		Values: []KeyedValue{{Key: "a", Value: VersionedValue{Value: "1", Version: 1, Status: StatusSet}}},
	}}})

	peerGen2 := nid(t, "peer", 2, "127.0.0.1:7001")
	cs.ApplyDelta(Delta{Nodes: []NodeDelta{{
		NodeID: peerGen2,
		Values: []KeyedValue{{Key: "b", Value: VersionedValue{Value: "2", Version: 1, Status: StatusSet}}},
	}}})

	ns, ok := cs.NodeState(peerGen2)
	if !ok {
		t.Fatalf("expected generation 2 to be current")
	}
	if _, present := ns.Get("a"); present {
		t.Fatalf("reincarnation must discard the prior generation's keys wholesale, found leftover key 'a'")
	}
	if _, present := ns.Get("b"); !present {
		t.Fatalf("expected new generation's key 'b' to be present")
	}
	if _, stillOld := cs.NodeState(peerGen1); stillOld {
		t.Fatalf("old generation NodeID should no longer resolve")
	}
}

func TestBuildDeltaRespectsMTUAndReportsTruncation(t *testing.T) {
	selfID := nid(t, "self", 1, "127.0.0.1:7000")
	cs := NewClusterState(selfID, 1000)
	for i := 0; i < 20; i++ {
		cs.SelfNodeState().Set(fmt.Sprintf("k%d", i), "v")
	}

	delta := cs.BuildDelta(Digest{}, 200, stubSizer{})
	if delta.Empty() {
		t.Fatalf("expected a non-empty delta")
	}
	nd := delta.Nodes[0]
	if !nd.HasMaxVersionKnown {
		t.Fatalf("expected truncation to be reported via MaxVersionKnown")
	}
}

func TestDigestDominatesAfterApplyingDeltaBuiltAgainstIt(t *testing.T) {
	selfA := nid(t, "a", 1, "127.0.0.1:7000")
	selfB := nid(t, "b", 1, "127.0.0.1:7001")

	csA := NewClusterState(selfA, 1000)
	csA.SelfNodeState().Set("k1", "v1")
	csA.SelfNodeState().Set("k2", "v2")

	csB := NewClusterState(selfB, 1000)

	peerDigest := csB.BuildDigest()
	delta := csA.BuildDelta(peerDigest, 1<<20, stubSizer{})

	csB.ApplyDelta(delta)
	newDigest := csB.BuildDigest()

	if !newDigest.Dominates(peerDigest) {
		t.Fatalf("digest after applying a delta built against the old digest must dominate it")
	}
}

func TestMonotoneVersionsAcrossApply(t *testing.T) {
	selfA := nid(t, "a", 1, "127.0.0.1:7000")
	csA := NewClusterState(selfA, 1000)
	csA.SelfNodeState().Set("k", "1")
	csA.SelfNodeState().Set("k", "2")
	csA.SelfNodeState().Set("k", "3")

	selfB := nid(t, "b", 1, "127.0.0.1:7001")
	csB := NewClusterState(selfB, 1000)

	var lastVersion uint64
	for i := 0; i < 3; i++ {
		digest := csB.BuildDigest()
		delta := csA.BuildDelta(digest, 1<<20, stubSizer{})
		csB.ApplyDelta(delta)
		ns, _ := csB.NodeState(selfA)
		vv, ok := ns.Entry("k")
		if ok {
			if vv.Version < lastVersion {
				t.Fatalf("observed version went backwards: %d after %d", vv.Version, lastVersion)
			}
			lastVersion = vv.Version
		}
		csA.SelfNodeState().Set("k", "more")
	}
}
