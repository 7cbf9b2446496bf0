package protoengine

import (
	"context"
	"math/rand"
	"net/netip"
	"testing"
	"time"

	"github.com/shardmesh/chitchat/internal/failuredetector"
	"github.com/shardmesh/chitchat/internal/state"
	"github.com/shardmesh/chitchat/internal/transport"
)

func testAddr(t *testing.T, s string) netip.AddrPort {
	t.Helper()
	ap, err := netip.ParseAddrPort(s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return ap
}

func newTestEngine(t *testing.T, tr *transport.ChannelTransport, nodeID string, addr netip.AddrPort, seeds []string) *Engine {
	t.Helper()
	ctx := context.Background()
	socket, err := tr.Open(ctx, addr)
	if err != nil {
		t.Fatalf("open socket for %s: %v", nodeID, err)
	}
	t.Cleanup(func() { socket.Close() })

	cfg := Config{
		ClusterID:      "test-cluster",
		SelfID:         state.NodeID{NodeID: nodeID, GenerationID: 1, AdvertiseAddr: addr},
		Seeds:          seeds,
		GossipInterval: 20 * time.Millisecond,
		MarkedForDeletionGracePeriod: time.Second,
		FailureDetector: failuredetector.Config{
			InitialInterval:     20 * time.Millisecond,
			MaxInterval:         200 * time.Millisecond,
			SamplingWindowSize:  100,
			PhiDeadThreshold:    8,
			DeadNodeGracePeriod: 2 * time.Second,
		},
		MTU: 1 << 16,
	}
	e := NewEngine(cfg, socket, nil, nil)
	e.seedRand(rand.New(rand.NewSource(int64(len(nodeID) + addr.Port()))))
	return e
}

func runEngines(t *testing.T, ctx context.Context, engines ...*Engine) {
	t.Helper()
	for _, e := range engines {
		go func(e *Engine) {
			_ = e.Run(ctx)
		}(e)
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestTwoEngineConvergence(t *testing.T) {
	tr := transport.NewChannelTransport(1 << 16)
	addrA := testAddr(t, "127.0.0.1:31000")
	addrB := testAddr(t, "127.0.0.1:31001")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := newTestEngine(t, tr, "a", addrA, []string{addrB.String()})
	b := newTestEngine(t, tr, "b", addrB, []string{addrA.String()})

	a.SetSelf("role", "writer")
	b.SetSelf("role", "reader")

	runEngines(t, ctx, a, b)

	ok := waitFor(t, 5*time.Second, func() bool {
		nsA, okA := a.NodeState(b.Self())
		nsB, okB := b.NodeState(a.Self())
		if !okA || !okB {
			return false
		}
		vA, presentA := nsA.Get("role")
		vB, presentB := nsB.Get("role")
		return presentA && vA == "reader" && presentB && vB == "writer"
	})
	if !ok {
		t.Fatalf("nodes did not converge on each other's state in time")
	}

	ok = waitFor(t, 5*time.Second, func() bool {
		return len(a.LiveNodes()) == 2 && len(b.LiveNodes()) == 2
	})
	if !ok {
		t.Fatalf("expected both nodes to see a 2-node live set")
	}
}

func TestBadClusterIsolatesNodes(t *testing.T) {
	tr := transport.NewChannelTransport(1 << 16)
	addrA := testAddr(t, "127.0.0.1:31100")
	addrB := testAddr(t, "127.0.0.1:31101")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := newTestEngine(t, tr, "a", addrA, []string{addrB.String()})
	b := newTestEngine(t, tr, "b", addrB, []string{addrA.String()})
	b.cfg.ClusterID = "other-cluster"

	runEngines(t, ctx, a, b)

	time.Sleep(300 * time.Millisecond)

	if len(a.LiveNodes()) != 1 {
		t.Fatalf("expected node a to never learn of node b across a cluster mismatch, live=%v", a.LiveNodes())
	}
	if len(b.LiveNodes()) != 1 {
		t.Fatalf("expected node b to never learn of node a across a cluster mismatch, live=%v", b.LiveNodes())
	}
}

func TestCatchupCallbackFiresOnceWhenLiveSetGrows(t *testing.T) {
	tr := transport.NewChannelTransport(1 << 16)
	addrA := testAddr(t, "127.0.0.1:31200")
	addrB := testAddr(t, "127.0.0.1:31201")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := make(chan struct{}, 64)
	a := newTestEngine(t, tr, "a", addrA, []string{addrB.String()})
	a.cfg.CatchupCallback = func() { calls <- struct{}{} }
	b := newTestEngine(t, tr, "b", addrB, []string{addrA.String()})

	runEngines(t, ctx, a, b)

	select {
	case <-calls:
	case <-time.After(5 * time.Second):
		t.Fatalf("expected catchup callback to fire once node a's live set grew")
	}
}

func TestWatchLiveNodesDeliversCurrentValueImmediately(t *testing.T) {
	tr := transport.NewChannelTransport(1 << 16)
	addrA := testAddr(t, "127.0.0.1:31300")
	a := newTestEngine(t, tr, "solo", addrA, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := a.WatchLiveNodes(ctx)
	select {
	case live := <-ch:
		if len(live) != 1 {
			t.Fatalf("expected solo node's live set to be itself, got %v", live)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected an immediate value on subscribe")
	}
}
