// Package protoengine implements the gossip protocol state machine from
// spec.md §4.2: the Syn/SynAck/Ack handshake, peer selection, the periodic
// tick that drives it, garbage collection of expired tombstones, and the
// liveness views external collaborators read.
//
// The concurrency shape is grounded on the teacher's
// internal/cluster/cp/server.go ConfigStream: a dedicated recv goroutine
// feeds a channel consumed by a single select loop alongside a ticker,
// and a broadcast-channel-close pattern gives watchers a coalescing
// notification stream without an unbounded queue.
package protoengine

import (
	"context"
	"errors"
	"math/rand"
	"net/netip"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shardmesh/chitchat/internal/failuredetector"
	"github.com/shardmesh/chitchat/internal/gossiputil"
	"github.com/shardmesh/chitchat/internal/metrics"
	"github.com/shardmesh/chitchat/internal/state"
	"github.com/shardmesh/chitchat/internal/transport"
	"github.com/shardmesh/chitchat/internal/wire"
)

// Engine is the single background task that owns the ClusterState and the
// failure detector, and runs the tick loop interleaved with the transport
// recv loop (spec.md §5). Every exported accessor briefly takes the
// engine's lock to snapshot or mutate; the Run goroutine also takes it only
// briefly and releases it before every transport send.
type Engine struct {
	cfg     Config
	socket  transport.Socket
	seeds   *gossiputil.SeedResolver
	metrics *metrics.Collector
	logger  *zap.Logger
	rng     *rand.Rand

	mu      sync.RWMutex
	cluster *state.ClusterState
	fd      *failuredetector.Registry

	lastHeartbeat map[state.NodeID]uint64
	prevLiveCount int

	watchMu    sync.Mutex
	watchCur   []state.NodeID
	watchBcast chan struct{}
}

// NewEngine wires a fresh Engine around an already-open Socket. mcol may
// be nil, in which case metrics collection is a no-op.
func NewEngine(cfg Config, socket transport.Socket, seeds *gossiputil.SeedResolver, mcol *metrics.Collector) *Engine {
	if mcol == nil {
		mcol = metrics.NewNopCollector()
	}
	e := &Engine{
		cfg:           cfg,
		socket:        socket,
		seeds:         seeds,
		metrics:       mcol,
		logger:        cfg.logger(),
		rng:           rand.New(rand.NewSource(time.Now().UnixNano())),
		cluster:       state.NewClusterState(cfg.SelfID, cfg.graceVersions()),
		fd:            failuredetector.NewRegistry(cfg.FailureDetector),
		lastHeartbeat: make(map[state.NodeID]uint64),
		watchBcast:    make(chan struct{}),
	}
	e.watchCur = e.LiveNodes()
	e.prevLiveCount = len(e.watchCur)
	return e
}

// seedRand overrides the peer-selection PRNG; used by tests that need
// deterministic selection (production callers get a time-seeded default).
func (e *Engine) seedRand(r *rand.Rand) { e.rng = r }

// Self returns the engine's own NodeID.
func (e *Engine) Self() state.NodeID { return e.cfg.SelfID }

// SetSelf sets key=value on the local node (spec.md §4.1
// self_node_state().set).
func (e *Engine) SetSelf(key, value string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cluster.SelfNodeState().Set(key, value)
}

// MarkSelfForDeletion tombstones key on the local node; returns false if
// the key was absent or already a tombstone.
func (e *Engine) MarkSelfForDeletion(key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.cluster.SelfNodeState().MarkForDeletion(key)
	return ok
}

// NodeState returns a deep-copied snapshot of id's NodeState, and whether
// id is currently known.
func (e *Engine) NodeState(id state.NodeID) (*state.NodeState, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ns, ok := e.cluster.NodeState(id)
	if !ok {
		return nil, false
	}
	return ns.Clone(), true
}

// StateSnapshot returns a consistent, deep-copied point-in-time view of
// the whole cluster (spec.md §4.1 state_snapshot).
func (e *Engine) StateSnapshot() state.Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cluster.StateSnapshot()
}

// LiveNodes returns every NodeID the failure detector (and, if configured,
// the extra liveness predicate) currently considers alive, plus self.
func (e *Engine) LiveNodes() []state.NodeID {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []state.NodeID
	for _, id := range e.cluster.NodeIDs() {
		if id == e.cluster.Self() {
			out = append(out, id)
			continue
		}
		if !e.fd.IsAlive(id) {
			continue
		}
		if e.cfg.ExtraLivenessPredicate != nil {
			ns, _ := e.cluster.NodeState(id)
			if !e.cfg.ExtraLivenessPredicate(id, ns) {
				continue
			}
		}
		out = append(out, id)
	}
	return out
}

// DeadNodes returns every known non-self NodeID the failure detector
// currently considers not alive.
func (e *Engine) DeadNodes() []state.NodeID {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []state.NodeID
	for _, id := range e.cluster.NodeIDs() {
		if id == e.cluster.Self() {
			continue
		}
		if !e.fd.IsAlive(id) {
			out = append(out, id)
		}
	}
	return out
}

// WatchLiveNodes returns a channel delivering the live-node set immediately
// on subscribe, then once per subsequent change, until ctx is done. Slow
// consumers coalesce: a backlog of changes collapses to the latest value,
// never an unbounded queue (spec.md §4.1).
func (e *Engine) WatchLiveNodes(ctx context.Context) <-chan []state.NodeID {
	out := make(chan []state.NodeID, 1)
	go func() {
		defer close(out)
		for {
			e.watchMu.Lock()
			cur := e.watchCur
			bcast := e.watchBcast
			e.watchMu.Unlock()

			select {
			case out <- cur:
			case <-ctx.Done():
				return
			}

			select {
			case <-bcast:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func (e *Engine) publishLiveSnapshot(live []state.NodeID) {
	e.watchMu.Lock()
	unchanged := len(live) == len(e.watchCur)
	for i := 0; unchanged && i < len(live); i++ {
		unchanged = live[i] == e.watchCur[i]
	}
	if unchanged {
		e.watchMu.Unlock()
		return
	}
	e.watchCur = append([]state.NodeID(nil), live...)
	old := e.watchBcast
	e.watchBcast = make(chan struct{})
	e.watchMu.Unlock()
	close(old)
}

// Run drives the tick loop and the transport recv loop interleaved in a
// single select, until ctx is cancelled. A cancelled context is a clean
// shutdown (spec.md §7) and returns a nil error; any other failure
// surfaces as-is.
func (e *Engine) Run(ctx context.Context) error {
	type inbound struct {
		peer netip.AddrPort
		msg  wire.Message
	}
	recvCh := make(chan inbound, 64)
	recvDone := make(chan struct{})
	go func() {
		defer close(recvDone)
		for {
			peer, msg, err := e.socket.Recv(ctx)
			if err != nil {
				return
			}
			select {
			case recvCh <- inbound{peer: peer, msg: msg}:
			case <-ctx.Done():
				return
			}
		}
	}()

	interval := e.cfg.GossipInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			<-recvDone
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case in := <-recvCh:
			e.handleMessage(ctx, in.peer, in.msg)
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

// tick executes one round of spec.md §4.2's five tick steps.
func (e *Engine) tick(ctx context.Context) {
	e.mu.Lock()
	e.cluster.SelfNodeState().Tick()
	e.mu.Unlock()

	e.updateFailureDetector()

	prevLive := e.prevLiveCount
	live := e.LiveNodes()
	dead := e.DeadNodes()

	e.sendSyn(ctx, live, dead)
	e.runGC()

	e.metrics.Tick()
	e.metrics.SetLiveDeadCounts(len(live), len(dead))
	for _, id := range e.fd.Known() {
		e.metrics.SetPhi(id.NodeID, e.fd.Phi(id))
	}

	if len(live) > prevLive && e.cfg.CatchupCallback != nil {
		e.cfg.CatchupCallback()
	}
	e.prevLiveCount = len(live)

	e.publishLiveSnapshot(live)
}

// updateFailureDetector implements tick step 2: report_unknown for peers
// whose heartbeat counter hasn't advanced since the last tick, then
// recompute liveness for the whole known set.
func (e *Engine) updateFailureDetector() {
	e.mu.RLock()
	ids := e.cluster.NodeIDs()
	self := e.cluster.Self()
	heartbeats := make(map[state.NodeID]uint64, len(ids))
	for _, id := range ids {
		if id == self {
			continue
		}
		if ns, ok := e.cluster.NodeState(id); ok {
			heartbeats[id] = ns.Heartbeat()
		}
	}
	e.mu.RUnlock()

	for id, hb := range heartbeats {
		prev, known := e.lastHeartbeat[id]
		if !known || hb > prev {
			e.fd.Observe(id)
		} else {
			e.fd.ReportUnknown(id)
		}
		e.lastHeartbeat[id] = hb
	}
	e.fd.UpdateAll()
}

// sendSyn implements tick steps 1(cont.)/3: pick live/dead/seed peers and
// mail each a Syn carrying our digest.
func (e *Engine) sendSyn(ctx context.Context, live, dead []state.NodeID) {
	self := e.cfg.SelfID
	liveAddrs := idsToAddrs(live, self)
	deadAddrs := idsToAddrs(dead, self)

	var seedAddrs []netip.AddrPort
	if e.seeds != nil {
		for _, s := range e.cfg.Seeds {
			ap, err := e.seeds.Resolve(ctx, s)
			if err != nil {
				e.logger.Debug("skipping unresolvable seed this tick", zap.String("seed", s), zap.Error(err))
				continue
			}
			seedAddrs = append(seedAddrs, ap)
		}
	}

	targets := selectPeers(e.rng, liveAddrs, deadAddrs, seedAddrs, self.AdvertiseAddr)
	if len(targets) == 0 {
		return
	}

	e.mu.RLock()
	digest := e.cluster.BuildDigest()
	e.mu.RUnlock()

	traceID := uuid.NewString()
	msg := wire.Syn(e.cfg.ClusterID, digest)
	for _, target := range targets {
		e.socket.Send(ctx, target, msg)
		e.metrics.MessageSent(tagName(msg.Tag), wire.EncodedLen(msg))
		e.logger.Debug("sent syn", zap.String("trace_id", traceID), zap.Stringer("peer", target))
	}
}

// runGC implements tick step 4: promote expired tombstones and drop
// NodeStates the failure detector says should be forgotten entirely.
func (e *Engine) runGC() {
	e.mu.Lock()
	var removed []state.NodeID
	e.cluster.RunGC(func(id state.NodeID) bool {
		if e.fd.ShouldBeRemoved(id) {
			removed = append(removed, id)
			return true
		}
		return false
	})
	e.mu.Unlock()

	for _, id := range removed {
		e.fd.Forget(id)
		delete(e.lastHeartbeat, id)
		e.metrics.NodeGCed()
		e.logger.Info("garbage collected dead peer", zap.Stringer("node", id))
	}
}

// handleMessage dispatches one received ProtocolMessage per spec.md §4.2's
// responder path.
func (e *Engine) handleMessage(ctx context.Context, peer netip.AddrPort, msg wire.Message) {
	e.metrics.MessageReceived(tagName(msg.Tag), wire.EncodedLen(msg))
	switch msg.Tag {
	case wire.TagSyn:
		e.handleSyn(ctx, peer, msg)
	case wire.TagSynAck:
		e.handleSynAck(ctx, peer, msg)
	case wire.TagAck:
		e.handleAck(peer, msg)
	case wire.TagBadCluster:
		e.logger.Warn("peer rejected our cluster id", zap.Stringer("peer", peer), zap.Error(ErrBadCluster))
	}
}

func (e *Engine) handleSyn(ctx context.Context, peer netip.AddrPort, msg wire.Message) {
	if msg.ClusterID != e.cfg.ClusterID {
		e.socket.Send(ctx, peer, wire.BadClusterMsg())
		e.logger.Warn("rejecting syn: cluster id mismatch",
			zap.Stringer("peer", peer), zap.String("their_cluster_id", msg.ClusterID))
		return
	}

	e.mu.Lock()
	ownDigest := e.cluster.BuildDigest()
	budget := e.deltaBudget(ownDigest)
	delta := e.cluster.BuildDelta(msg.Digest, budget, wire.DeltaSizer{})
	e.mu.Unlock()
	if delta.Truncated() {
		e.metrics.DeltaTruncated()
	}

	reply := wire.SynAckMsg(ownDigest, delta)
	e.socket.Send(ctx, peer, reply)
	e.metrics.MessageSent(tagName(reply.Tag), wire.EncodedLen(reply))
}

func (e *Engine) handleSynAck(ctx context.Context, peer netip.AddrPort, msg wire.Message) {
	e.mu.Lock()
	newlyKnown := e.cluster.ApplyDelta(msg.Delta)
	budget := e.cfg.mtu() - 1 // tag byte only; Ack carries no digest
	delta := e.cluster.BuildDelta(msg.Digest, budget, wire.DeltaSizer{})
	e.mu.Unlock()
	if delta.Truncated() {
		e.metrics.DeltaTruncated()
	}
	e.logNewPeers(newlyKnown)

	reply := wire.AckMsg(delta)
	e.socket.Send(ctx, peer, reply)
	e.metrics.MessageSent(tagName(reply.Tag), wire.EncodedLen(reply))
}

func (e *Engine) handleAck(peer netip.AddrPort, msg wire.Message) {
	e.mu.Lock()
	newlyKnown := e.cluster.ApplyDelta(msg.Delta)
	e.mu.Unlock()
	e.logNewPeers(newlyKnown)
}

func (e *Engine) logNewPeers(newlyKnown []string) {
	for _, logical := range newlyKnown {
		e.logger.Info("learned of new peer", zap.String("node_id", logical))
	}
}

// deltaBudget reserves room for the tag byte and the digest that
// accompanies a SynAck, leaving the remainder for the delta itself so the
// whole encoded message stays within MTU (spec.md §8 invariant 5).
func (e *Engine) deltaBudget(ownDigest state.Digest) int {
	budget := e.cfg.mtu() - 1 - len(wire.EncodeDigest(ownDigest))
	if budget < 0 {
		budget = 0
	}
	return budget
}

func idsToAddrs(ids []state.NodeID, self state.NodeID) []netip.AddrPort {
	out := make([]netip.AddrPort, 0, len(ids))
	for _, id := range ids {
		if id == self {
			continue
		}
		out = append(out, id.AdvertiseAddr)
	}
	return out
}

func tagName(t wire.Tag) string {
	switch t {
	case wire.TagSyn:
		return "syn"
	case wire.TagSynAck:
		return "syn_ack"
	case wire.TagAck:
		return "ack"
	case wire.TagBadCluster:
		return "bad_cluster"
	default:
		return "unknown"
	}
}
