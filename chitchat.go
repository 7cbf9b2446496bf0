// Package chitchat is a gossip-based cluster membership and
// state-dissemination engine: a SWIM/Scuttlebutt-style versioned
// delta-sync protocol with a phi-accrual failure detector and a pluggable
// datagram/stream transport (spec.md §1).
//
// A caller constructs a Config, calls Spawn to start the background
// gossip loop, and reads cluster state through the returned Handle.
package chitchat

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	"go.uber.org/zap"

	"github.com/shardmesh/chitchat/internal/failuredetector"
	"github.com/shardmesh/chitchat/internal/gossiputil"
	"github.com/shardmesh/chitchat/internal/metrics"
	"github.com/shardmesh/chitchat/internal/protoengine"
	"github.com/shardmesh/chitchat/internal/state"
	"github.com/shardmesh/chitchat/internal/transport"
)

// NodeID identifies a logical cluster member: a name, a reincarnation
// epoch, and the address peers should dial to reach it (spec.md §3).
type NodeID = state.NodeID

// LivenessPredicate is an additional AND-gate on liveness, evaluated
// synchronously under the cluster state lock — it must not perform I/O or
// block (spec.md §9 Open Question decision).
type LivenessPredicate = protoengine.LivenessPredicate

// FailureDetectorConfig tunes the phi-accrual detector's sensitivity
// (spec.md §4.3).
type FailureDetectorConfig = failuredetector.Config

// Config is the engine-level configuration surface from spec.md §6, given
// YAML tags so an embedding caller can unmarshal it with
// github.com/goccy/go-yaml the same way the teacher's config package
// unmarshals its own settings; time.Duration fields round-trip through
// unit-suffixed strings ("300ms", "10m") without a wrapper type, matching
// the teacher's own direct use of time.Duration-tagged fields.
type Config struct {
	ClusterID  string `yaml:"cluster_id"`
	SelfNodeID NodeID `yaml:"self_node_id"`
	ListenAddr netip.AddrPort `yaml:"listen_addr"`

	Seeds                        []string      `yaml:"seeds"`
	GossipInterval               time.Duration `yaml:"gossip_interval"`
	MarkedForDeletionGracePeriod time.Duration `yaml:"marked_for_deletion_grace_period"`
	FailureDetector              FailureDetectorConfig `yaml:"failure_detector"`
	MTU                          int           `yaml:"mtu"`

	// InitialState seeds the local node's key/value map at construction
	// time — the "initial key/value seeding" interface point spec.md §1
	// reserves for the surrounding product (e.g. a config/license loader).
	InitialState map[string]string `yaml:"-"`

	// CatchupCallback and ExtraLivenessPredicate are caller hooks; see
	// spec.md §4.2 and §9. Neither is YAML-serializable.
	CatchupCallback        func()            `yaml:"-"`
	ExtraLivenessPredicate LivenessPredicate `yaml:"-"`

	// Transport is the pluggable transport to bind ListenAddr on
	// (spec.md §4.4). A nil Transport defaults to plain UDP.
	Transport transport.Transport `yaml:"-"`

	// Logger defaults to a no-op logger so an embedder who doesn't care
	// about logs pays nothing (see DESIGN.md's logging note).
	Logger *zap.Logger `yaml:"-"`

	// Metrics defaults to a no-op collector when nil.
	Metrics *metrics.Collector `yaml:"-"`
}

// DefaultConfig returns a Config with the spec's suggested defaults for
// every tunable except identity and transport, which the caller must set.
func DefaultConfig() Config {
	return Config{
		GossipInterval:               300 * time.Millisecond,
		MarkedForDeletionGracePeriod: 10 * time.Minute,
		FailureDetector:              failuredetector.DefaultConfig(),
		MTU:                          transport.DefaultMTU,
	}
}

// minWireOverhead is the smallest MTU that can hold a single node header
// plus protocol framing; below this no delta can ever be shipped.
const minWireOverhead = 64

// Validate catches the fully out-of-band configuration mistakes a config
// loader would — not a general-purpose CLI/YAML loading subsystem (that
// whole apparatus is out of scope per spec.md §1).
func (c Config) Validate() error {
	if c.ClusterID == "" {
		return fmt.Errorf("chitchat: cluster_id must not be empty")
	}
	if c.SelfNodeID.NodeID == "" {
		return fmt.Errorf("chitchat: self_node_id.node_id must not be empty")
	}
	if !c.SelfNodeID.AdvertiseAddr.IsValid() {
		return fmt.Errorf("chitchat: self_node_id.advertise_addr must be a valid address")
	}
	if c.GossipInterval <= 0 {
		return fmt.Errorf("chitchat: gossip_interval must be positive")
	}
	if c.MTU != 0 && c.MTU < minWireOverhead {
		return fmt.Errorf("%w: mtu %d is below the minimum wire overhead of %d bytes", ErrMTUExceeded, c.MTU, minWireOverhead)
	}
	return nil
}

func (c Config) listenAddr() netip.AddrPort {
	if c.ListenAddr.IsValid() {
		return c.ListenAddr
	}
	return c.SelfNodeID.AdvertiseAddr
}

func (c Config) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

func (c Config) metricsCollector() *metrics.Collector {
	if c.Metrics == nil {
		return metrics.NewNopCollector()
	}
	return c.Metrics
}

func (c Config) toEngineConfig() protoengine.Config {
	return protoengine.Config{
		ClusterID:                    c.ClusterID,
		SelfID:                       c.SelfNodeID,
		Seeds:                        c.Seeds,
		GossipInterval:               c.GossipInterval,
		MarkedForDeletionGracePeriod: c.MarkedForDeletionGracePeriod,
		FailureDetector:              c.FailureDetector,
		MTU:                          c.MTU,
		CatchupCallback:              c.CatchupCallback,
		ExtraLivenessPredicate:       c.ExtraLivenessPredicate,
		Logger:                       c.logger(),
	}
}

// Handle owns the background task running the protocol engine and exposes
// a locked view of the cluster state plus a change-notification stream to
// external collaborators (spec.md §2 step 6).
type Handle struct {
	engine *protoengine.Engine
	socket transport.Socket
	cancel context.CancelFunc
	done   chan struct{}
	logger *zap.Logger
}

// Spawn validates cfg, opens its transport, and starts the background
// gossip loop. The returned Handle must be closed with Shutdown once the
// caller is done with it.
func Spawn(ctx context.Context, cfg Config) (*Handle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	tr := cfg.Transport
	if tr == nil {
		tr = transport.NewUDPTransport(cfg.logger())
	}

	socket, err := tr.Open(ctx, cfg.listenAddr())
	if err != nil {
		return nil, fmt.Errorf("chitchat: open transport: %w", err)
	}

	seeds := gossiputil.NewSeedResolver(256, time.Minute)
	engine := protoengine.NewEngine(cfg.toEngineConfig(), socket, seeds, cfg.metricsCollector())
	for k, v := range cfg.InitialState {
		engine.SetSelf(k, v)
	}

	runCtx, cancel := context.WithCancel(ctx)
	h := &Handle{
		engine: engine,
		socket: socket,
		cancel: cancel,
		done:   make(chan struct{}),
		logger: cfg.logger(),
	}

	go func() {
		defer close(h.done)
		if err := engine.Run(runCtx); err != nil {
			h.logger.Error("engine run loop exited with error", zap.Error(err))
		}
	}()

	return h, nil
}

// Self returns the local NodeID.
func (h *Handle) Self() NodeID { return h.engine.Self() }

// Set sets key=value on the local node. Set and MarkForDeletion expose the
// local-write surface from spec.md §4.1 as two methods rather than a
// returned mutable handle, since every mutation must go through the
// engine's lock.
func (h *Handle) Set(key, value string) { h.engine.SetSelf(key, value) }

// MarkForDeletion tombstones key on the local node; reports whether the
// key existed and was visible beforehand.
func (h *Handle) MarkForDeletion(key string) bool { return h.engine.MarkSelfForDeletion(key) }

// NodeState returns a snapshot of id's replicated state, and whether id is
// currently known.
func (h *Handle) NodeState(id NodeID) (*state.NodeState, bool) { return h.engine.NodeState(id) }

// NodeStates returns a snapshot of every known node's state.
func (h *Handle) NodeStates() map[NodeID]*state.NodeState {
	return h.engine.StateSnapshot().Nodes
}

// StateSnapshot returns a consistent point-in-time copy of the entire
// cluster (spec.md §4.1 state_snapshot).
func (h *Handle) StateSnapshot() state.Snapshot { return h.engine.StateSnapshot() }

// LiveNodes returns every NodeID currently considered alive (including
// self); DeadNodes returns every known NodeID currently considered not
// alive.
func (h *Handle) LiveNodes() []NodeID { return h.engine.LiveNodes() }
func (h *Handle) DeadNodes() []NodeID { return h.engine.DeadNodes() }

// LiveNodesWatchStream returns a channel delivering the live-node set
// immediately, then once per change, until ctx is done. Coalescing:
// slow subscribers see only the latest value (spec.md §4.1).
func (h *Handle) LiveNodesWatchStream(ctx context.Context) <-chan []NodeID {
	return h.engine.WatchLiveNodes(ctx)
}

// Shutdown cancels the background task, closes the transport socket, and
// waits for the run loop to terminate (spec.md §5).
func (h *Handle) Shutdown() {
	h.cancel()
	<-h.done
	_ = h.socket.Close()
}
