package protoengine

import (
	"time"

	"go.uber.org/zap"

	"github.com/shardmesh/chitchat/internal/failuredetector"
	"github.com/shardmesh/chitchat/internal/state"
	"github.com/shardmesh/chitchat/internal/transport"
)

// LivenessPredicate gates liveness alongside the failure detector (spec.md
// §4.2 — "a peer is reported live only if both the failure detector and the
// predicate agree").
type LivenessPredicate func(state.NodeID, *state.NodeState) bool

// Config is the engine-level configuration surface from spec.md §6.
type Config struct {
	ClusterID                    string
	SelfID                       state.NodeID
	Seeds                        []string
	GossipInterval                time.Duration
	MarkedForDeletionGracePeriod time.Duration
	FailureDetector               failuredetector.Config
	MTU                           int

	// CatchupCallback fires once, synchronously on the tick goroutine and
	// with the state lock released, whenever the live-node set grows
	// (spec.md §4.2 step 5).
	CatchupCallback func()

	// ExtraLivenessPredicate is an additional AND-gate on liveness
	// (spec.md §4.2's "Liveness predicate extension").
	ExtraLivenessPredicate LivenessPredicate

	Logger *zap.Logger
}

// graceVersions converts the wall-clock MarkedForDeletionGracePeriod into a
// version-count threshold (the period divided by GossipInterval), since
// ClusterState measures tombstone age in versions rather than wall-clock
// time. A node bumps its version at least once per tick (the heartbeat), so
// other writes on that node make the grace elapse in fewer ticks.
func (c Config) graceVersions() uint64 {
	if c.GossipInterval <= 0 {
		return 1
	}
	rounds := c.MarkedForDeletionGracePeriod / c.GossipInterval
	if rounds < 1 {
		rounds = 1
	}
	return uint64(rounds)
}

func (c Config) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

// mtu returns the configured per-datagram budget, falling back to the
// UDP default (spec.md §4.4) when unset.
func (c Config) mtu() int {
	if c.MTU <= 0 {
		return transport.DefaultMTU
	}
	return c.MTU
}
