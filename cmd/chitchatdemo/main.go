// Command chitchatdemo runs a small in-process cluster of gossiping nodes
// on localhost to demonstrate convergence, failure detection, and recovery
// without any external infrastructure.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/netip"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/shardmesh/chitchat/internal/logging"
	"github.com/shardmesh/chitchat/internal/transport"

	"github.com/shardmesh/chitchat"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

const (
	seedAddrPattern = "127.0.0.1:91%02d"
	nodeAddrPattern = "127.0.0.1:92%02d"
)

func main() {
	seedCount := flag.Int("seeds", 2, "number of seed nodes")
	nodeCount := flag.Int("nodes", 4, "number of regular nodes")
	runFor := flag.Duration("duration", 30*time.Second, "how long to run before exiting")
	logLevel := flag.String("log-level", "info", "debug, info, warn, or error")
	showVersion := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("chitchatdemo %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	logger, closer, err := logging.New(logging.Config{Level: *logLevel, Output: "stdout"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	if closer != nil {
		defer closer.Close()
	}
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), *runFor)
	defer cancel()

	tr := transport.NewChannelTransport(1 << 16)

	seeds := make([]string, 0, *seedCount)
	for i := 0; i < *seedCount; i++ {
		seeds = append(seeds, fmt.Sprintf(seedAddrPattern, i))
	}

	logger.Info("starting seed nodes", zap.Strings("seeds", seeds))
	handles := make([]*chitchat.Handle, 0, *seedCount+*nodeCount)
	for i, addr := range seeds {
		h := spawnNode(ctx, logger, tr, fmt.Sprintf("seed-%d", i), addr, seeds)
		handles = append(handles, h)
	}

	logger.Info("starting regular nodes", zap.Int("count", *nodeCount))
	for i := 0; i < *nodeCount; i++ {
		addr := fmt.Sprintf(nodeAddrPattern, i)
		h := spawnNode(ctx, logger, tr, fmt.Sprintf("node-%d", i), addr, seeds)
		handles = append(handles, h)
	}

	for _, h := range handles {
		defer h.Shutdown()
	}

	go membershipMonitor(ctx, logger, handles[len(handles)-1])
	if len(handles) >= 2 {
		go simulateNodeLossAndRecovery(ctx, logger, tr, seeds)
	}

	<-ctx.Done()
	logger.Info("demo run complete")
}

func spawnNode(ctx context.Context, logger *zap.Logger, tr *transport.ChannelTransport, id, addr string, seeds []string) *chitchat.Handle {
	cfg := chitchat.DefaultConfig()
	cfg.ClusterID = "chitchatdemo"
	cfg.SelfNodeID = chitchat.NodeID{
		NodeID:        id,
		GenerationID:  uint64(time.Now().UnixNano()),
		AdvertiseAddr: netip.MustParseAddrPort(addr),
	}
	cfg.Seeds = seeds
	cfg.Transport = tr
	cfg.GossipInterval = 200 * time.Millisecond
	cfg.Logger = logger.With(zap.String("node_id", id))

	h, err := chitchat.Spawn(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to spawn node", zap.String("node_id", id), zap.Error(err))
	}
	return h
}

func membershipMonitor(ctx context.Context, logger *zap.Logger, observed *chitchat.Handle) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			live := observed.LiveNodes()
			logger.Info("membership snapshot", zap.Int("live_count", len(live)))
		}
	}
}

// simulateNodeLossAndRecovery spawns a throwaway node, lets it be seen by
// the cluster, shuts it down to exercise the failure detector, then brings
// a replacement with a fresh generation ID back up under the same name.
func simulateNodeLossAndRecovery(ctx context.Context, logger *zap.Logger, tr *transport.ChannelTransport, seeds []string) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(5 * time.Second):
	}

	transient := spawnNode(ctx, logger, tr, "transient", "127.0.0.1:9300", seeds)

	select {
	case <-ctx.Done():
		transient.Shutdown()
		return
	case <-time.After(5 * time.Second):
	}

	logger.Info("node down")
	transient.Shutdown()

	select {
	case <-ctx.Done():
		return
	case <-time.After(15 * time.Second):
	}

	logger.Info("node up")
	spawnNode(ctx, logger, tr, "transient", "127.0.0.1:9300", seeds)
}
