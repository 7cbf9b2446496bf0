package transport

import (
	"context"
	"math/rand"
	"net/netip"
	"sync"

	"go.uber.org/zap"
)

// ChannelStats counts traffic passing through a ChannelTransport, mirroring
// the "statistics counter" spec.md §4.4 requires of the in-process variant.
type ChannelStats struct {
	mu       sync.Mutex
	Sent     uint64
	Received uint64
	Dropped  uint64
}

func (s *ChannelStats) recordSent() {
	s.mu.Lock()
	s.Sent++
	s.mu.Unlock()
}

func (s *ChannelStats) recordReceived() {
	s.mu.Lock()
	s.Received++
	s.mu.Unlock()
}

func (s *ChannelStats) recordDropped() {
	s.mu.Lock()
	s.Dropped++
	s.mu.Unlock()
}

// Snapshot returns a copy of the current counters.
func (s *ChannelStats) Snapshot() (sent, received, dropped uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Sent, s.Received, s.Dropped
}

// ChannelTransport is a deterministic, in-process transport for tests: it
// shares a registry of per-address inboxes and an optional Bernoulli
// drop-message filter (spec.md §4.4). Every Socket opened from the same
// ChannelTransport value shares the registry, so multiple nodes in one test
// process can address each other by netip.AddrPort without touching a real
// network stack.
type ChannelTransport struct {
	mtu        int
	dropProb   float64
	rng        *rand.Rand
	stats      *ChannelStats
	mu         sync.Mutex
	registry   map[netip.AddrPort]chan rawRecvResult
}

// NewChannelTransport creates a ChannelTransport with the given MTU (the
// Rust original's `ChannelTransport::with_mtu` is the direct precedent —
// tests need to exercise MTU truncation deterministically, which a fixed
// 65507-byte UDP MTU would never trigger at unit-test scale).
func NewChannelTransport(mtu int) *ChannelTransport {
	return &ChannelTransport{
		mtu:      mtu,
		rng:      rand.New(rand.NewSource(1)),
		stats:    &ChannelStats{},
		registry: make(map[netip.AddrPort]chan rawRecvResult),
	}
}

// WithDrop returns a transport sharing this one's registry but applying a
// Bernoulli drop filter with the given per-message probability.
func (c *ChannelTransport) WithDrop(prob float64) *ChannelTransport {
	return &ChannelTransport{
		mtu:      c.mtu,
		dropProb: prob,
		rng:      c.rng,
		stats:    c.stats,
		registry: c.registry,
	}
}

// Stats returns the shared counters for this transport's traffic.
func (c *ChannelTransport) Stats() *ChannelStats { return c.stats }

func (c *ChannelTransport) Open(ctx context.Context, bindAddr netip.AddrPort) (Socket, error) {
	raw, err := c.OpenRaw(ctx, bindAddr)
	if err != nil {
		return nil, err
	}
	return newPlainSocket(raw, zap.NewNop()), nil
}

func (c *ChannelTransport) OpenRaw(ctx context.Context, bindAddr netip.AddrPort) (RawSocket, error) {
	c.mu.Lock()
	inbox, ok := c.registry[bindAddr]
	if !ok {
		inbox = make(chan rawRecvResult, 256)
		c.registry[bindAddr] = inbox
	}
	c.mu.Unlock()

	return &channelRawSocket{
		transport: c,
		local:     bindAddr,
		inbox:     inbox,
		closeCh:   make(chan struct{}),
	}, nil
}

type channelRawSocket struct {
	transport *ChannelTransport
	local     netip.AddrPort
	inbox     chan rawRecvResult
	closeOnce sync.Once
	closeCh   chan struct{}
}

func (s *channelRawSocket) SendTo(ctx context.Context, peer netip.AddrPort, payload []byte) {
	if len(payload) > s.transport.mtu {
		s.transport.stats.recordDropped()
		return
	}

	s.transport.mu.Lock()
	if s.transport.dropProb > 0 && s.transport.rng.Float64() < s.transport.dropProb {
		s.transport.mu.Unlock()
		s.transport.stats.recordDropped()
		return
	}
	dest, ok := s.transport.registry[peer]
	s.transport.mu.Unlock()
	if !ok {
		s.transport.stats.recordDropped()
		return
	}

	cp := make([]byte, len(payload))
	copy(cp, payload)
	select {
	case dest <- rawRecvResult{peer: s.local, payload: cp}:
		s.transport.stats.recordSent()
	default:
		s.transport.stats.recordDropped()
	}
}

func (s *channelRawSocket) RecvFrom(ctx context.Context) (netip.AddrPort, []byte, error) {
	select {
	case r := <-s.inbox:
		s.transport.stats.recordReceived()
		return r.peer, r.payload, nil
	case <-s.closeCh:
		return netip.AddrPort{}, nil, ErrSocketClosed
	case <-ctx.Done():
		return netip.AddrPort{}, nil, ErrSocketClosed
	}
}

func (s *channelRawSocket) LocalAddr() netip.AddrPort { return s.local }

func (s *channelRawSocket) Close() error {
	s.closeOnce.Do(func() { close(s.closeCh) })
	return nil
}
