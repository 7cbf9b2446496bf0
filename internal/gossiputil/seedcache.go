// Package gossiputil holds small helpers shared by the protocol engine that
// don't belong to any single layer of the data model/wire/transport split.
package gossiputil

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// SeedResolver resolves "host:port" seed strings to netip.AddrPort,
// caching successes for a bounded TTL so a gossip tick that runs every
// fraction of a second doesn't re-resolve DNS for every configured seed
// (spec.md §6 — "seeds... unresolvable entries are skipped at tick time,
// not startup").
type SeedResolver struct {
	cache    *expirable.LRU[string, netip.AddrPort]
	resolver *net.Resolver
}

// NewSeedResolver creates a resolver caching up to maxEntries resolved
// addresses for ttl.
func NewSeedResolver(maxEntries int, ttl time.Duration) *SeedResolver {
	return &SeedResolver{
		cache:    expirable.NewLRU[string, netip.AddrPort](maxEntries, nil, ttl),
		resolver: net.DefaultResolver,
	}
}

// Resolve returns the resolved address for a seed string, or an error if it
// cannot currently be resolved. Callers are expected to skip (not fail the
// tick on) a resolution error.
func (r *SeedResolver) Resolve(ctx context.Context, hostPort string) (netip.AddrPort, error) {
	if cached, ok := r.cache.Get(hostPort); ok {
		return cached, nil
	}

	host, portStr, err := net.SplitHostPort(hostPort)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("split seed address %q: %w", hostPort, err)
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		port, err := parsePort(portStr)
		if err != nil {
			return netip.AddrPort{}, err
		}
		ap := netip.AddrPortFrom(addr, port)
		r.cache.Add(hostPort, ap)
		return ap, nil
	}

	addrs, err := r.resolver.LookupIP(ctx, "ip", host)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("resolve seed host %q: %w", host, err)
	}
	if len(addrs) == 0 {
		return netip.AddrPort{}, fmt.Errorf("seed host %q resolved to no addresses", host)
	}
	port, err := parsePort(portStr)
	if err != nil {
		return netip.AddrPort{}, err
	}

	// First resolved address wins — a documented, deliberately simple
	// choice; nothing in the protocol depends on a specific member of a
	// round-robin DNS set.
	resolved, ok := netip.AddrFromSlice(addrs[0])
	if !ok {
		return netip.AddrPort{}, fmt.Errorf("seed host %q resolved to an invalid address", host)
	}
	ap := netip.AddrPortFrom(resolved.Unmap(), port)
	r.cache.Add(hostPort, ap)
	return ap, nil
}

func parsePort(s string) (uint16, error) {
	var port uint16
	if _, err := fmt.Sscanf(s, "%d", &port); err != nil {
		return 0, fmt.Errorf("parse port %q: %w", s, err)
	}
	return port, nil
}
