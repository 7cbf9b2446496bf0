package protoengine

import (
	"math/rand"
	"net/netip"
)

// selectPeers implements spec.md §4.2's per-tick peer selection: one live
// pick, a probabilistic dead pick, and a probabilistic seed pick, all
// deduplicated against self and each other.
//
// live, dead are the advertise addresses of peers already filtered by the
// caller (failure detector verdicts); seeds are resolved seed addresses. self is excluded
// from every pick.
func selectPeers(rng *rand.Rand, live, dead []netip.AddrPort, seeds []netip.AddrPort, self netip.AddrPort) []netip.AddrPort {
	picked := make(map[netip.AddrPort]struct{})
	var out []netip.AddrPort

	add := func(addr netip.AddrPort) {
		if addr == self {
			return
		}
		if _, ok := picked[addr]; ok {
			return
		}
		picked[addr] = struct{}{}
		out = append(out, addr)
	}

	if len(live) > 0 {
		add(live[rng.Intn(len(live))])
	}

	if len(dead) > 0 {
		// dead_count / (live_count + dead_count + 1)
		p := float64(len(dead)) / float64(len(live)+len(dead)+1)
		if rng.Float64() < p {
			add(dead[rng.Intn(len(dead))])
		}
	}

	if len(seeds) > 0 {
		// Probability inversely proportional to the number of known live
		// non-seed peers: guarantees seed contact while isolated, fades
		// out once the cluster is well-known.
		nonSeedLive := 0
		seedSet := make(map[netip.AddrPort]struct{}, len(seeds))
		for _, s := range seeds {
			seedSet[s] = struct{}{}
		}
		for _, l := range live {
			if _, isSeed := seedSet[l]; !isSeed {
				nonSeedLive++
			}
		}
		p := 1.0 / float64(nonSeedLive+1)
		if rng.Float64() < p {
			add(seeds[rng.Intn(len(seeds))])
		}
	}

	return out
}
