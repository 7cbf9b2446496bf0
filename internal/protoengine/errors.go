package protoengine

import "errors"

// Sentinel errors a caller embedding the engine may want to distinguish
// with errors.Is (spec.md §7's error taxonomy covers everything else as
// log-and-drop, never surfaced here).
var (
	// ErrBadCluster is logged when a peer rejects a Syn for cluster-id
	// mismatch. It never propagates out of Run — the tick simply drops
	// that peer, per spec.md §4.2.
	ErrBadCluster = errors.New("protoengine: peer rejected cluster id")

	// ErrMTUExceeded is returned by configuration validation when the
	// configured MTU cannot hold even a single node header.
	ErrMTUExceeded = errors.New("protoengine: mtu too small for wire overhead")
)
