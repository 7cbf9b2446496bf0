package chitchat

import (
	"errors"

	"github.com/shardmesh/chitchat/internal/protoengine"
)

// ErrBadCluster is wrapped into a log line when a peer rejects a Syn for
// cluster-id mismatch; it is exported so a caller inspecting logs or a
// wrapped error chain can match it with errors.Is.
var ErrBadCluster = protoengine.ErrBadCluster

// ErrMTUExceeded is returned from Config.Validate when MTU is set below
// the minimum wire overhead.
var ErrMTUExceeded = protoengine.ErrMTUExceeded

// ErrShutdown names the "handle has been shut down" condition for embedders
// that want to distinguish "not running anymore" from other failures with
// errors.Is. Neither the Handle nor the engine returns it: Handle methods
// called after Shutdown keep reading the last cluster state.
var ErrShutdown = errors.New("chitchat: handle has been shut down")
