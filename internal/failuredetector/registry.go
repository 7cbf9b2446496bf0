package failuredetector

import "github.com/shardmesh/chitchat/internal/state"

// Registry owns one Detector per monitored NodeID. It is not internally
// synchronized — like ClusterState, it is owned exclusively by the
// protocol engine's single background task (spec.md §5).
type Registry struct {
	cfg       Config
	detectors map[state.NodeID]*Detector
}

// NewRegistry creates an empty Registry using cfg for every Detector it creates.
func NewRegistry(cfg Config) *Registry {
	return &Registry{cfg: cfg, detectors: make(map[state.NodeID]*Detector)}
}

// Observe records a heartbeat for id, creating its Detector on first sight.
func (r *Registry) Observe(id state.NodeID) {
	r.detectorFor(id).ReportHeartbeat()
}

func (r *Registry) detectorFor(id state.NodeID) *Detector {
	d, ok := r.detectors[id]
	if !ok {
		d = NewDetector(r.cfg)
		r.detectors[id] = d
	}
	return d
}

// ReportUnknown is called once per tick for every known peer that did not
// report a heartbeat since the previous tick (spec.md §4.2 step 2).
func (r *Registry) ReportUnknown(id state.NodeID) {
	r.detectorFor(id).ReportUnknown()
}

// UpdateAll recomputes liveness for every tracked peer.
func (r *Registry) UpdateAll() {
	for _, d := range r.detectors {
		d.UpdateLiveness()
	}
}

// IsAlive reports the last computed liveness verdict for id. An id with no
// Detector yet (never observed) is treated as not alive.
func (r *Registry) IsAlive(id state.NodeID) bool {
	d, ok := r.detectors[id]
	return ok && d.IsAlive()
}

// ShouldBeRemoved reports whether id has been Dead past its grace period.
func (r *Registry) ShouldBeRemoved(id state.NodeID) bool {
	d, ok := r.detectors[id]
	return ok && d.ShouldBeRemoved()
}

// Phi returns id's current suspicion score, or 0 if unobserved.
func (r *Registry) Phi(id state.NodeID) float64 {
	d, ok := r.detectors[id]
	if !ok {
		return 0
	}
	return d.Phi()
}

// Forget drops a peer's detector entirely, called once its NodeState has
// been garbage-collected from the ClusterState.
func (r *Registry) Forget(id state.NodeID) {
	delete(r.detectors, id)
}

// Known returns every NodeID this registry currently tracks.
func (r *Registry) Known() []state.NodeID {
	out := make([]state.NodeID, 0, len(r.detectors))
	for id := range r.detectors {
		out = append(out, id)
	}
	return out
}
