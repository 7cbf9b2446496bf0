// Package failuredetector implements the phi-accrual failure detector from
// spec.md §4.3: a per-peer sliding window of heartbeat inter-arrival times
// feeding a suspicion score, with hysteresis between Alive and Dead and a
// longer grace period before a peer is reported should-be-removed.
//
// The threshold-driven state-machine shape is grounded on the teacher's
// internal/circuitbreaker/breaker.go Closed/Open/HalfOpen breaker. Unlike
// that breaker, a Detector holds no atomics and is not synchronized.
package failuredetector

import (
	"math"
	"time"
)

// Config tunes one Detector's sensitivity.
type Config struct {
	InitialInterval     time.Duration
	MaxInterval         time.Duration
	SamplingWindowSize  int
	PhiDeadThreshold    float64
	DeadNodeGracePeriod time.Duration
}

// DefaultConfig matches spec.md §4.3's suggested defaults.
func DefaultConfig() Config {
	return Config{
		InitialInterval:     1 * time.Second,
		MaxInterval:         10 * time.Second,
		SamplingWindowSize:  1000,
		PhiDeadThreshold:    8,
		DeadNodeGracePeriod: 10 * time.Minute,
	}
}

// hysteresisEpsilon is how far below PhiDeadThreshold phi must fall before
// a Dead peer is allowed back to Alive, preventing flapping right at the
// boundary.
const hysteresisEpsilon = 0.5

// clock is overridable in tests so phi computations don't depend on wall
// time passing during a test run.
type clock func() time.Time

// Detector tracks one peer's heartbeat arrival statistics and liveness
// verdicts. It is owned exclusively by the protocol engine's tick loop —
// spec.md §5 gives it no external mutators.
type Detector struct {
	cfg Config
	now clock

	window    []float64 // inter-arrival intervals, ring buffer
	windowPos int
	windowLen int

	lastHeartbeatAt time.Time
	hasHeartbeat    bool

	alive          bool
	deadSince      time.Time
	hasDeadSince   bool
}

// NewDetector creates a Detector in the Alive state (a brand-new peer is
// assumed alive until proven otherwise by missed heartbeats).
func NewDetector(cfg Config) *Detector {
	if cfg.SamplingWindowSize <= 0 {
		cfg.SamplingWindowSize = 1000
	}
	return &Detector{
		cfg:    cfg,
		now:    time.Now,
		window: make([]float64, 0, cfg.SamplingWindowSize),
		alive:  true,
	}
}

// ReportHeartbeat records a heartbeat observation at the current time.
func (d *Detector) ReportHeartbeat() {
	d.reportAt(d.now())
}

func (d *Detector) reportAt(t time.Time) {
	if d.hasHeartbeat {
		interval := t.Sub(d.lastHeartbeatAt).Seconds()
		if interval > 0 {
			d.push(interval)
		}
	}
	d.lastHeartbeatAt = t
	d.hasHeartbeat = true
}

func (d *Detector) push(interval float64) {
	if len(d.window) < cap(d.window) {
		d.window = append(d.window, interval)
		return
	}
	d.window[d.windowPos] = interval
	d.windowPos = (d.windowPos + 1) % len(d.window)
}

func (d *Detector) meanStddev() (mean, stddev float64) {
	if len(d.window) == 0 {
		return d.cfg.InitialInterval.Seconds(), d.cfg.InitialInterval.Seconds() / 4
	}
	var sum float64
	for _, v := range d.window {
		sum += v
	}
	mean = sum / float64(len(d.window))

	var variance float64
	for _, v := range d.window {
		diff := v - mean
		variance += diff * diff
	}
	variance /= float64(len(d.window))
	stddev = math.Sqrt(variance)
	if stddev < 1e-9 {
		stddev = mean / 8 // avoid a degenerate zero-variance distribution
		if stddev < 1e-9 {
			stddev = 1e-9
		}
	}
	return mean, stddev
}

// Phi returns the current suspicion score for this peer. A peer that has
// never sent a heartbeat scores 0 (neither alive nor dead yet — the engine
// treats unknown-but-unreported peers via report_unknown, not via Phi).
func (d *Detector) Phi() float64 {
	return d.phiAt(d.now())
}

func (d *Detector) phiAt(t time.Time) float64 {
	if !d.hasHeartbeat {
		return 0
	}
	elapsed := t.Sub(d.lastHeartbeatAt).Seconds()
	if elapsed <= 0 {
		return 0
	}
	mean, stddev := d.meanStddev()
	p := 1 - normalCDF(elapsed, mean, stddev)
	if p <= 0 {
		// Below float64 precision: effectively certain the peer is dead.
		return 1000
	}
	return -math.Log10(p)
}

// normalCDF approximates the CDF of N(mean, stddev^2) at x using the
// standard erf-based closed form; an approximation is explicitly permitted
// by spec.md §4.3 ("practical approximations are acceptable").
func normalCDF(x, mean, stddev float64) float64 {
	z := (x - mean) / (stddev * math.Sqrt2)
	return 0.5 * (1 + math.Erf(z))
}

// UpdateLiveness recomputes and returns the Alive verdict, applying
// hysteresis: a peer that was already Dead must drop below
// PhiDeadThreshold-hysteresisEpsilon to come back, not merely below
// PhiDeadThreshold.
func (d *Detector) UpdateLiveness() bool {
	return d.updateLivenessAt(d.now())
}

func (d *Detector) updateLivenessAt(t time.Time) bool {
	phi := d.phiAt(t)
	threshold := d.cfg.PhiDeadThreshold

	wasAlive := d.alive
	if wasAlive {
		d.alive = phi < threshold
	} else {
		d.alive = phi < threshold-hysteresisEpsilon
	}

	if wasAlive && !d.alive {
		d.deadSince, d.hasDeadSince = t, true
	} else if !wasAlive && d.alive {
		d.hasDeadSince = false
	}
	return d.alive
}

// IsAlive reports the last computed liveness verdict without recomputing.
func (d *Detector) IsAlive() bool { return d.alive }

// ShouldBeRemoved reports whether this peer has been continuously Dead for
// longer than DeadNodeGracePeriod.
func (d *Detector) ShouldBeRemoved() bool {
	if d.alive || !d.hasDeadSince {
		return false
	}
	return d.now().Sub(d.deadSince) > d.cfg.DeadNodeGracePeriod
}

// ReportUnknown marks a peer from which no heartbeat arrived during the
// last tick, without advancing its interval statistics — it simply makes
// phi grow by letting "now" move further past the last real heartbeat.
// This exists as a named no-op call site matching spec.md §4.2 step 2
// ("applies report_unknown to peers from which no heartbeat was observed"):
// phi already grows with elapsed time on its own, so there is nothing
// additional to record, but calling it keeps the engine's tick loop
// symmetric with peers that did report.
func (d *Detector) ReportUnknown() {}
