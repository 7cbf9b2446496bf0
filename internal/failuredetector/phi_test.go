package failuredetector

import (
	"testing"
	"time"
)

func fixedClock(t time.Time) clock {
	return func() time.Time { return t }
}

func TestNewDetectorStartsAlive(t *testing.T) {
	d := NewDetector(DefaultConfig())
	if !d.IsAlive() {
		t.Fatalf("a brand-new detector should start Alive")
	}
}

func TestPhiGrowsWithSilence(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d := NewDetector(Config{
		InitialInterval:     time.Second,
		SamplingWindowSize:  100,
		PhiDeadThreshold:    8,
		DeadNodeGracePeriod: time.Minute,
	})
	d.now = fixedClock(base)
	d.reportAt(base)
	for i := 1; i <= 20; i++ {
		d.now = fixedClock(base.Add(time.Duration(i) * time.Second))
		d.reportAt(base.Add(time.Duration(i) * time.Second))
	}

	d.now = fixedClock(base.Add(21 * time.Second))
	phiSoon := d.phiAt(base.Add(21 * time.Second))
	phiLater := d.phiAt(base.Add(60 * time.Second))
	if !(phiLater > phiSoon) {
		t.Fatalf("phi should increase with elapsed silence: phiSoon=%f phiLater=%f", phiSoon, phiLater)
	}
}

func TestUpdateLivenessMarksDeadAfterSilenceAndHysteresis(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d := NewDetector(Config{
		InitialInterval:     time.Second,
		SamplingWindowSize:  100,
		PhiDeadThreshold:    8,
		DeadNodeGracePeriod: time.Minute,
	})
	d.now = fixedClock(base)
	for i := 0; i < 10; i++ {
		d.reportAt(base.Add(time.Duration(i) * time.Second))
	}

	if alive := d.updateLivenessAt(base.Add(10 * time.Second)); !alive {
		t.Fatalf("should still be alive immediately after a heartbeat")
	}

	longSilence := base.Add(10*time.Second + 5*time.Minute)
	if alive := d.updateLivenessAt(longSilence); alive {
		t.Fatalf("should be dead after a long silence")
	}

	// With a mean interval of 1s and stddev 0.125s (the degenerate
	// zero-variance fallback of mean/8), phi(elapsed=1.7s) ≈ 7.97: below
	// PhiDeadThreshold (8) but above PhiDeadThreshold-hysteresisEpsilon
	// (7.5). Hysteresis: a peer already Dead must NOT flip back to alive
	// just because phi dropped below the plain threshold.
	lastHeartbeatAt := base.Add(9 * time.Second)
	nearBoundary := lastHeartbeatAt.Add(1700 * time.Millisecond)
	if alive := d.updateLivenessAt(nearBoundary); alive {
		t.Fatalf("phi below PhiDeadThreshold but above the hysteresis floor must not revive a Dead peer")
	}

	// phi(elapsed=1.6s) ≈ 6.10, below the hysteresis floor: now it may
	// revive.
	recovered := lastHeartbeatAt.Add(1600 * time.Millisecond)
	if alive := d.updateLivenessAt(recovered); !alive {
		t.Fatalf("phi below the hysteresis floor should revive a Dead peer")
	}
}

func TestShouldBeRemovedAfterGracePeriod(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d := NewDetector(Config{
		InitialInterval:     time.Second,
		SamplingWindowSize:  100,
		PhiDeadThreshold:    8,
		DeadNodeGracePeriod: time.Minute,
	})
	d.now = fixedClock(base)
	d.reportAt(base)

	d.updateLivenessAt(base.Add(time.Hour))
	if d.IsAlive() {
		t.Fatalf("expected dead after an hour of silence")
	}
	if d.ShouldBeRemoved() {
		t.Fatalf("ShouldBeRemoved reads the clock at call time, not updateLivenessAt's argument")
	}

	d.now = fixedClock(base.Add(time.Hour + 2*time.Minute))
	if !d.ShouldBeRemoved() {
		t.Fatalf("expected should-be-removed two minutes after a one-minute grace period elapsed")
	}
}
