package timesync

import "testing"

func TestManager_NotSyncedBelowMinSamples(t *testing.T) {
	m := New()
	for i := 0; i < 3; i++ {
		m.OnPong(0, 100, 20)
	}
	if m.IsSynced() {
		t.Fatalf("expected not synced below minSamples")
	}
	m.OnPong(0, 100, 20)
	if !m.IsSynced() {
		t.Fatalf("expected synced at minSamples")
	}
}

func TestManager_ClockDeltaAndLatencyComputation(t *testing.T) {
	m := New()
	// t_send=0, t_recv=20 -> rtt=20, one_way=10; t_server=110 -> delta=110-10=100
	m.OnPong(0, 110, 20)
	if got := m.EstimatedLatency(); got != 10 {
		t.Fatalf("expected one_way latency 10, got %d", got)
	}
	if got := m.ClockDelta(); got != 100 {
		t.Fatalf("expected clock delta 100, got %d", got)
	}
}

func TestManager_MedianIsRobustToOutlier(t *testing.T) {
	m := New()
	for _, rtt := range []int64{20, 20, 20, 20, 2000} {
		m.OnPong(0, 0, rtt)
	}
	if got := m.EstimatedLatency(); got != 10 {
		t.Fatalf("expected median one-way latency of 10 (robust to outlier), got %d", got)
	}
}

func TestManager_SampleWindowCapsAtSixteen(t *testing.T) {
	m := New()
	for i := 0; i < 40; i++ {
		m.OnPong(0, 0, 20)
	}
	if m.SampleCount() != sampleWindow {
		t.Fatalf("expected sample count capped at %d, got %d", sampleWindow, m.SampleCount())
	}
}

func TestManager_MultiplierClampsAndStepsBounded(t *testing.T) {
	m := New()
	for i := 0; i < 1000; i++ {
		m.AdjustForDepth(100) // persistently far above target
	}
	if m.TickRateMultiplier() != multiplierMax {
		t.Fatalf("expected multiplier clamped at max %.3f, got %.3f", multiplierMax, m.TickRateMultiplier())
	}

	m2 := New()
	before := m2.TickRateMultiplier()
	m2.AdjustForDepth(100)
	step := m2.TickRateMultiplier() - before
	if step < 0 || step > maxStepPerTick+1e-9 {
		t.Fatalf("expected single-call step within [0, %.3f], got %.3f", maxStepPerTick, step)
	}
}

func TestManager_MultiplierSlowsDownWhenDepthBelowTarget(t *testing.T) {
	m := New()
	for i := 0; i < 1000; i++ {
		m.AdjustForDepth(0)
	}
	if m.TickRateMultiplier() != multiplierMin {
		t.Fatalf("expected multiplier clamped at min %.3f, got %.3f", multiplierMin, m.TickRateMultiplier())
	}
}

func TestManager_ResetClearsSamplesAndMultiplier(t *testing.T) {
	m := New()
	m.OnPong(0, 110, 20)
	m.AdjustForDepth(100)
	m.Reset()

	if m.SampleCount() != 0 {
		t.Fatalf("expected samples cleared")
	}
	if m.TickRateMultiplier() != 1.0 {
		t.Fatalf("expected multiplier reset to 1.0, got %.3f", m.TickRateMultiplier())
	}
	if m.IsSynced() {
		t.Fatalf("expected not synced after reset")
	}
}
