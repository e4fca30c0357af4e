// Package timesync implements TimeSyncManager: a ping-sample clock
// estimator producing clock offset, latency, and a local tick-rate
// multiplier (spec.md §4.6). None of its output feeds state hashing or
// the simulation itself — it only paces how fast the embedder calls
// Advance — so, unlike the rest of pkg/netsync, floating point here is
// fine: the multiplier never crosses a peer boundary or touches World.
package timesync

import "sort"

const (
	sampleWindow = 16
	minSamples   = 4

	multiplierMin  = 0.90
	multiplierMax  = 1.10
	maxStepPerTick = 0.005

	// targetDepth is the prediction depth the multiplier steers towards;
	// spec.md §4.6 cites 4 frames as the example target.
	targetDepth = 4
)

// Sample is one round-trip ping/pong observation.
type Sample struct {
	RTT      int64 // nanoseconds
	OneWay   int64
	ClockDelta int64 // server_time - local_time, nanoseconds
}

// Manager accumulates ping samples and derives a smoothed clock offset,
// latency estimate and tick-rate multiplier.
type Manager struct {
	samples    []Sample
	multiplier float64
}

// New creates a manager with the multiplier starting at 1.0 (no adjustment).
func New() *Manager {
	return &Manager{multiplier: 1.0}
}

// OnPong records a round-trip sample from a ping/pong exchange. All three
// timestamps are nanosecond clocks from whatever source the embedder
// supplies (a monotonic clock for t_send/t_recv, the peer's reported clock
// for t_server).
func (m *Manager) OnPong(tSend, tServer, tRecv int64) {
	rtt := tRecv - tSend
	oneWay := rtt / 2
	delta := tServer - (tSend + oneWay)

	m.samples = append(m.samples, Sample{RTT: rtt, OneWay: oneWay, ClockDelta: delta})
	if len(m.samples) > sampleWindow {
		m.samples = m.samples[len(m.samples)-sampleWindow:]
	}
}

// SampleCount returns the number of samples currently retained (capped at
// the window size).
func (m *Manager) SampleCount() int { return len(m.samples) }

// IsSynced reports whether enough samples have been collected to trust the
// estimate.
func (m *Manager) IsSynced() bool { return len(m.samples) >= minSamples }

// EstimatedLatency returns the median one-way latency over the retained
// samples, in nanoseconds. Zero if no samples yet.
func (m *Manager) EstimatedLatency() int64 {
	return medianInt64(m.oneWays())
}

// ClockDelta returns the median clock delta over the retained samples, in
// nanoseconds. Zero if no samples yet.
func (m *Manager) ClockDelta() int64 {
	return medianInt64(m.deltas())
}

func (m *Manager) oneWays() []int64 {
	out := make([]int64, len(m.samples))
	for i, s := range m.samples {
		out[i] = s.OneWay
	}
	return out
}

func (m *Manager) deltas() []int64 {
	out := make([]int64, len(m.samples))
	for i, s := range m.samples {
		out[i] = s.ClockDelta
	}
	return out
}

func medianInt64(vs []int64) int64 {
	if len(vs) == 0 {
		return 0
	}
	sorted := append([]int64(nil), vs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

// TickRateMultiplier returns the current local pace multiplier.
func (m *Manager) TickRateMultiplier() float64 { return m.multiplier }

// AdjustForDepth steers the multiplier towards keeping prediction depth
// near targetDepth: speed up (multiplier > 1) when depth runs persistently
// high, slow down when it runs low. The change per call is bounded by
// maxStepPerTick and the result is clamped to [multiplierMin, multiplierMax].
func (m *Manager) AdjustForDepth(depth uint64) {
	step := 0.0
	switch {
	case depth > targetDepth:
		step = maxStepPerTick
	case depth < targetDepth:
		step = -maxStepPerTick
	}
	m.multiplier += step
	if m.multiplier > multiplierMax {
		m.multiplier = multiplierMax
	}
	if m.multiplier < multiplierMin {
		m.multiplier = multiplierMin
	}
}

// Reset clears all samples and restores the multiplier to 1.0, mirroring
// PredictionManager.Reset's "clears time-sync samples" clause (spec.md §4.5).
func (m *Manager) Reset() {
	m.samples = nil
	m.multiplier = 1.0
}
