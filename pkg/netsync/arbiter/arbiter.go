// Package arbiter implements StateHashArbiter: per-frame aggregation of
// peer-reported state hashes into a majority verdict, desync detection,
// and the sync_percent running tally (spec.md §4.7).
package arbiter

import (
	"github.com/ridgeline-sim/netsync/pkg/netsync/definition"
	"github.com/ridgeline-sim/netsync/pkg/netsync/types"
)

// Report is one peer's hash claim for a frame.
type Report struct {
	Peer types.PeerID
	Hash uint32
}

// Verdict is the outcome of resolving one frame's reports.
type Verdict struct {
	Frame        types.Frame
	HasMajority  bool
	MajorityHash uint32
	Desynced     bool
	LocalHash    uint32
}

// Status is the externally reported sync tier (spec.md §4.7).
type Status struct {
	SyncPercent   uint32 // integer percentage, 0..100
	Passed        uint64
	Failed        uint64
	IsDesynced    bool
	ResyncPending bool
}

// Arbiter aggregates per-frame hash reports and tracks sync/desync state.
type Arbiter struct {
	ackWindow uint32
	log       definition.Logger
	sink      definition.ObservabilitySink

	pending map[types.Frame]map[types.PeerID]uint32

	passed   uint64
	failed   uint64
	desynced bool

	onDesync func(frame types.Frame, localHash, majorityHash uint32)
}

// Config bundles the Arbiter's constructor dependencies.
type Config struct {
	AckWindow uint32
	Log       definition.Logger
	Sink      definition.ObservabilitySink
	// OnDesync is invoked for every resolved frame whose local hash differs
	// from the majority, notifying ResyncCoordinator per spec.md §4.7 step 5.
	OnDesync func(frame types.Frame, localHash, majorityHash uint32)
}

// New creates an Arbiter.
func New(cfg Config) *Arbiter {
	log := cfg.Log
	if log == nil {
		log = definition.NewDefaultLogger()
	}
	sink := cfg.Sink
	if sink == nil {
		sink = definition.NoopSink{}
	}
	ackWindow := cfg.AckWindow
	if ackWindow == 0 {
		ackWindow = 3
	}
	return &Arbiter{
		ackWindow: ackWindow,
		log:       log,
		sink:      sink,
		pending:   make(map[types.Frame]map[types.PeerID]uint32),
		onDesync:  cfg.OnDesync,
	}
}

// RecordReport stores peer's hash claim for frame.
func (a *Arbiter) RecordReport(frame types.Frame, peer types.PeerID, hash uint32) {
	set, ok := a.pending[frame]
	if !ok {
		set = make(map[types.PeerID]uint32)
		a.pending[frame] = set
	}
	set[peer] = hash
}

// ReadyToResolve reports whether frame's deadline (currentFrame >= frame +
// ack_window) has passed, or every active peer has already reported.
func (a *Arbiter) ReadyToResolve(frame, currentFrame types.Frame, activePeers []types.PeerID) bool {
	if currentFrame >= frame+types.Frame(a.ackWindow) {
		return true
	}
	set, ok := a.pending[frame]
	if !ok {
		return len(activePeers) == 0
	}
	for _, p := range activePeers {
		if _, reported := set[p]; !reported {
			return false
		}
	}
	return true
}

// Resolve computes the majority verdict for frame against localHash, then
// discards frame's pending reports. Majority requires strictly more than
// half of the reports received (not of active peers); ties broken by
// smallest hash value. If no hash holds a majority, emits the
// no_majority_hash diagnostic and returns a verdict with HasMajority=false
// (never counted as a desync).
func (a *Arbiter) Resolve(frame types.Frame, localHash uint32) Verdict {
	set := a.pending[frame]
	delete(a.pending, frame)

	verdict := Verdict{Frame: frame, LocalHash: localHash}

	if len(set) == 0 {
		return verdict
	}

	counts := make(map[uint32]int, len(set))
	total := 0
	for _, h := range set {
		counts[h]++
		total++
	}

	majority, ok := majorityHash(counts, total)
	if !ok {
		a.sink.Event(definition.EventNoMajorityHash, map[string]interface{}{"frame": frame})
		return verdict
	}

	verdict.HasMajority = true
	verdict.MajorityHash = majority

	if localHash == majority {
		a.passed++
		a.desynced = false
	} else {
		a.failed++
		a.desynced = true
		verdict.Desynced = true
		a.sink.Event(definition.EventDesynced, map[string]interface{}{
			"frame": frame, "local_hash": localHash, "majority_hash": majority,
		})
		if a.onDesync != nil {
			a.onDesync(frame, localHash, majority)
		}
	}

	return verdict
}

// Discard drops frame's pending reports without resolving a verdict, for
// when the local historical hash for frame can no longer be produced (the
// snapshot ring already evicted it). Counted as neither pass nor fail.
func (a *Arbiter) Discard(frame types.Frame) {
	delete(a.pending, frame)
}

// majorityHash returns the hash with strictly more than half of total
// reports, breaking ties among candidates tied on count by smallest hash
// value. A tie on count alone is not itself disqualifying — only the
// "strictly more than half" threshold is.
func majorityHash(counts map[uint32]int, total int) (uint32, bool) {
	var best uint32
	bestCount := -1
	found := false
	for h, c := range counts {
		if c*2 <= total {
			continue
		}
		if !found || c > bestCount || (c == bestCount && h < best) {
			best = h
			bestCount = c
			found = true
		}
	}
	return best, found
}

// Status returns the externally reported sync tier.
func (a *Arbiter) Status(resyncPending bool) Status {
	total := a.passed + a.failed
	pct := uint32(100)
	if total > 0 {
		pct = uint32(a.passed * 100 / total)
	}
	return Status{
		SyncPercent:   pct,
		Passed:        a.passed,
		Failed:        a.failed,
		IsDesynced:    a.desynced,
		ResyncPending: resyncPending,
	}
}

// ClearDesync is called once ResyncCoordinator completes a resync.
func (a *Arbiter) ClearDesync() { a.desynced = false }

// Reset discards all pending reports and counters.
func (a *Arbiter) Reset() {
	a.pending = make(map[types.Frame]map[types.PeerID]uint32)
	a.passed = 0
	a.failed = 0
	a.desynced = false
}
