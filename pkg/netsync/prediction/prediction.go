// Package prediction implements PredictionManager: local ticking ahead of
// confirmed server input, rollback and resimulation on misprediction, and
// lifecycle-event undo/replay across a rollback (spec.md §4.5). It is the
// largest single component in the core (~20% of the budget).
package prediction

import (
	"fmt"

	"github.com/ridgeline-sim/netsync/pkg/netsync/definition"
	"github.com/ridgeline-sim/netsync/pkg/netsync/history"
	"github.com/ridgeline-sim/netsync/pkg/netsync/snapret"
	"github.com/ridgeline-sim/netsync/pkg/netsync/types"
)

// Stats tracks rollback bookkeeping surfaced to the embedder.
type Stats struct {
	RollbackCount     uint64
	FramesResimulated uint64
	MaxRollbackDepth  uint64
}

// Callbacks are single, last-write-wins slots — never a fan-out list, per
// spec.md §9's "do not allow multiple subscribers to silently chain."
type Callbacks struct {
	OnRollback           func(from, to types.Frame)
	OnLifecycleEvent     func(ev types.Event)
	OnUndoLifecycleEvent func(ev types.Event)
	// InputsCallback may substitute or augment the assembled input set
	// for a frame before World.Tick sees it.
	InputsCallback func(frame types.Frame, set types.FrameInputSet) types.FrameInputSet
}

// Manager orchestrates local ticking, rollback and resimulation.
type Manager struct {
	cfg types.Config

	world   types.World
	history *history.History
	ring    *snapret.Ring
	log     definition.Logger
	sink    definition.ObservabilitySink

	localFrame     types.Frame
	confirmedFrame types.Frame
	enabled        bool
	// started distinguishes "no tick has run yet" from local_frame == 0
	// meaning "frame 0 just ticked": per spec.md §3, frame 0 is itself
	// the first simulated tick, so the very first Advance call ticks
	// frame 0 directly instead of saving-then-incrementing like every
	// later call. initial holds the pre-tick-0 world state so a
	// rollback to frame 0 has something to load.
	started bool
	initial types.Snapshot

	stats     Stats
	callbacks Callbacks

	nextLocalSeq uint32

	// suspended latches on a world panic during tick/load_snapshot (§7's
	// Fatal error kind); Advance becomes a no-op until Reset.
	suspended bool
	fatalErr  *types.SyncError
}

// Config bundles the Manager's constructor dependencies.
type Config struct {
	World        types.World
	Log          definition.Logger
	Sink         definition.ObservabilitySink
	RingCapacity uint32
}

// New creates a Manager starting at frame 0, enabled.
func New(cfg types.Config, deps Config) *Manager {
	sink := deps.Sink
	if sink == nil {
		sink = definition.NoopSink{}
	}
	log := deps.Log
	if log == nil {
		log = definition.NewDefaultLogger()
	}
	capacity := deps.RingCapacity
	if capacity == 0 {
		capacity = cfg.MaxPredictionFrames + 1
	}
	return &Manager{
		cfg:     cfg,
		world:   deps.World,
		history: history.New(),
		ring:    snapret.New(capacity),
		log:     log,
		sink:    sink,
		enabled: true,
		initial: deps.World.Snapshot(),
	}
}

// SetCallbacks replaces the callback slots wholesale.
func (m *Manager) SetCallbacks(cb Callbacks) { m.callbacks = cb }

// LocalFrame returns the current local (predicted) frame.
func (m *Manager) LocalFrame() types.Frame { return m.localFrame }

// ConfirmedFrame returns the last frame with fully confirmed inputs.
func (m *Manager) ConfirmedFrame() types.Frame { return m.confirmedFrame }

// PredictionDepth is local_frame - confirmed_frame.
func (m *Manager) PredictionDepth() uint64 {
	if m.localFrame < m.confirmedFrame {
		return 0
	}
	return uint64(m.localFrame - m.confirmedFrame)
}

// Stats returns a copy of the current rollback statistics.
func (m *Manager) Stats() Stats { return m.stats }

// Enable/Disable gate Advance without discarding any state — used while a
// resync snapshot is loading (spec.md §5 suspension points).
func (m *Manager) Enable()  { m.enabled = true }
func (m *Manager) Disable() { m.enabled = false }
func (m *Manager) Enabled() bool { return m.enabled }

// QueueLocalInput places data at frame local_frame + input_delay_frames,
// confirmed for the local peer, so that by the time local_frame reaches
// that frame the input is already confirmed and cannot mispredict against
// itself.
func (m *Manager) QueueLocalInput(local types.PeerID, data types.Payload) {
	target := m.localFrame + types.Frame(m.cfg.InputDelayFrames)
	seq := m.nextLocalSeq
	m.nextLocalSeq++
	m.history.Set(target, local, types.Input{Seq: seq, Client: local, Payload: data}, true)
}

// QueueLifecycleEvent enqueues a lifecycle event to be replayed at frame.
func (m *Manager) QueueLifecycleEvent(frame types.Frame, ev types.Event) {
	m.history.QueueLifecycleEvent(frame, ev)
}

// History exposes the underlying input history, for callers that need to
// read active peers or assemble frames identically to the manager.
func (m *Manager) History() *history.History { return m.history }

// Ring exposes the underlying snapshot ring, e.g. for the engine to look up
// the state hash this peer had at a past frame.
func (m *Manager) Ring() *snapret.Ring { return m.ring }

func (m *Manager) assemble(frame types.Frame) types.FrameInputSet {
	set := m.history.AssembleFrame(frame, m.history.ActivePeers())
	if m.callbacks.InputsCallback != nil {
		set = m.callbacks.InputsCallback(frame, set)
	}
	return set
}

func (m *Manager) emitLifecycle(frame types.Frame) {
	if m.callbacks.OnLifecycleEvent == nil {
		return
	}
	for _, ev := range m.history.LifecycleEvents(frame) {
		m.callbacks.OnLifecycleEvent(ev)
	}
}

// Advance runs one local tick: save a snapshot, move local_frame forward,
// assemble inputs, replay lifecycle events, then tick the world. It is a
// no-op if disabled or if the prediction horizon is already exhausted.
func (m *Manager) Advance() bool {
	if m.suspended || !m.enabled || m.PredictionDepth() >= uint64(m.cfg.MaxPredictionFrames) {
		return false
	}

	if !m.started {
		m.started = true
		set := m.assemble(0)
		m.emitLifecycle(0)
		if !m.tickWorld(0, set.Ordered()) {
			return false
		}
		return true
	}

	m.saveSnapshot(m.localFrame)
	m.localFrame++

	set := m.assemble(m.localFrame)
	m.emitLifecycle(m.localFrame)
	if !m.tickWorld(m.localFrame, set.Ordered()) {
		return false
	}

	return true
}

// tickWorld calls world.Tick, recovering a panic into the Fatal error kind
// from spec.md §7: the manager latches suspended and the panic never
// crosses into the caller's goroutine.
func (m *Manager) tickWorld(frame types.Frame, inputs []types.Input) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			m.suspend(frame, r)
			ok = false
		}
	}()
	m.world.Tick(frame, inputs)
	return true
}

// loadWorldSnapshot calls world.LoadSnapshot with the same panic recovery.
func (m *Manager) loadWorldSnapshot(snap types.Snapshot) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			m.suspend(snap.Frame, r)
			ok = false
		}
	}()
	m.world.LoadSnapshot(snap)
	return true
}

func (m *Manager) suspend(frame types.Frame, recovered interface{}) {
	m.suspended = true
	m.fatalErr = types.NewSyncError(types.Fatal, frame, "world panicked", fmt.Errorf("%v", recovered))
	m.log.Errorf("world panic at frame %d, suspending until reset: %v", frame, recovered)
	m.sink.Event(definition.EventFatal, map[string]interface{}{"frame": frame})
}

// Suspended reports whether a world panic has put the manager into the
// suspended state described by §7's Fatal error kind.
func (m *Manager) Suspended() bool { return m.suspended }

// FatalError returns the SyncError that caused suspension, or nil.
func (m *Manager) FatalError() *types.SyncError { return m.fatalErr }

// dueForSnapshot reports whether frame sits on a mandatory-snapshot
// boundary per SnapshotInterval (spec.md §6): every SnapshotInterval'th
// frame always gets a retained snapshot, regardless of rollback needs.
// The default of 1 makes every frame a boundary, matching the ring's
// original every-frame retention; a larger interval trades rollback
// coverage (executeRollback already tolerates a missing f-1 snapshot,
// logging and aborting that one rollback) for fewer Snapshot() calls on
// worlds where serialization is expensive.
func (m *Manager) dueForSnapshot(frame types.Frame) bool {
	interval := m.cfg.SnapshotInterval
	if interval == 0 {
		interval = 1
	}
	return uint64(frame)%uint64(interval) == 0
}

func (m *Manager) saveSnapshot(frame types.Frame) {
	if !m.dueForSnapshot(frame) {
		return
	}
	snap := m.world.Snapshot()
	snap.Frame = frame
	m.ring.Save(snap)
}

// ReceiveServerTick applies authoritative inputs I for frame f. Returns
// true if this triggered a rollback.
func (m *Manager) ReceiveServerTick(f types.Frame, inputs []types.Input) bool {
	if f > m.localFrame {
		// Future frame: no rollback is possible yet, but lifecycle
		// events still fire immediately per spec.md §4.5.
		for _, in := range inputs {
			m.storeConfirmed(f, in)
			if in.IsEvent && m.callbacks.OnLifecycleEvent != nil {
				m.callbacks.OnLifecycleEvent(in.Event)
			}
		}
		if f > m.confirmedFrame {
			m.confirmedFrame = f
		}
		return false
	}

	forcedRollback := false
	misprediction := false

	existing, hasExisting := m.history.FrameSet(f)
	for _, in := range inputs {
		if in.IsEvent {
			forcedRollback = true
		} else if hasExisting {
			rec, ok := existing[in.Client]
			if !ok || rec.Confirmed == false || !payloadEqual(rec.Input.Payload, in.Payload) {
				misprediction = true
			}
		} else {
			misprediction = true
		}
		m.storeConfirmed(f, in)
	}

	if f > m.confirmedFrame {
		m.confirmedFrame = f
	}

	if misprediction || forcedRollback {
		m.executeRollback(f)
		return true
	}
	return false
}

func (m *Manager) storeConfirmed(f types.Frame, in types.Input) {
	m.history.Set(f, in.Client, in, true)
}

func payloadEqual(a, b types.Payload) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// executeRollback rewinds to frame f-1's snapshot and resimulates forward
// to local_frame with corrected inputs.
func (m *Manager) executeRollback(f types.Frame) {
	from := m.localFrame

	var snap types.Snapshot
	var ok bool
	if f == 0 {
		snap, ok = m.initial, true
	} else {
		snap, ok = m.ring.Load(f - 1)
	}
	if !ok {
		m.log.Errorf("rollback abort: missing snapshot at frame %d", f-1)
		m.sink.Event(definition.EventMissingSnapshot, map[string]interface{}{"frame": f})
		return
	}

	m.undoLifecycle(from, f)

	if !m.loadWorldSnapshot(snap) {
		return
	}

	for cur := f; cur <= from; cur++ {
		set := m.assemble(cur)
		m.emitLifecycle(cur)
		if !m.tickWorld(cur, set.Ordered()) {
			return
		}
		m.saveSnapshot(cur)
		m.localFrame = cur
	}

	depth := uint64(from - f + 1)
	m.stats.RollbackCount++
	m.stats.FramesResimulated += depth
	if depth > m.stats.MaxRollbackDepth {
		m.stats.MaxRollbackDepth = depth
	}

	if m.callbacks.OnRollback != nil {
		m.callbacks.OnRollback(from, f)
	}
	m.sink.Event(definition.EventRollback, map[string]interface{}{
		"from": from, "to": f, "depth": depth,
	})
}

// undoLifecycle fires OnUndoLifecycleEvent for every lifecycle event queued
// between f and local_frame, in descending frame order, letting the game
// layer reverse side effects that live outside the world snapshot.
func (m *Manager) undoLifecycle(from, f types.Frame) {
	if m.callbacks.OnUndoLifecycleEvent == nil {
		return
	}
	for cur := from; cur >= f && cur <= from; cur-- {
		events := m.history.LifecycleEvents(cur)
		for i := len(events) - 1; i >= 0; i-- {
			m.callbacks.OnUndoLifecycleEvent(events[i])
		}
		if cur == 0 {
			break
		}
	}
}

// Reset restores the manager to its initial state: clears the ring,
// history, and stats. World state itself is left to the caller (typically
// followed by World.LoadSnapshot or a fresh World).
func (m *Manager) Reset() {
	m.localFrame = 0
	m.confirmedFrame = 0
	m.enabled = true
	m.started = false
	m.suspended = false
	m.fatalErr = nil
	m.stats = Stats{}
	m.history.Reset()
	m.ring.Reset()
}

// ResyncTo jumps the manager directly to a freshly loaded authoritative
// snapshot: local_frame and confirmed_frame both become snap.Frame, the
// ring and history are cleared (their contents predate the snapshot and
// would otherwise desync prediction further), and the manager is marked
// started so the next Advance behaves like any later tick rather than
// re-running the frame-0 special case. Used by ResyncCoordinator.
func (m *Manager) ResyncTo(snap types.Snapshot) {
	if !m.loadWorldSnapshot(snap) {
		return
	}
	m.localFrame = snap.Frame
	m.confirmedFrame = snap.Frame
	m.started = true
	m.history.Reset()
	m.ring.Reset()
	m.saveSnapshot(snap.Frame)
}
