// Package resync implements ResyncCoordinator: the requester half that
// recovers a desynced peer via a fresh authoritative snapshot, and the
// authority half that produces that snapshot for a requesting peer
// (spec.md §4.8).
package resync

import (
	"github.com/ridgeline-sim/netsync/pkg/netsync/definition"
	"github.com/ridgeline-sim/netsync/pkg/netsync/prediction"
	"github.com/ridgeline-sim/netsync/pkg/netsync/types"
)

// Coordinator owns both the requester and authority halves. A single peer
// runs both: it may be desynced itself while also serving snapshots to
// other desynced peers.
type Coordinator struct {
	self types.PeerID

	predictor      *prediction.Manager
	log            definition.Logger
	sink           definition.ObservabilitySink
	timeoutFrames  uint64
	maxRetries     uint32

	resyncPending bool
	pendingSince  types.Frame
	retries       uint32
	timedOut      bool

	// pendingUpload is the authority-side latch: the peer currently owed
	// a fresh post-tick snapshot, or "" if none.
	pendingUpload types.PeerID
	uploadArmed   bool

	// seenFromSnapshot tracks peers whose presence was populated purely
	// by loading a snapshot rather than an observed join, so a
	// subsequent real join for the same id still fires on_connect
	// (spec.md §4.8's "clients-populated-from-snapshot tracking set").
	seenFromSnapshot map[types.PeerID]struct{}

	sendSnapshot func(to types.PeerID, snap types.Snapshot)
	sendResyncRequest func()
}

// Config bundles the Coordinator's constructor dependencies.
type Config struct {
	Self      types.PeerID
	Predictor *prediction.Manager
	Log       definition.Logger
	Sink      definition.ObservabilitySink
	// Cfg supplies ResyncTimeoutSeconds/ResyncMaxRetries/TickRate for the
	// requester's timeout-and-retry loop.
	Cfg types.Config
	// SendSnapshot transmits a fresh snapshot to the requesting peer
	// (the SNAPSHOT transport message from spec.md §6).
	SendSnapshot func(to types.PeerID, snap types.Snapshot)
	// SendResyncRequest transmits this peer's own REQUEST_RESYNC towards
	// the authority peer. The engine sends it as a standalone
	// REQUEST_RESYNC envelope, not as a lifecycle input inside the TICK
	// input stream, so it is not ordered with other inputs.
	SendResyncRequest func()
}

// New creates a Coordinator.
func New(cfg Config) *Coordinator {
	log := cfg.Log
	if log == nil {
		log = definition.NewDefaultLogger()
	}
	sink := cfg.Sink
	if sink == nil {
		sink = definition.NoopSink{}
	}
	tickRate := cfg.Cfg.TickRate
	if tickRate == 0 {
		tickRate = types.DefaultConfig().TickRate
	}
	timeoutSeconds := cfg.Cfg.ResyncTimeoutSeconds
	if timeoutSeconds == 0 {
		timeoutSeconds = types.DefaultConfig().ResyncTimeoutSeconds
	}
	maxRetries := cfg.Cfg.ResyncMaxRetries
	if maxRetries == 0 {
		maxRetries = types.DefaultConfig().ResyncMaxRetries
	}
	return &Coordinator{
		self:              cfg.Self,
		predictor:         cfg.Predictor,
		log:               log,
		sink:              sink,
		timeoutFrames:     uint64(tickRate) * uint64(timeoutSeconds),
		maxRetries:        maxRetries,
		seenFromSnapshot:  make(map[types.PeerID]struct{}),
		sendSnapshot:      cfg.SendSnapshot,
		sendResyncRequest: cfg.SendResyncRequest,
	}
}

// ResyncPending reports whether this peer is currently awaiting a snapshot.
func (c *Coordinator) ResyncPending() bool { return c.resyncPending }

// OnDesync is wired as the Arbiter's OnDesync callback: it arms
// resync_pending and sends the resync_request lifecycle input.
func (c *Coordinator) OnDesync(frame types.Frame, localHash, majorityHash uint32) {
	if c.resyncPending {
		return
	}
	c.resyncPending = true
	c.pendingSince = frame
	c.retries = 0
	c.timedOut = false
	c.predictor.Disable()
	if c.sendResyncRequest != nil {
		c.sendResyncRequest()
	}
}

// CheckTimeout implements the requester's §7 ResyncTimeout handling: called
// once per local tick while resync_pending, it re-sends the resync_request
// after timeoutFrames have elapsed with no snapshot, up to maxRetries
// times. Once retries are exhausted it stops re-requesting and returns a
// ResyncTimeout error exactly once; callers should propagate
// that to the embedder per spec.md §7's "only ResyncTimeout and Fatal
// surface" rule.
func (c *Coordinator) CheckTimeout(currentFrame types.Frame) *types.SyncError {
	if !c.resyncPending || c.timedOut || c.timeoutFrames == 0 {
		return nil
	}
	if uint64(currentFrame-c.pendingSince) < c.timeoutFrames {
		return nil
	}
	if c.retries >= c.maxRetries {
		c.timedOut = true
		return types.NewSyncError(types.ResyncTimeout, currentFrame, "no snapshot after max retries", nil)
	}
	c.retries++
	c.pendingSince = currentFrame
	if c.sendResyncRequest != nil {
		c.sendResyncRequest()
	}
	return nil
}

// OnSnapshotReceived implements the requester half's snapshot-arrival
// handling: pause prediction (already disabled since OnDesync), load the
// snapshot, realign frames, clear the ring/history and the desync flags,
// then resume.
func (c *Coordinator) OnSnapshotReceived(snap types.Snapshot) {
	c.predictor.ResyncTo(snap)
	c.resyncPending = false
	c.retries = 0
	c.timedOut = false
	c.seenFromSnapshot = make(map[types.PeerID]struct{})
	c.predictor.Enable()
	c.sink.Event(definition.EventResynced, map[string]interface{}{"frame": snap.Frame})
}

// MarkSeenFromSnapshot records that peer's presence came from a loaded
// snapshot rather than an observed join, so a later real join for the same
// id is not suppressed as a duplicate.
func (c *Coordinator) MarkSeenFromSnapshot(peer types.PeerID) {
	c.seenFromSnapshot[peer] = struct{}{}
}

// SeenFromSnapshot reports whether peer's presence is still attributed to
// a loaded snapshot (i.e. on_connect has not yet fired for it).
func (c *Coordinator) SeenFromSnapshot(peer types.PeerID) bool {
	_, ok := c.seenFromSnapshot[peer]
	return ok
}

// OnResyncRequest implements the authority half's step 1: observing a
// resync_request input arms the pending_snapshot_upload latch for P,
// replacing any previous target (spec.md is silent on multiple concurrent
// requesters; last-writer-wins keeps the latch a single slot, matching
// PredictionManager.Callbacks' own last-write-wins convention).
func (c *Coordinator) OnResyncRequest(requester types.PeerID) {
	c.pendingUpload = requester
	c.uploadArmed = true
}

// AfterTick implements the authority half's step 2: once the latch is
// armed, the *next* completed world.tick produces and sends a fresh
// snapshot, never a cached one, because the world may be continuously
// spawning entities between the request and the tick.
func (c *Coordinator) AfterTick(world types.World, frame types.Frame) {
	if !c.uploadArmed {
		return
	}
	target := c.pendingUpload
	c.uploadArmed = false
	c.pendingUpload = ""

	snap := world.Snapshot()
	snap.Frame = frame

	if c.sendSnapshot != nil {
		c.sendSnapshot(target, snap)
	}
}

// Reset clears all requester and authority state.
func (c *Coordinator) Reset() {
	c.resyncPending = false
	c.pendingSince = 0
	c.retries = 0
	c.timedOut = false
	c.pendingUpload = ""
	c.uploadArmed = false
	c.seenFromSnapshot = make(map[types.PeerID]struct{})
}
