// Package engine implements SyncEngine: the top-level collaborator that
// owns a PredictionManager, StateHashArbiter, ResyncCoordinator,
// DeltaDistributor and TimeSyncManager, and drives them from one
// Advance/HandleInbound pair per the single-threaded cooperative
// scheduling model of spec.md §5.
package engine

import (
	"github.com/ridgeline-sim/netsync/pkg/netsync/arbiter"
	"github.com/ridgeline-sim/netsync/pkg/netsync/definition"
	"github.com/ridgeline-sim/netsync/pkg/netsync/delta"
	"github.com/ridgeline-sim/netsync/pkg/netsync/prediction"
	"github.com/ridgeline-sim/netsync/pkg/netsync/resync"
	"github.com/ridgeline-sim/netsync/pkg/netsync/timesync"
	"github.com/ridgeline-sim/netsync/pkg/netsync/transport"
	"github.com/ridgeline-sim/netsync/pkg/netsync/types"
)

// Stats aggregates the externally observable state from every subsystem,
// matching the "sync tiers reported externally" clause of spec.md §4.7
// plus the rollback figures and local frame embedders typically surface in
// a debug overlay.
type Stats struct {
	Prediction prediction.Stats
	Sync       arbiter.Status
	LocalFrame types.Frame
}

// Engine is the top-level synchronization runtime for one peer.
type Engine struct {
	self types.PeerID
	cfg  types.Config

	world types.World
	peers *types.PeerTable

	log  definition.Logger
	sink definition.ObservabilitySink

	transport transport.Transport

	prediction *prediction.Manager
	arbiter    *arbiter.Arbiter
	resync     *resync.Coordinator
	delta      *delta.Distributor
	timesync   *timesync.Manager
}

// Config bundles the Engine's constructor dependencies.
type Config struct {
	Self      types.PeerID
	Cfg       types.Config
	World     types.World
	Transport transport.Transport
	Log       definition.Logger
	Sink      definition.ObservabilitySink
}

// New wires every subsystem together: the arbiter's desync callback feeds
// the resync coordinator, the resync coordinator drives the prediction
// manager's pause/resume and snapshot reload, and the delta distributor
// shares the same peer table the partition assignment reads reliability
// from.
func New(cfg Config) *Engine {
	log := cfg.Log
	if log == nil {
		log = definition.NewDefaultLogger().WithPeer(cfg.Self)
	}
	sink := cfg.Sink
	if sink == nil {
		sink = definition.NoopSink{}
	}

	peers := types.NewPeerTable()

	pm := prediction.New(cfg.Cfg, prediction.Config{
		World: cfg.World,
		Log:   log,
		Sink:  sink,
	})

	e := &Engine{
		self:       cfg.Self,
		cfg:        cfg.Cfg,
		world:      cfg.World,
		peers:      peers,
		log:        log,
		sink:       sink,
		transport:  cfg.Transport,
		prediction: pm,
		timesync:   timesync.New(),
	}

	rc := resync.New(resync.Config{
		Self:      cfg.Self,
		Predictor: pm,
		Log:       log,
		Sink:      sink,
		Cfg:       cfg.Cfg,
		SendSnapshot: func(to types.PeerID, snap types.Snapshot) {
			e.sendSnapshot(to, snap)
		},
		SendResyncRequest: func() {
			e.sendResyncRequest()
		},
	})
	e.resync = rc

	e.arbiter = arbiter.New(arbiter.Config{
		AckWindow: cfg.Cfg.AckWindow,
		Log:       log,
		Sink:      sink,
		OnDesync:  rc.OnDesync,
	})

	e.delta = delta.New(delta.Config{
		Self:      cfg.Self,
		Cfg:       cfg.Cfg,
		Peers:     peers,
		Log:       log,
		Sink:      sink,
		SendDelta: e.sendDelta,
	})

	return e
}

func (e *Engine) sendDelta(msg delta.Message) {
	if e.transport == nil {
		return
	}
	entities := make([]transport.DeltaEntity, len(msg.Entities))
	for i, ent := range msg.Entities {
		entities[i] = transport.DeltaEntity{EntityID: ent.ID, Data: ent.Data}
	}
	e.transport.Send(transport.Envelope{
		Kind:      transport.KindDelta,
		From:      e.self,
		Frame:     msg.Frame,
		Partition: msg.Partition,
		Entities:  entities,
	})
}

func (e *Engine) sendSnapshot(to types.PeerID, snap types.Snapshot) {
	if e.transport == nil {
		return
	}
	e.transport.Send(transport.Envelope{
		Kind:          transport.KindSnapshot,
		From:          e.self,
		To:            to,
		Frame:         snap.Frame,
		SnapshotBytes: snap.Bytes,
		SnapshotHash:  snap.StateHash,
	})
}

func (e *Engine) sendResyncRequest() {
	if e.transport == nil {
		return
	}
	e.transport.Send(transport.Envelope{
		Kind: transport.KindResyncRequest,
		From: e.self,
	})
}

// QueueLocalInput records this peer's own input for the upcoming confirmed
// frame and broadcasts it as a TICK so every other peer can mark it
// confirmed too. There is no dedicated server in this peer-assisted model
// (spec.md §1's "no dedicated server holds state"): each peer is the sole
// authority for its own input stream, so the client that originates an
// input is also the one that sends its TICK.
func (e *Engine) QueueLocalInput(data types.Payload) {
	target := e.prediction.LocalFrame() + types.Frame(e.cfg.InputDelayFrames)
	e.prediction.QueueLocalInput(e.self, data)

	if e.transport != nil {
		e.transport.Send(transport.Envelope{
			Kind:   transport.KindTick,
			From:   e.self,
			Frame:  target,
			Inputs: []types.Input{{Client: e.self, Payload: data}},
		})
	}
}

// Advance runs one local simulation step and broadcasts this peer's state
// hash for it. It returns the Fatal or ResyncTimeout error if either
// condition from §7 fires this tick (the only two kinds the core ever
// surfaces to the embedder); all other error kinds stay internal.
func (e *Engine) Advance() (bool, *types.SyncError) {
	if e.prediction.Suspended() {
		return false, e.prediction.FatalError()
	}

	if !e.prediction.Advance() {
		if e.prediction.Suspended() {
			return false, e.prediction.FatalError()
		}
		return false, nil
	}
	frame := e.prediction.LocalFrame()

	if e.transport != nil {
		e.transport.Send(transport.Envelope{
			Kind:  transport.KindHash,
			From:  e.self,
			Frame: frame,
			Hash:  e.world.StateHash(),
		})
	}

	e.resync.AfterTick(e.world, frame)
	e.timesync.AdjustForDepth(e.prediction.PredictionDepth())

	// Partition delta collection waits until "the end of the frame plus
	// one tick grace" (spec.md §5), so the previous frame's assignment
	// (still cached in e.delta from last Advance) is finalized here,
	// before Assign below overwrites it with this frame's assignment.
	if frame > 0 {
		e.delta.Finalize(frame - 1)
	}
	e.delta.Assign(e.world.EntityCount(), frame)
	e.delta.EmitOwnPartitions(frame, e.world.EntityIDs())

	if serr := e.resync.CheckTimeout(frame); serr != nil {
		return true, serr
	}

	return true, nil
}

// HandleInbound drains and applies one inbound envelope. Call this at the
// fixed drain point before Advance, per spec.md §5's suspension points.
func (e *Engine) HandleInbound(env transport.Envelope) {
	switch env.Kind {
	case transport.KindTick:
		if e.prediction.ReceiveServerTick(env.Frame, env.Inputs) {
			e.sink.Event(definition.EventRollback, map[string]interface{}{"frame": env.Frame})
		}
	case transport.KindHash:
		e.arbiter.RecordReport(env.Frame, env.From, env.Hash)
		if e.arbiter.ReadyToResolve(env.Frame, e.prediction.LocalFrame(), e.peers.ActivePeers()) {
			// Resolve against the hash this peer actually had at
			// env.Frame, not whatever the world looks like right now —
			// resolution can happen up to ack_window frames later, by
			// which point the world has already ticked past env.Frame.
			// The ring holds a frame's snapshot only once the next Advance
			// has saved it, so the current frame's hash comes from the
			// world itself.
			if env.Frame == e.prediction.LocalFrame() {
				e.arbiter.Resolve(env.Frame, e.world.StateHash())
			} else if snap, ok := e.prediction.Ring().Load(env.Frame); ok {
				e.arbiter.Resolve(env.Frame, snap.StateHash)
			} else {
				e.sink.Event(definition.EventMissingSnapshot, map[string]interface{}{"frame": env.Frame})
				e.arbiter.Discard(env.Frame)
			}
		}
	case transport.KindDelta:
		entities := make([]delta.Entity, len(env.Entities))
		for i, ent := range env.Entities {
			entities[i] = delta.Entity{ID: ent.EntityID, Data: ent.Data}
		}
		e.delta.OnDeltaReceived(delta.Message{Frame: env.Frame, Partition: env.Partition, Sender: env.From, Entities: entities})
	case transport.KindSnapshot:
		if env.To == e.self {
			e.resync.OnSnapshotReceived(types.Snapshot{Frame: env.Frame, StateHash: env.SnapshotHash, Bytes: env.SnapshotBytes})
		}
	case transport.KindResyncRequest:
		e.resync.OnResyncRequest(env.From)
	case transport.KindJoin:
		e.peers.Upsert(env.From, env.Frame)
		e.prediction.QueueLifecycleEvent(env.Frame, types.Event{Kind: types.EventJoin, Client: env.From})
	case transport.KindLeave:
		e.peers.Deactivate(env.From)
		e.prediction.QueueLifecycleEvent(env.Frame, types.Event{Kind: types.EventLeave, Client: env.From})
	case transport.KindPong:
		e.timesync.OnPong(env.TSend, env.TServer, env.TRecv)
	}
}

// Stats returns a snapshot of every subsystem's externally observable
// state.
func (e *Engine) Stats() Stats {
	return Stats{
		Prediction: e.prediction.Stats(),
		Sync:       e.arbiter.Status(e.resync.ResyncPending()),
		LocalFrame: e.prediction.LocalFrame(),
	}
}

// Reset restores every subsystem to its initial state, the only
// cancellation primitive per spec.md §5.
func (e *Engine) Reset() {
	e.prediction.Reset()
	e.arbiter.Reset()
	e.resync.Reset()
	e.delta.Reset()
	e.timesync.Reset()
}

// Prediction exposes the underlying PredictionManager for callers that
// need to register callbacks or queue local input directly.
func (e *Engine) Prediction() *prediction.Manager { return e.prediction }

// Peers exposes the underlying peer table.
func (e *Engine) Peers() *types.PeerTable { return e.peers }
