// Package delta implements DeltaDistributor: per-tick partition
// assignment, entity-subset serialization, delta reception/buffering with
// duplicate rejection, sender reliability adjustment, and
// degradation-tier-gated merge or skip (spec.md §4.9).
package delta

import (
	"sort"

	"github.com/ridgeline-sim/netsync/pkg/netsync/definition"
	"github.com/ridgeline-sim/netsync/pkg/netsync/partition"
	"github.com/ridgeline-sim/netsync/pkg/netsync/types"
)

// Entity is one entity's serialized state within a delta message.
type Entity struct {
	ID   types.EntityID
	Data []byte
}

// Message is the DELTA transport message from spec.md §6.
type Message struct {
	Frame     types.Frame
	Partition uint32
	Sender    types.PeerID
	Entities  []Entity
}

const (
	deliveredBonus = 1
	missedPenalty  = -5
)

type received struct {
	sender   types.PeerID
	entities []Entity
}

// Distributor tracks partition assignment and delta buffering for one
// local peer.
type Distributor struct {
	self types.PeerID
	cfg  types.Config

	peers *types.PeerTable
	log   definition.Logger
	sink  definition.ObservabilitySink

	// buffered maps (frame, partition) -> the first trusted delivery
	// accepted for it.
	buffered map[bufferKey]received

	lastAssignment partition.Assignment

	serializeEntity func(id types.EntityID) []byte
	applyEntities   func(frame types.Frame, entities []Entity)
	sendDelta       func(msg Message)
}

type bufferKey struct {
	frame     types.Frame
	partition uint32
}

// Config bundles the Distributor's constructor dependencies.
type Config struct {
	Self  types.PeerID
	Cfg   types.Config
	Peers *types.PeerTable
	Log   definition.Logger
	Sink  definition.ObservabilitySink

	// SerializeEntity produces the wire bytes for one entity. The caller
	// (the embedder's World) owns entity contents; the distributor only
	// partitions and transports them.
	SerializeEntity func(id types.EntityID) []byte
	// ApplyEntities merges a frame's accepted delta entities into the
	// local view, called only when the frame is not classified Skip.
	ApplyEntities func(frame types.Frame, entities []Entity)
	// SendDelta transmits a locally-produced delta message to peers.
	SendDelta func(msg Message)
}

// New creates a Distributor.
func New(cfg Config) *Distributor {
	log := cfg.Log
	if log == nil {
		log = definition.NewDefaultLogger()
	}
	sink := cfg.Sink
	if sink == nil {
		sink = definition.NoopSink{}
	}
	return &Distributor{
		self:            cfg.Self,
		cfg:             cfg.Cfg,
		peers:           cfg.Peers,
		log:             log,
		sink:            sink,
		buffered:        make(map[bufferKey]received),
		serializeEntity: cfg.SerializeEntity,
		applyEntities:   cfg.ApplyEntities,
		sendDelta:       cfg.SendDelta,
	}
}

// Assign computes this frame's partition assignment and caches it so
// OnDeltaReceived can validate senders against it.
func (d *Distributor) Assign(entityCount uint32, frame types.Frame) partition.Assignment {
	reliability := make(map[types.PeerID]uint8)
	active := d.peers.ActivePeers()
	for _, p := range active {
		reliability[p] = d.peers.Reliability(p)
	}
	d.lastAssignment = partition.Assign(entityCount, active, frame, reliability, int(d.cfg.SendersPerPartition))
	return d.lastAssignment
}

// EmitOwnPartitions serializes and sends every partition this peer is
// assigned to send this frame, given the full set of live entity ids.
func (d *Distributor) EmitOwnPartitions(frame types.Frame, entityIDs []types.EntityID) {
	if d.sendDelta == nil {
		return
	}
	sorted := make([]types.EntityID, len(entityIDs))
	copy(sorted, entityIDs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	for p := uint32(0); p < d.lastAssignment.NumPartitions; p++ {
		if !d.lastAssignment.IsAssigned(d.self, p) {
			continue
		}
		var entities []Entity
		for _, eid := range sorted {
			if partition.EntityPartition(eid, d.lastAssignment.NumPartitions) != p {
				continue
			}
			var data []byte
			if d.serializeEntity != nil {
				data = d.serializeEntity(eid)
			}
			entities = append(entities, Entity{ID: eid, Data: data})
		}
		d.sendDelta(Message{Frame: frame, Partition: p, Sender: d.self, Entities: entities})
	}
}

// OnDeltaReceived buffers an inbound delta. If the (frame, partition) slot
// already holds a trusted delivery, msg is discarded as a duplicate. A
// sender is trusted only if the locally computed assignment for that
// frame also assigns them to that partition.
func (d *Distributor) OnDeltaReceived(msg Message) {
	if !d.lastAssignment.IsAssigned(msg.Sender, msg.Partition) {
		return
	}
	key := bufferKey{frame: msg.Frame, partition: msg.Partition}
	if _, ok := d.buffered[key]; ok {
		return
	}
	d.buffered[key] = received{sender: msg.Sender, entities: msg.Entities}
	d.peers.Adjust(msg.Sender, deliveredBonus)
}

// Finalize runs at the delta deadline for frame: penalizes senders who
// were assigned but never delivered, classifies the degradation tier, and
// either merges the accepted entities into the local view or skips
// application for this frame.
func (d *Distributor) Finalize(frame types.Frame) partition.DegradationTier {
	total := d.lastAssignment.NumPartitions
	var receivedCount uint32
	var trusted, totalSenders uint32

	var merged []Entity
	for p := uint32(0); p < total; p++ {
		senders := d.lastAssignment.Senders[p]
		totalSenders += uint32(len(senders))

		key := bufferKey{frame: frame, partition: p}
		rec, ok := d.buffered[key]
		if ok {
			receivedCount++
			trusted++
			merged = append(merged, rec.entities...)
			for _, s := range senders {
				if s != rec.sender {
					d.peers.Adjust(s, missedPenalty)
				}
			}
		} else {
			for _, s := range senders {
				d.peers.Adjust(s, missedPenalty)
			}
		}
		delete(d.buffered, key)
	}

	tier := partition.Classify(total, receivedCount, trusted, totalSenders)
	d.sink.Event(definition.EventDegradation, map[string]interface{}{
		"frame": frame, "tier": tier.String(),
	})

	if tier == partition.Skip {
		return tier
	}
	if d.applyEntities != nil {
		d.applyEntities(frame, merged)
	}
	return tier
}

// LastAssignment returns the most recently computed partition assignment.
func (d *Distributor) LastAssignment() partition.Assignment { return d.lastAssignment }

// Reset discards all buffered deltas and the cached assignment.
func (d *Distributor) Reset() {
	d.buffered = make(map[bufferKey]received)
	d.lastAssignment = partition.Assignment{}
}
