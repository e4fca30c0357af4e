// Package types holds the shared data model for the netsync core: peer
// identifiers, frame numbers, input records, snapshots, configuration and
// the error-kind taxonomy. Every other package in pkg/netsync depends on
// this one; it depends on nothing else in the module.
package types

import (
	"sort"
)

// PeerID is the opaque, stable identifier supplied by the transport (e.g. a
// UUID). It is the canonical form for sorting and equality.
type PeerID string

// Frame is a monotonic simulation tick number. Frame 0 is the first
// simulated tick after initialization.
type Frame uint64

// Payload is an opaque game-input blob. The core never interprets it.
type Payload []byte

// EventKind enumerates the lifecycle events that, unlike ordinary game
// input, change entity creation/destruction and must be replayed on
// rollback.
type EventKind uint8

const (
	// EventNone marks an Input that carries no lifecycle event.
	EventNone EventKind = iota
	EventJoin
	EventLeave
	EventResyncRequest
)

func (k EventKind) String() string {
	switch k {
	case EventJoin:
		return "join"
	case EventLeave:
		return "leave"
	case EventResyncRequest:
		return "resync_request"
	default:
		return "none"
	}
}

// Event is a lifecycle payload: join, leave or resync_request. Seq is the
// producer-assigned sequence number used to order events from the same
// peer.
type Event struct {
	Kind   EventKind
	Seq    uint32
	Client PeerID
}

// Input is a single record produced by one peer: `{seq, client, data}` from
// spec.md §3. Data is either an opaque game Payload or a lifecycle Event;
// IsEvent distinguishes the two without requiring a nil-payload sentinel.
type Input struct {
	Seq     uint32
	Client  PeerID
	Payload Payload
	IsEvent bool
	Event   Event
}

// InputRecord is one peer's entry in a FrameInputSet: the input plus
// whether it is authoritative (confirmed) or a rollback placeholder
// (predicted).
type InputRecord struct {
	Input     Input
	Confirmed bool
}

// FrameInputSet is the per-frame mapping PeerID -> InputRecord from
// spec.md §3. Exactly one record per peer; callers must iterate it in
// sorted peer-id order for determinism (use SortedPeers).
type FrameInputSet map[PeerID]InputRecord

// SortedPeers returns the peer ids present in the set in ascending sorted
// order. Sort-everywhere is a correctness contract (spec.md §9), not an
// optimization.
func (s FrameInputSet) SortedPeers() []PeerID {
	peers := make([]PeerID, 0, len(s))
	for p := range s {
		peers = append(peers, p)
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i] < peers[j] })
	return peers
}

// Ordered returns the set's inputs as a slice, sorted by peer id, matching
// the ordering the World.Tick collaborator must observe.
func (s FrameInputSet) Ordered() []Input {
	peers := s.SortedPeers()
	out := make([]Input, 0, len(peers))
	for _, p := range peers {
		out = append(out, s[p].Input)
	}
	return out
}

// EntityID identifies a single simulated entity; partitioning is
// `EntityID mod num_partitions`.
type EntityID uint64

// Snapshot is the opaque world state produced by World.Snapshot. It carries
// the frame it was captured at and the xxHash32 state hash alongside the
// opaque bytes, per spec.md §3.
type Snapshot struct {
	Frame     Frame
	StateHash uint32
	Bytes     []byte
}

// PeerRecord is the per-peer bookkeeping from spec.md §3: reliability
// starts at 50 and is updated from observed delta delivery.
type PeerRecord struct {
	ID            PeerID
	Reliability   uint8
	LastSeenFrame Frame
	IsActive      bool
}

// DefaultReliability is the starting score for a newly observed peer.
const DefaultReliability uint8 = 50

// NewPeerRecord creates a peer record with the default reliability.
func NewPeerRecord(id PeerID, seen Frame) PeerRecord {
	return PeerRecord{ID: id, Reliability: DefaultReliability, LastSeenFrame: seen, IsActive: true}
}

// BumpReliability changes reliability by delta (which may be negative),
// clamped to [0, 100].
func (p *PeerRecord) BumpReliability(delta int) {
	v := int(p.Reliability) + delta
	if v > 100 {
		v = 100
	}
	if v < 0 {
		v = 0
	}
	p.Reliability = uint8(v)
}

// PeerTable is the authoritative, sorted view of active peers and their
// reliability, shared by PartitionAssignment and DeltaDistributor so both
// components agree on what "reliability" means (SPEC_FULL §4).
type PeerTable struct {
	peers map[PeerID]*PeerRecord
}

// NewPeerTable creates an empty peer table.
func NewPeerTable() *PeerTable {
	return &PeerTable{peers: make(map[PeerID]*PeerRecord)}
}

// Upsert adds or reactivates a peer, defaulting reliability for new peers.
func (t *PeerTable) Upsert(id PeerID, frame Frame) *PeerRecord {
	if rec, ok := t.peers[id]; ok {
		rec.IsActive = true
		rec.LastSeenFrame = frame
		return rec
	}
	rec := NewPeerRecord(id, frame)
	t.peers[id] = &rec
	return t.peers[id]
}

// Deactivate marks a peer inactive on observed leave without discarding its
// reliability history.
func (t *PeerTable) Deactivate(id PeerID) {
	if rec, ok := t.peers[id]; ok {
		rec.IsActive = false
	}
}

// Get returns the record for id, if any.
func (t *PeerTable) Get(id PeerID) (PeerRecord, bool) {
	rec, ok := t.peers[id]
	if !ok {
		return PeerRecord{}, false
	}
	return *rec, true
}

// Adjust mutates a peer's reliability by delta (+1 timely / -5 missed),
// clamped to [0, 100]. No-op for unknown peers.
func (t *PeerTable) Adjust(id PeerID, delta int) {
	if rec, ok := t.peers[id]; ok {
		rec.BumpReliability(delta)
	}
}

// ActivePeers returns the sorted list of active peer ids — the "active
// peer set" invariant from spec.md §3: identical across all honest peers
// at a given frame.
func (t *PeerTable) ActivePeers() []PeerID {
	out := make([]PeerID, 0, len(t.peers))
	for id, rec := range t.peers {
		if rec.IsActive {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Reliability returns the reliability score for id, defaulting to
// DefaultReliability for unknown peers (matches PartitionAssignment's
// clamp-with-default rule).
func (t *PeerTable) Reliability(id PeerID) uint8 {
	if rec, ok := t.peers[id]; ok {
		return rec.Reliability
	}
	return DefaultReliability
}

// Config holds the options recognized by the core (spec.md §6).
type Config struct {
	TickRate            uint32
	MaxPredictionFrames uint32
	InputDelayFrames    uint32
	SendersPerPartition uint32
	SnapshotInterval    uint32
	HashWindow          uint32
	AckWindow           uint32

	// ResyncTimeoutSeconds and ResyncMaxRetries implement §7's
	// ResyncTimeout error kind: a requester re-sends resync_request after
	// this many seconds (converted to frames via TickRate) with no
	// snapshot, up to ResyncMaxRetries times, before surfacing a
	// ResyncTimeout SyncError to the embedder.
	ResyncTimeoutSeconds uint32
	ResyncMaxRetries     uint32
}

// DefaultConfig returns the documented defaults from spec.md §6.
func DefaultConfig() Config {
	return Config{
		TickRate:            20,
		MaxPredictionFrames: 10,
		InputDelayFrames:    2,
		SendersPerPartition: 2,
		SnapshotInterval:    1,
		HashWindow:          32,
		AckWindow:           3,

		ResyncTimeoutSeconds: 3,
		ResyncMaxRetries:     3,
	}
}
