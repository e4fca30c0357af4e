// Package transport defines the wire-level collaborator the engine talks
// to: a single typed envelope carrying every message kind from spec.md §6,
// plus the Transport interface any concrete carrier (relt, websocket)
// implements. Wire encoding itself is transport-defined; only
// {frame, hash, partition_id} are required to be transmitted exactly.
package transport

import (
	"github.com/ridgeline-sim/netsync/pkg/netsync/types"
)

// Kind identifies which of the spec.md §6 message shapes an Envelope
// carries.
type Kind uint8

const (
	KindTick Kind = iota
	KindHash
	KindDelta
	KindSnapshot
	KindPing
	KindPong
	KindJoin
	KindLeave
	KindResyncRequest
)

func (k Kind) String() string {
	switch k {
	case KindTick:
		return "TICK"
	case KindHash:
		return "HASH"
	case KindDelta:
		return "DELTA"
	case KindSnapshot:
		return "SNAPSHOT"
	case KindPing:
		return "PING"
	case KindPong:
		return "PONG"
	case KindJoin:
		return "JOIN"
	case KindLeave:
		return "LEAVE"
	case KindResyncRequest:
		return "REQUEST_RESYNC"
	default:
		return "UNKNOWN"
	}
}

// DeltaEntity is the wire form of one entity within a DELTA envelope.
type DeltaEntity struct {
	EntityID types.EntityID
	Data     []byte
}

// Envelope is the single serializable message type carried over the wire.
// Only the fields relevant to Kind are populated; this mirrors the
// teacher's single types.Message shape rather than one Go type per kind,
// keeping the transport adapters' (de)serialization path uniform.
type Envelope struct {
	Kind Kind

	From types.PeerID
	To   types.PeerID // empty for broadcast kinds (TICK, HASH, JOIN, LEAVE)

	Frame types.Frame

	// HASH
	Hash uint32

	// DELTA
	Partition uint32
	Entities  []DeltaEntity

	// TICK
	Inputs       []types.Input
	MajorityHash uint32
	HasMajority  bool

	// SNAPSHOT
	SnapshotBytes []byte
	SnapshotHash  uint32

	// PING / PONG
	TSend   int64
	TServer int64
	TRecv   int64
}

// Transport is the bidirectional message channel collaborator from
// spec.md §6. Implementations (transport/relt, transport/ws) own wire
// encoding and delivery; the engine only ever sees Envelope values.
type Transport interface {
	// Send transmits env. An adapter need not route on env.To: the relt
	// adapter broadcasts every envelope, and the engine ignores a SNAPSHOT
	// whose To names another peer.
	Send(env Envelope) error

	// Inbound returns the channel of envelopes arriving from peers.
	Inbound() <-chan Envelope

	// Close releases the transport's resources.
	Close() error
}
