// Package partition implements PartitionAssignment: the pure function that
// maps (entity count, active peer set, frame, reliability) to "which peers
// send which entity partitions this frame" (spec.md §4.2). It is the
// determinism-critical core of peer-sharded delta dissemination: every
// honest peer must compute the identical assignment from identical inputs.
package partition

import (
	"sort"

	"github.com/ridgeline-sim/netsync/pkg/netsync/hash"
	"github.com/ridgeline-sim/netsync/pkg/netsync/types"
)

// DefaultSendersPerPartition is the redundancy factor used when the caller
// does not override it.
const DefaultSendersPerPartition = 2

const assignmentSeed uint32 = 0x12345678

// Assignment is the result of Assign: the partition count and, for each
// partition id, the ordered list of peers assigned to send it.
type Assignment struct {
	NumPartitions uint32
	Senders       map[uint32][]types.PeerID
}

// IsAssigned reports whether peer is one of the senders for partition p.
func (a Assignment) IsAssigned(peer types.PeerID, p uint32) bool {
	for _, s := range a.Senders[p] {
		if s == peer {
			return true
		}
	}
	return false
}

// PartitionsFor returns every partition id peer is assigned to send.
func (a Assignment) PartitionsFor(peer types.PeerID) []uint32 {
	var out []uint32
	for p := uint32(0); p < a.NumPartitions; p++ {
		if a.IsAssigned(peer, p) {
			out = append(out, p)
		}
	}
	return out
}

// EntityPartition computes `eid mod n`, the partitioning rule from
// spec.md §3. n must be >= 1.
func EntityPartition(eid types.EntityID, n uint32) uint32 {
	return uint32(uint64(eid) % uint64(n))
}

func numPartitions(entityCount uint32, peerCount int) uint32 {
	if entityCount == 0 || peerCount == 0 {
		return 1
	}
	n := (entityCount + 29) / 30 // ceil(entityCount/30)
	if n < 1 {
		n = 1
	}
	max := uint32(2 * peerCount)
	if max < 1 {
		max = 1
	}
	if n > max {
		n = max
	}
	return n
}

// weight is the fixed-point (16.16) sampling weight for a reliability
// score: (reliability + 1) scaled by 2^16. Reliability defaults to
// types.DefaultReliability (50) if the peer is unknown to reliability.
func weight(reliability uint8) uint64 {
	return uint64(reliability+1) << 16
}

// Assign computes the partition assignment for one frame. It is a pure
// function of its arguments: identical (entityCount, peers, frame,
// reliability) on any honest peer produces an identical Assignment,
// regardless of the order peers are passed in (they are sorted first).
func Assign(entityCount uint32, peers []types.PeerID, frame types.Frame, reliability map[types.PeerID]uint8, sendersPerPartition int) Assignment {
	if sendersPerPartition <= 0 {
		sendersPerPartition = DefaultSendersPerPartition
	}

	sorted := make([]types.PeerID, len(peers))
	copy(sorted, peers)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	n := numPartitions(entityCount, len(sorted))
	result := Assignment{NumPartitions: n, Senders: make(map[uint32][]types.PeerID, n)}

	if len(sorted) == 0 {
		return result
	}

	k := sendersPerPartition
	if k > len(sorted) {
		k = len(sorted)
	}

	for p := uint32(0); p < n; p++ {
		seed := hash.HashU32(hash.HashU32(assignmentSeed, uint32(frame)), p)
		result.Senders[p] = selectWeighted(sorted, reliability, seed, k)
	}

	return result
}

// selectWeighted draws k distinct peers without replacement from
// candidates, using fixed-point weighted sampling seeded from an
// xorshift32 generator. All arithmetic is integer; the weight-total
// multiplication uses a 64-bit intermediate, never floating point.
func selectWeighted(candidates []types.PeerID, reliability map[types.PeerID]uint8, seed uint32, k int) []types.PeerID {
	pool := make([]types.PeerID, len(candidates))
	copy(pool, candidates)
	weights := make([]uint64, len(pool))
	for i, p := range pool {
		rel := types.DefaultReliability
		if reliability != nil {
			if r, ok := reliability[p]; ok {
				rel = r
			}
		}
		weights[i] = weight(rel)
	}

	rng := hash.NewXorshift32(seed)
	selected := make([]types.PeerID, 0, k)

	for len(selected) < k && len(pool) > 0 {
		var total uint64
		for _, w := range weights {
			total += w
		}

		draw := uint64(rng.Next()) % (1 << 16)
		target := (draw * total) >> 16

		var cumulative uint64
		idx := 0
		for i, w := range weights {
			cumulative += w
			if target < cumulative {
				idx = i
				break
			}
			idx = i
		}

		selected = append(selected, pool[idx])
		pool = append(pool[:idx], pool[idx+1:]...)
		weights = append(weights[:idx], weights[idx+1:]...)
	}

	return selected
}

// DegradationTier classifies how complete a frame's delta delivery was
// (spec.md §4.2).
type DegradationTier uint8

const (
	Normal DegradationTier = iota
	Degraded
	Minimal
	Skip
)

func (t DegradationTier) String() string {
	switch t {
	case Normal:
		return "normal"
	case Degraded:
		return "degraded"
	case Minimal:
		return "minimal"
	default:
		return "skip"
	}
}

// Classify computes the degradation tier for a frame given how many of the
// total partitions were received and how many of the assignment's
// (partition, sender) slots were trusted (i.e. accepted, not discarded as
// a duplicate or late).
func Classify(totalPartitions, receivedPartitions, trustedSenders, totalSenders uint32) DegradationTier {
	if totalPartitions == 0 {
		return Normal
	}
	if receivedPartitions == totalPartitions && trustedSenders == totalSenders {
		return Normal
	}
	// Integer form of received/total > 3/4 and > 1/4, keeping this
	// classifier on the same fixed-point-only discipline as the rest of
	// the package even though, unlike Assign, it is not required to be
	// bit-identical across peers (each peer classifies its own delivery).
	switch {
	case uint64(receivedPartitions)*4 > uint64(totalPartitions)*3:
		return Degraded
	case uint64(receivedPartitions)*4 > uint64(totalPartitions):
		return Minimal
	default:
		return Skip
	}
}
