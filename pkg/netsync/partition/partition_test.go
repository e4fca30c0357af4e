package partition

import (
	"testing"

	"github.com/ridgeline-sim/netsync/pkg/netsync/types"
)

func peers(ids ...string) []types.PeerID {
	out := make([]types.PeerID, len(ids))
	for i, id := range ids {
		out[i] = types.PeerID(id)
	}
	return out
}

func TestAssign_ZeroPeersOrEntitiesReturnsOnePartition(t *testing.T) {
	a := Assign(0, peers("a", "b"), 1, nil, 2)
	if a.NumPartitions != 1 {
		t.Fatalf("want 1 partition for zero entities, got %d", a.NumPartitions)
	}
	b := Assign(100, nil, 1, nil, 2)
	if b.NumPartitions != 1 {
		t.Fatalf("want 1 partition for zero peers, got %d", b.NumPartitions)
	}
}

func TestAssign_OrderIndependent(t *testing.T) {
	rel := map[types.PeerID]uint8{"a": 90, "b": 10, "c": 50}
	a1 := Assign(100, peers("a", "b", "c"), 42, rel, 2)
	a2 := Assign(100, peers("c", "a", "b"), 42, rel, 2)

	if a1.NumPartitions != a2.NumPartitions {
		t.Fatalf("partition counts differ: %d != %d", a1.NumPartitions, a2.NumPartitions)
	}
	for p := uint32(0); p < a1.NumPartitions; p++ {
		if len(a1.Senders[p]) != len(a2.Senders[p]) {
			t.Fatalf("partition %d sender count differs", p)
		}
		for i := range a1.Senders[p] {
			if a1.Senders[p][i] != a2.Senders[p][i] {
				t.Fatalf("partition %d sender order differs at %d: %s != %s", p, i, a1.Senders[p][i], a2.Senders[p][i])
			}
		}
	}
}

func TestAssign_DeterministicAcrossInvocations(t *testing.T) {
	rel := map[types.PeerID]uint8{"a": 100, "b": 90, "c": 80, "d": 70, "e": 60}
	ps := peers("a", "b", "c", "d", "e")

	first := Assign(100, ps, 42, rel, 2)
	for i := 0; i < 10; i++ {
		got := Assign(100, ps, 42, rel, 2)
		if got.NumPartitions != first.NumPartitions {
			t.Fatalf("invocation %d: partition count drifted", i)
		}
		for p := uint32(0); p < first.NumPartitions; p++ {
			if len(got.Senders[p]) != len(first.Senders[p]) {
				t.Fatalf("invocation %d partition %d: sender count drifted", i, p)
			}
			for j := range first.Senders[p] {
				if got.Senders[p][j] != first.Senders[p][j] {
					t.Fatalf("invocation %d partition %d: sender order drifted", i, p)
				}
			}
		}
	}
}

func TestAssign_ReliablePeerFavoredOverManyFrames(t *testing.T) {
	rel := map[types.PeerID]uint8{"reliable": 100, "unreliable": 10}
	ps := peers("reliable", "unreliable")

	reliableCount := 0
	total := 0
	for f := types.Frame(0); f < 1000; f++ {
		a := Assign(60, ps, f, rel, 1)
		for p := uint32(0); p < a.NumPartitions; p++ {
			total++
			if a.IsAssigned("reliable", p) {
				reliableCount++
			}
		}
	}

	ratio := float64(reliableCount) / float64(total)
	if ratio < 0.70 {
		t.Fatalf("reliable peer selected only %.2f%% of the time, want >= 70%%", ratio*100)
	}
}

func TestAssign_NumPartitionsClamped(t *testing.T) {
	// entity_count 100 -> ceil(100/30) = 4, peer_count 5 -> max(1, 10) so
	// 4 partitions, unclamped.
	a := Assign(100, peers("a", "b", "c", "d", "e"), 1, nil, 2)
	if a.NumPartitions != 4 {
		t.Fatalf("want 4 partitions, got %d", a.NumPartitions)
	}

	// entity_count huge, peer_count 1 -> clamp to max(1, 2*1) = 2.
	manyRel := map[types.PeerID]uint8{"solo": 50}
	b := Assign(100000, peers("solo"), 1, manyRel, 2)
	if b.NumPartitions != 2 {
		t.Fatalf("want clamp to 2 partitions, got %d", b.NumPartitions)
	}
}

func TestAssign_SendersCappedBySendersPerPartitionAndPeerCount(t *testing.T) {
	a := Assign(30, peers("a"), 1, nil, 2)
	if len(a.Senders[0]) != 1 {
		t.Fatalf("want 1 sender when only 1 peer exists, got %d", len(a.Senders[0]))
	}
}

func TestEntityPartition(t *testing.T) {
	if got := EntityPartition(37, 5); got != 2 {
		t.Fatalf("37 mod 5 = 2, got %d", got)
	}
}

func TestClassify_DegradationTiers(t *testing.T) {
	cases := []struct {
		name                                                     string
		total, received, trusted, totalSenders                  uint32
		want                                                     DegradationTier
	}{
		{"normal", 10, 10, 20, 20, Normal},
		{"degraded", 10, 8, 15, 20, Degraded},
		{"minimal", 10, 4, 0, 0, Minimal},
		{"skip", 10, 2, 0, 0, Skip},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := Classify(c.total, c.received, c.trusted, c.totalSenders)
			if got != c.want {
				t.Fatalf("got %s, want %s", got, c.want)
			}
		})
	}
}
