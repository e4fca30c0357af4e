// This exercises the longer-running end-to-end scenarios from the core's
// testable-properties section: multi-peer hash convergence, forced
// desync followed by resync, and reliability-weighted partition
// selection holding up over many frames. No failure is injected over the
// transport in these; see the engine package's own tests for single-peer
// rollback and lifecycle-event scenarios.
package fuzzy

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/ridgeline-sim/netsync/pkg/netsync/partition"
	"github.com/ridgeline-sim/netsync/pkg/netsync/types"
	"github.com/ridgeline-sim/netsync/test"
)

func Test_TwoPeersSyncToFullAgreement(t *testing.T) {
	defer goleak.VerifyNone(t)

	cluster := test.NewCluster(t, 2)
	defer cluster.Off()

	for _, id := range cluster.Peers {
		cluster.Engines[id].Peers().Upsert(id, 0)
		for _, other := range cluster.Peers {
			if other != id {
				cluster.Engines[id].Peers().Upsert(other, 0)
			}
		}
	}

	for f := 0; f < 100; f++ {
		cluster.AdvanceAll()
	}
	cluster.DrainInbound()

	for _, id := range cluster.Peers {
		status := cluster.Engines[id].Stats().Sync
		if status.IsDesynced {
			t.Fatalf("peer %s unexpectedly desynced: %+v", id, status)
		}
	}
}

// Test_ForcedDesyncRecoversViaResync injects a divergent local input on one
// peer without broadcasting it — the same shape of bug a lossy transport or
// a client-only input would produce — then checks that both peers detect
// the hash mismatch and resync back to agreement, rather than staying
// permanently desynced or panicking on the mismatched state.
func Test_ForcedDesyncRecoversViaResync(t *testing.T) {
	defer goleak.VerifyNone(t)

	cluster := test.NewCluster(t, 2)
	defer cluster.Off()

	for _, id := range cluster.Peers {
		for _, other := range cluster.Peers {
			cluster.Engines[id].Peers().Upsert(other, 0)
		}
	}

	for f := 0; f < 10; f++ {
		cluster.AdvanceAll()
	}

	// Peer "a" receives input that is never broadcast as a TICK, so its
	// world silently diverges from "b"'s — exactly what QueueLocalInput
	// plus a dropped send would look like from the outside.
	cluster.Engines["a"].Prediction().QueueLocalInput("a", types.Payload{9})

	desyncedAtLeastOnce := false
	for f := 0; f < 40; f++ {
		cluster.AdvanceAll()
		for _, id := range cluster.Peers {
			if cluster.Engines[id].Stats().Sync.IsDesynced {
				desyncedAtLeastOnce = true
			}
		}
	}
	if !desyncedAtLeastOnce {
		t.Fatalf("expected the injected divergence to be detected as a desync at some point")
	}

	for f := 0; f < 60; f++ {
		cluster.AdvanceAll()
	}
	cluster.DrainInbound()

	for _, id := range cluster.Peers {
		status := cluster.Engines[id].Stats().Sync
		if status.IsDesynced {
			t.Fatalf("peer %s failed to recover via resync: %+v", id, status)
		}
		if status.ResyncPending {
			t.Fatalf("peer %s still awaiting a resync snapshot: %+v", id, status)
		}
	}

	if diff := cmp.Diff(cluster.Worlds["a"].Snapshot().StateHash, cluster.Worlds["b"].Snapshot().StateHash); diff != "" {
		t.Fatalf("peers converged on sync status but world state still differs (-a +b):\n%s", diff)
	}
}

func Test_PartitionRedundancyFavorsReliablePeerAcrossManyFrames(t *testing.T) {
	defer goleak.VerifyNone(t)

	peers := []types.PeerID{"reliable", "unreliable"}
	reliability := map[types.PeerID]uint8{"reliable": 100, "unreliable": 10}

	selected := 0
	const frames = 1000
	for f := types.Frame(0); f < frames; f++ {
		assignment := partition.Assign(10, peers, f, reliability, 1)
		if assignment.IsAssigned("reliable", 0) {
			selected++
		}
	}

	got := float64(selected) / float64(frames)
	if got < 0.70 {
		t.Fatalf("expected the reliable peer selected >=70%% of frames, got %.1f%%", got*100)
	}
}

func Test_DeterministicAssignmentAcrossTenIndependentInvocations(t *testing.T) {
	defer goleak.VerifyNone(t)

	peers := []types.PeerID{"a", "b", "c", "d", "e"}
	reliability := map[types.PeerID]uint8{"a": 100, "b": 90, "c": 80, "d": 70, "e": 60}

	first := partition.Assign(100, peers, 42, reliability, 2)
	for i := 0; i < 10; i++ {
		got := partition.Assign(100, peers, 42, reliability, 2)
		if diff := cmp.Diff(first, got); diff != "" {
			t.Fatalf("invocation %d: assignment differs from the first (-want +got):\n%s", i, diff)
		}
	}

	reordered := []types.PeerID{"e", "c", "a", "d", "b"}
	viaReordered := partition.Assign(100, reordered, 42, reliability, 2)
	if diff := cmp.Diff(first, viaReordered); diff != "" {
		t.Fatalf("assignment must be invariant to input peer ordering (-want +got):\n%s", diff)
	}
}
