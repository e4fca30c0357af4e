package snapret

import (
	"testing"

	"github.com/ridgeline-sim/netsync/pkg/netsync/types"
)

func TestRing_SaveLoadRoundTrip(t *testing.T) {
	r := New(4)
	snap := types.Snapshot{Frame: 10, StateHash: 0xdeadbeef, Bytes: []byte("world-state")}
	r.Save(snap)

	got, ok := r.Load(10)
	if !ok {
		t.Fatalf("expected snapshot at frame 10")
	}
	if got.StateHash != snap.StateHash || string(got.Bytes) != string(snap.Bytes) {
		t.Fatalf("round trip mismatch: %+v != %+v", got, snap)
	}
}

func TestRing_MissingFrame(t *testing.T) {
	r := New(4)
	if _, ok := r.Load(99); ok {
		t.Fatalf("expected miss for frame never saved")
	}
}

func TestRing_WraparoundOverwritesSlot(t *testing.T) {
	r := New(2)
	r.Save(types.Snapshot{Frame: 0, Bytes: []byte("a")})
	r.Save(types.Snapshot{Frame: 1, Bytes: []byte("b")})
	r.Save(types.Snapshot{Frame: 2, Bytes: []byte("c")}) // wraps onto slot 0

	if _, ok := r.Load(0); ok {
		t.Fatalf("frame 0 should have been overwritten by wraparound")
	}
	got, ok := r.Load(2)
	if !ok || string(got.Bytes) != "c" {
		t.Fatalf("expected frame 2 present with bytes 'c', got %+v ok=%v", got, ok)
	}
}

func TestRing_EvictBefore(t *testing.T) {
	r := New(8)
	for f := types.Frame(0); f < 5; f++ {
		r.Save(types.Snapshot{Frame: f, Bytes: []byte{byte(f)}})
	}
	r.EvictBefore(3)

	for f := types.Frame(0); f < 3; f++ {
		if _, ok := r.Load(f); ok {
			t.Fatalf("frame %d should have been evicted", f)
		}
	}
	for f := types.Frame(3); f < 5; f++ {
		if _, ok := r.Load(f); !ok {
			t.Fatalf("frame %d should remain", f)
		}
	}
}

func TestRing_Reset(t *testing.T) {
	r := New(4)
	r.Save(types.Snapshot{Frame: 1, Bytes: []byte("x")})
	r.Reset()
	if _, ok := r.Load(1); ok {
		t.Fatalf("expected empty ring after reset")
	}
}
