package resync

import (
	"testing"

	"github.com/ridgeline-sim/netsync/pkg/netsync/hash"
	"github.com/ridgeline-sim/netsync/pkg/netsync/prediction"
	"github.com/ridgeline-sim/netsync/pkg/netsync/types"
)

type fakeWorld struct {
	frame    types.Frame
	entities uint32
}

func (w *fakeWorld) Tick(frame types.Frame, inputs []types.Input) { w.frame = frame }
func (w *fakeWorld) Snapshot() types.Snapshot {
	return types.Snapshot{Frame: w.frame, StateHash: hash.Hash([]byte{byte(w.entities)}, 0), Bytes: []byte{byte(w.entities)}}
}
func (w *fakeWorld) LoadSnapshot(snap types.Snapshot) {
	w.frame = snap.Frame
	if len(snap.Bytes) > 0 {
		w.entities = uint32(snap.Bytes[0])
	}
}
func (w *fakeWorld) StateHash() uint32  { return w.Snapshot().StateHash }
func (w *fakeWorld) EntityCount() uint32 { return w.entities }

func (w *fakeWorld) EntityIDs() []types.EntityID {
	ids := make([]types.EntityID, w.entities)
	for i := range ids {
		ids[i] = types.EntityID(i)
	}
	return ids
}

func newCoordinator(t *testing.T) (*Coordinator, *prediction.Manager, *fakeWorld, *int) {
	t.Helper()
	w := &fakeWorld{}
	pm := prediction.New(types.DefaultConfig(), prediction.Config{World: w})
	requestSent := 0
	c := New(Config{
		Self:      "self",
		Predictor: pm,
		SendResyncRequest: func() { requestSent++ },
	})
	return c, pm, w, &requestSent
}

func TestCoordinator_OnDesyncArmsPendingAndDisablesPrediction(t *testing.T) {
	c, pm, _, requestSent := newCoordinator(t)
	pm.Advance()

	c.OnDesync(5, 0xAAAA, 0xBBBB)

	if !c.ResyncPending() {
		t.Fatalf("expected resync_pending after desync")
	}
	if pm.Enabled() {
		t.Fatalf("expected prediction disabled while awaiting snapshot")
	}
	if *requestSent != 1 {
		t.Fatalf("expected exactly one resync_request sent, got %d", *requestSent)
	}
}

func TestCoordinator_OnDesyncIsIdempotentWhileAlreadyPending(t *testing.T) {
	c, _, _, requestSent := newCoordinator(t)
	c.OnDesync(1, 1, 2)
	c.OnDesync(2, 1, 2)
	if *requestSent != 1 {
		t.Fatalf("expected resync_request to be sent only once while already pending, got %d", *requestSent)
	}
}

func TestCoordinator_OnSnapshotReceivedRealignsAndResumes(t *testing.T) {
	c, pm, w, _ := newCoordinator(t)
	for i := 0; i < 5; i++ {
		pm.Advance()
	}
	c.OnDesync(2, 1, 2)

	snap := types.Snapshot{Frame: 40, Bytes: []byte{7}}
	c.OnSnapshotReceived(snap)

	if c.ResyncPending() {
		t.Fatalf("expected resync_pending cleared")
	}
	if !pm.Enabled() {
		t.Fatalf("expected prediction resumed")
	}
	if pm.LocalFrame() != 40 || pm.ConfirmedFrame() != 40 {
		t.Fatalf("expected frames realigned to snapshot frame 40, got local=%d confirmed=%d", pm.LocalFrame(), pm.ConfirmedFrame())
	}
	if w.entities != 7 {
		t.Fatalf("expected world state loaded from snapshot, got entities=%d", w.entities)
	}
}

func TestCoordinator_SeenFromSnapshotTracking(t *testing.T) {
	c, _, _, _ := newCoordinator(t)
	if c.SeenFromSnapshot("p") {
		t.Fatalf("expected not tracked before marking")
	}
	c.MarkSeenFromSnapshot("p")
	if !c.SeenFromSnapshot("p") {
		t.Fatalf("expected tracked after marking")
	}
	c.OnSnapshotReceived(types.Snapshot{Frame: 1})
	if c.SeenFromSnapshot("p") {
		t.Fatalf("expected tracking cleared on next snapshot load")
	}
}

func TestCoordinator_AuthorityUploadsFreshSnapshotAfterNextTick(t *testing.T) {
	w := &fakeWorld{}
	var sentTo types.PeerID
	var sentSnap types.Snapshot
	c := New(Config{
		Self: "authority",
		SendSnapshot: func(to types.PeerID, snap types.Snapshot) {
			sentTo = to
			sentSnap = snap
		},
	})

	c.OnResyncRequest("requester")
	// Nothing is sent on the request itself; the next completed tick
	// (AfterTick) uploads the snapshot.
	c.AfterTick(w, 10)
	if sentTo != "requester" {
		t.Fatalf("expected upload after the next completed tick, got target=%q", sentTo)
	}
	if sentSnap.Frame != 10 {
		t.Fatalf("expected snapshot stamped with the frame just ticked, got %d", sentSnap.Frame)
	}

	// The latch must not fire again on a subsequent tick.
	sentTo = ""
	c.AfterTick(w, 11)
	if sentTo != "" {
		t.Fatalf("expected latch cleared after firing once, got unexpected send to %q", sentTo)
	}
}

func TestCoordinator_CheckTimeoutRetriesThenSurfacesResyncTimeoutAfterMaxRetries(t *testing.T) {
	requestSent := 0
	w := &fakeWorld{}
	pm := prediction.New(types.DefaultConfig(), prediction.Config{World: w})
	cfg := types.Config{TickRate: 10, ResyncTimeoutSeconds: 1, ResyncMaxRetries: 2}
	c := New(Config{
		Self:              "self",
		Predictor:         pm,
		Cfg:               cfg,
		SendResyncRequest: func() { requestSent++ },
	})

	c.OnDesync(0, 1, 2)
	if requestSent != 1 {
		t.Fatalf("expected one request on desync, got %d", requestSent)
	}

	// timeoutFrames = TickRate * ResyncTimeoutSeconds = 10.
	if serr := c.CheckTimeout(5); serr != nil {
		t.Fatalf("expected no timeout before the window elapses, got %v", serr)
	}
	if serr := c.CheckTimeout(10); serr != nil {
		t.Fatalf("expected a retry, not a surfaced error, on the first timeout: %v", serr)
	}
	if requestSent != 2 {
		t.Fatalf("expected a second resync_request sent on first timeout, got %d", requestSent)
	}

	if serr := c.CheckTimeout(20); serr != nil {
		t.Fatalf("expected a second retry, not a surfaced error: %v", serr)
	}
	if requestSent != 3 {
		t.Fatalf("expected a third resync_request sent on second timeout, got %d", requestSent)
	}

	serr := c.CheckTimeout(30)
	if serr == nil || serr.Kind != types.ResyncTimeout {
		t.Fatalf("expected a ResyncTimeout error once retries are exhausted, got %v", serr)
	}
	if requestSent != 3 {
		t.Fatalf("expected no further request sent once retries are exhausted, got %d", requestSent)
	}

	// Subsequent calls must not re-fire the same error repeatedly.
	if serr := c.CheckTimeout(40); serr != nil {
		t.Fatalf("expected the ResyncTimeout error to surface only once, got %v", serr)
	}
}

func TestCoordinator_ResetClearsAllState(t *testing.T) {
	c, _, _, _ := newCoordinator(t)
	c.OnDesync(1, 1, 2)
	c.OnResyncRequest("p")
	c.MarkSeenFromSnapshot("p")
	c.Reset()

	if c.ResyncPending() {
		t.Fatalf("expected resync_pending cleared by reset")
	}
	if c.SeenFromSnapshot("p") {
		t.Fatalf("expected snapshot tracking cleared by reset")
	}
}
