// Package snapret implements SnapshotRing: a fixed-capacity ring buffer of
// world snapshots indexed by frame, used to roll the world back up to
// max_prediction_frames into the past (spec.md §4.4). The opaque snapshot
// bytes are stored in a VictoriaMetrics fastcache instance rather than a
// plain map — the same fast, low-GC-pressure byte cache the teacher pack's
// ProbeChain fork uses for trie-node caching — keyed by ring slot so a
// snapshot's memory is reclaimed in place when the slot is overwritten.
package snapret

import (
	"encoding/binary"

	"github.com/VictoriaMetrics/fastcache"

	"github.com/ridgeline-sim/netsync/pkg/netsync/types"
)

// defaultCacheBytes sizes the fastcache instance; snapshots are small
// opaque blobs and the ring capacity is bounded, so a modest cache avoids
// fastcache's internal bucket churn for tiny workloads.
const defaultCacheBytes = 4 * 1024 * 1024

// Ring is a fixed-capacity frame -> snapshot ring buffer.
type Ring struct {
	capacity uint64
	cache    *fastcache.Cache
	// present tracks which frame currently occupies each slot, so Load
	// can reject a stale hit after wraparound overwrote the slot's
	// generation without yet overwriting its bytes (fastcache has no
	// generation concept of its own).
	present map[uint64]types.Frame
	hashes  map[uint64]uint32
}

// New creates a ring with the given capacity (must be >=
// max_prediction_frames + 1 per spec.md §3).
func New(capacity uint32) *Ring {
	if capacity == 0 {
		capacity = 1
	}
	return &Ring{
		capacity: uint64(capacity),
		cache:    fastcache.New(defaultCacheBytes),
		present:  make(map[uint64]types.Frame),
		hashes:   make(map[uint64]uint32),
	}
}

func (r *Ring) slot(frame types.Frame) uint64 {
	return uint64(frame) % r.capacity
}

func slotKey(slot uint64) []byte {
	var k [8]byte
	binary.LittleEndian.PutUint64(k[:], slot)
	return k[:]
}

// Save stores snap at its own frame, evicting whatever previously occupied
// that ring slot.
func (r *Ring) Save(snap types.Snapshot) {
	slot := r.slot(snap.Frame)
	r.cache.Set(slotKey(slot), snap.Bytes)
	r.present[slot] = snap.Frame
	r.hashes[slot] = snap.StateHash
}

// Load returns the snapshot stored for frame, if the slot still holds that
// exact frame (it may have been overwritten by a later wraparound).
func (r *Ring) Load(frame types.Frame) (types.Snapshot, bool) {
	slot := r.slot(frame)
	if r.present[slot] != frame {
		return types.Snapshot{}, false
	}
	bytes := r.cache.Get(nil, slotKey(slot))
	if bytes == nil {
		return types.Snapshot{}, false
	}
	return types.Snapshot{Frame: frame, StateHash: r.hashes[slot], Bytes: bytes}, true
}

// EvictBefore drops every stored snapshot older than frame.
func (r *Ring) EvictBefore(frame types.Frame) {
	for slot, f := range r.present {
		if f < frame {
			r.cache.Del(slotKey(slot))
			delete(r.present, slot)
			delete(r.hashes, slot)
		}
	}
}

// Reset discards every stored snapshot.
func (r *Ring) Reset() {
	r.cache.Reset()
	r.present = make(map[uint64]types.Frame)
	r.hashes = make(map[uint64]uint32)
}

// Capacity returns the ring's fixed slot count.
func (r *Ring) Capacity() uint32 {
	return uint32(r.capacity)
}
