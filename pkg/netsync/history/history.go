// Package history implements InputHistory: a bounded window of per-frame
// input sets, tracking which entries are confirmed versus predicted, plus
// a separate per-frame lifecycle-event queue (spec.md §4.3).
package history

import (
	"sort"

	"github.com/ridgeline-sim/netsync/pkg/netsync/types"
)

// History stores frame input sets and lifecycle events within a retention
// window. It is the single source of truth PredictionManager reads from
// and writes to.
type History struct {
	frames    map[types.Frame]types.FrameInputSet
	lifecycle map[types.Frame][]types.Event
	// lastConfirmed tracks, per peer, the most recent confirmed payload
	// for "repeat last" prediction.
	lastConfirmed map[types.PeerID]types.Payload
}

// New creates an empty input history.
func New() *History {
	return &History{
		frames:        make(map[types.Frame]types.FrameInputSet),
		lifecycle:     make(map[types.Frame][]types.Event),
		lastConfirmed: make(map[types.PeerID]types.Payload),
	}
}

// Set overwrites any existing entry for (frame, peer).
func (h *History) Set(frame types.Frame, peer types.PeerID, input types.Input, confirmed bool) {
	set, ok := h.frames[frame]
	if !ok {
		set = make(types.FrameInputSet)
		h.frames[frame] = set
	}
	set[peer] = types.InputRecord{Input: input, Confirmed: confirmed}

	if confirmed && !input.IsEvent {
		h.lastConfirmed[peer] = input.Payload
	}
}

// QueueLifecycleEvent appends a lifecycle event to frame's queue, keeping
// producer-sequence order.
func (h *History) QueueLifecycleEvent(frame types.Frame, ev types.Event) {
	events := h.lifecycle[frame]
	events = append(events, ev)
	sort.SliceStable(events, func(i, j int) bool { return events[i].Seq < events[j].Seq })
	h.lifecycle[frame] = events
}

// LifecycleEvents returns the lifecycle events queued at frame, in
// producer-sequence order.
func (h *History) LifecycleEvents(frame types.Frame) []types.Event {
	return h.lifecycle[frame]
}

// FrameSet returns the stored input set for frame, if any.
func (h *History) FrameSet(frame types.Frame) (types.FrameInputSet, bool) {
	set, ok := h.frames[frame]
	return set, ok
}

// ActivePeers returns the sorted union of peer ids that have ever appeared
// in a stored frame set plus the "repeat last" cache.
func (h *History) ActivePeers() []types.PeerID {
	seen := make(map[types.PeerID]struct{})
	for peer := range h.lastConfirmed {
		seen[peer] = struct{}{}
	}
	for _, set := range h.frames {
		for peer := range set {
			seen[peer] = struct{}{}
		}
	}
	out := make([]types.PeerID, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// PredictInput returns the "repeat last" prediction for peer: its most
// recent confirmed payload, or an empty payload if none exists yet.
func (h *History) PredictInput(peer types.PeerID) types.Input {
	payload := h.lastConfirmed[peer]
	return types.Input{Client: peer, Payload: payload}
}

// AssembleFrame builds the input set for frame out of every known active
// peer: the confirmed record if one exists at this frame, otherwise a
// repeat-last prediction.
func (h *History) AssembleFrame(frame types.Frame, activePeers []types.PeerID) types.FrameInputSet {
	existing, _ := h.FrameSet(frame)
	set := make(types.FrameInputSet, len(activePeers))
	for _, peer := range activePeers {
		if existing != nil {
			if rec, ok := existing[peer]; ok {
				set[peer] = rec
				continue
			}
		}
		set[peer] = types.InputRecord{Input: h.PredictInput(peer), Confirmed: false}
	}
	return set
}

// EvictBefore discards frame sets and lifecycle queues older than frame.
func (h *History) EvictBefore(frame types.Frame) {
	for f := range h.frames {
		if f < frame {
			delete(h.frames, f)
		}
	}
	for f := range h.lifecycle {
		if f < frame {
			delete(h.lifecycle, f)
		}
	}
}

// Reset clears all state, including the repeat-last cache.
func (h *History) Reset() {
	h.frames = make(map[types.Frame]types.FrameInputSet)
	h.lifecycle = make(map[types.Frame][]types.Event)
	h.lastConfirmed = make(map[types.PeerID]types.Payload)
}

// Snapshot exposes the full frame-set map for test assertions.
func (h *History) Snapshot() map[types.Frame]types.FrameInputSet {
	return h.frames
}
