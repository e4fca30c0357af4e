// Package test provides a cluster helper for spinning up several
// in-process engine.Engine peers wired together over an in-memory
// transport, mirroring the teacher's own UnityCluster-style harness from
// its test package. Used by the longer-running scenarios under fuzzy/.
package test

import (
	"sort"
	"sync"
	"testing"

	"github.com/ridgeline-sim/netsync/pkg/netsync/engine"
	"github.com/ridgeline-sim/netsync/pkg/netsync/hash"
	"github.com/ridgeline-sim/netsync/pkg/netsync/transport"
	"github.com/ridgeline-sim/netsync/pkg/netsync/types"
)

// CountingWorld is a small deterministic World: each entity has an int64
// counter, `tick` adds every non-event input's first payload byte to the
// entity named by the input's client, and `join`/`leave` add/remove
// entities. It exists purely so cluster tests can assert on
// state_hash() convergence without depending on an embedder's real game
// world.
type CountingWorld struct {
	mu       sync.Mutex
	counters map[types.PeerID]int64
}

// NewCountingWorld creates an empty world.
func NewCountingWorld() *CountingWorld {
	return &CountingWorld{counters: make(map[types.PeerID]int64)}
}

func (w *CountingWorld) Tick(frame types.Frame, inputs []types.Input) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, in := range inputs {
		if in.IsEvent {
			switch in.Event.Kind {
			case types.EventJoin:
				if _, ok := w.counters[in.Event.Client]; !ok {
					w.counters[in.Event.Client] = 0
				}
			case types.EventLeave:
				delete(w.counters, in.Event.Client)
			}
			continue
		}
		if len(in.Payload) == 0 {
			continue
		}
		w.counters[in.Client] += int64(in.Payload[0])
	}
}

func (w *CountingWorld) Snapshot() types.Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	bytes := w.serializeLocked()
	return types.Snapshot{StateHash: hash.Hash(bytes, 0), Bytes: bytes}
}

// serializeLocked encodes every entity as {len(id) byte, id bytes, 8-byte
// little-endian counter}, sorted by id for determinism.
func (w *CountingWorld) serializeLocked() []byte {
	ids := make([]types.PeerID, 0, len(w.counters))
	for id := range w.counters {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var out []byte
	for _, id := range ids {
		v := w.counters[id]
		out = append(out, byte(len(id)))
		out = append(out, []byte(id)...)
		for i := 0; i < 8; i++ {
			out = append(out, byte(v>>(8*i)))
		}
	}
	return out
}

func (w *CountingWorld) LoadSnapshot(snap types.Snapshot) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.counters = make(map[types.PeerID]int64)
	buf := snap.Bytes
	for len(buf) > 0 {
		n := int(buf[0])
		buf = buf[1:]
		id := types.PeerID(buf[:n])
		buf = buf[n:]
		var v int64
		for i := 0; i < 8; i++ {
			v |= int64(buf[i]) << (8 * i)
		}
		buf = buf[8:]
		w.counters[id] = v
	}
}

func (w *CountingWorld) StateHash() uint32 {
	return w.Snapshot().StateHash
}

func (w *CountingWorld) EntityCount() uint32 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return uint32(len(w.counters))
}

// EntityIDs treats each tracked peer's counter as one entity, keyed by a
// stable hash of the peer id so partition assignment stays deterministic
// across ticks without this test world needing a real entity model.
func (w *CountingWorld) EntityIDs() []types.EntityID {
	w.mu.Lock()
	defer w.mu.Unlock()
	ids := make([]types.EntityID, 0, len(w.counters))
	for id := range w.counters {
		ids = append(ids, types.EntityID(hash.Hash([]byte(id), 0)))
	}
	return ids
}

// loopbackTransport is an in-memory transport.Transport: every Send lands
// directly on a shared bus that every peer in the Cluster drains from,
// minus its own messages.
type loopbackTransport struct {
	self   types.PeerID
	bus    chan busMessage
	inbox  chan transport.Envelope
	closed chan struct{}
}

type busMessage struct {
	from types.PeerID
	env  transport.Envelope
}

func (t *loopbackTransport) Send(env transport.Envelope) error {
	select {
	case t.bus <- busMessage{from: t.self, env: env}:
	case <-t.closed:
	}
	return nil
}

func (t *loopbackTransport) Inbound() <-chan transport.Envelope { return t.inbox }

func (t *loopbackTransport) Close() error {
	select {
	case <-t.closed:
	default:
		close(t.closed)
	}
	return nil
}

// Cluster is a set of engines sharing one in-memory bus: every Send from
// any peer is fanned out to every other peer's inbox, and targeted
// (To != "") envelopes are additionally dropped for peers they were not
// addressed to.
type Cluster struct {
	T       *testing.T
	Peers   []types.PeerID
	Engines map[types.PeerID]*engine.Engine
	Worlds  map[types.PeerID]*CountingWorld

	transports map[types.PeerID]*loopbackTransport
	bus        chan busMessage
	stop       chan struct{}
	wg         sync.WaitGroup
}

// NewCluster creates n engines named "a", "b", "c", ..., all sharing one bus, and
// starts the background fan-out goroutine.
func NewCluster(t *testing.T, n int) *Cluster {
	t.Helper()
	c := &Cluster{
		T:          t,
		Engines:    make(map[types.PeerID]*engine.Engine, n),
		Worlds:     make(map[types.PeerID]*CountingWorld, n),
		transports: make(map[types.PeerID]*loopbackTransport, n),
		bus:        make(chan busMessage, 4096),
		stop:       make(chan struct{}),
	}

	for i := 0; i < n; i++ {
		id := types.PeerID(alphabetName(i))
		c.Peers = append(c.Peers, id)

		w := NewCountingWorld()
		tr := &loopbackTransport{self: id, bus: c.bus, inbox: make(chan transport.Envelope, 4096), closed: make(chan struct{})}
		c.transports[id] = tr
		c.Worlds[id] = w
		c.Engines[id] = engine.New(engine.Config{Self: id, Cfg: types.DefaultConfig(), World: w, Transport: tr})
	}

	c.wg.Add(1)
	go c.fanout()

	return c
}

func alphabetName(i int) string {
	return string(rune('a' + i))
}

func (c *Cluster) fanout() {
	defer c.wg.Done()
	for {
		select {
		case <-c.stop:
			return
		case msg := <-c.bus:
			for id, tr := range c.transports {
				if id == msg.from {
					continue
				}
				if msg.env.To != "" && msg.env.To != id {
					continue
				}
				select {
				case tr.inbox <- msg.env:
				default:
				}
			}
		}
	}
}

// DrainInbound applies every currently-queued inbound envelope on every
// engine, mirroring the fixed drain point before Advance (spec.md §5).
func (c *Cluster) DrainInbound() {
	for _, id := range c.Peers {
		tr := c.transports[id]
		e := c.Engines[id]
		for {
			select {
			case env := <-tr.inbox:
				e.HandleInbound(env)
			default:
				goto next
			}
		}
	next:
	}
}

// AdvanceAll drains inbound messages, then advances every engine once. Any
// Fatal or ResyncTimeout error is fatal to the test: those are exactly the
// two kinds the core ever surfaces to an embedder.
func (c *Cluster) AdvanceAll() {
	c.DrainInbound()
	for _, id := range c.Peers {
		if _, serr := c.Engines[id].Advance(); serr != nil {
			c.T.Fatalf("peer %s: %v", id, serr)
		}
	}
}

// Off stops the fan-out goroutine and closes every transport.
func (c *Cluster) Off() {
	close(c.stop)
	c.wg.Wait()
	for _, tr := range c.transports {
		tr.Close()
	}
}
