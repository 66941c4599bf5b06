package gc

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/orizon-lang/rcgc/internal/runtime/deleter"
)

func init() {
	RegisterKind(KindObject, KindInfo{Name: "object"})
	RegisterKind(KindString, KindInfo{Name: "string", Leaf: true})
	RegisterKind(KindRoutine, KindInfo{Name: "routine", DelayScan: true})
}

// node is a test object with an arbitrary number of owning slots.
type node struct {
	id        int
	kids      []Handle
	pinned    atomic.Bool
	running   atomic.Bool
	finalized atomic.Int32
	log       *eventLog
	blocks    []deleter.Reclaimable
	leaf      bool
	kind      Kind
	trace     func(from int, to Handle)
}

func (n *node) Kind() Kind {
	switch {
	case n.kind != KindInvalid:
		return n.kind
	case n.leaf:
		return KindString
	}
	return KindObject
}

func (n *node) ForEachChild(fn func(Handle)) {
	for _, k := range n.kids {
		fn(k)
	}
}

func (n *node) BreakChildren(release func(Handle)) {
	for i, k := range n.kids {
		n.kids[i] = Handle{}
		if n.trace != nil {
			n.trace(n.id, k)
		}
		release(k)
	}
	n.kids = n.kids[:0]
	n.log.add("break", n.id)
}

func (n *node) FinalizePayload() {
	n.finalized.Add(1)
	n.log.add("finalize", n.id)
}

func (n *node) HostReferenced() bool { return n.pinned.Load() }

func (n *node) Running() bool { return n.running.Load() }

func (n *node) TakeBlocks() []deleter.Reclaimable {
	b := n.blocks
	n.blocks = nil
	return b
}

func (n *node) Weight() int { return len(n.kids) + 1 }

type event struct {
	what string
	id   int
}

// eventLog records collector callbacks in order. A nil log ignores events.
type eventLog struct {
	mu     sync.Mutex
	events []event
}

func (l *eventLog) add(what string, id int) {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.events = append(l.events, event{what, id})
	l.mu.Unlock()
}

func (l *eventLog) snapshot() []event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]event(nil), l.events...)
}

func (l *eventLog) block(id int) deleter.Reclaimable {
	return deleter.Func(func() { l.add("reclaim", id) })
}

// heapFixture allocates nodes on a collector and wires edges between them.
type heapFixture struct {
	t     testing.TB
	c     *Collector
	log   *eventLog
	nodes []*node
	hs    []Handle
}

func newFixture(t testing.TB, opts ...Option) *heapFixture {
	t.Helper()
	opts = append([]Option{WithPeriod(10 * time.Millisecond)}, opts...)
	return &heapFixture{t: t, c: New(opts...), log: &eventLog{}}
}

// alloc creates a node owned once by the test.
func (f *heapFixture) alloc() Handle { return f.allocKind(KindInvalid) }

// allocKind is alloc for a node reporting kind k.
func (f *heapFixture) allocKind(k Kind) Handle {
	n := &node{id: len(f.nodes), log: f.log, kind: k}
	n.blocks = []deleter.Reclaimable{f.log.block(n.id)}
	h := f.c.Alloc(n, 1)
	f.nodes = append(f.nodes, n)
	f.hs = append(f.hs, h)
	return h
}

// link stores child into a new slot of parent, retaining it.
func (f *heapFixture) link(parent, child Handle) {
	f.c.Update(func(tx *Txn) {
		p := tx.Get(parent).(*node)
		p.kids = append(p.kids, Handle{})
		tx.Store(&p.kids[len(p.kids)-1], child)
	})
}

// adopt moves the test's ownership of child into a new slot of parent.
func (f *heapFixture) adopt(parent, child Handle) {
	f.c.Update(func(tx *Txn) {
		p := tx.Get(parent).(*node)
		p.kids = append(p.kids, child)
	})
}

func (f *heapFixture) ring(n int) []Handle {
	hs := make([]Handle, n)
	for i := range hs {
		hs[i] = f.alloc()
	}
	for i := range hs {
		f.link(hs[i], hs[(i+1)%n])
	}
	return hs
}

func (f *heapFixture) finalizedCount(h Handle) int32 {
	for i, x := range f.hs {
		if x == h {
			return f.nodes[i].finalized.Load()
		}
	}
	f.t.Fatalf("unknown handle %s", h)
	return 0
}

func (f *heapFixture) live() int { return f.c.Stats().Live }

// scheduled runs one cycle the way the drivers start them, so the delay
// pool waits for the full-scan cadence.
func (f *heapFixture) scheduled() int {
	f.c.stepMu.Lock()
	defer f.c.stepMu.Unlock()
	return f.c.runCycleLocked(false)
}

// advanceTo steps the collector one visit at a time until the cycle
// reaches p. stepMu held.
func (f *heapFixture) advanceTo(p phase) {
	f.t.Helper()
	for f.c.cyc.phase != p {
		if f.c.advanceLocked(1) {
			f.t.Fatalf("cycle finished before %s", p)
		}
	}
}
