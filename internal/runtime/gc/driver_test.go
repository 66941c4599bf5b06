package gc

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/orizon-lang/rcgc/internal/testrunner/assert"
	"github.com/orizon-lang/rcgc/internal/testrunner/prop"
)

func TestBackpressureStallsOnlyPausableReleases(t *testing.T) {
	f := newFixture(t,
		WithThresholds(1, 4),
		WithPeriod(time.Hour),
		WithBackpressureWait(time.Millisecond))
	f.c.Start()
	defer f.c.Shutdown()

	hs := make([]Handle, 51)
	for i := range hs {
		hs[i] = f.alloc()
	}

	// Hold the collector off so the pool grows past the maximum.
	f.c.stepMu.Lock()
	ctx := NoPause(context.Background())
	for _, h := range hs[:50] {
		f.c.ReleaseCtx(ctx, h)
	}
	assert.Equal(t, f.c.Stats().Stalls, uint64(0))
	assert.Equal(t, f.c.Stats().PendingWeight, 50)

	start := time.Now()
	f.c.Release(hs[50])
	assert.True(t, time.Since(start) >= time.Millisecond)
	assert.Equal(t, f.c.Stats().Stalls, uint64(1))
	f.c.stepMu.Unlock()

	assert.Eventually(t, func() bool {
		return f.c.Stats().PendingWeight <= 4 && f.live() == 0
	}, 2*time.Second, time.Millisecond)
}

func TestReleaseBelowMaximumNeverStalls(t *testing.T) {
	f := newFixture(t, WithThresholds(1, 1000))
	f.c.Start()
	defer f.c.Shutdown()

	for i := 0; i < 100; i++ {
		f.c.Release(f.alloc())
	}
	assert.Equal(t, f.c.Stats().Stalls, uint64(0))
}

func TestIncrementalStepsAreBounded(t *testing.T) {
	f := newFixture(t,
		WithMode(Incremental),
		WithThresholds(0, 1000),
		WithChunkSize(1),
		WithStepEvery(1, 1),
		WithFullScanEvery(1))
	ring := f.ring(20)

	f.c.Release(ring[0])
	// One visit cannot finish a cycle over a twenty-object ring.
	assert.True(t, f.c.Stats().Phase != phaseIdle.String())

	f.c.ReleaseAll(ring[1:])
	for f.c.Step() {
	}
	assert.Equal(t, f.live(), 0)
	assert.True(t, f.c.Stats().Cycles >= 1)
	for _, h := range ring {
		assert.Equal(t, f.finalizedCount(h), int32(1))
	}
}

func TestIncrementalRingReleasedOneByOne(t *testing.T) {
	f := newFixture(t,
		WithMode(Incremental),
		WithThresholds(0, 1000),
		WithChunkSize(1000),
		WithStepEvery(1, 1),
		WithFullScanEvery(1))
	ring := f.ring(3)
	for _, h := range ring {
		f.c.Release(h)
	}
	assert.Equal(t, f.live(), 0)
	assert.Equal(t, f.c.Stats().Cycles, uint64(3))
}

// graphRun builds g on a fresh collector in the given mode, drops every
// external reference except the roots and collects until the pools are
// empty. It returns the broken edges and finalized nodes.
func graphRun(t testing.TB, mode Mode, g prop.Graph) (edges map[[2]int]int, finalized map[int]bool) {
	f := newFixture(t, WithMode(mode), WithChunkSize(3), WithThresholds(0, 1<<20), WithFullScanEvery(1))
	ids := make(map[Handle]int)
	var mu sync.Mutex
	edges = make(map[[2]int]int)
	for i := 0; i < g.Nodes; i++ {
		h := f.alloc()
		ids[h] = i
		f.nodes[i].trace = func(from int, to Handle) {
			if to.IsNil() {
				return
			}
			mu.Lock()
			edges[[2]int{from, ids[to]}]++
			mu.Unlock()
		}
	}
	for _, e := range g.Edges {
		f.link(f.hs[e[0]], f.hs[e[1]])
	}
	root := make(map[int]bool)
	for _, r := range g.Roots {
		root[r] = true
	}
	for i, h := range f.hs {
		if !root[i] {
			f.c.Release(h)
		}
	}

	switch mode {
	case Incremental:
		for f.c.Step() {
		}
	default:
		f.c.ForceDrain()
	}

	finalized = make(map[int]bool)
	for i, n := range f.nodes {
		switch n.finalized.Load() {
		case 0:
		case 1:
			finalized[i] = true
		default:
			t.Errorf("node %d finalized %d times", i, n.finalized.Load())
		}
	}
	return edges, finalized
}

func TestDriversTraverseIdenticalEdges(t *testing.T) {
	check := func(g prop.Graph) bool {
		ce, cf := graphRun(t, Concurrent, g)
		ie, inf := graphRun(t, Incremental, g)
		reach := g.Reachable()

		if len(cf) != len(inf) || len(ce) != len(ie) {
			return false
		}
		for n := range cf {
			if !inf[n] || reach[n] {
				return false
			}
		}
		for n := 0; n < g.Nodes; n++ {
			if !reach[n] && !cf[n] {
				return false
			}
		}
		for e, k := range ce {
			if ie[e] != k {
				return false
			}
		}
		return true
	}
	res := prop.ForAll1(prop.GenGraph(24), nil, check, prop.Options{Trials: 60})
	if res.Failed {
		t.Fatalf("modes disagree: seed=%d graph=%+v", res.Seed, res.FailingInput)
	}
}

func TestConcurrentMutatorsWithBackgroundCollector(t *testing.T) {
	c := New(
		WithThresholds(16, 256),
		WithPeriod(time.Millisecond),
		WithDeleterThreshold(32))
	c.Start()

	var (
		mu    sync.Mutex
		nodes []*node
	)
	alloc := func() Handle {
		n := &node{}
		mu.Lock()
		n.id = len(nodes)
		nodes = append(nodes, n)
		mu.Unlock()
		return c.Alloc(n, 1)
	}
	link := func(parent, child Handle) {
		c.Update(func(tx *Txn) {
			p := tx.Get(parent).(*node)
			p.kids = append(p.kids, Handle{})
			tx.Store(&p.kids[len(p.kids)-1], child)
		})
	}

	holder := alloc()
	c.Update(func(tx *Txn) {
		tx.Get(holder).(*node).kids = make([]Handle, 8)
	})

	var wg sync.WaitGroup
	var built atomic.Int64
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			r := rand.New(rand.NewSource(seed))
			for i := 0; i < 300; i++ {
				ring := []Handle{alloc(), alloc(), alloc()}
				for k := range ring {
					link(ring[k], ring[(k+1)%3])
				}
				if r.Intn(3) == 0 {
					slot := r.Intn(8)
					c.Update(func(tx *Txn) {
						tx.Store(&tx.Get(holder).(*node).kids[slot], ring[r.Intn(3)])
					})
				}
				c.ReleaseAll(ring)
				built.Add(3)
			}
		}(int64(g))
	}
	wg.Wait()

	c.Release(holder)
	c.Shutdown()

	assert.Equal(t, c.Stats().Live, 0)
	assert.Equal(t, int64(len(nodes)), built.Load()+1)
	for _, n := range nodes {
		if got := n.finalized.Load(); got != 1 {
			t.Fatalf("node %d finalized %d times", n.id, got)
		}
	}
}
