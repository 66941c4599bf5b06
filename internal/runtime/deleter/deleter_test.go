package deleter

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/orizon-lang/rcgc/internal/testrunner/assert"
)

type counter struct{ n atomic.Int64 }

func (c *counter) block() Reclaimable { return Func(func() { c.n.Add(1) }) }

func TestUpdate_ReclaimsAfterTwoUpdates(t *testing.T) {
	d := New(WithThreshold(0))
	var c counter
	d.Retire(c.block())
	d.Retire(c.block())

	assert.Equal(t, d.Update(), 0)
	st := d.Stats()
	assert.Equal(t, st.Pending, 0)
	assert.Equal(t, st.Safe, 2)
	assert.Equal(t, c.n.Load(), int64(0))

	assert.Equal(t, d.Update(), 2)
	assert.Equal(t, c.n.Load(), int64(2))
	assert.Equal(t, d.Stats().Reclaimed, uint64(2))
}

func TestUpdate_ThresholdHoldsEpoch(t *testing.T) {
	d := New(WithThreshold(3))
	var c counter
	d.Retire(c.block())
	d.Retire(c.block())
	e := d.Epoch()

	d.Update()
	d.Update()
	assert.Equal(t, d.Epoch(), e)
	assert.Equal(t, d.Stats().Pending, 2)

	d.Retire(c.block())
	d.Update()
	assert.Equal(t, d.Epoch(), e+1)
	d.Update()
	assert.Equal(t, c.n.Load(), int64(3))
}

func TestReader_BlocksReclamation(t *testing.T) {
	d := New(WithThreshold(0))
	r := d.NewReader()
	defer r.Close()
	var c counter

	r.Enter()
	assert.True(t, r.Active())
	d.Retire(c.block())
	for i := 0; i < 5; i++ {
		d.Update()
	}
	assert.Equal(t, c.n.Load(), int64(0))
	assert.Equal(t, d.Stats().Pending, 1)

	r.Exit()
	d.Update()
	d.Update()
	assert.Equal(t, c.n.Load(), int64(1))
}

func TestReader_EnteredAfterRetireDoesNotBlock(t *testing.T) {
	d := New(WithThreshold(0))
	r := d.NewReader()
	var c counter

	d.Retire(c.block())
	d.Update() // advances past the retire epoch
	r.Enter()
	d.Update()
	d.Update()
	r.Exit()
	assert.Equal(t, c.n.Load(), int64(1))

	r.Close()
	assert.Equal(t, d.Stats().Readers, 0)
}

func TestDrain(t *testing.T) {
	d := New()
	r := d.NewReader()
	r.Enter()
	var c counter
	for i := 0; i < 10; i++ {
		d.Retire(c.block())
	}
	d.Update()
	assert.Equal(t, d.Drain(), 10)
	assert.Equal(t, c.n.Load(), int64(10))
	st := d.Stats()
	assert.Equal(t, st.Pending+st.Safe, 0)
	assert.Equal(t, st.Retired, uint64(10))
}

func TestRetireNilIsIgnored(t *testing.T) {
	d := New()
	d.Retire(nil)
	assert.Equal(t, d.Stats().Retired, uint64(0))
}

func TestConcurrentReadersAndRetirement(t *testing.T) {
	d := New(WithThreshold(8))
	type cell struct {
		live atomic.Bool
	}
	var cur atomic.Pointer[cell]
	first := &cell{}
	first.live.Store(true)
	cur.Store(first)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	var bad atomic.Int64
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := d.NewReader()
			defer r.Close()
			for {
				select {
				case <-stop:
					return
				default:
				}
				r.Enter()
				if c := cur.Load(); !c.live.Load() {
					bad.Add(1)
				}
				r.Exit()
			}
		}()
	}

	for i := 0; i < 2000; i++ {
		next := &cell{}
		next.live.Store(true)
		old := cur.Swap(next)
		d.Retire(Func(func() { old.live.Store(false) }))
		d.Update()
	}
	close(stop)
	wg.Wait()
	d.Drain()
	assert.Equal(t, bad.Load(), int64(0))
}
