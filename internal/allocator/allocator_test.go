package allocator

import (
	"sync"
	"testing"

	"github.com/orizon-lang/rcgc/internal/testrunner/assert"
)

func TestAllocUsesSizeClasses(t *testing.T) {
	a := New()
	for _, tc := range []struct {
		n     int
		class int
	}{
		{0, 0},
		{1, 0},
		{64, 0},
		{65, 1},
		{300, 3},
		{1024, 4},
		{1025, -1},
	} {
		b, err := a.Alloc(tc.n)
		if !assert.NoError(t, err) {
			return
		}
		assert.Equal(t, b.class, tc.class, tc.n)
		assert.Equal(t, b.Len(), tc.n)
		assert.Equal(t, len(b.Bytes()), tc.n)
		b.Reclaim()
	}
	st := a.Stats()
	assert.Equal(t, st.ActiveAllocations, 0)
	assert.Equal(t, st.BytesInUse, 0)
	assert.Equal(t, st.AllocationCount, st.FreeCount)
}

func TestPooledBlocksAreZeroed(t *testing.T) {
	a := New()
	b := a.MustAlloc(40)
	for i := range b.Bytes() {
		b.Bytes()[i] = 0xff
	}
	b.Reclaim()

	for i := 0; i < 8; i++ {
		c := a.MustAlloc(40)
		for _, x := range c.Bytes() {
			if x != 0 {
				t.Fatalf("reused block not zeroed")
			}
		}
		c.Reclaim()
	}
}

func TestMappedBlocks(t *testing.T) {
	a := New(WithMmapThreshold(4096))
	b := a.MustAlloc(8192)
	b.Bytes()[8191] = 1
	assert.Equal(t, a.Stats().BytesInUse, 8192)
	b.Reclaim()
	st := a.Stats()
	assert.Equal(t, st.MappedBytes, 0)
	assert.Equal(t, st.BytesInUse, 0)
}

func TestMemoryLimit(t *testing.T) {
	a := New(WithMemoryLimit(100))
	b := a.MustAlloc(60)
	_, err := a.Alloc(60)
	assert.ErrorIs(t, err, ErrMemoryLimit)
	b.Reclaim()
	_, err = a.Alloc(60)
	assert.NoError(t, err)
}

func TestNegativeSize(t *testing.T) {
	_, err := New().Alloc(-1)
	assert.NotNil(t, err)
}

func TestDoubleReclaimPanics(t *testing.T) {
	b := New().MustAlloc(8)
	b.Reclaim()
	assert.Panics(t, b.Reclaim)
}

func TestConcurrentAllocAndReclaim(t *testing.T) {
	a := New(WithSizeClasses([]int{32, 256}))
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			var held []*Block
			for i := 0; i < 500; i++ {
				held = append(held, a.MustAlloc((i*g)%300))
				if len(held) > 16 {
					held[0].Reclaim()
					held = held[1:]
				}
			}
			for _, b := range held {
				b.Reclaim()
			}
		}(g)
	}
	wg.Wait()
	st := a.Stats()
	assert.Equal(t, st.ActiveAllocations, 0)
	assert.Equal(t, st.AllocationCount, uint64(4000))
	assert.True(t, st.PeakAllocations > 0)
}
