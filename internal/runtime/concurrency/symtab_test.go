package concurrency

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/orizon-lang/rcgc/internal/allocator"
	"github.com/orizon-lang/rcgc/internal/runtime/deleter"
	"github.com/orizon-lang/rcgc/internal/testrunner/assert"
)

func newTable(t *testing.T) (*SymbolTable[int], *deleter.Deleter, *allocator.Allocator) {
	t.Helper()
	a := allocator.New()
	d := deleter.New(deleter.WithThreshold(0))
	return NewSymbolTable[int](16, a, d), d, a
}

func TestSymbolTable_Basic(t *testing.T) {
	tab, d, a := newTable(t)
	r := d.NewReader()
	defer r.Close()

	_, ok := tab.Lookup(r, "x")
	assert.False(t, ok)

	assert.NoError(t, tab.Store("x", 10))
	v, ok := tab.Lookup(r, "x")
	assert.True(t, ok)
	assert.Equal(t, v, 10)

	v, loaded, err := tab.LoadOrStore("x", 20)
	assert.NoError(t, err)
	assert.True(t, loaded)
	assert.Equal(t, v, 10)

	assert.NoError(t, tab.Store("x", 30))
	v, _ = tab.Lookup(r, "x")
	assert.Equal(t, v, 30)
	assert.Equal(t, tab.Len(), 1)

	assert.True(t, tab.Delete("x"))
	assert.False(t, tab.Delete("x"))
	_, ok = tab.Lookup(r, "x")
	assert.False(t, ok)
	assert.Equal(t, tab.Len(), 0)

	// The key block is only reclaimed once the deleter has moved past it.
	assert.Equal(t, a.Stats().ActiveAllocations, 1)
	d.Update()
	d.Update()
	assert.Equal(t, a.Stats().ActiveAllocations, 0)
}

func TestSymbolTable_CollidingBuckets(t *testing.T) {
	a := allocator.New()
	d := deleter.New()
	tab := NewSymbolTable[int](1, a, d)
	r := d.NewReader()
	for i := 0; i < 50; i++ {
		assert.NoError(t, tab.Store(fmt.Sprintf("k%d", i), i))
	}
	assert.True(t, tab.Delete("k25"))
	for i := 0; i < 50; i++ {
		v, ok := tab.Lookup(r, fmt.Sprintf("k%d", i))
		if i == 25 {
			assert.False(t, ok)
			continue
		}
		assert.True(t, ok)
		assert.Equal(t, v, i)
	}

	seen := 0
	tab.Range(r, func(string, int) bool { seen++; return true })
	assert.Equal(t, seen, 49)

	tab.Clear()
	assert.Equal(t, tab.Len(), 0)
	d.Drain()
	assert.Equal(t, a.Stats().ActiveAllocations, 0)
}

func TestSymbolTable_RangeStops(t *testing.T) {
	tab, d, _ := newTable(t)
	r := d.NewReader()
	for i := 0; i < 10; i++ {
		assert.NoError(t, tab.Store(fmt.Sprint(i), i))
	}
	n := 0
	tab.Range(r, func(string, int) bool { n++; return n < 3 })
	assert.Equal(t, n, 3)
}

func TestSymbolTable_StoreFailsAtMemoryLimit(t *testing.T) {
	a := allocator.New(allocator.WithMemoryLimit(4))
	tab := NewSymbolTable[int](4, a, deleter.New())
	assert.NoError(t, tab.Store("abc", 1))
	assert.ErrorIs(t, tab.Store("defgh", 2), allocator.ErrMemoryLimit)
	assert.Equal(t, tab.Len(), 1)
}

func TestSymbolTable_ReadersDuringChurn(t *testing.T) {
	a := allocator.New()
	d := deleter.New(deleter.WithThreshold(4))
	tab := NewSymbolTable[int](8, a, d)

	keys := make([]string, 32)
	for i := range keys {
		keys[i] = fmt.Sprintf("sym-%02d", i)
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	var bad atomic.Int64
	for g := 0; g < 4; g++ {
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
				for i, k := range keys {
					// Values always equal the key's index, so a mismatch means
					// a reader saw recycled key bytes.
					if v, ok := tab.Lookup(r, k); ok && v != i {
						bad.Add(1)
					}
				}
			}
		}()
	}

	for round := 0; round < 200; round++ {
		for i, k := range keys {
			if (i+round)%3 == 0 {
				tab.Delete(k)
			} else {
				_ = tab.Store(k, i)
			}
		}
		d.Update()
	}
	close(stop)
	wg.Wait()

	assert.Equal(t, bad.Load(), int64(0))
	tab.Clear()
	d.Drain()
	assert.Equal(t, a.Stats().ActiveAllocations, 0)
}
