package concurrency

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/orizon-lang/rcgc/internal/testrunner/assert"
)

func TestRing_FIFO(t *testing.T) {
	q := NewRing[int](3)
	assert.Equal(t, q.Cap(), 4)
	for i := 0; i < 4; i++ {
		assert.True(t, q.TryPush(i))
	}
	assert.False(t, q.TryPush(99))
	for i := 0; i < 4; i++ {
		v, ok := q.TryPop()
		assert.True(t, ok)
		assert.Equal(t, v, i)
	}
	_, ok := q.TryPop()
	assert.False(t, ok)
}

func TestRing_MPMC(t *testing.T) {
	q := NewRing[int](64)
	const producers, perProducer = 4, 5000

	var sum atomic.Int64
	var popped atomic.Int64
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 1; i <= perProducer; i++ {
				for !q.TryPush(i) {
				}
			}
		}()
	}
	for c := 0; c < 4; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for popped.Load() < producers*perProducer {
				if v, ok := q.TryPop(); ok {
					sum.Add(int64(v))
					popped.Add(1)
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, sum.Load(), int64(producers*perProducer*(perProducer+1)/2))
}
