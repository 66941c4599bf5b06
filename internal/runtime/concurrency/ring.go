package concurrency

import (
	"runtime"
	"sync/atomic"
)

// Ring is a bounded multi-producer multi-consumer queue using per-cell
// sequence numbers. The stress driver uses it to hand references from the
// goroutine that builds a graph to the one that drops it.
type Ring[T any] struct {
	_     [64]byte
	head  atomic.Uint64
	_     [56]byte
	tail  atomic.Uint64
	_     [56]byte
	mask  uint64
	cells []ringCell[T]
}

type ringCell[T any] struct {
	seq atomic.Uint64
	val T
}

// NewRing creates a ring holding at least capacity elements.
func NewRing[T any](capacity uint64) *Ring[T] {
	n := uint64(2)
	for n < capacity {
		n <<= 1
	}
	q := &Ring[T]{mask: n - 1, cells: make([]ringCell[T], n)}
	for i := range q.cells {
		q.cells[i].seq.Store(uint64(i))
	}
	return q
}

func (q *Ring[T]) Cap() int { return len(q.cells) }

// TryPush appends v, or reports false when the ring is full.
func (q *Ring[T]) TryPush(v T) bool {
	for {
		pos := q.tail.Load()
		c := &q.cells[pos&q.mask]
		switch d := int64(c.seq.Load()) - int64(pos); {
		case d == 0:
			if q.tail.CompareAndSwap(pos, pos+1) {
				c.val = v
				c.seq.Store(pos + 1)
				return true
			}
		case d < 0:
			return false
		default:
			runtime.Gosched()
		}
	}
}

// TryPop removes the oldest element, or reports false when the ring is empty.
func (q *Ring[T]) TryPop() (T, bool) {
	for {
		pos := q.head.Load()
		c := &q.cells[pos&q.mask]
		switch d := int64(c.seq.Load()) - int64(pos+1); {
		case d == 0:
			if q.head.CompareAndSwap(pos, pos+1) {
				v := c.val
				var zero T
				c.val = zero
				c.seq.Store(pos + q.mask + 1)
				return v, true
			}
		case d < 0:
			var zero T
			return zero, false
		default:
			runtime.Gosched()
		}
	}
}
