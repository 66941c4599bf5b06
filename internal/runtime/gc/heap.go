package gc

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Handle addresses a managed object: a slot index plus the generation the
// slot had when the object was allocated. The zero Handle is the null
// reference. A Handle whose object has been freed resolves to nothing.
type Handle struct {
	index uint32
	gen   uint32
}

// IsNil reports whether h is the null reference.
func (h Handle) IsNil() bool { return h.index == 0 }

func (h Handle) String() string {
	if h.IsNil() {
		return "nil"
	}
	return fmt.Sprintf("#%d.%d", h.index, h.gen)
}

const (
	pageBits = 10
	pageSize = 1 << pageBits
)

type objBox struct{ obj Traceable }

// slot is one heap cell. gen and obj are atomics so that lock-free readers
// can resolve handles; hdr belongs to the switch lock.
type slot struct {
	gen atomic.Uint32
	obj atomic.Pointer[objBox]
	hdr Header
}

type page [pageSize]slot

// heap is a paged slot map. Pages never move, so a *slot stays valid for the
// life of the heap. Index 0 is never handed out.
type heap struct {
	pages atomic.Pointer[[]*page]
	next  uint32 // first never-used index; switch lock
	live  int    // switch lock

	freeMu sync.Mutex
	free   []uint32
}

func newHeap() *heap {
	hp := &heap{next: 1}
	pages := make([]*page, 0, 4)
	hp.pages.Store(&pages)
	return hp
}

func (hp *heap) at(index uint32) *slot {
	pages := *hp.pages.Load()
	p := int(index >> pageBits)
	if p >= len(pages) {
		return nil
	}
	return &pages[p][index&(pageSize-1)]
}

func (hp *heap) grow(index uint32) {
	pages := *hp.pages.Load()
	need := int(index>>pageBits) + 1
	if need <= len(pages) {
		return
	}
	grown := make([]*page, need)
	copy(grown, pages)
	for i := len(pages); i < need; i++ {
		grown[i] = new(page)
	}
	hp.pages.Store(&grown)
}

func (hp *heap) popFree() (uint32, bool) {
	hp.freeMu.Lock()
	defer hp.freeMu.Unlock()
	n := len(hp.free)
	if n == 0 {
		return 0, false
	}
	index := hp.free[n-1]
	hp.free = hp.free[:n-1]
	return index, true
}

func (hp *heap) pushFree(index uint32) {
	hp.freeMu.Lock()
	hp.free = append(hp.free, index)
	hp.freeMu.Unlock()
}

// alloc places obj in a fresh or recycled slot. Switch lock held.
func (hp *heap) alloc(obj Traceable, owners int64) Handle {
	index, ok := hp.popFree()
	if !ok {
		index = hp.next
		hp.next++
		hp.grow(index)
	}
	s := hp.at(index)
	gen := s.gen.Load()
	if gen == 0 {
		gen = 1
		s.gen.Store(gen)
	}
	s.hdr.reset(obj.Kind(), owners)
	s.obj.Store(&objBox{obj: obj})
	hp.live++
	return Handle{index: index, gen: gen}
}

// slot returns the live slot for h, or nil when h is null or stale.
// Switch lock held.
func (hp *heap) slot(h Handle) *slot {
	if h.IsNil() {
		return nil
	}
	s := hp.at(h.index)
	if s == nil || s.gen.Load() != h.gen || s.obj.Load() == nil {
		return nil
	}
	return s
}

// lookup resolves h without the switch lock.
func (hp *heap) lookup(h Handle) Traceable {
	if h.IsNil() {
		return nil
	}
	s := hp.at(h.index)
	if s == nil {
		return nil
	}
	gen := s.gen.Load()
	if gen != h.gen {
		return nil
	}
	box := s.obj.Load()
	if box == nil || s.gen.Load() != gen {
		return nil
	}
	return box.obj
}

// remove frees the slot of h and returns the recycler that makes the index
// reusable. The index must not be reused before the deleter runs it.
// Switch lock held.
func (hp *heap) remove(h Handle, s *slot) slotRecycler {
	s.obj.Store(nil)
	gen := s.gen.Load() + 1
	if gen == 0 {
		gen = 1
	}
	s.gen.Store(gen)
	s.hdr = Header{}
	hp.live--
	return slotRecycler{hp: hp, index: h.index}
}

// slotRecycler returns a slot index to the free list when reclaimed.
type slotRecycler struct {
	hp    *heap
	index uint32
}

func (r slotRecycler) Reclaim() { r.hp.pushFree(r.index) }
