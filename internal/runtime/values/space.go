package values

import (
	"github.com/orizon-lang/rcgc/internal/allocator"
	"github.com/orizon-lang/rcgc/internal/runtime/deleter"
	"github.com/orizon-lang/rcgc/internal/runtime/gc"
)

// Space creates and mutates managed values on one collector. Constructors
// return a handle the caller owns and must eventually Release.
type Space struct {
	gc    *gc.Collector
	alloc *allocator.Allocator
}

func NewSpace(c *gc.Collector, a *allocator.Allocator) *Space {
	if a == nil {
		a = allocator.New()
	}
	return &Space{gc: c, alloc: a}
}

func (s *Space) Collector() *gc.Collector        { return s.gc }
func (s *Space) Allocator() *allocator.Allocator { return s.alloc }

// NewReader returns a guard for lock-free symbol lookups on this space.
func (s *Space) NewReader() *deleter.Reader { return s.gc.NewReader() }

func (s *Space) Retain(h gc.Handle)  { s.gc.Retain(h) }
func (s *Space) Release(h gc.Handle) { s.gc.Release(h) }

// KindOf reports the kind of h, or KindInvalid for a freed object.
func (s *Space) KindOf(h gc.Handle) gc.Kind {
	if obj := s.gc.Get(h); obj != nil {
		return obj.Kind()
	}
	return gc.KindInvalid
}

// newObject allocates obj owned by the caller and then stores the initial
// edges given by init, so that each one is retained through the collector.
func (s *Space) newObject(obj gc.Traceable, init func(tx *gc.Txn)) gc.Handle {
	h := s.gc.Alloc(obj, 1)
	if init != nil {
		s.gc.Update(init)
	}
	return h
}

func (s *Space) newBlock(n int) (*allocator.Block, error) {
	return s.alloc.Alloc(n)
}
