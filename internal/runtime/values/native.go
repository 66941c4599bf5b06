package values

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/orizon-lang/rcgc/internal/allocator"
	"github.com/orizon-lang/rcgc/internal/runtime/concurrency"
	"github.com/orizon-lang/rcgc/internal/runtime/deleter"
	"github.com/orizon-lang/rcgc/internal/runtime/gc"
)

// NativeData wraps host memory. While the host pins it, the collector
// treats it as externally owned even if every managed owner is part of a
// garbage cycle.
type NativeData struct {
	typ      string
	buf      *allocator.Block
	owner    gc.Handle
	pins     atomic.Int32
	finalize func()
	once     sync.Once
}

func (n *NativeData) Kind() gc.Kind                         { return gc.KindNativeData }
func (n *NativeData) edges(visit func(*gc.Handle))          { visit(&n.owner) }
func (n *NativeData) ForEachChild(fn func(gc.Handle))       { forEach(n, fn) }
func (n *NativeData) BreakChildren(release func(gc.Handle)) { breakAll(n, release) }
func (n *NativeData) HostReferenced() bool                  { return n.pins.Load() > 0 }

func (n *NativeData) FinalizePayload() {
	n.once.Do(func() {
		if n.finalize != nil {
			n.finalize()
		}
	})
}

func (n *NativeData) TakeBlocks() []deleter.Reclaimable {
	if n.buf == nil {
		return nil
	}
	b := n.buf
	n.buf = nil
	return []deleter.Reclaimable{b}
}

func (n *NativeData) TypeName() string { return n.typ }

// NewNativeData allocates size bytes of host memory. owner, if not null, is
// the managed value the host object belongs to. finalize runs once, after
// the wrapper's edges have been broken.
func (s *Space) NewNativeData(typ string, size int, owner gc.Handle, finalize func()) (gc.Handle, error) {
	buf, err := s.newBlock(size)
	if err != nil {
		return gc.Handle{}, fmt.Errorf("native data %s: %w", typ, err)
	}
	n := &NativeData{typ: typ, buf: buf, finalize: finalize}
	return s.newObject(n, func(tx *gc.Txn) { tx.Store(&n.owner, owner) }), nil
}

func (s *Space) native(h gc.Handle) *NativeData {
	n, ok := s.gc.Get(h).(*NativeData)
	if !ok {
		panic(fmt.Errorf("%w: %v is not native data", ErrWrongKind, h))
	}
	return n
}

// Pin records a host-side reference to the wrapper.
func (s *Space) Pin(h gc.Handle) { s.native(h).pins.Add(1) }

func (s *Space) Unpin(h gc.Handle) {
	if s.native(h).pins.Add(-1) < 0 {
		panic(fmt.Sprintf("values: unbalanced unpin of %v", h))
	}
}

// NativeBytes returns the host memory of h. It is valid while h is owned.
func (s *Space) NativeBytes(h gc.Handle) []byte { return s.native(h).buf.Bytes() }

const float64Size = 8

// Array is a numeric array whose elements live in an allocator block. It
// owns no edges, and its block is retired as soon as the last owner lets
// go rather than when the collector frees the header.
type Array struct {
	n      int
	data   *allocator.Block
	retire concurrency.Retirer
}

func (a *Array) Kind() gc.Kind                     { return gc.KindArray }
func (a *Array) ForEachChild(func(gc.Handle))      {}
func (a *Array) BreakChildren(func(gc.Handle))     {}
func (a *Array) FinalizePayload()                  {}
func (a *Array) TakeBlocks() []deleter.Reclaimable { return a.take() }

func (a *Array) ShedPayload() {
	for _, b := range a.take() {
		a.retire.Retire(b)
	}
}

func (a *Array) take() []deleter.Reclaimable {
	if a.data == nil {
		return nil
	}
	b := a.data
	a.data = nil
	return []deleter.Reclaimable{b}
}

func (s *Space) NewArray(n int) (gc.Handle, error) {
	if n < 0 {
		return gc.Handle{}, fmt.Errorf("%w: array length %d", ErrIndex, n)
	}
	b, err := s.newBlock(n * float64Size)
	if err != nil {
		return gc.Handle{}, fmt.Errorf("array of %d: %w", n, err)
	}
	return s.newObject(&Array{n: n, data: b, retire: s.gc}, nil), nil
}

func (s *Space) ArraySet(arr gc.Handle, i int, f float64) (err error) {
	s.gc.View(func(tx *gc.Txn) {
		a := get[*Array](tx, arr)
		if err = checkIndex(i, a.n); err == nil {
			binary.LittleEndian.PutUint64(a.data.Bytes()[i*float64Size:], math.Float64bits(f))
		}
	})
	return err
}

func (s *Space) ArrayGet(arr gc.Handle, i int) (f float64, err error) {
	s.gc.View(func(tx *gc.Txn) {
		a := get[*Array](tx, arr)
		if err = checkIndex(i, a.n); err == nil {
			f = math.Float64frombits(binary.LittleEndian.Uint64(a.data.Bytes()[i*float64Size:]))
		}
	})
	return f, err
}

// String is an immutable byte string.
type String struct {
	data *allocator.Block
	n    int
}

func (s *String) Kind() gc.Kind                 { return gc.KindString }
func (s *String) ForEachChild(func(gc.Handle))  {}
func (s *String) BreakChildren(func(gc.Handle)) {}
func (s *String) FinalizePayload()              {}
func (s *String) Len() int                      { return s.n }

func (s *String) TakeBlocks() []deleter.Reclaimable {
	if s.data == nil {
		return nil
	}
	b := s.data
	s.data = nil
	return []deleter.Reclaimable{b}
}

func (s *Space) NewString(str string) (gc.Handle, error) {
	b, err := s.newBlock(len(str))
	if err != nil {
		return gc.Handle{}, fmt.Errorf("string of %d bytes: %w", len(str), err)
	}
	copy(b.Bytes(), str)
	return s.newObject(&String{data: b, n: len(str)}, nil), nil
}

// StringOf returns the contents of the string h.
func (s *Space) StringOf(h gc.Handle) string {
	str, ok := s.gc.Get(h).(*String)
	if !ok {
		panic(fmt.Errorf("%w: %v is not a string", ErrWrongKind, h))
	}
	return string(str.data.Bytes())
}
