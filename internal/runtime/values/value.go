// Package values implements the managed value kinds of the VM on top of the
// cycle collector. Every kind reports its owning edges through the
// collector's Traceable contract, and every mutation that changes an edge
// goes through a gc.Txn so the count change and the store happen under the
// same switch lock.
package values

import (
	"errors"
	"fmt"
	"math"

	"github.com/orizon-lang/rcgc/internal/runtime/gc"
)

// ErrWrongKind is the panic value when a handle does not refer to the kind
// an operation expects, or refers to a freed object.
var ErrWrongKind = errors.New("values: wrong kind")

// ErrIndex is returned for out-of-range element accesses.
var ErrIndex = errors.New("values: index out of range")

func init() {
	for _, k := range []struct {
		kind gc.Kind
		info gc.KindInfo
	}{
		{gc.KindList, gc.KindInfo{Name: "list"}},
		{gc.KindMap, gc.KindInfo{Name: "map"}},
		{gc.KindTuple, gc.KindInfo{Name: "tuple"}},
		{gc.KindRoutine, gc.KindInfo{Name: "routine", DelayScan: true}},
		{gc.KindClass, gc.KindInfo{Name: "class", DelayScan: true}},
		{gc.KindNamespace, gc.KindInfo{Name: "namespace", DelayScan: true}},
		{gc.KindObject, gc.KindInfo{Name: "object"}},
		{gc.KindNativeData, gc.KindInfo{Name: "cdata"}},
		{gc.KindFrame, gc.KindInfo{Name: "frame"}},
		{gc.KindFuture, gc.KindInfo{Name: "future"}},
		{gc.KindType, gc.KindInfo{Name: "type", DelayScan: true}},
		{gc.KindArray, gc.KindInfo{Name: "array", Leaf: true}},
		{gc.KindString, gc.KindInfo{Name: "string", Leaf: true}},
	} {
		gc.RegisterKind(k.kind, k.info)
	}
}

// Type tags the payload of a Value.
type Type uint8

const (
	TypeNone Type = iota
	TypeInt
	TypeFloat
	TypeRef
)

func (t Type) String() string {
	switch t {
	case TypeNone:
		return "none"
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeRef:
		return "ref"
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// Value is an unboxed scalar or a reference to a managed object. A Value
// stored in a container owns its reference; a Value held by the caller
// does not, unless the caller says so.
type Value struct {
	Type Type
	I    int64
	F    float64
	Ref  gc.Handle
}

var None = Value{}

func Int(i int64) Value     { return Value{Type: TypeInt, I: i} }
func Float(f float64) Value { return Value{Type: TypeFloat, F: f} }
func Ref(h gc.Handle) Value {
	if h.IsNil() {
		return None
	}
	return Value{Type: TypeRef, Ref: h}
}

func (v Value) IsRef() bool { return v.Type == TypeRef }

func (v Value) String() string {
	switch v.Type {
	case TypeInt:
		return fmt.Sprint(v.I)
	case TypeFloat:
		if math.IsInf(v.F, 0) || math.IsNaN(v.F) {
			return fmt.Sprint(v.F)
		}
		return fmt.Sprintf("%g", v.F)
	case TypeRef:
		return v.Ref.String()
	}
	return "none"
}

// storeValue overwrites *dst with v, retaining the new reference and
// releasing the old one.
func storeValue(tx *gc.Txn, dst *Value, v Value) {
	if v.Type == TypeRef {
		tx.Store(&dst.Ref, v.Ref)
	} else {
		tx.Store(&dst.Ref, gc.Handle{})
	}
	dst.Type, dst.I, dst.F = v.Type, v.I, v.F
}

// edger is implemented by every kind: edges visits each owning slot.
type edger interface {
	edges(visit func(*gc.Handle))
}

func visitValues(vs []Value, visit func(*gc.Handle)) {
	for i := range vs {
		if vs[i].Type == TypeRef {
			visit(&vs[i].Ref)
		}
	}
}

func forEach(e edger, fn func(gc.Handle)) {
	e.edges(func(h *gc.Handle) {
		if !h.IsNil() {
			fn(*h)
		}
	})
}

func breakAll(e edger, release func(gc.Handle)) {
	e.edges(func(h *gc.Handle) {
		if old := *h; !old.IsNil() {
			*h = gc.Handle{}
			release(old)
		}
	})
}

func get[T gc.Traceable](tx *gc.Txn, h gc.Handle) T {
	obj := tx.Get(h)
	v, ok := obj.(T)
	if !ok {
		var want T
		panic(fmt.Errorf("%w: %v holds %T, want %T", ErrWrongKind, h, obj, want))
	}
	return v
}

func checkIndex(i, n int) error {
	if i < 0 || i >= n {
		return fmt.Errorf("%w: %d of %d", ErrIndex, i, n)
	}
	return nil
}
