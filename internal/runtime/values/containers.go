package values

import (
	"fmt"

	"github.com/orizon-lang/rcgc/internal/runtime/gc"
)

// List is a growable sequence of values.
type List struct {
	items []Value
}

func (l *List) Kind() gc.Kind                         { return gc.KindList }
func (l *List) edges(visit func(*gc.Handle))          { visitValues(l.items, visit) }
func (l *List) ForEachChild(fn func(gc.Handle))       { forEach(l, fn) }
func (l *List) BreakChildren(release func(gc.Handle)) { breakAll(l, release) }
func (l *List) FinalizePayload()                      { l.items = nil }
func (l *List) Weight() int                           { return len(l.items) + 1 }

func (s *Space) NewList(items ...Value) gc.Handle {
	l := &List{items: make([]Value, len(items))}
	return s.newObject(l, func(tx *gc.Txn) {
		for i, v := range items {
			storeValue(tx, &l.items[i], v)
		}
	})
}

func (s *Space) Append(list gc.Handle, vs ...Value) {
	s.gc.Update(func(tx *gc.Txn) {
		l := get[*List](tx, list)
		for _, v := range vs {
			l.items = append(l.items, Value{})
			storeValue(tx, &l.items[len(l.items)-1], v)
		}
	})
}

func (s *Space) ListSet(list gc.Handle, i int, v Value) (err error) {
	s.gc.Update(func(tx *gc.Txn) {
		l := get[*List](tx, list)
		if err = checkIndex(i, len(l.items)); err == nil {
			storeValue(tx, &l.items[i], v)
		}
	})
	return err
}

// ListGet returns the i-th element. A reference in the result is borrowed.
func (s *Space) ListGet(list gc.Handle, i int) (v Value, err error) {
	s.gc.View(func(tx *gc.Txn) {
		l := get[*List](tx, list)
		if err = checkIndex(i, len(l.items)); err == nil {
			v = l.items[i]
		}
	})
	return v, err
}

// Pop removes the last element. Ownership of a reference moves to the caller.
func (s *Space) Pop(list gc.Handle) (v Value, ok bool) {
	s.gc.Update(func(tx *gc.Txn) {
		l := get[*List](tx, list)
		if n := len(l.items); n > 0 {
			v, ok = l.items[n-1], true
			// Retain before dropping the edge so a running cycle sees the
			// new owner.
			tx.Retain(v.Ref)
			storeValue(tx, &l.items[n-1], None)
			l.items = l.items[:n-1]
		}
	})
	return v, ok
}

func (s *Space) Len(h gc.Handle) (n int) {
	s.gc.View(func(tx *gc.Txn) {
		switch obj := tx.Get(h).(type) {
		case *List:
			n = len(obj.items)
		case *Map:
			n = len(obj.keys)
		case *Tuple:
			n = len(obj.items)
		case *Array:
			n = obj.n
		case *String:
			n = obj.Len()
		default:
			panic(fmt.Errorf("%w: %v has no length", ErrWrongKind, h))
		}
	})
	return n
}

// Map is an insertion-ordered hash map from values to values.
type Map struct {
	keys  []Value
	vals  []Value
	index map[Value]int
}

func (m *Map) Kind() gc.Kind { return gc.KindMap }
func (m *Map) edges(visit func(*gc.Handle)) {
	visitValues(m.keys, visit)
	visitValues(m.vals, visit)
}
func (m *Map) ForEachChild(fn func(gc.Handle))       { forEach(m, fn) }
func (m *Map) BreakChildren(release func(gc.Handle)) { breakAll(m, release) }
func (m *Map) FinalizePayload()                      { m.keys, m.vals, m.index = nil, nil, nil }
func (m *Map) Weight() int                           { return 2*len(m.keys) + 1 }

func (s *Space) NewMap() gc.Handle {
	return s.newObject(&Map{index: make(map[Value]int)}, nil)
}

func (s *Space) MapSet(m gc.Handle, k, v Value) {
	s.gc.Update(func(tx *gc.Txn) {
		mp := get[*Map](tx, m)
		i, ok := mp.index[k]
		if !ok {
			i = len(mp.keys)
			mp.keys = append(mp.keys, Value{})
			mp.vals = append(mp.vals, Value{})
			storeValue(tx, &mp.keys[i], k)
			mp.index[k] = i
		}
		storeValue(tx, &mp.vals[i], v)
	})
}

func (s *Space) MapGet(m gc.Handle, k Value) (v Value, ok bool) {
	s.gc.View(func(tx *gc.Txn) {
		mp := get[*Map](tx, m)
		var i int
		if i, ok = mp.index[k]; ok {
			v = mp.vals[i]
		}
	})
	return v, ok
}

// MapDelete removes k, moving the last entry into its place.
func (s *Space) MapDelete(m gc.Handle, k Value) (ok bool) {
	s.gc.Update(func(tx *gc.Txn) {
		mp := get[*Map](tx, m)
		var i int
		if i, ok = mp.index[k]; !ok {
			return
		}
		delete(mp.index, k)
		storeValue(tx, &mp.keys[i], None)
		storeValue(tx, &mp.vals[i], None)
		last := len(mp.keys) - 1
		if i != last {
			mp.keys[i], mp.vals[i] = mp.keys[last], mp.vals[last]
			mp.index[mp.keys[i]] = i
		}
		mp.keys[last], mp.vals[last] = Value{}, Value{}
		mp.keys, mp.vals = mp.keys[:last], mp.vals[:last]
	})
	return ok
}

// Tuple is a fixed-size sequence of values.
type Tuple struct {
	items []Value
}

func (t *Tuple) Kind() gc.Kind                         { return gc.KindTuple }
func (t *Tuple) edges(visit func(*gc.Handle))          { visitValues(t.items, visit) }
func (t *Tuple) ForEachChild(fn func(gc.Handle))       { forEach(t, fn) }
func (t *Tuple) BreakChildren(release func(gc.Handle)) { breakAll(t, release) }
func (t *Tuple) FinalizePayload()                      {}
func (t *Tuple) Weight() int                           { return len(t.items) + 1 }

func (s *Space) NewTuple(items ...Value) gc.Handle {
	t := &Tuple{items: make([]Value, len(items))}
	return s.newObject(t, func(tx *gc.Txn) {
		for i, v := range items {
			storeValue(tx, &t.items[i], v)
		}
	})
}

func (s *Space) TupleSet(tuple gc.Handle, i int, v Value) (err error) {
	s.gc.Update(func(tx *gc.Txn) {
		t := get[*Tuple](tx, tuple)
		if err = checkIndex(i, len(t.items)); err == nil {
			storeValue(tx, &t.items[i], v)
		}
	})
	return err
}

func (s *Space) TupleGet(tuple gc.Handle, i int) (v Value, err error) {
	s.gc.View(func(tx *gc.Txn) {
		t := get[*Tuple](tx, tuple)
		if err = checkIndex(i, len(t.items)); err == nil {
			v = t.items[i]
		}
	})
	return v, err
}
