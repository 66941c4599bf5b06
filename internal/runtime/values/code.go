package values

import (
	"fmt"
	"sync/atomic"

	"github.com/orizon-lang/rcgc/internal/runtime/concurrency"
	"github.com/orizon-lang/rcgc/internal/runtime/deleter"
	"github.com/orizon-lang/rcgc/internal/runtime/gc"
)

// Namespace binds names to values. Names resolve through a lock-free symbol
// table to an index into the value slots, so a resolver never takes the
// switch lock to find a name.
type Namespace struct {
	name    string
	symbols *concurrency.SymbolTable[int]
	slots   []Value
}

func (n *Namespace) Kind() gc.Kind                         { return gc.KindNamespace }
func (n *Namespace) edges(visit func(*gc.Handle))          { visitValues(n.slots, visit) }
func (n *Namespace) ForEachChild(fn func(gc.Handle))       { forEach(n, fn) }
func (n *Namespace) BreakChildren(release func(gc.Handle)) { breakAll(n, release) }
func (n *Namespace) FinalizePayload()                      { n.symbols.Clear() }
func (n *Namespace) Weight() int                           { return len(n.slots) + 1 }

func (s *Space) NewNamespace(name string) gc.Handle {
	return s.newObject(&Namespace{
		name:    name,
		symbols: concurrency.NewSymbolTable[int](16, s.alloc, s.gc),
	}, nil)
}

// Define binds name to v in ns, replacing an earlier binding.
func (s *Space) Define(ns gc.Handle, name string, v Value) (err error) {
	s.gc.Update(func(tx *gc.Txn) {
		n := get[*Namespace](tx, ns)
		var i int
		var loaded bool
		i, loaded, err = n.symbols.LoadOrStore(name, len(n.slots))
		if err != nil {
			return
		}
		if !loaded {
			n.slots = append(n.slots, Value{})
		}
		storeValue(tx, &n.slots[i], v)
	})
	return err
}

// Resolve looks name up in ns. The symbol lookup runs under r's guard; only
// the slot read takes the switch lock. A reference in the result is
// borrowed.
func (s *Space) Resolve(r *deleter.Reader, ns gc.Handle, name string) (v Value, ok bool) {
	n, isNS := s.gc.Get(ns).(*Namespace)
	if !isNS {
		panic(fmt.Errorf("%w: %v is not a namespace", ErrWrongKind, ns))
	}
	i, ok := n.symbols.Lookup(r, name)
	if !ok {
		return None, false
	}
	s.gc.View(func(tx *gc.Txn) {
		v = get[*Namespace](tx, ns).slots[i]
	})
	return v, true
}

// Symbols lists the names bound in ns.
func (s *Space) Symbols(r *deleter.Reader, ns gc.Handle) []string {
	n, isNS := s.gc.Get(ns).(*Namespace)
	if !isNS {
		panic(fmt.Errorf("%w: %v is not a namespace", ErrWrongKind, ns))
	}
	names := make([]string, 0, n.symbols.Len())
	n.symbols.Range(r, func(name string, _ int) bool {
		names = append(names, name)
		return true
	})
	return names
}

// Routine is a callable. It refers to the namespace it was defined in and
// to its constant table.
type Routine struct {
	name   string
	ns     gc.Handle
	consts []Value
}

func (r *Routine) Kind() gc.Kind { return gc.KindRoutine }
func (r *Routine) edges(visit func(*gc.Handle)) {
	visit(&r.ns)
	visitValues(r.consts, visit)
}
func (r *Routine) ForEachChild(fn func(gc.Handle))       { forEach(r, fn) }
func (r *Routine) BreakChildren(release func(gc.Handle)) { breakAll(r, release) }
func (r *Routine) FinalizePayload()                      {}

func (r *Routine) Name() string { return r.name }

func (s *Space) NewRoutine(name string, ns gc.Handle, consts ...Value) gc.Handle {
	r := &Routine{name: name, consts: make([]Value, len(consts))}
	return s.newObject(r, func(tx *gc.Txn) {
		tx.Store(&r.ns, ns)
		for i, v := range consts {
			storeValue(tx, &r.consts[i], v)
		}
	})
}

// Class owns a member namespace and refers to its parent class.
type Class struct {
	name    string
	members gc.Handle
	parent  gc.Handle
}

func (c *Class) Kind() gc.Kind { return gc.KindClass }
func (c *Class) edges(visit func(*gc.Handle)) {
	visit(&c.members)
	visit(&c.parent)
}
func (c *Class) ForEachChild(fn func(gc.Handle))       { forEach(c, fn) }
func (c *Class) BreakChildren(release func(gc.Handle)) { breakAll(c, release) }
func (c *Class) FinalizePayload()                      {}

// NewClass creates a class with an empty member namespace.
func (s *Space) NewClass(name string, parent gc.Handle) gc.Handle {
	members := s.NewNamespace(name)
	c := &Class{name: name}
	h := s.newObject(c, func(tx *gc.Txn) {
		tx.Store(&c.members, members)
		tx.Store(&c.parent, parent)
		tx.Release(members)
	})
	return h
}

// Members returns the member namespace of class, borrowed.
func (s *Space) Members(class gc.Handle) (ns gc.Handle) {
	s.gc.View(func(tx *gc.Txn) { ns = get[*Class](tx, class).members })
	return ns
}

// Object is a class instance.
type Object struct {
	class  gc.Handle
	fields []Value
}

func (o *Object) Kind() gc.Kind { return gc.KindObject }
func (o *Object) edges(visit func(*gc.Handle)) {
	visit(&o.class)
	visitValues(o.fields, visit)
}
func (o *Object) ForEachChild(fn func(gc.Handle))       { forEach(o, fn) }
func (o *Object) BreakChildren(release func(gc.Handle)) { breakAll(o, release) }
func (o *Object) FinalizePayload()                      {}
func (o *Object) Weight() int                           { return len(o.fields) + 1 }

func (s *Space) NewObject(class gc.Handle, fields int) gc.Handle {
	o := &Object{fields: make([]Value, fields)}
	return s.newObject(o, func(tx *gc.Txn) { tx.Store(&o.class, class) })
}

func (s *Space) SetField(obj gc.Handle, i int, v Value) (err error) {
	s.gc.Update(func(tx *gc.Txn) {
		o := get[*Object](tx, obj)
		if err = checkIndex(i, len(o.fields)); err == nil {
			storeValue(tx, &o.fields[i], v)
		}
	})
	return err
}

func (s *Space) Field(obj gc.Handle, i int) (v Value, err error) {
	s.gc.View(func(tx *gc.Txn) {
		o := get[*Object](tx, obj)
		if err = checkIndex(i, len(o.fields)); err == nil {
			v = o.fields[i]
		}
	})
	return v, err
}

// Frame is an activation record: the routine it runs, the calling frame
// and its locals. A frame is running from the moment the interpreter enters
// it until it returns or suspends.
type Frame struct {
	routine gc.Handle
	caller  gc.Handle
	locals  []Value
	running atomic.Bool
}

func (f *Frame) Kind() gc.Kind  { return gc.KindFrame }
func (f *Frame) Running() bool { return f.running.Load() }
func (f *Frame) edges(visit func(*gc.Handle)) {
	visit(&f.routine)
	visit(&f.caller)
	visitValues(f.locals, visit)
}
func (f *Frame) ForEachChild(fn func(gc.Handle))       { forEach(f, fn) }
func (f *Frame) BreakChildren(release func(gc.Handle)) { breakAll(f, release) }
func (f *Frame) FinalizePayload()                      {}

func (s *Space) NewFrame(routine, caller gc.Handle, locals int) gc.Handle {
	f := &Frame{locals: make([]Value, locals)}
	return s.newObject(f, func(tx *gc.Txn) {
		tx.Store(&f.routine, routine)
		tx.Store(&f.caller, caller)
	})
}

// SetRunning flags frame as executing or not. The collector leaves running
// frames to full scans.
func (s *Space) SetRunning(frame gc.Handle, on bool) {
	s.gc.View(func(tx *gc.Txn) {
		get[*Frame](tx, frame).running.Store(on)
	})
}

func (s *Space) SetLocal(frame gc.Handle, i int, v Value) (err error) {
	s.gc.Update(func(tx *gc.Txn) {
		f := get[*Frame](tx, frame)
		if err = checkIndex(i, len(f.locals)); err == nil {
			storeValue(tx, &f.locals[i], v)
		}
	})
	return err
}

func (s *Space) Local(frame gc.Handle, i int) (v Value, err error) {
	s.gc.View(func(tx *gc.Txn) {
		f := get[*Frame](tx, frame)
		if err = checkIndex(i, len(f.locals)); err == nil {
			v = f.locals[i]
		}
	})
	return v, err
}

// Future is the result of an asynchronous routine. Until it is fulfilled
// it holds the frames waiting on it and the future it depends on.
type Future struct {
	done    bool
	value   Value
	precond gc.Handle
	waiters []gc.Handle
}

func (f *Future) Kind() gc.Kind { return gc.KindFuture }
func (f *Future) edges(visit func(*gc.Handle)) {
	if f.value.Type == TypeRef {
		visit(&f.value.Ref)
	}
	visit(&f.precond)
	for i := range f.waiters {
		visit(&f.waiters[i])
	}
}
func (f *Future) ForEachChild(fn func(gc.Handle))       { forEach(f, fn) }
func (f *Future) BreakChildren(release func(gc.Handle)) { breakAll(f, release) }
func (f *Future) FinalizePayload()                      { f.waiters = nil }

func (s *Space) NewFuture(precond gc.Handle) gc.Handle {
	f := &Future{}
	return s.newObject(f, func(tx *gc.Txn) { tx.Store(&f.precond, precond) })
}

// Await registers frame as waiting on future.
func (s *Space) Await(future, frame gc.Handle) {
	s.gc.Update(func(tx *gc.Txn) {
		f := get[*Future](tx, future)
		f.waiters = append(f.waiters, gc.Handle{})
		tx.Store(&f.waiters[len(f.waiters)-1], frame)
	})
}

// Fulfill stores the result and drops the waiters and the precondition.
// It returns the waiting frames, each owned by the caller.
func (s *Space) Fulfill(future gc.Handle, v Value) (woken []gc.Handle, ok bool) {
	s.gc.Update(func(tx *gc.Txn) {
		f := get[*Future](tx, future)
		if f.done {
			return
		}
		f.done, ok = true, true
		storeValue(tx, &f.value, v)
		tx.Store(&f.precond, gc.Handle{})
		for i := range f.waiters {
			tx.Retain(f.waiters[i])
			woken = append(woken, f.waiters[i])
			tx.Store(&f.waiters[i], gc.Handle{})
		}
		f.waiters = nil
	})
	return woken, ok
}

func (s *Space) FutureValue(future gc.Handle) (v Value, done bool) {
	s.gc.View(func(tx *gc.Txn) {
		f := get[*Future](tx, future)
		v, done = f.value, f.done
	})
	return v, done
}

// TypeDesc describes a value type; generic types refer to their parameters.
type TypeDesc struct {
	name   string
	params []gc.Handle
}

func (t *TypeDesc) Kind() gc.Kind { return gc.KindType }
func (t *TypeDesc) edges(visit func(*gc.Handle)) {
	for i := range t.params {
		visit(&t.params[i])
	}
}
func (t *TypeDesc) ForEachChild(fn func(gc.Handle))       { forEach(t, fn) }
func (t *TypeDesc) BreakChildren(release func(gc.Handle)) { breakAll(t, release) }
func (t *TypeDesc) FinalizePayload()                      {}

func (t *TypeDesc) Name() string { return t.name }

func (s *Space) NewType(name string, params ...gc.Handle) gc.Handle {
	t := &TypeDesc{name: name, params: make([]gc.Handle, len(params))}
	return s.newObject(t, func(tx *gc.Txn) {
		for i, p := range params {
			tx.Store(&t.params[i], p)
		}
	})
}

// SetParam rebinds the i-th parameter of a type, which is how a recursive
// type refers back to itself.
func (s *Space) SetParam(typ gc.Handle, i int, p gc.Handle) (err error) {
	s.gc.Update(func(tx *gc.Txn) {
		t := get[*TypeDesc](tx, typ)
		if err = checkIndex(i, len(t.params)); err == nil {
			tx.Store(&t.params[i], p)
		}
	})
	return err
}
