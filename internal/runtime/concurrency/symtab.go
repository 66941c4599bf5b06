// Package concurrency holds the lock-free structures shared by the runtime:
// the symbol table behind namespaces and the bounded handoff ring.
package concurrency

import (
	"hash/fnv"
	"sync"
	"sync/atomic"

	"github.com/orizon-lang/rcgc/internal/allocator"
	"github.com/orizon-lang/rcgc/internal/runtime/deleter"
)

// Retirer defers reclamation of memory a lock-free reader may still see.
// Both *deleter.Deleter and the collector satisfy it.
type Retirer interface {
	Retire(deleter.Reclaimable)
}

// SymbolTable maps names to values. Lookups are lock-free and run inside a
// deleter reader guard; writers serialize on a mutex. Key bytes live in
// allocator blocks, and a removed entry's block is retired rather than
// reclaimed so that a reader still walking the chain never sees reused
// memory.
type SymbolTable[V any] struct {
	buckets []atomic.Pointer[entry[V]]
	mask    uint64

	mu     sync.Mutex
	alloc  *allocator.Allocator
	retire Retirer
	n      atomic.Int64
}

type entry[V any] struct {
	hash uint64
	key  *allocator.Block
	val  atomic.Pointer[V]
	next atomic.Pointer[entry[V]]
}

func (e *entry[V]) is(hash uint64, key string) bool {
	return e.hash == hash && string(e.key.Bytes()) == key
}

// NewSymbolTable creates a table with the bucket count rounded up to a power
// of two.
func NewSymbolTable[V any](buckets uint64, a *allocator.Allocator, r Retirer) *SymbolTable[V] {
	n := uint64(2)
	for n < buckets {
		n <<= 1
	}
	return &SymbolTable[V]{
		buckets: make([]atomic.Pointer[entry[V]], n),
		mask:    n - 1,
		alloc:   a,
		retire:  r,
	}
}

func hashKey(key string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return h.Sum64()
}

func (t *SymbolTable[V]) find(hash uint64, key string) *entry[V] {
	for e := t.buckets[hash&t.mask].Load(); e != nil; e = e.next.Load() {
		if e.is(hash, key) {
			return e
		}
	}
	return nil
}

// Lookup returns the value bound to key.
func (t *SymbolTable[V]) Lookup(r *deleter.Reader, key string) (V, bool) {
	r.Enter()
	defer r.Exit()

	var zero V
	e := t.find(hashKey(key), key)
	if e == nil {
		return zero, false
	}
	return *e.val.Load(), true
}

// Store binds key to v, inserting the key if absent.
func (t *SymbolTable[V]) Store(key string, v V) error {
	_, _, err := t.store(key, v, true)
	return err
}

// LoadOrStore returns the existing value for key, or binds v and returns it.
func (t *SymbolTable[V]) LoadOrStore(key string, v V) (actual V, loaded bool, err error) {
	return t.store(key, v, false)
}

func (t *SymbolTable[V]) store(key string, v V, overwrite bool) (V, bool, error) {
	h := hashKey(key)
	t.mu.Lock()
	defer t.mu.Unlock()

	if e := t.find(h, key); e != nil {
		if !overwrite {
			return *e.val.Load(), true, nil
		}
		e.val.Store(&v)
		return v, true, nil
	}

	b, err := t.alloc.Alloc(len(key))
	if err != nil {
		var zero V
		return zero, false, err
	}
	copy(b.Bytes(), key)
	e := &entry[V]{hash: h, key: b}
	e.val.Store(&v)
	head := &t.buckets[h&t.mask]
	e.next.Store(head.Load())
	head.Store(e)
	t.n.Add(1)
	return v, false, nil
}

// Delete unbinds key and reports whether it was present.
func (t *SymbolTable[V]) Delete(key string) bool {
	h := hashKey(key)
	t.mu.Lock()
	defer t.mu.Unlock()

	prev := &t.buckets[h&t.mask]
	for e := prev.Load(); e != nil; e = e.next.Load() {
		if e.is(h, key) {
			prev.Store(e.next.Load())
			t.retire.Retire(e.key)
			t.n.Add(-1)
			return true
		}
		prev = &e.next
	}
	return false
}

// Range calls fn for every binding until fn returns false. The key passed
// to fn is a copy and may be retained.
func (t *SymbolTable[V]) Range(r *deleter.Reader, fn func(key string, v V) bool) {
	r.Enter()
	defer r.Exit()
	for i := range t.buckets {
		for e := t.buckets[i].Load(); e != nil; e = e.next.Load() {
			if !fn(string(e.key.Bytes()), *e.val.Load()) {
				return
			}
		}
	}
}

func (t *SymbolTable[V]) Len() int { return int(t.n.Load()) }

// Clear unbinds every key.
func (t *SymbolTable[V]) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.buckets {
		for e := t.buckets[i].Swap(nil); e != nil; e = e.next.Load() {
			t.retire.Retire(e.key)
		}
	}
	t.n.Store(0)
}
