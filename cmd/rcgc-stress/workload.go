package main

import (
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"

	"github.com/orizon-lang/rcgc/internal/runtime/concurrency"
	"github.com/orizon-lang/rcgc/internal/runtime/gc"
	"github.com/orizon-lang/rcgc/internal/runtime/values"
)

// workload builds garbage on a space. Each call builds one graph, drops
// every external reference to it and reports how many objects it made.
type workload func(ctx context.Context, s *values.Space, r *rand.Rand) (int, error)

var workloads = map[string]workload{
	"ring":      ringWorkload,
	"tree":      treeWorkload,
	"mlt":       mapListTupleWorkload,
	"namespace": namespaceWorkload,
	"array":     arrayWorkload,
}

func ringWorkload(ctx context.Context, s *values.Space, r *rand.Rand) (int, error) {
	n := 2 + r.Intn(14)
	ring := make([]gc.Handle, n)
	for i := range ring {
		ring[i] = s.NewList()
	}
	for i := range ring {
		s.Append(ring[i], values.Ref(ring[(i+1)%n]), values.Int(int64(i)))
	}
	for _, h := range ring {
		s.Collector().ReleaseCtx(ctx, h)
	}
	return n, nil
}

// treeWorkload builds a map tree whose leaves point back at the root.
func treeWorkload(ctx context.Context, s *values.Space, r *rand.Rand) (int, error) {
	root := s.NewMap()
	made := 1
	var grow func(parent gc.Handle, depth int)
	grow = func(parent gc.Handle, depth int) {
		for i := 0; i < 3; i++ {
			child := s.NewMap()
			made++
			s.MapSet(parent, values.Int(int64(i)), values.Ref(child))
			if depth > 0 {
				grow(child, depth-1)
			} else if r.Intn(2) == 0 {
				s.MapSet(child, values.Int(-1), values.Ref(root))
			}
			s.Collector().ReleaseCtx(ctx, child)
		}
	}
	grow(root, 1+r.Intn(3))
	s.Collector().ReleaseCtx(ctx, root)
	return made, nil
}

// mapListTupleWorkload builds map -> list -> tuple -> map.
func mapListTupleWorkload(ctx context.Context, s *values.Space, _ *rand.Rand) (int, error) {
	m := s.NewMap()
	l := s.NewList()
	t := s.NewTuple(values.None)
	s.MapSet(m, values.Int(0), values.Ref(l))
	s.Append(l, values.Ref(t))
	if err := s.TupleSet(t, 0, values.Ref(m)); err != nil {
		return 0, err
	}
	s.Collector().ReleaseAllCtx(ctx, []gc.Handle{m, l, t})
	return 3, nil
}

func namespaceWorkload(ctx context.Context, s *values.Space, r *rand.Rand) (int, error) {
	rd := s.NewReader()
	defer rd.Close()

	ns := s.NewNamespace("stress")
	made := 1
	for i := 0; i < 1+r.Intn(4); i++ {
		name := fmt.Sprintf("fn%d", i)
		fn := s.NewRoutine(name, ns, values.Int(int64(i)))
		made++
		if err := s.Define(ns, name, values.Ref(fn)); err != nil {
			return made, err
		}
		s.Collector().ReleaseCtx(ctx, fn)
	}
	if v, ok := s.Resolve(rd, ns, "fn0"); !ok || !v.IsRef() {
		return made, fmt.Errorf("fn0 did not resolve")
	}
	s.Collector().ReleaseCtx(ctx, ns)
	return made, nil
}

func arrayWorkload(ctx context.Context, s *values.Space, r *rand.Rand) (int, error) {
	arr, err := s.NewArray(1 + r.Intn(4096))
	if err != nil {
		return 0, err
	}
	l := s.NewList(values.Ref(arr), values.None)
	if err := s.ListSet(l, 1, values.Ref(l)); err != nil {
		return 2, err
	}
	s.Collector().ReleaseAllCtx(ctx, []gc.Handle{arr, l})
	return 2, nil
}

// handoff passes freshly built pairs from producers to consumers, which
// release them, so that objects are dropped on a different goroutine from
// the one that made them.
type handoff struct {
	q       *concurrency.Ring[gc.Handle]
	pending atomic.Int64
}

func newHandoff(capacity uint64) *handoff {
	return &handoff{q: concurrency.NewRing[gc.Handle](capacity)}
}

func (h *handoff) produce(ctx context.Context, s *values.Space) (int, error) {
	a := s.NewList()
	b := s.NewList()
	s.Append(a, values.Ref(b))
	s.Append(b, values.Ref(a))
	s.Collector().ReleaseCtx(ctx, b)
	for !h.q.TryPush(a) {
		if err := ctx.Err(); err != nil {
			s.Collector().Release(a)
			return 2, err
		}
		h.drain(ctx, s)
	}
	h.pending.Add(1)
	return 2, nil
}

func (h *handoff) drain(ctx context.Context, s *values.Space) {
	for {
		v, ok := h.q.TryPop()
		if !ok {
			return
		}
		h.pending.Add(-1)
		s.Collector().ReleaseCtx(ctx, v)
	}
}
