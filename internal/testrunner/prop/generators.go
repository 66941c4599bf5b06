package prop

import (
	"fmt"
	"math/rand"
)

// GenInt returns a generator for ints in [-2^size, 2^size).
func GenInt() Generator[int] {
	return func(r *rand.Rand, size int) int {
		bound := 1 << min(max(size, 1), 30)
		return r.Intn(2*bound) - bound
	}
}

// ShrinkInt moves toward zero.
func ShrinkInt() Shrinker[int] {
	return func(v int) []int {
		switch {
		case v == 0:
			return nil
		case v > 0:
			return dedup([]int{0, v / 2, v - 1})
		default:
			return dedup([]int{0, v / 2, v + 1})
		}
	}
}

func dedup(xs []int) []int {
	seen := make(map[int]bool, len(xs))
	out := xs[:0]
	for _, x := range xs {
		if !seen[x] {
			seen[x] = true
			out = append(out, x)
		}
	}
	return out
}

// GenSlice returns a slice generator with up to size elements.
func GenSlice[T any](elem Generator[T]) Generator[[]T] {
	return func(r *rand.Rand, size int) []T {
		out := make([]T, r.Intn(max(0, size)+1))
		for i := range out {
			out[i] = elem(r, size)
		}
		return out
	}
}

// ShrinkSlice drops either half, or shrinks the head element.
func ShrinkSlice[T any](elem Shrinker[T]) Shrinker[[]T] {
	return func(v []T) [][]T {
		if len(v) == 0 {
			return nil
		}
		mid := len(v) / 2
		out := [][]T{
			append([]T(nil), v[:mid]...),
			append([]T(nil), v[mid:]...),
		}
		if elem != nil {
			for _, s := range elem(v[0]) {
				out = append(out, append([]T{s}, v[1:]...))
			}
		}
		return out
	}
}

// OpCode names a reference-count operation.
type OpCode uint8

const (
	OpRetain OpCode = iota
	OpRelease
	OpReplace
)

// Op is one step of a generated mutator trace. Obj indexes the object the
// op applies to; Slot indexes the owning slot written by OpReplace, where
// Obj < 0 stores the null handle.
type Op struct {
	Code OpCode
	Obj  int
	Slot int
}

func (o Op) String() string {
	switch o.Code {
	case OpRetain:
		return fmt.Sprintf("retain(%d)", o.Obj)
	case OpRelease:
		return fmt.Sprintf("release(%d)", o.Obj)
	default:
		return fmt.Sprintf("slot[%d]=%d", o.Slot, o.Obj)
	}
}

// GenOps generates traces over the given number of objects and slots.
func GenOps(objects, slots int) Generator[[]Op] {
	op := func(r *rand.Rand, _ int) Op {
		o := Op{Code: OpCode(r.Intn(3)), Obj: r.Intn(objects)}
		if o.Code == OpReplace {
			o.Slot = r.Intn(slots)
			if r.Intn(4) == 0 {
				o.Obj = -1
			}
		}
		return o
	}
	return GenSlice(op)
}

// ShrinkOps shortens traces.
func ShrinkOps() Shrinker[[]Op] { return ShrinkSlice[Op](nil) }

// Graph is a random ownership graph. Edges are (from, to) node pairs and
// Roots are the nodes held from outside the graph.
type Graph struct {
	Nodes int
	Edges [][2]int
	Roots []int
}

// GenGraph generates graphs of up to maxNodes nodes, with cycles and self
// edges allowed.
func GenGraph(maxNodes int) Generator[Graph] {
	return func(r *rand.Rand, size int) Graph {
		g := Graph{Nodes: 1 + r.Intn(maxNodes)}
		for i := r.Intn(2*g.Nodes + 1); i > 0; i-- {
			g.Edges = append(g.Edges, [2]int{r.Intn(g.Nodes), r.Intn(g.Nodes)})
		}
		for n := 0; n < g.Nodes; n++ {
			if r.Intn(4) == 0 {
				g.Roots = append(g.Roots, n)
			}
		}
		return g
	}
}

// Reachable returns the set of nodes reachable from the roots of g.
func (g Graph) Reachable() map[int]bool {
	adj := make([][]int, g.Nodes)
	for _, e := range g.Edges {
		adj[e[0]] = append(adj[e[0]], e[1])
	}
	seen := make(map[int]bool)
	stack := append([]int(nil), g.Roots...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[n] {
			continue
		}
		seen[n] = true
		stack = append(stack, adj[n]...)
	}
	return seen
}
