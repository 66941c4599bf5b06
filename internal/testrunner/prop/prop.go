// Package prop is a small property-based checker used by the runtime tests.
package prop

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math/rand"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"
)

// Generator produces a value of type T from a PRNG and a size hint.
type Generator[T any] func(r *rand.Rand, size int) T

// Shrinker produces smaller candidates that may still fail.
type Shrinker[T any] func(v T) []T

// Property1 is a unary property predicate.
type Property1[A any] func(a A) bool

// Options control property checking.
type Options struct {
	Trials          int           // number of trials
	Seed            int64         // random seed; 0 means time.Now().UnixNano()
	Size            int           // size hint for generators
	Parallelism     int           // number of workers; <=0 means GOMAXPROCS
	MaxShrinkRounds int           // limit for shrinking attempts
	MaxShrinkTime   time.Duration // wall time limit for shrinking; 0 to disable
}

// Result is the outcome of a property check.
type Result struct {
	PassedTrials int
	Failed       bool
	FailingInput any
	ShrunkInput  any
	Seed         int64
	Duration     time.Duration
	ShrinkRounds int
}

func (o *Options) defaults() {
	if o.Trials <= 0 {
		o.Trials = 100
	}
	if o.Seed == 0 {
		o.Seed = time.Now().UnixNano()
	}
	if o.Size <= 0 {
		o.Size = 30
	}
	if o.Parallelism <= 0 {
		o.Parallelism = max(runtime.GOMAXPROCS(0), 1)
	}
	if o.MaxShrinkRounds <= 0 {
		o.MaxShrinkRounds = 100
	}
}

type failure[A any] struct {
	trial int
	input A
}

func (f failure[A]) Error() string { return "property falsified" }

// ForAll1 checks prop against generated inputs on a pool of workers. The
// first falsifying input stops the run and is shrunk with shrinkA when it
// is not nil. Every trial seeds its own PRNG, so a failure reproduces from
// Result.Seed.
func ForAll1[A any](genA Generator[A], shrinkA Shrinker[A], prop Property1[A], opts Options) Result {
	start := time.Now()
	opts.defaults()

	trials := make(chan int)
	g, ctx := errgroup.WithContext(context.Background())
	g.Go(func() error {
		defer close(trials)
		for i := 0; i < opts.Trials; i++ {
			select {
			case trials <- i:
			case <-ctx.Done():
				return nil
			}
		}
		return nil
	})

	passed := make(chan struct{}, opts.Trials)
	for w := 0; w < opts.Parallelism; w++ {
		g.Go(func() error {
			for i := range trials {
				r := rand.New(rand.NewSource(deriveSeed(opts.Seed, i)))
				a := genA(r, opts.Size)
				if !prop(a) {
					return failure[A]{trial: i, input: a}
				}
				passed <- struct{}{}
			}
			return nil
		})
	}

	err := g.Wait()
	res := Result{Seed: opts.Seed, PassedTrials: len(passed)}
	if f, ok := err.(failure[A]); ok {
		res.Failed = true
		res.FailingInput = f.input
		if shrinkA != nil {
			res.ShrunkInput, res.ShrinkRounds = shrink(f.input, shrinkA, prop, opts)
		}
	}
	res.Duration = time.Since(start)
	return res
}

// shrink greedily walks to the smallest candidate that still fails.
func shrink[A any](best A, shrinkA Shrinker[A], prop Property1[A], opts Options) (A, int) {
	var deadline time.Time
	if opts.MaxShrinkTime > 0 {
		deadline = time.Now().Add(opts.MaxShrinkTime)
	}
	rounds := 0
	for rounds < opts.MaxShrinkRounds {
		if !deadline.IsZero() && time.Now().After(deadline) {
			break
		}
		progressed := false
		for _, c := range shrinkA(best) {
			if !prop(c) {
				best = c
				progressed = true
				break
			}
		}
		rounds++
		if !progressed {
			break
		}
	}
	return best, rounds
}

// deriveSeed mixes the base seed with a trial index via SHA-256.
func deriveSeed(base int64, idx int) int64 {
	var b [16]byte
	binary.LittleEndian.PutUint64(b[0:8], uint64(base))
	binary.LittleEndian.PutUint64(b[8:16], uint64(idx))
	h := sha256.Sum256(b[:])
	return int64(binary.LittleEndian.Uint64(h[0:8]))
}
