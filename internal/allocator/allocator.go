// Package allocator provides the raw payload blocks behind managed values.
// Small requests are served from size-classed pools and large ones from
// anonymous memory mappings where the platform supports them. Blocks are
// never returned directly: the collector retires them to its deferred
// deleter, which calls Reclaim once no lock-free reader can see them.
package allocator

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// Size classes for pooled blocks.
const (
	SizeClassTiny   = 64
	SizeClassSmall  = 128
	SizeClassMedium = 256
	SizeClassLarge  = 512
	SizeClassHuge   = 1024
)

// DefaultMmapThreshold is the request size from which blocks are mapped.
const DefaultMmapThreshold = 64 * 1024

// Config configures an Allocator.
type Config struct {
	SizeClasses   []int
	MmapThreshold int // 0 disables mapping
	MemoryLimit   int // bytes in use; 0 means unlimited
}

type Option func(*Config)

func defaultConfig() *Config {
	return &Config{
		SizeClasses:   []int{SizeClassTiny, SizeClassSmall, SizeClassMedium, SizeClassLarge, SizeClassHuge},
		MmapThreshold: DefaultMmapThreshold,
	}
}

func WithSizeClasses(sizes []int) Option {
	return func(c *Config) { c.SizeClasses = append([]int(nil), sizes...) }
}

func WithMmapThreshold(n int) Option {
	return func(c *Config) { c.MmapThreshold = n }
}

func WithMemoryLimit(limit int) Option {
	return func(c *Config) { c.MemoryLimit = limit }
}

// ErrMemoryLimit is returned when an allocation would exceed the limit.
var ErrMemoryLimit = fmt.Errorf("allocator: memory limit exceeded")

// Block is one payload allocation.
type Block struct {
	buf    []byte
	n      int
	class  int // index into the size classes, or -1
	mapped bool
	a      *Allocator
	freed  atomic.Bool
}

// Bytes returns the usable bytes of the block.
func (b *Block) Bytes() []byte { return b.buf[:b.n] }

func (b *Block) Len() int { return b.n }

// Reclaim gives the block back to its allocator. Reclaiming a block twice
// panics.
func (b *Block) Reclaim() {
	if !b.freed.CompareAndSwap(false, true) {
		panic("allocator: block reclaimed twice")
	}
	b.a.release(b)
}

type sizePool struct {
	size int
	pool sync.Pool
}

// Allocator hands out Blocks. It is safe for concurrent use.
type Allocator struct {
	config *Config
	pools  []*sizePool

	allocCount  atomic.Uint64
	freeCount   atomic.Uint64
	active      atomic.Int64
	bytesInUse  atomic.Int64
	peakActive  atomic.Int64
	mappedBytes atomic.Int64
}

// New creates an allocator.
func New(options ...Option) *Allocator {
	config := defaultConfig()
	for _, opt := range options {
		opt(config)
	}
	sort.Ints(config.SizeClasses)

	a := &Allocator{config: config}
	for _, size := range config.SizeClasses {
		sp := &sizePool{size: size}
		sp.pool.New = func() any {
			buf := make([]byte, sp.size)
			return &buf
		}
		a.pools = append(a.pools, sp)
	}
	return a
}

func (a *Allocator) sizeClass(n int) int {
	for i, sp := range a.pools {
		if n <= sp.size {
			return i
		}
	}
	return -1
}

// Alloc returns a zeroed block of n bytes.
func (a *Allocator) Alloc(n int) (*Block, error) {
	if n < 0 {
		return nil, fmt.Errorf("allocator: negative size %d", n)
	}
	if lim := a.config.MemoryLimit; lim > 0 && a.bytesInUse.Load()+int64(n) > int64(lim) {
		return nil, fmt.Errorf("%w: %d bytes requested, %d in use", ErrMemoryLimit, n, a.bytesInUse.Load())
	}

	b := &Block{n: n, class: -1, a: a}
	switch {
	case a.config.MmapThreshold > 0 && n >= a.config.MmapThreshold:
		buf, err := mapBytes(n)
		if err != nil {
			b.buf = make([]byte, n)
		} else {
			b.buf = buf
			b.mapped = true
			a.mappedBytes.Add(int64(len(buf)))
		}
	default:
		if c := a.sizeClass(n); c >= 0 {
			bp := a.pools[c].pool.Get().(*[]byte)
			b.buf = *bp
			b.class = c
			clear(b.buf[:n])
		} else {
			b.buf = make([]byte, n)
		}
	}

	a.allocCount.Add(1)
	a.bytesInUse.Add(int64(n))
	if act := a.active.Add(1); act > a.peakActive.Load() {
		a.peakActive.Store(act)
	}
	return b, nil
}

// MustAlloc is Alloc for callers that treat exhaustion as fatal.
func (a *Allocator) MustAlloc(n int) *Block {
	b, err := a.Alloc(n)
	if err != nil {
		panic(err)
	}
	return b
}

func (a *Allocator) release(b *Block) {
	switch {
	case b.mapped:
		a.mappedBytes.Add(-int64(len(b.buf)))
		_ = unmapBytes(b.buf)
	case b.class >= 0:
		buf := b.buf
		a.pools[b.class].pool.Put(&buf)
	}
	b.buf = nil
	a.freeCount.Add(1)
	a.bytesInUse.Add(-int64(b.n))
	a.active.Add(-1)
}

// Stats provides allocation statistics.
type Stats struct {
	AllocationCount   uint64
	FreeCount         uint64
	ActiveAllocations int
	PeakAllocations   int
	BytesInUse        int
	MappedBytes       int
}

func (a *Allocator) Stats() Stats {
	return Stats{
		AllocationCount:   a.allocCount.Load(),
		FreeCount:         a.freeCount.Load(),
		ActiveAllocations: int(a.active.Load()),
		PeakAllocations:   int(a.peakActive.Load()),
		BytesInUse:        int(a.bytesInUse.Load()),
		MappedBytes:       int(a.mappedBytes.Load()),
	}
}
