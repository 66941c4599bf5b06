package gc

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/orizon-lang/rcgc/internal/runtime/deleter"
)

// Collector owns a managed heap and reclaims its garbage, including cyclic
// garbage. All exported methods are safe for concurrent use.
type Collector struct {
	cfg Config
	log *slog.Logger

	// mu is the switch lock. It guards the pools, every header field and
	// every container slot that holds a Handle.
	mu     sync.Mutex
	heap   *heap
	pools  [2][]Handle
	weight [2]int
	recv   int
	lo, hi int
	closed bool
	// done is closed and replaced after every driver wait iteration.
	done chan struct{}
	// delayed holds candidates held back until the next full scan.
	delayed     []Handle
	delayWeight int

	// stepMu serializes collection work; cyc is owned by its holder except
	// for the fields documented as switch-locked.
	stepMu sync.Mutex
	cyc    cycle

	drv       driver
	del       *deleter.Deleter
	callbacks *Callbacks

	started  atomic.Bool
	fullScan atomic.Bool
	counters counters
}

type counters struct {
	cycles       atomic.Uint64
	fullCycles   atomic.Uint64
	scanned      atomic.Uint64
	freed        atomic.Uint64
	survived     atomic.Uint64
	stalls       atomic.Uint64
	lastCycle    atomic.Int64
	lastFreed    atomic.Int64
	lastSurvived atomic.Int64
}

// New builds a collector. The concurrent driver does not run until Start.
func New(opts ...Option) *Collector {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.normalize()

	c := &Collector{
		cfg:  cfg,
		log:  cfg.Logger.With("component", "gc", "mode", cfg.Mode.String()),
		heap: newHeap(),
		lo:   cfg.MinThreshold,
		hi:   cfg.MaxThreshold,
		done: make(chan struct{}),
		del:  deleter.New(deleter.WithThreshold(cfg.DeleterThreshold)),
	}
	c.callbacks = newCallbacks()
	c.fullScan.Store(cfg.FullScan)
	switch cfg.Mode {
	case Incremental:
		c.drv = newIncrementalDriver(c)
	default:
		c.drv = newConcurrentDriver(c)
	}
	return c
}

// Start launches the driver. It is a no-op when already started.
func (c *Collector) Start() {
	if !c.started.CompareAndSwap(false, true) {
		return
	}
	c.drv.start()
	c.log.Debug("collector started", "min", c.cfg.MinThreshold, "max", c.cfg.MaxThreshold)
}

// Shutdown stops the driver, collects until every pool is empty and then
// reclaims everything still queued in the deferred deleter. Any later
// mutation panics with ErrClosed.
func (c *Collector) Shutdown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.lo = 0
	c.mu.Unlock()

	if c.started.Load() {
		c.drv.stop()
	}
	cycles := c.ForceDrain()
	blocks := c.del.Drain()

	c.mu.Lock()
	c.closed = true
	c.broadcastLocked()
	live := c.heap.live
	c.mu.Unlock()
	c.log.Info("collector shut down", "drain_cycles", cycles, "reclaimed_blocks", blocks, "live", live)
}

// Alloc places obj on the heap with the given number of initial owners and
// returns its handle. An object with no owners is queued right away.
func (c *Collector) Alloc(obj Traceable, owners int) Handle {
	if obj == nil {
		return Handle{}
	}
	k := obj.Kind()
	if _, ok := LookupKind(k); !ok {
		panic(fmt.Errorf("%w: %s", ErrUnknownKind, k))
	}
	if owners < 0 {
		panic(fmt.Errorf("%w: alloc with %d owners", ErrNegativeCount, owners))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checkOpenLocked()
	h := c.heap.alloc(obj, int64(owners))
	if owners == 0 {
		c.enqueueLocked(h, c.heap.at(h.index), obj)
	}
	return h
}

// Get resolves h without taking the switch lock. It returns nil for the
// null handle and for handles whose object has been freed.
func (c *Collector) Get(h Handle) Traceable {
	return c.heap.lookup(h)
}

// StrongCount reports the owning count of h.
func (c *Collector) StrongCount(h Handle) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.heap.slot(h)
	if s == nil {
		return 0, false
	}
	return s.hdr.strong, true
}

// Configure adjusts the pool thresholds. A non-positive value keeps the
// current setting and the maximum is raised to the minimum when smaller.
func (c *Collector) Configure(minThreshold, maxThreshold int) {
	c.mu.Lock()
	if minThreshold > 0 {
		c.lo = minThreshold
	}
	if maxThreshold > 0 {
		c.hi = maxThreshold
	}
	if c.hi < c.lo {
		c.hi = c.lo
	}
	lo, hi := c.lo, c.hi
	c.mu.Unlock()
	c.log.Info("thresholds configured", "min", lo, "max", hi)
}

// ForceDrain runs forced full cycles until both pools and the delay pool
// are empty and returns the number of cycles it ran.
func (c *Collector) ForceDrain() int {
	n := 0
	for {
		c.stepMu.Lock()
		if c.cyc.phase != phaseIdle {
			c.stepToIdleLocked()
			n++
		}
		c.mu.Lock()
		empty := len(c.pools[0]) == 0 && len(c.pools[1]) == 0 && len(c.delayed) == 0
		c.mu.Unlock()
		if empty {
			c.stepMu.Unlock()
			return n
		}
		c.runCycleLocked(true)
		c.stepMu.Unlock()
		n++
	}
}

// Collect runs one forced full cycle, finishing any cycle already in
// progress first. It returns the number of objects freed by the cycle it
// started.
func (c *Collector) Collect() int {
	c.stepMu.Lock()
	defer c.stepMu.Unlock()
	if c.cyc.phase != phaseIdle {
		c.stepToIdleLocked()
	}
	return c.runCycleLocked(true)
}

// SetFullScan switches forced full scanning on or off for the cycles the
// driver schedules. While on, nothing waits in the delay pool.
func (c *Collector) SetFullScan(on bool) {
	c.fullScan.Store(on)
	c.log.Info("full scan mode", "on", on)
}

// Step advances collection by one chunk. It is meant to be called from a
// scheduler safepoint in incremental mode and reports whether any work
// was done.
func (c *Collector) Step() bool {
	if !c.stepMu.TryLock() {
		return false
	}
	defer c.stepMu.Unlock()
	return c.stepChunkLocked(true)
}

// Callbacks returns the host callback registry bound to this heap.
func (c *Collector) Callbacks() *Callbacks { return c.callbacks }

// NewReader registers a lock-free reader with the deferred deleter. Payload
// blocks of objects freed while the reader is inside a section stay valid
// until it exits.
func (c *Collector) NewReader() *deleter.Reader { return c.del.NewReader() }

// Retire hands r to the deferred deleter.
func (c *Collector) Retire(r deleter.Reclaimable) { c.del.Retire(r) }

func (c *Collector) checkOpenLocked() {
	if c.closed {
		panic(ErrClosed)
	}
}

func (c *Collector) broadcastLocked() {
	close(c.done)
	c.done = make(chan struct{})
}

func (c *Collector) cycleDone() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

func (c *Collector) recordCycle(d time.Duration, full bool, scanned, freed, survived int) {
	c.counters.cycles.Add(1)
	if full {
		c.counters.fullCycles.Add(1)
	}
	c.counters.scanned.Add(uint64(scanned))
	c.counters.freed.Add(uint64(freed))
	c.counters.survived.Add(uint64(survived))
	c.counters.lastCycle.Store(int64(d))
	c.counters.lastFreed.Store(int64(freed))
	c.counters.lastSurvived.Store(int64(survived))
}
