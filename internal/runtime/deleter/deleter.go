// Package deleter provides epoch-based deferred reclamation of raw memory.
//
// Memory retired to a Deleter is not handed back to its allocator until no
// lock-free reader can still hold a bare reference into it. Readers bracket
// their unsynchronized sections with Enter and Exit; the collector calls
// Update once per cycle to advance the epoch and recycle what became safe.
//
// An entry moves through two states:
//
//	pending -> safe -> reclaimed
//
// It becomes safe once the global epoch has advanced past the epoch it was
// retired in and every active reader entered after that advance. Safe
// entries are reclaimed in a batch by the next Update.
package deleter

import (
	"sync"
	"sync/atomic"
)

// DefaultThreshold is the number of pending entries that must accumulate
// before an Update advances the epoch.
const DefaultThreshold = 10000

const inactive = ^uint64(0)

// Reclaimable is a block of memory whose release is deferred.
type Reclaimable interface {
	Reclaim()
}

// Func adapts an ordinary function to Reclaimable.
type Func func()

func (f Func) Reclaim() { f() }

type entry struct {
	r     Reclaimable
	epoch uint64
}

// Deleter queues retired memory until it is safe to reuse.
type Deleter struct {
	epoch atomic.Uint64

	mu        sync.Mutex
	readers   []*Reader
	pending   []entry
	safe      []Reclaimable
	threshold int
	retired   uint64
	reclaimed uint64
}

// Option configures a Deleter.
type Option func(*Deleter)

// WithThreshold sets how many pending entries trigger an epoch advance.
// Zero advances on every Update.
func WithThreshold(n int) Option {
	return func(d *Deleter) {
		if n >= 0 {
			d.threshold = n
		}
	}
}

// New creates a Deleter starting at epoch 1.
func New(opts ...Option) *Deleter {
	d := &Deleter{threshold: DefaultThreshold}
	for _, opt := range opts {
		opt(d)
	}
	d.epoch.Store(1)
	return d
}

// Epoch returns the current global epoch.
func (d *Deleter) Epoch() uint64 { return d.epoch.Load() }

// Retire queues r for deferred reclamation in the current epoch.
func (d *Deleter) Retire(r Reclaimable) {
	if r == nil {
		return
	}
	d.mu.Lock()
	d.pending = append(d.pending, entry{r: r, epoch: d.epoch.Load()})
	d.retired++
	d.mu.Unlock()
}

// Update reclaims the entries found safe by the previous Update, advances
// the epoch once enough entries are pending, and promotes pending entries
// that no reader can reach. It returns the number of entries reclaimed.
// Update must not be called while holding a lock that Reclaim needs.
func (d *Deleter) Update() int {
	d.mu.Lock()
	batch := d.safe
	d.safe = nil
	if len(d.pending) > 0 && len(d.pending) >= d.threshold {
		d.epoch.Add(1)
	}
	cur := d.epoch.Load()
	low := d.minReaderEpoch()
	keep := d.pending[:0]
	for _, e := range d.pending {
		if e.epoch < cur && e.epoch < low {
			d.safe = append(d.safe, e.r)
			continue
		}
		keep = append(keep, e)
	}
	for i := len(keep); i < len(d.pending); i++ {
		d.pending[i] = entry{}
	}
	d.pending = keep
	d.reclaimed += uint64(len(batch))
	d.mu.Unlock()

	for _, r := range batch {
		r.Reclaim()
	}
	return len(batch)
}

// Drain reclaims every queued entry regardless of readers. It is meant for
// shutdown, after all readers have stopped.
func (d *Deleter) Drain() int {
	d.mu.Lock()
	batch := d.safe
	for _, e := range d.pending {
		batch = append(batch, e.r)
	}
	d.safe = nil
	d.pending = nil
	d.epoch.Add(1)
	d.reclaimed += uint64(len(batch))
	d.mu.Unlock()

	for _, r := range batch {
		r.Reclaim()
	}
	return len(batch)
}

func (d *Deleter) minReaderEpoch() uint64 {
	low := inactive
	for _, r := range d.readers {
		if v := r.epoch.Load(); v < low {
			low = v
		}
	}
	return low
}

// Stats is a point-in-time view of the queue.
type Stats struct {
	Epoch     uint64
	Pending   int
	Safe      int
	Readers   int
	Retired   uint64
	Reclaimed uint64
}

// Stats returns the current queue counters.
func (d *Deleter) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{
		Epoch:     d.epoch.Load(),
		Pending:   len(d.pending),
		Safe:      len(d.safe),
		Readers:   len(d.readers),
		Retired:   d.retired,
		Reclaimed: d.reclaimed,
	}
}
