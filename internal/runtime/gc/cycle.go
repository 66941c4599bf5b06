package gc

import (
	"time"

	"github.com/orizon-lang/rcgc/internal/runtime/deleter"
)

type phase uint8

const (
	phaseIdle phase = iota
	phaseCascade
	phaseInit
	phaseDecrement
	phaseMark
	phaseBreak
	phaseFree
)

var phaseNames = [...]string{
	phaseIdle:      "idle",
	phaseCascade:   "cascade",
	phaseInit:      "init",
	phaseDecrement: "decrement",
	phaseMark:      "mark",
	phaseBreak:     "break",
	phaseFree:      "free",
}

func (p phase) String() string {
	if int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return "unknown"
}

// cycle is the resumable state of one collection. phase, work and gray are
// switch-locked because mutators consult them in the write barrier; phase
// changes additionally require stepMu. The rest belongs to the stepMu
// holder.
type cycle struct {
	phase phase
	work  int
	gray  []Handle
	size  int // candidates taken at the swap

	set  []Handle
	zero []Handle // unowned objects awaiting release, depth first
	dead []Handle
	pos  int
	keep int // candidates the cascade phase left in set

	seq        uint64 // begin attempts, for the full-scan cadence
	full       bool   // the delay pool joined this cycle
	forced     bool   // running values are scanned too
	delayOwned bool
	freedAvg   float64

	started  time.Time
	scanned  int
	survived int
	freed    int
}

// runCycleLocked swaps the pools and runs a whole cycle. It returns the
// number of objects freed. stepMu held.
func (c *Collector) runCycleLocked(force bool) int {
	if !c.beginLocked(force) {
		return 0
	}
	c.advanceLocked(0)
	return int(c.counters.lastFreed.Load())
}

// stepToIdleLocked finishes the cycle in progress. stepMu held.
func (c *Collector) stepToIdleLocked() {
	c.advanceLocked(0)
}

// stepChunkLocked runs one bounded slice of work, starting a cycle when the
// receiving pool and the delay pool together are over the minimum
// threshold. stepMu held.
func (c *Collector) stepChunkLocked(needThreshold bool) bool {
	if c.cyc.phase == phaseIdle {
		if needThreshold {
			c.mu.Lock()
			over := c.weight[c.recv]+c.delayWeight > c.lo
			c.mu.Unlock()
			if !over {
				return false
			}
		}
		if !c.beginLocked(false) {
			return false
		}
	}
	c.advanceLocked(c.cfg.ChunkSize)
	return true
}

// beginLocked advances the deferred deleter, then swaps the receiving pool
// into the work set. Every FullScanEvery attempts, or when force is set,
// the cycle is a full one and the delay pool joins the work set. It reports
// false when there is nothing to collect. stepMu held, switch lock not held.
func (c *Collector) beginLocked(force bool) bool {
	c.del.Update()

	cy := &c.cyc
	cy.seq++
	forced := force || c.fullScan.Load()
	full := forced || cy.seq%uint64(max(c.cfg.FullScanEvery, 1)) == 0

	c.mu.Lock()
	w := c.recv
	set := c.pools[w]
	if full {
		set = c.rejoinLocked(set, w, forced)
	}
	if len(set) == 0 {
		c.mu.Unlock()
		return false
	}
	c.pools[w] = nil
	c.weight[w] = 0
	c.recv = 1 - w
	cy.work = w
	cy.size = len(set)
	cy.phase = phaseCascade
	c.mu.Unlock()

	// Owned candidates are put off unless recent cycles freed a lot. Each
	// cycle halves the weight of the older history.
	cy.freedAvg = (cy.freedAvg + float64(c.counters.lastFreed.Load())) / 2
	damp := 1 + uint64(100/(1+cy.freedAvg))
	cy.full, cy.forced = full, forced
	cy.delayOwned = !full && cy.seq%damp != 0

	cy.set = set
	cy.zero = cy.zero[:0]
	cy.dead = cy.dead[:0]
	cy.pos, cy.keep = 0, 0
	cy.started = time.Now()
	cy.scanned, cy.survived, cy.freed = 0, 0, 0
	return true
}

// rejoinLocked moves the delay pool into set. Running values stay behind
// unless the scan is forced. Switch lock held.
func (c *Collector) rejoinLocked(set []Handle, w int, forced bool) []Handle {
	kept := c.delayed[:0]
	c.delayWeight = 0
	for _, h := range c.delayed {
		s := c.heap.slot(h)
		if s == nil || !s.hdr.delayed {
			continue
		}
		obj := s.obj.Load().obj
		if !forced && running(obj) {
			kept = append(kept, h)
			c.delayWeight += weightOf(obj)
			continue
		}
		s.hdr.delayed = false
		if s.hdr.state[w]&stateInPool == 0 {
			s.hdr.state[w] |= stateInPool
			set = append(set, h)
		}
	}
	clear(c.delayed[len(kept):])
	c.delayed = kept
	return set
}

// advanceLocked performs up to budget object visits, or runs to the end of
// the cycle when budget is not positive. It reports whether the cycle
// finished. stepMu held.
func (c *Collector) advanceLocked(budget int) bool {
	cy := &c.cyc
	for used := 0; budget <= 0 || used < budget; {
		switch cy.phase {
		case phaseIdle:
			return true

		case phaseCascade:
			if n := len(cy.zero); n > 0 {
				h := cy.zero[n-1]
				cy.zero = cy.zero[:n-1]
				used++
				c.reclaimZero(h)
				continue
			}
			if cy.pos == len(cy.set) {
				cy.set = cy.set[:cy.keep]
				c.enter(phaseInit)
				continue
			}
			h := cy.set[cy.pos]
			cy.pos++
			used++
			c.prepareOne(h)

		case phaseInit:
			if cy.pos == len(cy.set) {
				c.enter(phaseDecrement)
				continue
			}
			h := cy.set[cy.pos]
			cy.pos++
			used++
			c.withSlot(h, func(s *slot, _ Traceable) {
				s.hdr.trial = s.hdr.strong
			})

		case phaseDecrement:
			if cy.pos == len(cy.set) {
				c.enter(phaseMark)
				continue
			}
			h := cy.set[cy.pos]
			cy.pos++
			used++
			c.withSlot(h, func(s *slot, obj Traceable) {
				cy.scanned++
				c.decrementChildrenLocked(h, obj)
			})

		case phaseMark:
			used++
			if c.markStep() {
				cy.pos = 0
			}

		case phaseBreak:
			used++
			if c.sweepStep() {
				cy.pos = 0
			}

		case phaseFree:
			if cy.pos == len(cy.dead) {
				c.finish()
				return true
			}
			h := cy.dead[cy.pos]
			cy.pos++
			used++
			c.freeOne(h)
		}
	}
	return cy.phase == phaseIdle
}

func (c *Collector) enter(p phase) {
	c.mu.Lock()
	c.cyc.phase = p
	c.mu.Unlock()
	c.cyc.pos = 0
}

// withSlot runs fn on the live slot of h under the switch lock.
func (c *Collector) withSlot(h Handle, fn func(s *slot, obj Traceable)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.heap.slot(h)
	if s == nil {
		return false
	}
	fn(s, s.obj.Load().obj)
	return true
}

// prepareOne sorts a swapped-in candidate. Unowned objects go to the
// release lane, candidates the cycle puts off go to the delay pool and the
// rest stay in the work set.
func (c *Collector) prepareOne(h Handle) {
	cy := &c.cyc
	w := cy.work
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.heap.slot(h)
	if s == nil || s.hdr.state[w]&stateInPool == 0 {
		return
	}
	obj := s.obj.Load().obj
	switch {
	case s.hdr.delayed:
		s.hdr.state[w] = 0
	case s.hdr.strong == 0:
		cy.zero = append(cy.zero, h)
	case c.delayLocked(s, obj):
		s.hdr.state[w] = 0
		s.hdr.delayed = true
		c.delayed = append(c.delayed, h)
		c.delayWeight += weightOf(obj)
	default:
		cy.set[cy.keep] = h
		cy.keep++
	}
}

func (c *Collector) delayLocked(s *slot, obj Traceable) bool {
	cy := &c.cyc
	switch {
	case cy.forced:
		return false
	case running(obj):
		return true
	case cy.full:
		return false
	}
	return s.hdr.delayScan || cy.delayOwned
}

// reclaimZero frees an unowned object without scanning anything. Its edges
// are broken first; children left without owners join the lane. An object
// retained since it was queued is dropped from the cycle instead.
func (c *Collector) reclaimZero(h Handle) {
	var (
		obj Traceable
		rec slotRecycler
		fin bool
	)
	c.withSlot(h, func(s *slot, o Traceable) {
		if s.hdr.strong != 0 {
			s.hdr.state[c.cyc.work] = 0
			return
		}
		c.breakEdgesLocked(h, o, c.cascadeLocked)
		fin = !s.hdr.finalized
		rec = c.heap.remove(h, s)
		obj = o
	})
	if obj == nil {
		return
	}
	if fin {
		obj.FinalizePayload()
	}
	c.callbacks.forget(h)
	c.retire(obj, rec)
}

// cascadeLocked is the release used while breaking unowned objects.
func (c *Collector) cascadeLocked(h Handle) {
	s, obj, zero := c.decLocked(h)
	switch {
	case zero:
		s.hdr.delayed = false
		c.cyc.zero = append(c.cyc.zero, h)
	case !s.hdr.leaf:
		c.enqueueLocked(h, s, obj)
	}
}

// decrementChildrenLocked subtracts the edges of h from its children's
// trial counts, pulling children that are not yet candidates into the work
// set.
func (c *Collector) decrementChildrenLocked(h Handle, obj Traceable) {
	w := c.cyc.work
	obj.ForEachChild(func(ch Handle) {
		if ch.IsNil() {
			return
		}
		cs := c.heap.slot(ch)
		if cs == nil {
			c.invariant(ErrDanglingEdge, h, "child %s", ch)
		}
		if cs.hdr.state[w]&stateInPool == 0 {
			cs.hdr.state[w] |= stateInPool
			cs.hdr.trial = cs.hdr.strong
			c.cyc.set = append(c.cyc.set, ch)
		}
		cs.hdr.trial--
		if cs.hdr.trial < 0 {
			c.invariant(ErrNegativeCount, ch, "trial count %d after edge from %s", cs.hdr.trial, h)
		}
	})
}

// markStep does one unit of mark work: it blackens one gray object, or
// failing that tests the next candidate as a root. When neither is left it
// switches to the break phase under the same lock acquisition, so no
// barrier can gray an object after the scan ends. It reports whether the
// phase changed.
func (c *Collector) markStep() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	cy := &c.cyc
	w := cy.work

	if n := len(cy.gray); n > 0 {
		h := cy.gray[n-1]
		cy.gray = cy.gray[:n-1]
		c.blackenLocked(h)
		return false
	}

	if cy.pos < len(cy.set) {
		h := cy.set[cy.pos]
		cy.pos++
		s := c.heap.slot(h)
		if s == nil || s.hdr.state[w]&stateMarked != 0 {
			return false
		}
		if obj := s.obj.Load().obj; s.hdr.trial > 0 || hostReferenced(obj) || (!cy.forced && running(obj)) {
			s.hdr.state[w] |= stateMarked
			cy.gray = append(cy.gray, h)
		}
		return false
	}

	cy.phase = phaseBreak
	return true
}

// blackenLocked marks the candidates h points at and grays the ones not
// seen before.
func (c *Collector) blackenLocked(h Handle) {
	w := c.cyc.work
	s := c.heap.slot(h)
	if s == nil {
		return
	}
	s.obj.Load().obj.ForEachChild(func(ch Handle) {
		if ch.IsNil() {
			return
		}
		cs := c.heap.slot(ch)
		if cs == nil {
			c.invariant(ErrDanglingEdge, h, "child %s", ch)
		}
		st := cs.hdr.state[w]
		if st&stateInPool == 0 {
			return
		}
		cs.hdr.trial++
		if st&stateMarked == 0 {
			cs.hdr.state[w] |= stateMarked
			c.cyc.gray = append(c.cyc.gray, ch)
		}
	})
}

func hostReferenced(obj Traceable) bool {
	hp, ok := obj.(HostPinned)
	return ok && hp.HostReferenced()
}

// sweepStep blackens one object rescued since the scan ended, or else
// clears the next survivor or breaks the edges of the next dead candidate.
// A payload is finalized once, without the switch lock. When the work set
// is exhausted it switches to the free phase and reports true.
func (c *Collector) sweepStep() bool {
	h, dead, fin, done := c.sweepNext()
	if done {
		return true
	}
	if fin != nil {
		fin.FinalizePayload()
	}
	if dead != nil {
		c.callbacks.forget(h)
		c.cyc.dead = append(c.cyc.dead, h)
	}
	return false
}

// sweepNext is the switch-locked part of sweepStep. The phase switch
// happens under the same lock acquisition that finds the set exhausted.
func (c *Collector) sweepNext() (h Handle, dead, fin Traceable, done bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cy := &c.cyc
	w := cy.work

	if n := len(cy.gray); n > 0 {
		g := cy.gray[n-1]
		cy.gray = cy.gray[:n-1]
		c.blackenLocked(g)
		return h, nil, nil, false
	}
	if cy.pos == len(cy.set) {
		cy.phase = phaseFree
		return h, nil, nil, true
	}
	h = cy.set[cy.pos]
	cy.pos++
	s := c.heap.slot(h)
	if s == nil {
		return h, nil, nil, false
	}
	st := s.hdr.state[w]
	switch {
	case st&stateInPool == 0:
	case st&stateMarked != 0:
		s.hdr.state[w] = 0
		cy.survived++
	default:
		dead = s.obj.Load().obj
		c.breakEdgesLocked(h, dead, c.releaseLocked)
		if !s.hdr.finalized {
			s.hdr.finalized = true
			fin = dead
		}
	}
	return h, dead, fin, false
}

func (c *Collector) breakEdgesLocked(h Handle, obj Traceable, release func(Handle)) {
	var want, got map[Handle]int
	if debugChecks {
		want = edgeCounts(obj.ForEachChild)
		got = make(map[Handle]int, len(want))
	}
	obj.BreakChildren(func(ch Handle) {
		if ch.IsNil() {
			return
		}
		if debugChecks {
			got[ch]++
		}
		release(ch)
	})
	if debugChecks {
		if err := compareEdges(want, got); err != nil {
			c.invariant(ErrEdgeMismatch, h, "%v", err)
		}
	}
}

// freeOne removes a dead object from the heap and retires its payload
// blocks and slot to the deferred deleter, in that order. An object that
// was retained after its edges were broken stays on the heap, emptied.
func (c *Collector) freeOne(h Handle) {
	var (
		obj Traceable
		rec slotRecycler
	)
	c.withSlot(h, func(s *slot, o Traceable) {
		if s.hdr.strong != 0 {
			s.hdr.state[c.cyc.work] = 0
			c.cyc.survived++
			return
		}
		rec = c.heap.remove(h, s)
		obj = o
	})
	if obj != nil {
		c.retire(obj, rec)
	}
}

// retire hands the blocks and the slot of a freed object to the deferred
// deleter.
func (c *Collector) retire(obj Traceable, rec slotRecycler) {
	if bo, ok := obj.(BlockOwner); ok {
		for _, b := range bo.TakeBlocks() {
			c.del.Retire(b)
		}
	}
	c.del.Retire(rec)
	c.cyc.freed++
}

func (c *Collector) finish() {
	cy := &c.cyc
	c.mu.Lock()
	cy.phase = phaseIdle
	cy.size = 0
	cy.gray = cy.gray[:0]
	c.broadcastLocked()
	live := c.heap.live
	delayed := len(c.delayed)
	c.mu.Unlock()

	cy.set = nil
	cy.zero = cy.zero[:0]
	cy.dead = cy.dead[:0]
	cy.pos, cy.keep = 0, 0

	d := time.Since(cy.started)
	c.recordCycle(d, cy.full, cy.scanned, cy.freed, cy.survived)
	c.log.Debug("cycle finished",
		"full", cy.full,
		"scanned", cy.scanned,
		"freed", cy.freed,
		"survived", cy.survived,
		"delayed", delayed,
		"live", live,
		"duration", d)
}

var _ deleter.Reclaimable = slotRecycler{}
