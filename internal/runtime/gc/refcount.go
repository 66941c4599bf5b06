package gc

import "context"

// pressure is the pool state observed by a release, handed to the driver
// after the switch lock is dropped.
type pressure struct {
	volume int
	lo, hi int
}

func (c *Collector) pressureLocked() pressure {
	return pressure{volume: c.weight[c.recv], lo: c.lo, hi: c.hi}
}

// Retain adds an owner to h. The null handle is ignored.
func (c *Collector) Retain(h Handle) {
	if h.IsNil() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checkOpenLocked()
	c.retainLocked(h)
}

// Release drops an owner of h. See ReleaseCtx.
func (c *Collector) Release(h Handle) {
	c.ReleaseCtx(context.Background(), h)
}

// ReleaseCtx drops an owner of h and queues h as a collection candidate.
// When the pending volume is above the maximum threshold the call may stall
// briefly, unless ctx was produced by NoPause or is done.
func (c *Collector) ReleaseCtx(ctx context.Context, h Handle) {
	if h.IsNil() {
		return
	}
	p := c.locked(func() {
		c.releaseLocked(h)
	})
	c.drv.released(ctx, p)
}

// Replace stores v into *slot, retaining v and releasing the previous
// value under one acquisition of the switch lock. Storing the value a slot
// already holds does nothing.
func (c *Collector) Replace(slot *Handle, v Handle) {
	c.ReplaceCtx(context.Background(), slot, v)
}

func (c *Collector) ReplaceCtx(ctx context.Context, slot *Handle, v Handle) {
	var released bool
	p := c.locked(func() {
		released = c.storeLocked(slot, v)
	})
	if released {
		c.drv.released(ctx, p)
	}
}

// RetainAll retains every handle in hs under one lock acquisition.
func (c *Collector) RetainAll(hs []Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checkOpenLocked()
	for _, h := range hs {
		if !h.IsNil() {
			c.retainLocked(h)
		}
	}
}

// ReleaseAll releases every handle in hs under one lock acquisition.
func (c *Collector) ReleaseAll(hs []Handle) {
	c.ReleaseAllCtx(context.Background(), hs)
}

func (c *Collector) ReleaseAllCtx(ctx context.Context, hs []Handle) {
	n := 0
	p := c.locked(func() {
		for _, h := range hs {
			if !h.IsNil() {
				c.releaseLocked(h)
				n++
			}
		}
	})
	if n > 0 {
		c.drv.released(ctx, p)
	}
}

// Txn exposes the reference-count operations to code that already runs
// under the switch lock, so that a container mutation and the count
// changes it implies happen atomically. A Txn is only valid inside the
// function passed to Update.
type Txn struct {
	c        *Collector
	released bool
}

func (tx *Txn) Retain(h Handle) {
	if !h.IsNil() {
		tx.c.retainLocked(h)
	}
}

func (tx *Txn) Release(h Handle) {
	if !h.IsNil() {
		tx.c.releaseLocked(h)
		tx.released = true
	}
}

// Store is Replace for a slot owned by a container being mutated.
func (tx *Txn) Store(slot *Handle, v Handle) {
	if tx.c.storeLocked(slot, v) {
		tx.released = true
	}
}

// Get resolves h.
func (tx *Txn) Get(h Handle) Traceable {
	if s := tx.c.heap.slot(h); s != nil {
		return s.obj.Load().obj
	}
	return nil
}

// Update runs fn under the switch lock.
func (c *Collector) Update(fn func(tx *Txn)) {
	c.UpdateCtx(context.Background(), fn)
}

func (c *Collector) UpdateCtx(ctx context.Context, fn func(tx *Txn)) {
	tx := Txn{c: c}
	p := c.locked(func() { fn(&tx) })
	if tx.released {
		c.drv.released(ctx, p)
	}
}

// View runs fn under the switch lock for read-only access to containers.
func (c *Collector) View(fn func(tx *Txn)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&Txn{c: c})
}

func (c *Collector) locked(fn func()) pressure {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checkOpenLocked()
	fn()
	return c.pressureLocked()
}

func (c *Collector) retainLocked(h Handle) {
	s := c.heap.slot(h)
	if s == nil {
		c.invariant(ErrDanglingEdge, h, "retain")
	}
	s.hdr.strong++
	c.barrierLocked(h, s)
}

// barrierLocked keeps a running cycle consistent with a new owner of h.
// Before the mark scan finishes, the extra owner is counted in the trial
// count, and during the scan an unmarked candidate is grayed. A retain
// during the break phase rescues an unmarked candidate: it is marked and
// grayed so that the sweep spares it and whatever it still reaches. Objects
// that regain an owner after their edges were broken are kept by freeOne.
func (c *Collector) barrierLocked(h Handle, s *slot) {
	w := c.cyc.work
	st := s.hdr.state[w]
	if st&stateInPool == 0 {
		return
	}
	switch c.cyc.phase {
	case phaseInit, phaseDecrement:
		s.hdr.trial++
	case phaseMark, phaseBreak:
		s.hdr.trial++
		if st&stateMarked == 0 {
			s.hdr.state[w] |= stateMarked
			c.cyc.gray = append(c.cyc.gray, h)
		}
	}
}

func (c *Collector) releaseLocked(h Handle) {
	s, obj, zero := c.decLocked(h)
	if zero {
		// Unowned objects leave the delay pool; its stale entry is skipped.
		s.hdr.delayed = false
	}
	if zero || !s.hdr.leaf {
		c.enqueueLocked(h, s, obj)
	}
}

// decLocked drops one owner of h and reports whether the count reached
// zero. Values that can shed their payload do so at zero.
func (c *Collector) decLocked(h Handle) (*slot, Traceable, bool) {
	s := c.heap.slot(h)
	if s == nil {
		c.invariant(ErrDanglingEdge, h, "release")
	}
	if s.hdr.strong <= 0 {
		c.invariant(ErrNegativeCount, h, "release at count %d", s.hdr.strong)
	}
	s.hdr.strong--
	obj := s.obj.Load().obj
	if s.hdr.strong != 0 {
		return s, obj, false
	}
	if sh, ok := obj.(PayloadShedder); ok {
		sh.ShedPayload()
	}
	return s, obj, true
}

// storeLocked reports whether a previous value was released.
func (c *Collector) storeLocked(slot *Handle, v Handle) bool {
	if slot == nil {
		panic("gc: store into nil slot")
	}
	if *slot == v {
		return false
	}
	if !v.IsNil() {
		c.retainLocked(v)
	}
	old := *slot
	*slot = v
	if old.IsNil() {
		return false
	}
	c.releaseLocked(old)
	return true
}

// enqueueLocked queues h in the receiving pool. Objects already queued
// there or waiting in the delay pool are not queued again.
func (c *Collector) enqueueLocked(h Handle, s *slot, obj Traceable) {
	r := c.recv
	if s.hdr.state[r]&stateInPool != 0 || s.hdr.delayed {
		return
	}
	s.hdr.state[r] |= stateInPool
	c.pools[r] = append(c.pools[r], h)
	c.weight[r] += weightOf(obj)
}
