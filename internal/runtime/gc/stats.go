package gc

import "time"

// Stats is a read-only snapshot of collector counters.
type Stats struct {
	Mode  string
	Phase string

	Live          int
	Pending       int
	PendingWeight int
	Delayed       int
	WorkSet       int

	MinThreshold  int
	MaxThreshold  int
	FullScanEvery int
	FullScan      bool

	Cycles       uint64
	FullCycles   uint64
	Scanned      uint64
	Freed        uint64
	Survived     uint64
	Stalls       uint64
	LastCycle    time.Duration
	LastFreed    int
	LastSurvived int

	Callbacks int

	DeleterEpoch     uint64
	DeleterPending   int
	DeleterSafe      int
	DeleterReclaimed uint64
}

// Stats returns current counters.
func (c *Collector) Stats() Stats {
	c.mu.Lock()
	st := Stats{
		Mode:          c.cfg.Mode.String(),
		Phase:         c.cyc.phase.String(),
		Live:          c.heap.live,
		Pending:       len(c.pools[c.recv]),
		PendingWeight: c.weight[c.recv],
		Delayed:       len(c.delayed),
		WorkSet:       c.cyc.size,
		MinThreshold:  c.lo,
		MaxThreshold:  c.hi,
		FullScanEvery: c.cfg.FullScanEvery,
	}
	c.mu.Unlock()

	st.Cycles = c.counters.cycles.Load()
	st.FullCycles = c.counters.fullCycles.Load()
	st.Scanned = c.counters.scanned.Load()
	st.Freed = c.counters.freed.Load()
	st.Survived = c.counters.survived.Load()
	st.Stalls = c.counters.stalls.Load()
	st.LastCycle = time.Duration(c.counters.lastCycle.Load())
	st.LastFreed = int(c.counters.lastFreed.Load())
	st.LastSurvived = int(c.counters.lastSurvived.Load())
	st.FullScan = c.fullScan.Load()
	st.Callbacks = c.callbacks.Len()

	ds := c.del.Stats()
	st.DeleterEpoch = ds.Epoch
	st.DeleterPending = ds.Pending
	st.DeleterSafe = ds.Safe
	st.DeleterReclaimed = ds.Reclaimed
	return st
}
