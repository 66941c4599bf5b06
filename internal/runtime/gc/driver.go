package gc

import (
	"context"
	"sync/atomic"
	"time"
)

// driver decides when collection work runs. Both implementations drive the
// same cycle state machine.
type driver interface {
	start()
	stop()
	// released is called after a release, without the switch lock.
	released(ctx context.Context, p pressure)
}

// concurrentDriver runs whole cycles on a background goroutine woken by
// releases over the minimum threshold or by a periodic timer.
type concurrentDriver struct {
	c      *Collector
	kick   chan struct{}
	quit   chan struct{}
	exited chan struct{}
	run    atomic.Bool
}

func newConcurrentDriver(c *Collector) *concurrentDriver {
	return &concurrentDriver{
		c:      c,
		kick:   make(chan struct{}, 1),
		quit:   make(chan struct{}),
		exited: make(chan struct{}),
	}
}

func (d *concurrentDriver) start() {
	d.run.Store(true)
	go d.loop()
}

func (d *concurrentDriver) stop() {
	if !d.run.CompareAndSwap(true, false) {
		return
	}
	close(d.quit)
	<-d.exited
}

func (d *concurrentDriver) loop() {
	defer close(d.exited)
	c := d.c
	timer := time.NewTimer(c.cfg.Period)
	defer timer.Stop()
	for {
		select {
		case <-d.quit:
			return
		case <-d.kick:
		case <-timer.C:
		}
		c.stepMu.Lock()
		if c.cyc.phase != phaseIdle {
			c.stepToIdleLocked()
		}
		c.runCycleLocked(false)
		c.stepMu.Unlock()

		c.mu.Lock()
		c.broadcastLocked()
		c.mu.Unlock()
		timer.Reset(c.cfg.Period)
	}
}

func (d *concurrentDriver) released(ctx context.Context, p pressure) {
	if p.volume <= p.lo || !d.run.Load() {
		return
	}
	select {
	case d.kick <- struct{}{}:
	default:
	}
	if p.volume <= p.hi || !pausable(ctx) {
		return
	}
	d.c.stall(ctx)
}

// stall parks an over-threshold mutator until the collector finishes a
// wait iteration, the backpressure timeout expires or ctx is done.
func (c *Collector) stall(ctx context.Context) {
	done := c.cycleDone()
	c.counters.stalls.Add(1)
	t := time.NewTimer(c.cfg.BackpressureWait)
	defer t.Stop()
	select {
	case <-done:
	case <-t.C:
		c.log.Debug("backpressure wait timed out", "wait", c.cfg.BackpressureWait)
	case <-ctx.Done():
	}
}

// incrementalDriver runs one chunk of the cycle every few releases on the
// releasing goroutine.
type incrementalDriver struct {
	c     *Collector
	count atomic.Int64
}

func newIncrementalDriver(c *Collector) *incrementalDriver {
	return &incrementalDriver{c: c}
}

func (d *incrementalDriver) start() {}
func (d *incrementalDriver) stop()  {}

func (d *incrementalDriver) released(_ context.Context, p pressure) {
	every := d.c.cfg.StepEvery
	if p.volume > p.hi {
		every = d.c.cfg.StepEveryBusy
	}
	if d.count.Add(1) < int64(every) {
		return
	}
	d.count.Store(0)
	d.c.Step()
}
