package gc

import (
	"testing"

	"github.com/orizon-lang/rcgc/internal/testrunner/assert"
)

func TestDelayedRingWaitsForFullScan(t *testing.T) {
	f := newFixture(t, WithFullScanEvery(4))
	ring := f.ring(3)
	f.c.ReleaseAll(ring)

	for i := 0; i < 3; i++ {
		assert.Equal(t, f.scheduled(), 0, "cycle", i)
		st := f.c.Stats()
		assert.Equal(t, st.Delayed, 3, "cycle", i)
		assert.Equal(t, st.Live, 3, "cycle", i)
	}

	assert.Equal(t, f.scheduled(), 3)
	st := f.c.Stats()
	assert.Equal(t, st.Delayed, 0)
	assert.Equal(t, st.Live, 0)
	assert.Equal(t, st.FullCycles, uint64(1))
}

func TestUnownedObjectsAreNeverDelayed(t *testing.T) {
	f := newFixture(t, WithFullScanEvery(1000))
	for i := 0; i < 5; i++ {
		f.c.Release(f.alloc())
	}
	assert.Equal(t, f.scheduled(), 5)
	assert.Equal(t, f.c.Stats().Delayed, 0)
}

func TestBusyCyclesScanOwnedCandidates(t *testing.T) {
	f := newFixture(t, WithFullScanEvery(1000))
	for i := 0; i < 300; i++ {
		f.c.Release(f.alloc())
	}
	assert.Equal(t, f.scheduled(), 300)

	routine := f.allocKind(KindRoutine)
	f.link(routine, routine)
	f.c.Release(routine)
	ring := f.ring(3)
	f.c.ReleaseAll(ring)

	// After a productive cycle owned candidates are scanned right away.
	// The routine still waits for a full scan.
	assert.Equal(t, f.scheduled(), 3)
	st := f.c.Stats()
	assert.Equal(t, st.Delayed, 1)
	assert.Equal(t, st.FullCycles, uint64(0))

	assert.Equal(t, f.c.Collect(), 1)
	assert.Equal(t, f.live(), 0)
}

func TestDelayScanKindJoinsOnFullScan(t *testing.T) {
	f := newFixture(t, WithFullScanEvery(2))
	routine := f.allocKind(KindRoutine)
	f.link(routine, routine)
	f.c.Release(routine)

	assert.Equal(t, f.scheduled(), 0)
	assert.Equal(t, f.c.Stats().Delayed, 1)
	assert.Equal(t, f.scheduled(), 1)
	assert.Equal(t, f.c.Stats().Delayed, 0)
}

func TestRunningValuesWaitUnlessForced(t *testing.T) {
	f := newFixture(t, WithFullScanEvery(1))
	a, b := f.alloc(), f.alloc()
	f.link(a, a)
	f.link(b, b)
	f.nodes[0].running.Store(true)
	f.nodes[1].running.Store(true)
	f.c.ReleaseAll([]Handle{a, b})

	assert.Equal(t, f.scheduled(), 0)
	assert.Equal(t, f.c.Stats().Delayed, 2)
	// A full cycle leaves running values in the delay pool.
	assert.Equal(t, f.scheduled(), 0)
	assert.Equal(t, f.c.Stats().Delayed, 2)

	f.nodes[0].running.Store(false)
	assert.Equal(t, f.scheduled(), 1)
	assert.Equal(t, f.finalizedCount(a), int32(1))
	assert.Equal(t, f.c.Stats().Delayed, 1)

	f.c.SetFullScan(true)
	assert.Equal(t, f.scheduled(), 1)
	assert.Equal(t, f.finalizedCount(b), int32(1))
	assert.Equal(t, f.live(), 0)
}

func TestRunningValueKeepsItsCycleAlive(t *testing.T) {
	f := newFixture(t, WithFullScanEvery(1))
	ring := f.ring(2)
	f.nodes[1].running.Store(true)
	f.c.ReleaseAll(ring)

	assert.Equal(t, f.scheduled(), 0)
	assert.Equal(t, f.live(), 2)
	assert.Equal(t, f.c.Stats().LastSurvived, 2)

	assert.Equal(t, f.c.Collect(), 2)
	assert.Equal(t, f.live(), 0)
}

func TestFullScanOption(t *testing.T) {
	f := newFixture(t, WithFullScan(true))
	ring := f.ring(3)
	f.nodes[2].running.Store(true)
	f.c.ReleaseAll(ring)

	assert.Equal(t, f.scheduled(), 3)
	st := f.c.Stats()
	assert.Equal(t, st.Delayed, 0)
	assert.Equal(t, st.FullCycles, uint64(1))
}

func TestForceDrainEmptiesDelayPool(t *testing.T) {
	f := newFixture(t, WithFullScanEvery(1000))
	ring := f.ring(4)
	f.c.ReleaseAll(ring)
	f.scheduled()
	assert.Equal(t, f.c.Stats().Delayed, 4)

	f.c.ForceDrain()
	st := f.c.Stats()
	assert.Equal(t, st.Delayed, 0)
	assert.Equal(t, st.Live, 0)
}
