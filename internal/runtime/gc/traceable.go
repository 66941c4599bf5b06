package gc

import "github.com/orizon-lang/rcgc/internal/runtime/deleter"

// Traceable is the contract every managed value implements.
//
// ForEachChild reports every strong edge the value owns and must not modify
// the value. BreakChildren visits the same edge set, passes each target to
// release and clears the slot; the collector calls it at most once per
// object. FinalizePayload releases resources that are not graph edges and
// must be idempotent.
type Traceable interface {
	Kind() Kind
	ForEachChild(fn func(Handle))
	BreakChildren(release func(Handle))
	FinalizePayload()
}

// PayloadShedder is implemented by values that can drop non-graph memory as
// soon as their count reaches zero, before the collector confirms them dead.
// ShedPayload runs under the switch lock and may be called more than once.
type PayloadShedder interface {
	ShedPayload()
}

// Weigher reports how much pending-garbage volume a queued value stands for.
// Values that do not implement it weigh 1.
type Weigher interface {
	Weight() int
}

// HostPinned is implemented by native-data wrappers whose host side may
// still reference the wrapped object. A pinned object is treated as
// externally owned while marking.
type HostPinned interface {
	HostReferenced() bool
}

// Runner is implemented by values that can be executing, such as frames.
// Unless a full scan is forced, a running value is never scanned as a
// candidate and counts as externally owned while marking.
type Runner interface {
	Running() bool
}

func running(obj Traceable) bool {
	r, ok := obj.(Runner)
	return ok && r.Running()
}

// BlockOwner is implemented by values holding raw payload blocks that have
// to go through the deferred deleter once the value is freed.
type BlockOwner interface {
	TakeBlocks() []deleter.Reclaimable
}

func weightOf(obj Traceable) int {
	if w, ok := obj.(Weigher); ok {
		if n := w.Weight(); n > 0 {
			return n
		}
	}
	return 1
}
