package gc

import (
	"fmt"
	"sync"
)

// Kind identifies the managed value variant stored in a heap slot.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindList
	KindMap
	KindTuple
	KindRoutine
	KindClass
	KindNamespace
	KindObject
	KindNativeData
	KindFrame
	KindFuture
	KindType
	KindArray
	KindString
	kindCount
)

// KindInfo is the registration record of a managed kind.
type KindInfo struct {
	Name string
	// Leaf kinds own no graph edges and therefore can never take part in a
	// cycle. A leaf becomes a collection candidate only when its count
	// drops to zero.
	Leaf bool
	// DelayScan kinds change rarely once built. While they still have
	// owners they wait in the delay pool and are scanned on full cycles
	// only.
	DelayScan bool
}

var (
	kindMu    sync.RWMutex
	kindTable [kindCount]KindInfo
)

// RegisterKind records the metadata for k. Registering the same kind again
// replaces the earlier record.
func RegisterKind(k Kind, info KindInfo) {
	if k == KindInvalid || k >= kindCount {
		panic(fmt.Sprintf("gc: kind %d out of range", k))
	}
	if info.Name == "" {
		info.Name = fmt.Sprintf("kind%d", k)
	}
	kindMu.Lock()
	kindTable[k] = info
	kindMu.Unlock()
}

// LookupKind returns the registration record of k.
func LookupKind(k Kind) (KindInfo, bool) {
	if k >= kindCount {
		return KindInfo{}, false
	}
	kindMu.RLock()
	info := kindTable[k]
	kindMu.RUnlock()
	return info, info.Name != ""
}

func (k Kind) String() string {
	if info, ok := LookupKind(k); ok {
		return info.Name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// stateBits are the per-buffer flags kept in a header.
type stateBits uint8

const (
	stateInPool stateBits = 1 << 0 // queued in this buffer
	stateMarked stateBits = 1 << 1 // proven alive in the cycle using this buffer
)

// Header is the collector metadata carried by every managed object.
// All fields are guarded by the collector's switch lock.
type Header struct {
	kind      Kind
	leaf      bool
	delayScan bool
	delayed   bool         // waiting in the delay pool
	finalized bool         // payload already finalized
	strong    int64        // owning references
	trial     int64        // scratch count of the running cycle
	state     [2]stateBits // indexed by buffer
}

func (h *Header) reset(k Kind, owners int64) {
	info, _ := LookupKind(k)
	*h = Header{kind: k, leaf: info.Leaf, delayScan: info.DelayScan, strong: owners}
}
