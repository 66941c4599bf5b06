package gc

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is raised by operations on a collector after Shutdown.
	ErrClosed = errors.New("gc: collector closed")
	// ErrNegativeCount means an object was released more often than retained.
	ErrNegativeCount = errors.New("gc: strong count below zero")
	// ErrUnknownKind means a value of an unregistered kind was allocated.
	ErrUnknownKind = errors.New("gc: kind not registered")
	// ErrEdgeMismatch means BreakChildren disagreed with ForEachChild.
	ErrEdgeMismatch = errors.New("gc: traversal edge mismatch")
	// ErrDanglingEdge means a live object pointed at a freed slot.
	ErrDanglingEdge = errors.New("gc: edge to freed object")
)

// ModeError reports an unrecognized collection mode name.
type ModeError struct {
	Name string
}

func (e *ModeError) Error() string {
	return fmt.Sprintf("gc: unknown mode %q", e.Name)
}

// invariant panics with err wrapped in a message naming the object. It logs
// first so that the diagnostic survives a recovered panic.
func (c *Collector) invariant(err error, h Handle, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	c.log.Error("invariant violated", "object", h.String(), "err", err, "detail", msg)
	panic(fmt.Errorf("%w: %s: %s", err, h, msg))
}
