package gc

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/orizon-lang/rcgc/internal/runtime/deleter"
)

// Mode selects how collection work is scheduled.
type Mode uint8

const (
	// Concurrent runs whole cycles on a dedicated goroutine.
	Concurrent Mode = iota
	// Incremental slices cycles into chunks run by mutators.
	Incremental
)

func (m Mode) String() string {
	switch m {
	case Concurrent:
		return "concurrent"
	case Incremental:
		return "incremental"
	default:
		return "unknown"
	}
}

// ParseMode converts a mode name to a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "concurrent", "":
		return Concurrent, nil
	case "incremental":
		return Incremental, nil
	}
	return 0, &ModeError{Name: s}
}

const (
	DefaultMinThreshold     = 1000
	DefaultPeriod           = 100 * time.Millisecond
	DefaultBackpressureWait = time.Millisecond
	DefaultChunkSize        = 256
	DefaultStepEvery        = 100
	DefaultStepEveryBusy    = 10
	DefaultFullScanEvery    = 16
)

// Config holds collector tuning.
type Config struct {
	Mode Mode

	// MinThreshold is the pending volume that wakes the collector.
	MinThreshold int
	// MaxThreshold is the pending volume above which releases stall.
	MaxThreshold int

	// Period bounds the time between concurrent cycles when no signal arrives.
	Period time.Duration
	// BackpressureWait caps a single stall of an over-threshold release.
	BackpressureWait time.Duration

	// ChunkSize is the number of object visits per incremental step.
	ChunkSize int
	// StepEvery and StepEveryBusy are the release counts between incremental
	// steps below and above MaxThreshold.
	StepEvery     int
	StepEveryBusy int

	// FullScanEvery is the number of scheduled cycles between full scans.
	// Cycles in between leave delayed candidates in the delay pool. A value
	// of 1 makes every cycle a full scan.
	FullScanEvery int
	// FullScan forces every cycle to scan all candidates, running values
	// included.
	FullScan bool

	// DeleterThreshold is the pending block count that lets the deferred
	// deleter advance its epoch.
	DeleterThreshold int

	Logger *slog.Logger
}

// Option mutates a Config.
type Option func(*Config)

// DefaultConfig returns the stock tuning.
func DefaultConfig() Config {
	return Config{
		Mode:             Concurrent,
		MinThreshold:     DefaultMinThreshold,
		MaxThreshold:     100 * DefaultMinThreshold,
		Period:           DefaultPeriod,
		BackpressureWait: DefaultBackpressureWait,
		ChunkSize:        DefaultChunkSize,
		StepEvery:        DefaultStepEvery,
		StepEveryBusy:    DefaultStepEveryBusy,
		FullScanEvery:    DefaultFullScanEvery,
		DeleterThreshold: deleter.DefaultThreshold,
	}
}

func WithMode(m Mode) Option { return func(c *Config) { c.Mode = m } }

// WithThresholds sets the pool volume thresholds. A negative minimum or a
// non-positive maximum keeps the current setting. A zero minimum collects
// on every release.
func WithThresholds(lo, hi int) Option {
	return func(c *Config) {
		if lo >= 0 {
			c.MinThreshold = lo
		}
		if hi > 0 {
			c.MaxThreshold = hi
		}
	}
}

func WithPeriod(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.Period = d
		}
	}
}

func WithBackpressureWait(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.BackpressureWait = d
		}
	}
}

func WithChunkSize(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.ChunkSize = n
		}
	}
}

// WithStepEvery sets the incremental release counts between steps.
func WithStepEvery(normal, busy int) Option {
	return func(c *Config) {
		if normal > 0 {
			c.StepEvery = normal
		}
		if busy > 0 {
			c.StepEveryBusy = busy
		}
	}
}

// WithFullScanEvery sets the number of scheduled cycles between full scans.
func WithFullScanEvery(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.FullScanEvery = n
		}
	}
}

func WithFullScan(on bool) Option { return func(c *Config) { c.FullScan = on } }

func WithDeleterThreshold(n int) Option {
	return func(c *Config) {
		if n >= 0 {
			c.DeleterThreshold = n
		}
	}
}

func WithLogger(l *slog.Logger) Option { return func(c *Config) { c.Logger = l } }

func (c *Config) normalize() {
	if c.MaxThreshold < c.MinThreshold {
		c.MaxThreshold = c.MinThreshold
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
}

type noPauseKey struct{}

// NoPause marks ctx so that releases made with it never stall on
// backpressure. Threads that must keep running while the collector is
// behind, such as the collector's own finalizers or a host event loop, use it.
func NoPause(ctx context.Context) context.Context {
	return context.WithValue(ctx, noPauseKey{}, true)
}

func pausable(ctx context.Context) bool {
	v, _ := ctx.Value(noPauseKey{}).(bool)
	return !v
}
