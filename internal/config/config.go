// Package config loads collector settings from an rcgc.json file and keeps
// the pool thresholds of a running collector in sync with it.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/orizon-lang/rcgc/internal/runtime/gc"
)

// SchemaVersion is written into new files; SchemaConstraint is what Load
// accepts.
const (
	SchemaVersion    = "1.0.0"
	SchemaConstraint = "^1.0.0"
	DefaultFile      = "rcgc.json"
)

var ErrSchema = errors.New("config: unsupported schema")

// Duration is a time.Duration written as a Go duration string ("100ms").
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// File is the on-disk configuration. Zero values fall back to the
// collector defaults.
type File struct {
	Schema           string   `json:"schema"`
	Mode             string   `json:"mode,omitempty"`
	MinThreshold     int      `json:"min_threshold,omitempty"`
	MaxThreshold     int      `json:"max_threshold,omitempty"`
	Period           Duration `json:"period,omitempty"`
	BackpressureWait Duration `json:"backpressure_wait,omitempty"`
	ChunkSize        int      `json:"chunk_size,omitempty"`
	StepEvery        int      `json:"step_every,omitempty"`
	StepEveryBusy    int      `json:"step_every_busy,omitempty"`
	FullScanEvery    int      `json:"full_scan_every,omitempty"`
	FullScan         bool     `json:"full_scan,omitempty"`
	DeleterThreshold int      `json:"deleter_threshold,omitempty"`
	LogLevel         string   `json:"log_level,omitempty"`
}

// Default returns the file describing the collector defaults.
func Default() *File {
	d := gc.DefaultConfig()
	return &File{
		Schema:           SchemaVersion,
		Mode:             d.Mode.String(),
		MinThreshold:     d.MinThreshold,
		MaxThreshold:     d.MaxThreshold,
		Period:           Duration(d.Period),
		BackpressureWait: Duration(d.BackpressureWait),
		ChunkSize:        d.ChunkSize,
		StepEvery:        d.StepEvery,
		StepEveryBusy:    d.StepEveryBusy,
		FullScanEvery:    d.FullScanEvery,
		DeleterThreshold: d.DeleterThreshold,
		LogLevel:         "info",
	}
}

// Load reads and validates path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

func Parse(data []byte) (*File, error) {
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Save writes f to path.
func (f *File) Save(path string) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func (f *File) Validate() error {
	v, err := semver.NewVersion(f.Schema)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrSchema, f.Schema, err)
	}
	c, err := semver.NewConstraint(SchemaConstraint)
	if err != nil {
		return err
	}
	if !c.Check(v) {
		return fmt.Errorf("%w: %s does not satisfy %s", ErrSchema, v, SchemaConstraint)
	}
	if f.Mode != "" {
		if _, err := gc.ParseMode(f.Mode); err != nil {
			return err
		}
	}
	if f.MinThreshold < 0 || f.MaxThreshold < 0 {
		return fmt.Errorf("config: negative threshold (min %d, max %d)", f.MinThreshold, f.MaxThreshold)
	}
	if f.FullScanEvery < 0 {
		return fmt.Errorf("config: negative full_scan_every %d", f.FullScanEvery)
	}
	if f.LogLevel != "" {
		if _, err := f.Level(); err != nil {
			return err
		}
	}
	return nil
}

// Level parses LogLevel.
func (f *File) Level() (slog.Level, error) {
	var l slog.Level
	if f.LogLevel == "" {
		return slog.LevelInfo, nil
	}
	if err := l.UnmarshalText([]byte(strings.ToUpper(f.LogLevel))); err != nil {
		return l, fmt.Errorf("config: log level %q: %w", f.LogLevel, err)
	}
	return l, nil
}

// Options converts f into collector options. Unset fields are skipped.
func (f *File) Options() []gc.Option {
	var opts []gc.Option
	if f.Mode != "" {
		if m, err := gc.ParseMode(f.Mode); err == nil {
			opts = append(opts, gc.WithMode(m))
		}
	}
	if f.MinThreshold > 0 || f.MaxThreshold > 0 {
		opts = append(opts, gc.WithThresholds(thresholdArg(f.MinThreshold), f.MaxThreshold))
	}
	if f.Period > 0 {
		opts = append(opts, gc.WithPeriod(time.Duration(f.Period)))
	}
	if f.BackpressureWait > 0 {
		opts = append(opts, gc.WithBackpressureWait(time.Duration(f.BackpressureWait)))
	}
	if f.ChunkSize > 0 {
		opts = append(opts, gc.WithChunkSize(f.ChunkSize))
	}
	if f.StepEvery > 0 || f.StepEveryBusy > 0 {
		opts = append(opts, gc.WithStepEvery(f.StepEvery, f.StepEveryBusy))
	}
	if f.FullScanEvery > 0 {
		opts = append(opts, gc.WithFullScanEvery(f.FullScanEvery))
	}
	if f.FullScan {
		opts = append(opts, gc.WithFullScan(true))
	}
	if f.DeleterThreshold > 0 {
		opts = append(opts, gc.WithDeleterThreshold(f.DeleterThreshold))
	}
	return opts
}

// thresholdArg maps an unset minimum to the value WithThresholds and
// Configure treat as "keep".
func thresholdArg(n int) int {
	if n == 0 {
		return -1
	}
	return n
}
