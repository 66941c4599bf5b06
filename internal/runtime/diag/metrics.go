// Package diag exposes collector and allocator counters: a plain-text
// metrics endpoint over HTTP and a JSON stats endpoint over HTTP/3.
package diag

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/orizon-lang/rcgc/internal/allocator"
	"github.com/orizon-lang/rcgc/internal/runtime/gc"
)

// MetricFunc returns a snapshot of metric name -> value.
// Names should be simple tokens using [a-zA-Z0-9_:].
type MetricFunc func() map[string]float64

// CollectorMetrics reports the counters of c.
func CollectorMetrics(c *gc.Collector) MetricFunc {
	return func() map[string]float64 {
		st := c.Stats()
		return map[string]float64{
			"live_objects":       float64(st.Live),
			"pending_objects":    float64(st.Pending),
			"pending_weight":     float64(st.PendingWeight),
			"delayed_objects":    float64(st.Delayed),
			"work_set":           float64(st.WorkSet),
			"min_threshold":      float64(st.MinThreshold),
			"max_threshold":      float64(st.MaxThreshold),
			"cycles_total":       float64(st.Cycles),
			"full_cycles_total":  float64(st.FullCycles),
			"scanned_total":      float64(st.Scanned),
			"freed_total":        float64(st.Freed),
			"survived_total":     float64(st.Survived),
			"stalls_total":       float64(st.Stalls),
			"last_cycle_seconds": st.LastCycle.Seconds(),
			"callbacks":          float64(st.Callbacks),
			"deleter_epoch":      float64(st.DeleterEpoch),
			"deleter_pending":    float64(st.DeleterPending),
			"deleter_safe":       float64(st.DeleterSafe),
			"deleter_reclaimed":  float64(st.DeleterReclaimed),
		}
	}
}

// AllocatorMetrics reports the block counters of a.
func AllocatorMetrics(a *allocator.Allocator) MetricFunc {
	return func() map[string]float64 {
		st := a.Stats()
		return map[string]float64{
			"allocations_total": float64(st.AllocationCount),
			"frees_total":       float64(st.FreeCount),
			"active_blocks":     float64(st.ActiveAllocations),
			"peak_blocks":       float64(st.PeakAllocations),
			"bytes_in_use":      float64(st.BytesInUse),
			"mapped_bytes":      float64(st.MappedBytes),
		}
	}
}

// MetricsHandler renders every collector under a stable ordering.
func MetricsHandler(collectors map[string]MetricFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		names := make([]string, 0, len(collectors))
		for name := range collectors {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fn := collectors[name]
			if fn == nil {
				continue
			}
			snapshot := fn()
			keys := make([]string, 0, len(snapshot))
			for k := range snapshot {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				// e.g. rcgc_gc_cycles_total 12
				fmt.Fprintf(w, "%s %g\n", sanitizeMetricToken(name+"_"+k), snapshot[k])
			}
		}
	})
}

// StartMetricsServer serves MetricsHandler under /metrics on addr. It
// returns the bound address, which differs from addr when the port is 0,
// and a shutdown function.
func StartMetricsServer(addr string, collectors map[string]MetricFunc) (string, func(ctx context.Context) error, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", MetricsHandler(collectors))

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 3 * time.Second}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, fmt.Errorf("metrics listen %s: %w", addr, err)
	}
	go func() {
		_ = srv.Serve(ln)
	}()
	return ln.Addr().String(), srv.Shutdown, nil
}

func sanitizeMetricToken(s string) string {
	b := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' || c == ':' {
			b[i] = c
		} else {
			b[i] = '_'
		}
	}
	if len(b) > 0 && b[0] >= '0' && b[0] <= '9' {
		return "_" + string(b)
	}
	return strings.ReplaceAll(string(b), "__", "_")
}
