// Command rcgc-stress runs concurrent mutators against the cycle collector
// and prints the collector's counters when they are done.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/orizon-lang/rcgc/internal/allocator"
	"github.com/orizon-lang/rcgc/internal/cli"
	"github.com/orizon-lang/rcgc/internal/config"
	"github.com/orizon-lang/rcgc/internal/runtime/diag"
	"github.com/orizon-lang/rcgc/internal/runtime/gc"
	"github.com/orizon-lang/rcgc/internal/runtime/values"
)

const toolName = "rcgc-stress"

type options struct {
	mode        string
	minPool     int
	maxPool     int
	fullScan    bool
	configFile  string
	watch       bool
	writeConfig string
	mutators    int
	rounds      int
	workloads   string
	seed        int64
	metricsAddr string
	h3Addr      string
	linger      time.Duration
	verbose     bool
	jsonOutput  bool
	showVersion bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		cli.ExitWithError("%v", err)
	}
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	o := &options{}
	fs := flag.NewFlagSet(toolName, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.mode, "mode", "", "collection mode: concurrent or incremental")
	fs.IntVar(&o.minPool, "min", 0, "pool volume that triggers a cycle (0 keeps the default)")
	fs.IntVar(&o.maxPool, "max", 0, "pool volume at which mutators stall (0 keeps the default)")
	fs.BoolVar(&o.fullScan, "fullgc", false, "scan every candidate on every cycle")
	fs.StringVar(&o.configFile, "config", "", "configuration file ("+config.DefaultFile+")")
	fs.BoolVar(&o.watch, "watch", false, "re-apply thresholds when the configuration file changes")
	fs.StringVar(&o.writeConfig, "write-config", "", "write the default configuration to a file and exit")
	fs.IntVar(&o.mutators, "mutators", 8, "mutator goroutines")
	fs.IntVar(&o.rounds, "rounds", 1000, "graphs built per mutator")
	fs.StringVar(&o.workloads, "workloads", "ring,tree,mlt,namespace,array,handoff", "comma-separated workloads")
	fs.Int64Var(&o.seed, "seed", 1, "random seed")
	fs.StringVar(&o.metricsAddr, "metrics", "", "serve text metrics on this address")
	fs.StringVar(&o.h3Addr, "h3", "", "serve JSON stats over HTTP/3 on this address")
	fs.DurationVar(&o.linger, "linger", 0, "keep the diagnostics endpoints up this long after the run")
	fs.BoolVar(&o.verbose, "v", false, "debug logging")
	fs.BoolVar(&o.jsonOutput, "json", false, "print results as JSON")
	fs.BoolVar(&o.showVersion, "version", false, "show version information")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if o.mutators < 1 || o.rounds < 0 {
		return nil, fmt.Errorf("need at least one mutator and a non-negative round count")
	}
	return o, nil
}

// result is what a run prints.
type result struct {
	Objects int64           `json:"objects"`
	Elapsed time.Duration   `json:"elapsed_ns"`
	GC      gc.Stats        `json:"gc"`
	Alloc   allocator.Stats `json:"alloc"`
	PerKind map[string]int  `json:"per_workload"`
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	o, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}
	if o.showVersion {
		return cli.PrintVersion(stdout, toolName, o.jsonOutput)
	}
	if o.writeConfig != "" {
		return config.Default().Save(o.writeConfig)
	}

	file := config.Default()
	if o.configFile != "" {
		if file, err = config.Load(o.configFile); err != nil {
			return err
		}
	}
	level, err := file.Level()
	if err != nil {
		return err
	}
	log := cli.NewLogger(stderr, level, o.verbose)

	opts := append(file.Options(), gc.WithLogger(log), gc.WithThresholds(flagMin(o.minPool), o.maxPool))
	if o.mode != "" {
		m, err := gc.ParseMode(o.mode)
		if err != nil {
			return err
		}
		opts = append(opts, gc.WithMode(m))
	}
	if o.fullScan {
		opts = append(opts, gc.WithFullScan(true))
	}

	c := gc.New(opts...)
	c.Start()
	defer c.Shutdown()
	a := allocator.New()
	space := values.NewSpace(c, a)

	if o.watch && o.configFile != "" {
		w, err := config.Watch(o.configFile, c, log)
		if err != nil {
			return err
		}
		defer w.Close()
	}

	stopDiag, err := startDiag(o, c, a, log)
	if err != nil {
		return err
	}
	defer stopDiag()

	res, err := mutate(ctx, o, space, log)
	if err != nil {
		return err
	}

	if o.linger > 0 {
		log.Info("lingering", "for", o.linger)
		select {
		case <-time.After(o.linger):
		case <-ctx.Done():
		}
	}

	c.Shutdown()
	res.GC = c.Stats()
	res.Alloc = a.Stats()
	return report(stdout, res, o.jsonOutput)
}

func flagMin(n int) int {
	if n == 0 {
		return -1
	}
	return n
}

func mutate(ctx context.Context, o *options, s *values.Space, log *slog.Logger) (*result, error) {
	names := strings.Split(o.workloads, ",")
	var useHandoff bool
	var chosen []string
	for _, n := range names {
		n = strings.TrimSpace(n)
		switch {
		case n == "handoff":
			useHandoff = true
		case workloads[n] != nil:
			chosen = append(chosen, n)
		case n != "":
			return nil, fmt.Errorf("unknown workload %q", n)
		}
	}
	if len(chosen) == 0 && !useHandoff {
		return nil, fmt.Errorf("no workloads selected")
	}

	slots := len(chosen)
	if useHandoff {
		slots++
	}
	var (
		objects atomic.Int64
		perKind = make([]atomic.Int64, len(chosen)+1)
		ho      = newHandoff(256)
	)
	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for m := 0; m < o.mutators; m++ {
		seed := o.seed + int64(m)
		g.Go(func() error {
			r := rand.New(rand.NewSource(seed))
			for i := 0; i < o.rounds; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				k := r.Intn(slots)
				var (
					n   int
					err error
				)
				switch {
				case k == len(chosen):
					n, err = ho.produce(gctx, s)
					if r.Intn(2) == 0 {
						ho.drain(gctx, s)
					}
				default:
					n, err = workloads[chosen[k]](gctx, s, r)
				}
				objects.Add(int64(n))
				perKind[k].Add(int64(n))
				if err != nil {
					return fmt.Errorf("mutator %d round %d: %w", seed, i, err)
				}
			}
			return nil
		})
	}
	err := g.Wait()
	ho.drain(ctx, s)
	if err != nil {
		return nil, err
	}
	elapsed := time.Since(start)
	log.Info("mutators done", "objects", objects.Load(), "elapsed", elapsed)

	res := &result{Objects: objects.Load(), Elapsed: elapsed, PerKind: make(map[string]int)}
	for i, n := range chosen {
		res.PerKind[n] = int(perKind[i].Load())
	}
	if useHandoff {
		res.PerKind["handoff"] = int(perKind[len(chosen)].Load())
	}
	return res, nil
}

func startDiag(o *options, c *gc.Collector, a *allocator.Allocator, log *slog.Logger) (func(), error) {
	var stops []func()
	stopAll := func() {
		for _, s := range stops {
			s()
		}
	}
	if o.metricsAddr != "" {
		addr, stop, err := diag.StartMetricsServer(o.metricsAddr, map[string]diag.MetricFunc{
			"rcgc_gc":    diag.CollectorMetrics(c),
			"rcgc_alloc": diag.AllocatorMetrics(a),
		})
		if err != nil {
			return nil, err
		}
		log.Info("metrics listening", "addr", addr)
		stops = append(stops, func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = stop(ctx)
		})
	}
	if o.h3Addr != "" {
		tlsCfg, err := diag.SelfSignedTLS([]string{"localhost", "127.0.0.1"}, 24*time.Hour)
		if err != nil {
			stopAll()
			return nil, err
		}
		mux := http.NewServeMux()
		mux.Handle("/stats", diag.StatsHandler(c))
		mux.Handle("/metrics", diag.MetricsHandler(map[string]diag.MetricFunc{"rcgc_gc": diag.CollectorMetrics(c)}))
		srv := diag.NewH3Server(o.h3Addr, tlsCfg, mux)
		addr, err := srv.Start()
		if err != nil {
			stopAll()
			return nil, err
		}
		log.Info("http/3 stats listening", "addr", addr)
		stops = append(stops, func() { _ = srv.Stop() })
	}
	return stopAll, nil
}

func report(w io.Writer, res *result, jsonOutput bool) error {
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	st := res.GC
	fmt.Fprintf(w, "mode:        %s\n", st.Mode)
	fmt.Fprintf(w, "objects:     %d in %s\n", res.Objects, res.Elapsed.Round(time.Millisecond))
	kinds := make([]string, 0, len(res.PerKind))
	for k := range res.PerKind {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Fprintf(w, "  %-10s %d\n", k, res.PerKind[k])
	}
	fmt.Fprintf(w, "cycles:      %d (scanned %d, freed %d, survived %d)\n", st.Cycles, st.Scanned, st.Freed, st.Survived)
	fmt.Fprintf(w, "stalls:      %d\n", st.Stalls)
	fmt.Fprintf(w, "live:        %d\n", st.Live)
	fmt.Fprintf(w, "deleter:     epoch %d, reclaimed %d\n", st.DeleterEpoch, st.DeleterReclaimed)
	fmt.Fprintf(w, "blocks:      %d active, peak %d\n", res.Alloc.ActiveAllocations, res.Alloc.PeakAllocations)
	return nil
}
