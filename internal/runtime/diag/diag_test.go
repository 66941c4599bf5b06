package diag

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/orizon-lang/rcgc/internal/allocator"
	"github.com/orizon-lang/rcgc/internal/runtime/gc"
	"github.com/orizon-lang/rcgc/internal/testrunner/assert"
)

func TestStartMetricsServer_ServesMetrics(t *testing.T) {
	c := gc.New()
	defer c.Shutdown()
	a := allocator.New()
	a.MustAlloc(10)

	addr, stop, err := StartMetricsServer("127.0.0.1:0", map[string]MetricFunc{
		"rcgc_gc":    CollectorMetrics(c),
		"rcgc_alloc": AllocatorMetrics(a),
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() { _ = stop(context.Background()) }()

	cli := &http.Client{Timeout: 2 * time.Second}
	resp, err := cli.Get("http://" + addr + "/metrics")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	assert.Equal(t, resp.StatusCode, http.StatusOK)

	lines := map[string]string{}
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		name, val, _ := strings.Cut(sc.Text(), " ")
		lines[name] = val
	}
	assert.Equal(t, lines["rcgc_alloc_active_blocks"], "1")
	assert.Equal(t, lines["rcgc_gc_live_objects"], "0")
	assert.Equal(t, lines["rcgc_gc_min_threshold"], "1000")
}

func TestSanitizeMetricToken(t *testing.T) {
	out := sanitizeMetricToken(" metric name (bad)!")
	assert.False(t, strings.ContainsAny(out, " !()"))
	assert.Equal(t, sanitizeMetricToken("9lives"), "_9lives")
}

func TestStatsOverHTTP3(t *testing.T) {
	c := gc.New(gc.WithMode(gc.Incremental))
	defer c.Shutdown()

	srvTLS, err := SelfSignedTLS([]string{"127.0.0.1", "localhost"}, time.Hour)
	if err != nil {
		t.Fatalf("tls: %v", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/stats", StatsHandler(c))
	s := NewH3Server("127.0.0.1:0", srvTLS, mux)
	addr, err := s.Start()
	if err != nil {
		t.Skip("http3 not supported here:", err)
	}
	defer s.Stop()

	cli := H3Client(&tls.Config{InsecureSkipVerify: true, MinVersion: tls.VersionTLS13}, 2*time.Second)
	defer CloseH3Client(cli)
	resp, err := cli.Get("https://" + addr + "/stats")
	if err != nil {
		t.Skip("http3 dial failed:", err)
	}
	defer resp.Body.Close()

	var st gc.Stats
	assert.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	assert.Equal(t, st.Mode, "incremental")
	assert.Equal(t, st.Phase, "idle")
}
