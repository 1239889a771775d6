package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestRegisterIdempotentAndCountersWork(t *testing.T) {
	regOK.Store(false)
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("first register: %v", err)
	}
	// idempotent: calling again should be no-op
	if err := Register(reg); err != nil {
		t.Fatalf("second register: %v", err)
	}

	IncStart(ReasonInitial)
	IncStart(ReasonCrash)
	IncStartFailure()
	IncStop()
	IncExit()
	SetRunning(true)
	IncRestartDenied()
	SetWindowCount(3)
	IncChangeTrigger()
	ObserveHeartbeat(HeartbeatOK, 0.05)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	wantNames := map[string]bool{
		"watchdog_worker_starts_total":         false,
		"watchdog_worker_start_failures_total": false,
		"watchdog_worker_stops_total":          false,
		"watchdog_worker_exits_total":          false,
		"watchdog_worker_running":              false,
		"watchdog_throttle_denied_total":       false,
		"watchdog_throttle_window_count":       false,
		"watchdog_watch_triggers_total":        false,
		"watchdog_heartbeat_total":             false,
		"watchdog_heartbeat_duration_seconds":  false,
	}
	for _, mf := range mfs {
		n := mf.GetName()
		if _, ok := wantNames[n]; ok {
			wantNames[n] = true
			if len(mf.GetMetric()) == 0 {
				t.Fatalf("metric %s has no samples", n)
			}
		}
	}
	for n, ok := range wantNames {
		if !ok {
			t.Fatalf("expected to find metric %s", n)
		}
	}
	if v := gaugeValue(t, workerRunning); v != 1 {
		t.Fatalf("running gauge = %v, want 1", v)
	}
	if v := gaugeValue(t, restartWindowCount); v != 3 {
		t.Fatalf("window gauge = %v, want 3", v)
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	regOK.Store(false)
	if err := Register(prometheus.DefaultRegisterer); err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	IncStart(ReasonChange)

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != 200 {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	b, _ := io.ReadAll(resp.Body)
	s := string(b)
	if !strings.Contains(s, `watchdog_worker_starts_total{reason="change"}`) {
		t.Fatalf("metrics output missing starts_total: %s", s[:min(200, len(s))])
	}
}

func TestConcurrentIncrements(t *testing.T) {
	regOK.Store(false)
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatal(err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			IncStart(ReasonCrash)
			IncStop()
			ObserveHeartbeat(HeartbeatError, 0.01)
		}()
	}
	wg.Wait()
	if _, err := reg.Gather(); err != nil {
		t.Fatalf("gather: %v", err)
	}
}

func TestMetricsBeforeRegister(t *testing.T) {
	originalState := regOK.Load()
	regOK.Store(false)
	defer regOK.Store(originalState)

	// no-ops before Register
	IncStart(ReasonInitial)
	IncStartFailure()
	IncStop()
	IncExit()
	SetRunning(false)
	IncRestartDenied()
	SetWindowCount(1)
	IncChangeTrigger()
	ObserveHeartbeat(HeartbeatBadStatus, 1)
	ResetWorker()
}

func TestRegisterError(t *testing.T) {
	originalState := regOK.Load()
	regOK.Store(false)
	defer regOK.Store(originalState)

	err := Register(&errorRegisterer{shouldError: true})
	if err == nil {
		t.Fatal("Register should return error from failing registerer")
	}
	if err.Error() != "test registration error" {
		t.Fatalf("unexpected error: %v", err)
	}
	if regOK.Load() {
		t.Fatal("failed registration must not enable helpers")
	}
}

func TestSampleWorker(t *testing.T) {
	regOK.Store(false)
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatal(err)
	}

	st, err := SampleWorker(os.Getpid())
	if err != nil {
		t.Fatalf("sample self: %v", err)
	}
	if st.PID != int32(os.Getpid()) {
		t.Fatalf("pid = %d", st.PID)
	}
	if st.MemoryRSS == 0 {
		t.Fatal("expected non-zero RSS for the test process")
	}
	if v := gaugeValue(t, workerMemoryRSS); v != float64(st.MemoryRSS) {
		t.Fatalf("rss gauge = %v, want %v", v, st.MemoryRSS)
	}

	ResetWorker()
	if v := gaugeValue(t, workerMemoryRSS); v != 0 {
		t.Fatalf("rss gauge after reset = %v", v)
	}
}

func TestSampleWorkerInvalidPID(t *testing.T) {
	if _, err := SampleWorker(0); err == nil {
		t.Fatal("expected error for pid 0")
	}
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		t.Fatalf("write gauge: %v", err)
	}
	return m.GetGauge().GetValue()
}

type errorRegisterer struct {
	shouldError bool
}

func (e *errorRegisterer) Register(prometheus.Collector) error {
	if e.shouldError {
		return errors.New("test registration error")
	}
	return nil
}

func (e *errorRegisterer) MustRegister(...prometheus.Collector) {}
func (e *errorRegisterer) Unregister(prometheus.Collector) bool { return false }
