package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/watchdog/internal/history"
	"github.com/loykin/watchdog/internal/metrics"
	"github.com/loykin/watchdog/internal/process"
	"github.com/loykin/watchdog/internal/supervisor"
	"github.com/loykin/watchdog/internal/throttle"
)

type fakeSource struct {
	st supervisor.Status
}

func (f *fakeSource) Status() supervisor.Status { return f.st }

func (f *fakeSource) WorkerPID() int {
	if !f.st.Worker.Running {
		return 0
	}
	return f.st.Worker.PID
}

type fakeQuerier struct {
	events    []history.Event
	err       error
	lastLimit int
}

func (f *fakeQuerier) Recent(_ context.Context, limit int) ([]history.Event, error) {
	f.lastLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.events) {
		return f.events[:limit], nil
	}
	return f.events, nil
}

func runningSource() *fakeSource {
	now := time.Now()
	return &fakeSource{st: supervisor.Status{
		Worker:               process.Status{Name: "gateway.js", Running: true, PID: 4242, Starts: 2},
		Window:               throttle.Window{Start: now, Count: 1},
		MaxRestartsPerMinute: 5,
		CrashRestarts:        1,
		StartedAt:            now.Add(-time.Minute),
		UpdatedAt:            now,
	}}
}

func setupRouter(t *testing.T, base string, src StatusSource, q history.Querier) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := NewRouter(src, q, base)
	r.sample = func(pid int) (*metrics.WorkerStats, error) {
		return &metrics.WorkerStats{PID: int32(pid), MemoryMB: 12.5}, nil
	}
	return r.Handler()
}

func doReq(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestStatusReportsSnapshot(t *testing.T) {
	h := setupRouter(t, "/abc", runningSource(), nil)
	rec := doReq(t, h, http.MethodGet, "/abc/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var got struct {
		Worker      process.Status       `json:"worker"`
		Window      throttle.Window      `json:"restart_window"`
		Max         int                  `json:"max_restarts_per_minute"`
		Crash       int                  `json:"crash_restarts"`
		WorkerStats *metrics.WorkerStats `json:"worker_stats"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.Worker.Running || got.Worker.PID != 4242 {
		t.Fatalf("unexpected worker: %+v", got.Worker)
	}
	if got.Window.Count != 1 || got.Max != 5 || got.Crash != 1 {
		t.Fatalf("unexpected throttle fields: %+v", got)
	}
	if got.WorkerStats == nil || got.WorkerStats.PID != 4242 {
		t.Fatalf("expected worker stats for pid 4242, got %+v", got.WorkerStats)
	}
}

func TestStatusWithoutWorkerOmitsStats(t *testing.T) {
	src := runningSource()
	src.st.Worker.Running = false
	src.st.Worker.PID = 0
	h := setupRouter(t, "", src, nil)
	rec := doReq(t, h, http.MethodGet, "/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "worker_stats") {
		t.Fatalf("worker_stats should be omitted: %s", rec.Body.String())
	}
}

func TestStatusSampleFailureIsIgnored(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := NewRouter(runningSource(), nil, "")
	r.sample = func(int) (*metrics.WorkerStats, error) { return nil, errors.New("gone") }
	rec := doReq(t, r.Handler(), http.MethodGet, "/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "worker_stats") {
		t.Fatalf("worker_stats should be omitted: %s", rec.Body.String())
	}
}

func TestHealthz(t *testing.T) {
	h := setupRouter(t, "", runningSource(), nil)
	rec := doReq(t, h, http.MethodGet, "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got healthResp
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.OK || !got.WorkerRunning {
		t.Fatalf("unexpected health: %+v", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := setupRouter(t, "/w", runningSource(), nil)
	rec := doReq(t, h, http.MethodGet, "/w/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Fatalf("expected default collectors in output")
	}
}

func TestHistoryDisabled(t *testing.T) {
	h := setupRouter(t, "", runningSource(), nil)
	rec := doReq(t, h, http.MethodGet, "/history")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHistoryReturnsEvents(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	q := &fakeQuerier{events: []history.Event{
		{Type: history.EventExit, OccurredAt: now, Name: "gateway.js", PID: 10, Error: "exit status 1"},
		{Type: history.EventStart, OccurredAt: now, Name: "gateway.js", PID: 11, Reason: "crash"},
		{Type: history.EventStart, OccurredAt: now, Name: "gateway.js", PID: 10, Reason: "initial"},
	}}
	h := setupRouter(t, "", runningSource(), q)

	rec := doReq(t, h, http.MethodGet, "/history?limit=2")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var got historyResp
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if q.lastLimit != 2 || len(got.Events) != 2 {
		t.Fatalf("expected 2 events with limit 2, got %d (limit %d)", len(got.Events), q.lastLimit)
	}
	if got.Events[0].Type != history.EventExit || got.Events[0].Error != "exit status 1" {
		t.Fatalf("unexpected first event: %+v", got.Events[0])
	}

	rec = doReq(t, h, http.MethodGet, "/history")
	if rec.Code != http.StatusOK || q.lastLimit != defaultHistoryLimit {
		t.Fatalf("expected default limit, got code %d limit %d", rec.Code, q.lastLimit)
	}
}

func TestHistoryBadLimit(t *testing.T) {
	h := setupRouter(t, "", runningSource(), &fakeQuerier{})
	rec := doReq(t, h, http.MethodGet, "/history?limit=abc")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHistoryQueryError(t *testing.T) {
	h := setupRouter(t, "", runningSource(), &fakeQuerier{err: errors.New("db down")})
	rec := doReq(t, h, http.MethodGet, "/history")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestHistoryEmptyIsArray(t *testing.T) {
	h := setupRouter(t, "", runningSource(), &fakeQuerier{})
	rec := doReq(t, h, http.MethodGet, "/history")
	if !strings.Contains(rec.Body.String(), `"events":[]`) {
		t.Fatalf("expected empty array, got %s", rec.Body.String())
	}
}

func TestUnknownRoute(t *testing.T) {
	h := setupRouter(t, "/abc", runningSource(), nil)
	rec := doReq(t, h, http.MethodGet, "/status")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 outside base path, got %d", rec.Code)
	}
}

func TestNewServerTimeouts(t *testing.T) {
	srv := NewServer("127.0.0.1:0", "", runningSource(), nil)
	if srv.Addr != "127.0.0.1:0" || srv.Handler == nil {
		t.Fatalf("unexpected server: %+v", srv)
	}
	if srv.ReadHeaderTimeout == 0 || srv.WriteTimeout == 0 {
		t.Fatalf("timeouts should be set")
	}
}
