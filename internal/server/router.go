package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/watchdog/internal/history"
	"github.com/loykin/watchdog/internal/metrics"
	"github.com/loykin/watchdog/internal/supervisor"
)

// StatusSource is the read side of the supervision loop.
type StatusSource interface {
	Status() supervisor.Status
	WorkerPID() int
}

// Router provides embeddable HTTP handlers exposing the watchdog state.
// Endpoints:
//
//	GET {basePath}/status    published supervision snapshot plus worker resource usage
//	GET {basePath}/healthz   liveness of the watchdog itself
//	GET {basePath}/metrics   prometheus exposition
//	GET {basePath}/history   recent lifecycle events (query: limit=N), 404 when disabled
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	src      StatusSource
	history  history.Querier
	basePath string
	sample   func(pid int) (*metrics.WorkerStats, error)
}

// NewRouter constructs a new Router. q may be nil when no queryable history
// sink is configured.
func NewRouter(src StatusSource, q history.Querier, basePath string) *Router {
	return &Router{
		src:      src,
		history:  q,
		basePath: sanitizeBase(basePath),
		sample:   metrics.SampleWorker,
	}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.GET("/healthz", r.handleHealthz)
	group.GET("/metrics", gin.WrapH(metrics.Handler()))
	group.GET("/history", r.handleHistory)
	return g
}

// NewServer builds an http.Server for the router. The caller starts it, usually
// through Service.
func NewServer(addr, basePath string, src StatusSource, q history.Querier) *http.Server {
	r := NewRouter(src, q, basePath)
	return &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type statusResp struct {
	supervisor.Status
	WorkerStats *metrics.WorkerStats `json:"worker_stats,omitempty"`
}

type healthResp struct {
	OK            bool      `json:"ok"`
	WorkerRunning bool      `json:"worker_running"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type historyResp struct {
	Events []history.Event `json:"events"`
}

func (r *Router) handleStatus(c *gin.Context) {
	resp := statusResp{Status: r.src.Status()}
	if pid := r.src.WorkerPID(); pid > 0 {
		// The worker may exit between the snapshot and the sample.
		if ws, err := r.sample(pid); err == nil {
			resp.WorkerStats = ws
		}
	}
	writeJSON(c, http.StatusOK, resp)
}

func (r *Router) handleHealthz(c *gin.Context) {
	st := r.src.Status()
	writeJSON(c, http.StatusOK, healthResp{
		OK:            true,
		WorkerRunning: st.Worker.Running,
		UpdatedAt:     st.UpdatedAt,
	})
}

func (r *Router) handleHistory(c *gin.Context) {
	if r.history == nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "history is not enabled or not queryable"})
		return
	}
	limit, err := parseLimit(c.Query("limit"))
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	events, err := r.history.Recent(c.Request.Context(), limit)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	if events == nil {
		events = []history.Event{}
	}
	writeJSON(c, http.StatusOK, historyResp{Events: events})
}
