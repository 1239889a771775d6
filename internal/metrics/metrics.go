package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Start reasons used as the "reason" label of worker_starts_total.
const (
	ReasonInitial = "initial"
	ReasonCrash   = "crash"
	ReasonChange  = "change"
)

// Heartbeat results used as the "result" label of heartbeats_total.
const (
	HeartbeatOK        = "ok"
	HeartbeatBadStatus = "bad_status"
	HeartbeatError     = "error"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	workerStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "watchdog",
			Subsystem: "worker",
			Name:      "starts_total",
			Help:      "Number of successful worker starts by reason.",
		}, []string{"reason"},
	)
	workerStartFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "watchdog",
			Subsystem: "worker",
			Name:      "start_failures_total",
			Help:      "Number of worker starts that failed to spawn.",
		},
	)
	workerStops = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "watchdog",
			Subsystem: "worker",
			Name:      "stops_total",
			Help:      "Number of stops issued by the supervisor (graceful or kill).",
		},
	)
	workerExits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "watchdog",
			Subsystem: "worker",
			Name:      "exits_total",
			Help:      "Number of unexpected worker exits observed by the supervision loop.",
		},
	)
	workerRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "watchdog",
			Subsystem: "worker",
			Name:      "running",
			Help:      "1 while the worker is alive, 0 otherwise.",
		},
	)
	restartDenied = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "watchdog",
			Subsystem: "throttle",
			Name:      "denied_total",
			Help:      "Number of restarts refused by the restart throttle.",
		},
	)
	restartWindowCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "watchdog",
			Subsystem: "throttle",
			Name:      "window_count",
			Help:      "Restart attempts counted in the current window.",
		},
	)
	changeTriggers = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "watchdog",
			Subsystem: "watch",
			Name:      "triggers_total",
			Help:      "Number of file-change triggers produced.",
		},
	)
	heartbeats = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "watchdog",
			Subsystem: "heartbeat",
			Name:      "total",
			Help:      "Number of heartbeat requests by result.",
		}, []string{"result"},
	)
	heartbeatDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "watchdog",
			Subsystem: "heartbeat",
			Name:      "duration_seconds",
			Help:      "Heartbeat round-trip duration.",
			Buckets:   prometheus.DefBuckets,
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		workerStarts, workerStartFailures, workerStops, workerExits, workerRunning,
		restartDenied, restartWindowCount, changeTriggers, heartbeats, heartbeatDuration,
		workerCPUPercent, workerMemoryRSS, workerNumThreads,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// HandlerFor serves metrics from a specific gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncStart(reason string) {
	if regOK.Load() {
		workerStarts.WithLabelValues(reason).Inc()
	}
}
func IncStartFailure() {
	if regOK.Load() {
		workerStartFailures.Inc()
	}
}
func IncStop() {
	if regOK.Load() {
		workerStops.Inc()
	}
}
func IncExit() {
	if regOK.Load() {
		workerExits.Inc()
	}
}
func SetRunning(running bool) {
	if regOK.Load() {
		var v float64
		if running {
			v = 1
		}
		workerRunning.Set(v)
	}
}
func IncRestartDenied() {
	if regOK.Load() {
		restartDenied.Inc()
	}
}
func SetWindowCount(n int) {
	if regOK.Load() {
		restartWindowCount.Set(float64(n))
	}
}
func IncChangeTrigger() {
	if regOK.Load() {
		changeTriggers.Inc()
	}
}
func ObserveHeartbeat(result string, seconds float64) {
	if regOK.Load() {
		heartbeats.WithLabelValues(result).Inc()
		heartbeatDuration.Observe(seconds)
	}
}
