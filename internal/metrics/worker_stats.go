package metrics

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

// WorkerStats is a point-in-time resource sample of the worker process.
type WorkerStats struct {
	PID        int32     `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryMB   float64   `json:"memory_mb"`
	MemoryRSS  uint64    `json:"memory_rss"`
	NumThreads int32     `json:"num_threads"`
	Timestamp  time.Time `json:"timestamp"`
}

var (
	workerCPUPercent = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "watchdog",
			Subsystem: "worker",
			Name:      "cpu_percent",
			Help:      "CPU usage percentage of the worker process.",
		},
	)
	workerMemoryRSS = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "watchdog",
			Subsystem: "worker",
			Name:      "memory_rss_bytes",
			Help:      "Resident memory of the worker process.",
		},
	)
	workerNumThreads = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "watchdog",
			Subsystem: "worker",
			Name:      "num_threads",
			Help:      "Number of threads of the worker process.",
		},
	)
)

// SampleWorker reads CPU and memory usage of pid and updates the worker gauges.
func SampleWorker(pid int) (*WorkerStats, error) {
	if pid <= 0 {
		return nil, fmt.Errorf("invalid pid %d", pid)
	}
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return nil, fmt.Errorf("failed to create process handle: %w", err)
	}

	cpuPercent, err := proc.CPUPercent()
	if err != nil {
		slog.Debug("Failed to get CPU percent", "pid", pid, "error", err)
		cpuPercent = 0
	}
	memInfo, err := proc.MemoryInfo()
	if err != nil {
		return nil, fmt.Errorf("failed to get memory info: %w", err)
	}
	numThreads, err := proc.NumThreads()
	if err != nil {
		slog.Debug("Failed to get thread count", "pid", pid, "error", err)
		numThreads = 0
	}

	st := &WorkerStats{
		PID:        int32(pid),
		CPUPercent: cpuPercent,
		MemoryMB:   float64(memInfo.RSS) / 1024 / 1024,
		MemoryRSS:  memInfo.RSS,
		NumThreads: numThreads,
		Timestamp:  time.Now(),
	}
	if regOK.Load() {
		workerCPUPercent.Set(st.CPUPercent)
		workerMemoryRSS.Set(float64(st.MemoryRSS))
		workerNumThreads.Set(float64(st.NumThreads))
	}
	return st, nil
}

// ResetWorker zeroes the worker gauges once the worker is gone.
func ResetWorker() {
	if regOK.Load() {
		workerCPUPercent.Set(0)
		workerMemoryRSS.Set(0)
		workerNumThreads.Set(0)
	}
}
