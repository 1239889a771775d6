package client

import "time"

// WorkerStatus is the controller's view of the worker process.
type WorkerStatus struct {
	Name      string    `json:"name"`
	Running   bool      `json:"running"`
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
	StoppedAt time.Time `json:"stopped_at"`
	ExitError string    `json:"exit_error,omitempty"`
	Starts    int       `json:"starts"`
}

// RestartWindow is the restart throttle's current 60s window.
type RestartWindow struct {
	Start time.Time `json:"start"`
	Count int       `json:"count"`
}

// WorkerStats is a resource sample of the worker process.
type WorkerStats struct {
	PID        int32     `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryMB   float64   `json:"memory_mb"`
	MemoryRSS  uint64    `json:"memory_rss"`
	NumThreads int32     `json:"num_threads"`
	Timestamp  time.Time `json:"timestamp"`
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Worker               WorkerStatus  `json:"worker"`
	RestartWindow        RestartWindow `json:"restart_window"`
	MaxRestartsPerMinute int           `json:"max_restarts_per_minute"`
	RestartOnChange      bool          `json:"restart_on_change"`
	CrashRestarts        int           `json:"crash_restarts"`
	ChangeRestarts       int           `json:"change_restarts"`
	Denied               int           `json:"denied"`
	Triggers             int           `json:"triggers"`
	LastTriggerPath      string        `json:"last_trigger_path,omitempty"`
	LastTriggerAt        time.Time     `json:"last_trigger_at,omitzero"`
	BackoffUntil         time.Time     `json:"backoff_until,omitzero"`
	StartedAt            time.Time     `json:"started_at"`
	UpdatedAt            time.Time     `json:"updated_at"`
	WorkerStats          *WorkerStats  `json:"worker_stats,omitempty"`
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	OK            bool      `json:"ok"`
	WorkerRunning bool      `json:"worker_running"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Event is one recorded worker lifecycle event.
type Event struct {
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Name       string    `json:"name"`
	PID        int       `json:"pid"`
	Reason     string    `json:"reason,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
